package vectorfs

import (
	"errors"

	"github.com/fyrsmithlabs/vecfs/internal/container"
	"github.com/fyrsmithlabs/vecfs/internal/embeddings"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

var (
	// ErrNotFound indicates the addressed path, or a copy/move destination,
	// does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrWrongEntryKind indicates a folder was expected and an item found, or
	// the reverse.
	ErrWrongEntryKind = errors.New("wrong entry kind")

	// ErrPermissionDenied indicates the requester fails the read or write
	// policy for a path.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyExists indicates the target path is already occupied.
	ErrAlreadyExists = errors.New("entry already exists")

	// ErrInvalidMove indicates a folder move into itself or a descendant, or
	// an operation that would move or delete the root.
	ErrInvalidMove = errors.New("invalid move")

	// ErrRootOperation indicates an operation that cannot target the root.
	ErrRootOperation = errors.Join(ErrInvalidMove, errors.New("root folder cannot be the target"))

	// ErrUnsupportedEmbeddingModel indicates a resource embedded with a model
	// the profile does not accept.
	ErrUnsupportedEmbeddingModel = errors.New("unsupported embedding model")

	// ErrPersistence indicates the durable snapshot could not be written; the
	// mutation was not applied.
	ErrPersistence = errors.New("persistence failed")
)

// Re-exported so callers can match store errors against a single package.
var (
	ErrSerialization       = container.ErrSerialization
	ErrEmbeddingGeneration = embeddings.ErrEmbeddingFailed
	ErrInvalidName         = vrpath.ErrInvalidName
)
