// Package container implements the portable formats used to move vector
// resources in and out of a profile tree: Kai holds one resource, Pack holds
// many, each tagged with the path it occupied.
package container

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/vecfs/internal/codec"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
)

// Sentinel errors for container operations.
var (
	// ErrSerialization is returned when bytes cannot be decoded into a container.
	ErrSerialization = errors.New("serialization error")

	// ErrEntryExists is returned when a pack already holds an entry at a path.
	ErrEntryExists = errors.New("pack entry already exists")

	// ErrEntryNotFound is returned when a pack has no entry at a path.
	ErrEntryNotFound = errors.New("pack entry not found")

	// ErrMixedEmbeddingModels is returned when a search spans resources
	// embedded with different models.
	ErrMixedEmbeddingModels = errors.New("pack uses more than one embedding model")
)

// Version is the container format version.
type Version string

const (
	// VersionV1 is the only format version this package writes.
	VersionV1 Version = "V1"

	frameVersion byte = 1
)

var kaiMagic = codec.Magic{'V', 'R', 'K', 'A', 'I', 0}

func acceptFrame(v byte) bool { return v == frameVersion }

// Kai is a single resource with its optional raw source artifacts.
type Kai struct {
	Version  Version                `json:"version"`
	Resource *resource.Resource     `json:"resource"`
	Sources  resource.SourceFileMap `json:"sources,omitempty"`
}

// NewKai wraps res. Sources may be nil.
func NewKai(res *resource.Resource, sources resource.SourceFileMap) *Kai {
	return &Kai{Version: VersionV1, Resource: res, Sources: sources}
}

// Name returns the name of the contained resource.
func (k *Kai) Name() string {
	if k.Resource == nil {
		return ""
	}
	return k.Resource.Name
}

// Clone returns a deep copy.
func (k *Kai) Clone() *Kai {
	return &Kai{Version: k.Version, Resource: k.Resource.Clone(), Sources: k.Sources.Clone()}
}

// VectorSearch searches the nodes of the contained resource.
func (k *Kai) VectorSearch(query []float32, n int) []resource.RetrievedNode {
	if k.Resource == nil {
		return nil
	}
	return k.Resource.VectorSearch(query, n)
}

// Encode serializes k.
func (k *Kai) Encode() ([]byte, error) {
	if k.Resource == nil {
		return nil, fmt.Errorf("%w: kai has no resource", ErrSerialization)
	}
	data, err := codec.Encode(kaiMagic, frameVersion, codec.CompressionZstd, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// EncodeBase64 serializes k as standard base64 text.
func (k *Kai) EncodeBase64() (string, error) {
	data, err := k.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeKai parses bytes produced by Encode.
func DecodeKai(data []byte) (*Kai, error) {
	var k Kai
	if _, err := codec.Decode(data, kaiMagic, acceptFrame, &k); err != nil {
		return nil, fmt.Errorf("%w: kai: %v", ErrSerialization, err)
	}
	if k.Version != VersionV1 {
		return nil, fmt.Errorf("%w: kai: unsupported version %q", ErrSerialization, k.Version)
	}
	if k.Resource == nil {
		return nil, fmt.Errorf("%w: kai: missing resource", ErrSerialization)
	}
	return &k, nil
}

// DecodeKaiBase64 parses text produced by EncodeBase64.
func DecodeKaiBase64(s string) (*Kai, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: kai: %v", ErrSerialization, err)
	}
	return DecodeKai(data)
}

// IsKai reports whether data starts with the Kai header.
func IsKai(data []byte) bool {
	m, ok := codec.Peek(data)
	return ok && m == kaiMagic
}
