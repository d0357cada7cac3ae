package vectorfs

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// Access is the read tier a Reader was granted.
type Access int

const (
	// AccessHeader allows discovering entries and their headers.
	AccessHeader Access = iota + 1
	// AccessContent additionally allows reading the item at the exact path.
	AccessContent
)

func (a Access) String() string {
	switch a {
	case AccessHeader:
		return "header"
	case AccessContent:
		return "content"
	}
	return "none"
}

// Reader is a read capability for one path of one profile. It is validated
// once when built and never re-checked.
type Reader struct {
	requester permission.Identity
	path      vrpath.Path
	profile   string
	access    Access
}

// Requester returns the identity the reader was issued to.
func (r *Reader) Requester() permission.Identity { return r.requester }

// Path returns the path the reader is bound to.
func (r *Reader) Path() vrpath.Path { return r.path }

// Profile returns the profile the reader is bound to.
func (r *Reader) Profile() string { return r.profile }

// Access returns the granted tier.
func (r *Reader) Access() Access { return r.access }

func (r *Reader) requireContent() error {
	if r.access != AccessContent {
		return fmt.Errorf("%w: %s may not read the content of %s", ErrPermissionDenied, r.requester, r.path)
	}
	return nil
}

// Writer is a write capability for one path of one profile.
type Writer struct {
	requester permission.Identity
	path      vrpath.Path
	profile   string
}

// Requester returns the identity the writer was issued to.
func (w *Writer) Requester() permission.Identity { return w.requester }

// Path returns the path the writer is bound to.
func (w *Writer) Path() vrpath.Path { return w.path }

// Profile returns the profile the writer is bound to.
func (w *Writer) Profile() string { return w.profile }

// NewReader checks that requester can see path at the header tier and
// returns a reader recording whether the content tier is also held.
func (s *Store) NewReader(ctx context.Context, requester permission.Identity, path vrpath.Path, profile string) (*Reader, error) {
	var r *Reader
	err := s.view(ctx, profile, func(in *internals) error {
		var err error
		r, err = authorizeRead(in.Index, requester, path, profile)
		return err
	})
	return r, err
}

// NewWriter checks that requester may write at path. The path itself need not
// exist yet, in which case the nearest recorded ancestor decides.
func (s *Store) NewWriter(ctx context.Context, requester permission.Identity, path vrpath.Path, profile string) (*Writer, error) {
	var w *Writer
	err := s.view(ctx, profile, func(in *internals) error {
		var err error
		w, err = authorizeWrite(in.Index, requester, path, profile)
		return err
	})
	return w, err
}

func authorizeRead(idx *permission.Index, requester permission.Identity, path vrpath.Path, profile string) (*Reader, error) {
	if !idx.HeaderVisible(requester, path) {
		return nil, fmt.Errorf("%w: %s may not read %s in profile %s", ErrPermissionDenied, requester, path, profile)
	}
	access := AccessHeader
	if idx.CanReadAt(requester, path) {
		access = AccessContent
	}
	return &Reader{requester: requester, path: path, profile: profile, access: access}, nil
}

func authorizeWrite(idx *permission.Index, requester permission.Identity, path vrpath.Path, profile string) (*Writer, error) {
	if !idx.CanWriteAt(requester, path) {
		return nil, fmt.Errorf("%w: %s may not write %s in profile %s", ErrPermissionDenied, requester, path, profile)
	}
	return &Writer{requester: requester, path: path, profile: profile}, nil
}
