package vectorfs

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// SetPathPermission replaces the read and write policies at w.Path(). Only
// the profile owner may change policies.
func (s *Store) SetPathPermission(ctx context.Context, w *Writer, read, write permission.Policy) (err error) {
	ctx, span := s.start(ctx, "set_path_permission", w.profile, w.path)
	defer func() { s.finish(ctx, span, "set_path_permission", err) }()

	if err := s.requireOwner(w.requester, w.profile); err != nil {
		return err
	}
	if _, err := permission.ParsePolicy(string(read)); err != nil {
		return err
	}
	if _, err := permission.ParsePolicy(string(write)); err != nil {
		return err
	}
	return s.mutate(ctx, w.profile, func(in *internals) error {
		if _, ok := entryAt(in.Root, w.path); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, w.path)
		}
		return in.Index.SetPolicies(w.path, read, write)
	})
}

// SetWhitelistPermission grants id capability c at w.Path().
func (s *Store) SetWhitelistPermission(ctx context.Context, w *Writer, id permission.Identity, c permission.Capability) (err error) {
	ctx, span := s.start(ctx, "set_whitelist_permission", w.profile, w.path)
	defer func() { s.finish(ctx, span, "set_whitelist_permission", err) }()

	if err := s.requireOwner(w.requester, w.profile); err != nil {
		return err
	}
	if _, err := permission.ParseCapability(string(c)); err != nil {
		return err
	}
	err = s.mutate(ctx, w.profile, func(in *internals) error {
		if _, ok := entryAt(in.Root, w.path); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, w.path)
		}
		return in.Index.SetWhitelist(w.path, id, c)
	})
	if err == nil {
		s.logger.Debug("granted whitelist permission",
			zap.String("profile", w.profile),
			zap.Stringer("path", w.path),
			zap.Stringer("identity", id),
			zap.String("capability", string(c)),
		)
	}
	return err
}

// RemoveWhitelistPermission revokes the whitelist entry of id at w.Path().
func (s *Store) RemoveWhitelistPermission(ctx context.Context, w *Writer, id permission.Identity) (err error) {
	ctx, span := s.start(ctx, "remove_whitelist_permission", w.profile, w.path)
	defer func() { s.finish(ctx, span, "remove_whitelist_permission", err) }()

	if err := s.requireOwner(w.requester, w.profile); err != nil {
		return err
	}
	return s.mutate(ctx, w.profile, func(in *internals) error {
		if _, ok := entryAt(in.Root, w.path); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, w.path)
		}
		return in.Index.RemoveWhitelist(w.path, id)
	})
}

// PathPermission returns the permission record at r.Path().
func (s *Store) PathPermission(ctx context.Context, r *Reader) (rec permission.Record, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		got, ok := in.Index.Get(r.path)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, r.path)
		}
		rec = got
		return nil
	})
	return rec, err
}

// FindPathsWithReadPermissions lists the paths at or below r.Path() whose read
// policy is one of policies, limited to paths the reader can see.
func (s *Store) FindPathsWithReadPermissions(ctx context.Context, r *Reader, policies ...permission.Policy) (paths []vrpath.Path, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		paths = visible(in, r, in.Index.FindWithRead(r.path, policies...))
		return nil
	})
	return paths, err
}

// FindPathsWithWritePermissions is FindPathsWithReadPermissions for write
// policies.
func (s *Store) FindPathsWithWritePermissions(ctx context.Context, r *Reader, policies ...permission.Policy) (paths []vrpath.Path, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		paths = visible(in, r, in.Index.FindWithWrite(r.path, policies...))
		return nil
	})
	return paths, err
}

func visible(in *internals, r *Reader, paths []vrpath.Path) []vrpath.Path {
	out := paths[:0]
	for _, p := range paths {
		if in.Index.HeaderVisible(r.requester, p) {
			out = append(out, p)
		}
	}
	return out
}

// SetProfileSupportedModels replaces the embedding models profile accepts.
// The first model becomes the default. Owner only.
func (s *Store) SetProfileSupportedModels(ctx context.Context, requester permission.Identity, profile string, models []string) (err error) {
	ctx, span := s.start(ctx, "set_supported_models", profile, vrpath.Root())
	defer func() { s.finish(ctx, span, "set_supported_models", err) }()

	if err := s.requireOwner(requester, profile); err != nil {
		return err
	}
	if len(models) == 0 {
		return fmt.Errorf("%w: at least one model is required", ErrUnsupportedEmbeddingModel)
	}
	return s.mutate(ctx, profile, func(in *internals) error {
		in.SupportedModels = slices.Clone(models)
		in.DefaultModel = models[0]
		return nil
	})
}

// ProfileSupportedModels returns the embedding models the profile of r
// accepts. Any reader of the profile may ask.
func (s *Store) ProfileSupportedModels(ctx context.Context, r *Reader) (models []string, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		models = slices.Clone(in.SupportedModels)
		return nil
	})
	return models, err
}
