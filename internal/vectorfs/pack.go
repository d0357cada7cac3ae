package vectorfs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/container"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// RetrievePack exports the folder at r.Path() as a pack. Every subfolder is
// included; items are included only when the reader may read their content.
// The pack is named after the folder, or after the profile for the root.
func (s *Store) RetrievePack(ctx context.Context, r *Reader) (pack *container.Pack, err error) {
	ctx, span := s.start(ctx, "retrieve_pack", r.profile, r.path)
	defer func() { s.finish(ctx, span, "retrieve_pack", err) }()

	err = s.view(ctx, r.profile, func(in *internals) error {
		root, err := in.folderAt(r.path)
		if err != nil {
			return err
		}
		name := root.Name
		if r.path.IsRoot() {
			name = r.profile
		}
		pack = container.NewPack(name)

		var walkErr error
		root.walkFolders(func(f *Folder) {
			if walkErr != nil {
				return
			}
			rel, err := f.Path.Rel(r.path)
			if err != nil {
				walkErr = err
				return
			}
			if !rel.IsRoot() {
				if err := pack.CreateFolder(rel.Last(), rel.Parent()); err != nil {
					walkErr = err
					return
				}
			}
			for _, it := range f.SortedItems() {
				if !in.Index.CanReadAt(r.requester, it.Path) {
					continue
				}
				kai := container.NewKai(it.Resource.Clone(), it.Sources.Clone())
				if err := pack.Insert(kai, rel); err != nil {
					walkErr = err
					return
				}
			}
		})
		return walkErr
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("entries", pack.Len()), attribute.Int("folders", pack.FolderCount()))
	return pack, nil
}

// ExtractPack materializes pack as a new folder named after the pack inside
// the folder at w.Path(). Items receive fresh reference ids; content and
// merkle roots are kept. Returns the path of the new folder.
func (s *Store) ExtractPack(ctx context.Context, w *Writer, pack *container.Pack) (out vrpath.Path, err error) {
	ctx, span := s.start(ctx, "extract_pack", w.profile, w.path)
	defer func() { s.finish(ctx, span, "extract_pack", err) }()

	if pack == nil {
		return vrpath.Path{}, fmt.Errorf("%w: pack is nil", ErrSerialization)
	}
	if err := vrpath.ValidateName(pack.Name); err != nil {
		return vrpath.Path{}, err
	}
	target := w.path.Push(pack.Name)
	err = s.mutate(ctx, w.profile, func(in *internals) error {
		now := time.Now().UTC()
		if _, err := s.addFolder(in, w.path, pack.Name, now); err != nil {
			return err
		}
		for _, f := range pack.Folders() {
			if err := s.ensureFolders(in, target, f, now); err != nil {
				return err
			}
		}
		for _, e := range pack.UnpackAll() {
			if e.Kai == nil || e.Kai.Resource == nil {
				return fmt.Errorf("%w: pack entry %s has no resource", ErrSerialization, e.Path)
			}
			if err := s.ensureFolders(in, target, e.Parent(), now); err != nil {
				return err
			}
			res := e.Kai.Resource.WithNewReference()
			if _, err := s.addItem(in, target.Join(e.Parent()), e.Path.Last(), res, e.Kai.Sources.Clone(), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return vrpath.Path{}, err
	}
	s.logger.Debug("extracted pack",
		zap.String("profile", w.profile),
		zap.Stringer("path", target),
		zap.Int("entries", pack.Len()),
	)
	return target, nil
}
