package vectorfs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/container"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// CreateFolder creates an empty folder named name inside the folder at
// w.Path().
func (s *Store) CreateFolder(ctx context.Context, w *Writer, name string) (f *Folder, err error) {
	ctx, span := s.start(ctx, "create_folder", w.profile, w.path)
	defer func() { s.finish(ctx, span, "create_folder", err) }()

	if err := vrpath.ValidateName(name); err != nil {
		return nil, err
	}
	err = s.mutate(ctx, w.profile, func(in *internals) error {
		created, err := s.addFolder(in, w.path, name, time.Now().UTC())
		if err != nil {
			return err
		}
		f = created.deepCopy()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created folder", zap.String("profile", w.profile), zap.Stringer("path", f.Path))
	return f, nil
}

func (s *Store) addFolder(in *internals, parentPath vrpath.Path, name string, now time.Time) (*Folder, error) {
	parent, err := in.folderAt(parentPath)
	if err != nil {
		return nil, err
	}
	path := parentPath.Push(name)
	if parent.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	f := newFolder(path, now)
	parent.Folders[name] = f
	parent.LastModifiedAt = now
	in.Index.Insert(path, s.opts.DefaultRead, s.opts.DefaultWrite)
	return f, nil
}

// CreateFolderAuto creates every missing folder of rel below w.Path().
// Existing folders along the way are kept; an item in the way is an error.
func (s *Store) CreateFolderAuto(ctx context.Context, w *Writer, rel vrpath.Path) (err error) {
	ctx, span := s.start(ctx, "create_folder_auto", w.profile, w.path.Join(rel))
	defer func() { s.finish(ctx, span, "create_folder_auto", err) }()

	return s.mutate(ctx, w.profile, func(in *internals) error {
		return s.ensureFolders(in, w.path, rel, time.Now().UTC())
	})
}

func (s *Store) ensureFolders(in *internals, base, rel vrpath.Path, now time.Time) error {
	cur := base
	for _, name := range rel.Segments() {
		parent, err := in.folderAt(cur)
		if err != nil {
			return err
		}
		if _, ok := parent.Items[name]; ok {
			return fmt.Errorf("%w: %s is an item, not a folder", ErrWrongEntryKind, cur.Push(name))
		}
		if _, ok := parent.Folders[name]; !ok {
			if _, err := s.addFolder(in, cur, name, now); err != nil {
				return err
			}
		}
		cur = cur.Push(name)
	}
	return nil
}

// SaveResource stores res as a new item in the folder at w.Path(). The item
// is named after the resource with a known file extension removed, and gets
// a fresh reference id. Every embedding model used by res must be supported
// by the profile.
func (s *Store) SaveResource(ctx context.Context, w *Writer, res *resource.Resource, sources resource.SourceFileMap) (it *Item, err error) {
	ctx, span := s.start(ctx, "save_resource", w.profile, w.path)
	defer func() { s.finish(ctx, span, "save_resource", err) }()

	if res == nil {
		return nil, resource.ErrNilResource
	}
	err = s.mutate(ctx, w.profile, func(in *internals) error {
		saved, err := s.addItem(in, w.path, resource.CleanName(res.Name), res.WithNewReference(), sources.Clone(), time.Now().UTC())
		if err != nil {
			return err
		}
		it = saved.deepCopy()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("saved resource",
		zap.String("profile", w.profile),
		zap.Stringer("path", it.Path),
		zap.String("reference", it.Resource.ReferenceString()),
	)
	return it, nil
}

// addItem inserts res, which must already be owned by the tree, under
// parentPath as name.
func (s *Store) addItem(in *internals, parentPath vrpath.Path, name string, res *resource.Resource, sources resource.SourceFileMap, now time.Time) (*Item, error) {
	if err := vrpath.ValidateName(name); err != nil {
		return nil, err
	}
	for _, model := range res.EmbeddingModels() {
		if !in.supportsModel(model) {
			return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedEmbeddingModel, model, in.SupportedModels)
		}
	}
	parent, err := in.folderAt(parentPath)
	if err != nil {
		return nil, err
	}
	path := parentPath.Push(name)
	if parent.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	res.Name = name
	it := &Item{
		Name:           name,
		Path:           path,
		Resource:       res,
		Sources:        sources,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	parent.Items[name] = it
	parent.LastModifiedAt = now
	in.Index.Insert(path, s.opts.DefaultRead, s.opts.DefaultWrite)
	return it, nil
}

// SaveKai stores the resource and sources of kai in the folder at w.Path().
func (s *Store) SaveKai(ctx context.Context, w *Writer, kai *container.Kai) (*Item, error) {
	if kai == nil {
		return nil, resource.ErrNilResource
	}
	return s.SaveResource(ctx, w, kai.Resource, kai.Sources)
}

// checkDestination resolves the destination folder of a copy or move and the
// child path the source would take there.
func (s *Store) checkDestination(in *internals, w *Writer, dest vrpath.Path) (*Folder, vrpath.Path, error) {
	if w.path.IsRoot() {
		return nil, vrpath.Path{}, ErrRootOperation
	}
	target, err := in.folderAt(dest)
	if err != nil {
		return nil, vrpath.Path{}, err
	}
	if !in.Index.CanWriteAt(w.requester, dest) {
		return nil, vrpath.Path{}, fmt.Errorf("%w: %s may not write %s", ErrPermissionDenied, w.requester, dest)
	}
	child := dest.Push(w.path.Last())
	if target.Has(w.path.Last()) {
		return nil, vrpath.Path{}, fmt.Errorf("%w: %s", ErrAlreadyExists, child)
	}
	return target, child, nil
}

// CopyItem copies the item at w.Path() into the folder dest. The copy keeps
// content, node count and merkle root, gets a new reference id, and inherits
// the permission record of the source. Returns the new path.
func (s *Store) CopyItem(ctx context.Context, w *Writer, dest vrpath.Path) (out vrpath.Path, err error) {
	ctx, span := s.start(ctx, "copy_item", w.profile, w.path)
	defer func() { s.finish(ctx, span, "copy_item", err) }()

	err = s.mutate(ctx, w.profile, func(in *internals) error {
		src, err := in.itemAt(w.path)
		if err != nil {
			return err
		}
		target, child, err := s.checkDestination(in, w, dest)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		cp := src.deepCopy()
		cp.Resource = cp.Resource.WithNewReference()
		cp.Path = child
		cp.CreatedAt, cp.LastModifiedAt = now, now
		target.Items[cp.Name] = cp
		target.LastModifiedAt = now
		out = child
		return in.Index.CopySubtree(w.path, child)
	})
	return out, err
}

// CopyFolder copies the folder at w.Path() and its whole subtree into dest.
// Every copied item gets a fresh reference id.
func (s *Store) CopyFolder(ctx context.Context, w *Writer, dest vrpath.Path) (out vrpath.Path, err error) {
	ctx, span := s.start(ctx, "copy_folder", w.profile, w.path)
	defer func() { s.finish(ctx, span, "copy_folder", err) }()

	err = s.mutate(ctx, w.profile, func(in *internals) error {
		src, err := in.folderAt(w.path)
		if err != nil {
			return err
		}
		if w.path.IsPrefixOf(dest) {
			return fmt.Errorf("%w: cannot copy %s into itself", ErrInvalidMove, w.path)
		}
		target, child, err := s.checkDestination(in, w, dest)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		cp := src.deepCopy()
		cp.relocate(child)
		cp.walkFolders(func(f *Folder) {
			f.CreatedAt, f.LastModifiedAt = now, now
			for _, it := range f.Items {
				it.Resource = it.Resource.WithNewReference()
				it.CreatedAt, it.LastModifiedAt = now, now
			}
		})
		target.Folders[cp.Name] = cp
		target.LastModifiedAt = now
		out = child
		return in.Index.CopySubtree(w.path, child)
	})
	return out, err
}

// MoveItem moves the item at w.Path() into dest, keeping its reference id
// and permission record.
func (s *Store) MoveItem(ctx context.Context, w *Writer, dest vrpath.Path) (out vrpath.Path, err error) {
	ctx, span := s.start(ctx, "move_item", w.profile, w.path)
	defer func() { s.finish(ctx, span, "move_item", err) }()

	err = s.mutate(ctx, w.profile, func(in *internals) error {
		it, err := in.itemAt(w.path)
		if err != nil {
			return err
		}
		target, child, err := s.checkDestination(in, w, dest)
		if err != nil {
			return err
		}
		parent, err := in.folderAt(w.path.Parent())
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		delete(parent.Items, it.Name)
		parent.LastModifiedAt = now
		it.Path = child
		target.Items[it.Name] = it
		target.LastModifiedAt = now
		out = child
		return in.Index.Relocate(w.path, child)
	})
	return out, err
}

// MoveFolder moves the folder at w.Path() with its subtree into dest.
func (s *Store) MoveFolder(ctx context.Context, w *Writer, dest vrpath.Path) (out vrpath.Path, err error) {
	ctx, span := s.start(ctx, "move_folder", w.profile, w.path)
	defer func() { s.finish(ctx, span, "move_folder", err) }()

	err = s.mutate(ctx, w.profile, func(in *internals) error {
		f, err := in.folderAt(w.path)
		if err != nil {
			return err
		}
		if w.path.IsPrefixOf(dest) {
			return fmt.Errorf("%w: cannot move %s into itself", ErrInvalidMove, w.path)
		}
		target, child, err := s.checkDestination(in, w, dest)
		if err != nil {
			return err
		}
		parent, err := in.folderAt(w.path.Parent())
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		delete(parent.Folders, f.Name)
		parent.LastModifiedAt = now
		f.relocate(child)
		target.Folders[f.Name] = f
		target.LastModifiedAt = now
		out = child
		return in.Index.Relocate(w.path, child)
	})
	return out, err
}

// DeleteItem removes the item at w.Path() and its permission record.
func (s *Store) DeleteItem(ctx context.Context, w *Writer) (err error) {
	ctx, span := s.start(ctx, "delete_item", w.profile, w.path)
	defer func() { s.finish(ctx, span, "delete_item", err) }()

	return s.mutate(ctx, w.profile, func(in *internals) error {
		it, err := in.itemAt(w.path)
		if err != nil {
			return err
		}
		parent, err := in.folderAt(w.path.Parent())
		if err != nil {
			return err
		}
		delete(parent.Items, it.Name)
		parent.LastModifiedAt = time.Now().UTC()
		in.Index.Remove(w.path)
		return nil
	})
}

// DeleteFolder removes the folder at w.Path(), everything below it, and all
// of their permission records.
func (s *Store) DeleteFolder(ctx context.Context, w *Writer) (err error) {
	ctx, span := s.start(ctx, "delete_folder", w.profile, w.path)
	defer func() { s.finish(ctx, span, "delete_folder", err) }()

	if w.path.IsRoot() {
		return ErrRootOperation
	}
	return s.mutate(ctx, w.profile, func(in *internals) error {
		f, err := in.folderAt(w.path)
		if err != nil {
			return err
		}
		parent, err := in.folderAt(w.path.Parent())
		if err != nil {
			return err
		}
		delete(parent.Folders, f.Name)
		parent.LastModifiedAt = time.Now().UTC()
		removed := in.Index.RemoveSubtree(w.path)
		s.logger.Debug("deleted folder",
			zap.String("profile", w.profile),
			zap.Stringer("path", w.path),
			zap.Int("records_removed", removed),
		)
		return nil
	})
}

// UpdateItemDescription replaces the description of the item at w.Path().
// The merkle root is unaffected.
func (s *Store) UpdateItemDescription(ctx context.Context, w *Writer, description string) (err error) {
	ctx, span := s.start(ctx, "update_item_description", w.profile, w.path)
	defer func() { s.finish(ctx, span, "update_item_description", err) }()

	return s.mutate(ctx, w.profile, func(in *internals) error {
		it, err := in.itemAt(w.path)
		if err != nil {
			return err
		}
		res := it.Resource.Clone()
		res.Description = description
		now := time.Now().UTC()
		res.LastWrittenAt = now
		it.Resource = res
		it.LastModifiedAt = now
		return nil
	})
}
