package vectorfs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/vecfs/internal/container"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// RetrieveResource returns a copy of the resource of the item at r.Path().
// The reader must hold the content tier.
func (s *Store) RetrieveResource(ctx context.Context, r *Reader) (res *resource.Resource, err error) {
	ctx, span := s.start(ctx, "retrieve_resource", r.profile, r.path)
	defer func() { s.finish(ctx, span, "retrieve_resource", err) }()

	if err := r.requireContent(); err != nil {
		return nil, err
	}
	err = s.view(ctx, r.profile, func(in *internals) error {
		it, err := in.itemAt(r.path)
		if err != nil {
			return err
		}
		res = it.Resource.Clone()
		return nil
	})
	return res, err
}

// RetrieveKai returns the resource and source artifacts of the item at
// r.Path() as a container.
func (s *Store) RetrieveKai(ctx context.Context, r *Reader) (kai *container.Kai, err error) {
	ctx, span := s.start(ctx, "retrieve_kai", r.profile, r.path)
	defer func() { s.finish(ctx, span, "retrieve_kai", err) }()

	if err := r.requireContent(); err != nil {
		return nil, err
	}
	err = s.view(ctx, r.profile, func(in *internals) error {
		it, err := in.itemAt(r.path)
		if err != nil {
			return err
		}
		kai = container.NewKai(it.Resource.Clone(), it.Sources.Clone())
		return nil
	})
	return kai, err
}

// RetrieveKaiInFolder retrieves the item name inside the folder at r.Path().
// A reader for the item is issued through the usual permission check.
func (s *Store) RetrieveKaiInFolder(ctx context.Context, r *Reader, name string) (*container.Kai, error) {
	child, err := s.childReader(ctx, r, name)
	if err != nil {
		return nil, err
	}
	return s.RetrieveKai(ctx, child)
}

// RetrieveResourceInFolder is RetrieveKaiInFolder without source artifacts.
func (s *Store) RetrieveResourceInFolder(ctx context.Context, r *Reader, name string) (*resource.Resource, error) {
	child, err := s.childReader(ctx, r, name)
	if err != nil {
		return nil, err
	}
	return s.RetrieveResource(ctx, child)
}

func (s *Store) childReader(ctx context.Context, r *Reader, name string) (*Reader, error) {
	if err := vrpath.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.ValidatePathPointsToFolder(ctx, r); err != nil {
		return nil, err
	}
	return s.NewReader(ctx, r.requester, r.path.Push(name), r.profile)
}

// RetrieveItem returns a copy of the item at r.Path() without its source
// artifacts. The header tier is enough.
func (s *Store) RetrieveItem(ctx context.Context, r *Reader) (it *Item, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		found, err := in.itemAt(r.path)
		if err != nil {
			return err
		}
		it = found.deepCopy()
		it.Sources = nil
		if r.access != AccessContent {
			it.Resource = headerOnly(found.Resource)
		}
		return nil
	})
	return it, err
}

// RetrieveFolder returns a copy of the folder at r.Path() with its subtree.
// Items the requester holds no content grant on keep only their header.
func (s *Store) RetrieveFolder(ctx context.Context, r *Reader) (f *Folder, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		found, err := in.folderAt(r.path)
		if err != nil {
			return err
		}
		f = found.deepCopy()
		f.walkItems(func(it *Item) {
			if !in.Index.CanReadAt(r.requester, it.Path) {
				it.Resource = headerOnly(it.Resource)
				it.Sources = nil
			}
		})
		return nil
	})
	return f, err
}

// headerOnly strips nodes and content from res.
func headerOnly(res *resource.Resource) *resource.Resource {
	header := res.Header()
	return &resource.Resource{
		Name:           header.Name,
		Description:    header.Description,
		Source:         header.Source,
		ResourceID:     header.ResourceID,
		ReferenceID:    header.ReferenceID,
		Kind:           header.Kind,
		Keywords:       header.Keywords,
		Embedding:      header.Embedding,
		EmbeddingModel: header.EmbeddingModel,
		MerkleRoot:     header.MerkleRoot,
		CreatedAt:      header.CreatedAt,
		LastWrittenAt:  header.LastWrittenAt,
	}
}

// IsFolderEmpty reports whether the folder at r.Path() has no children.
func (s *Store) IsFolderEmpty(ctx context.Context, r *Reader) (empty bool, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		f, err := in.folderAt(r.path)
		if err != nil {
			return err
		}
		empty = f.IsEmpty()
		return nil
	})
	return empty, err
}

// ValidatePathPointsToEntry returns ErrNotFound unless r.Path() exists.
func (s *Store) ValidatePathPointsToEntry(ctx context.Context, r *Reader) error {
	return s.view(ctx, r.profile, func(in *internals) error {
		if _, ok := entryAt(in.Root, r.path); !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, r.path)
		}
		return nil
	})
}

// ValidatePathPointsToFolder returns an error unless r.Path() is a folder.
func (s *Store) ValidatePathPointsToFolder(ctx context.Context, r *Reader) error {
	return s.view(ctx, r.profile, func(in *internals) error {
		_, err := in.folderAt(r.path)
		return err
	})
}

// ValidatePathPointsToItem returns an error unless r.Path() is an item.
func (s *Store) ValidatePathPointsToItem(ctx context.Context, r *Reader) error {
	return s.view(ctx, r.profile, func(in *internals) error {
		_, err := in.itemAt(r.path)
		return err
	})
}

// IsFolder reports whether r.Path() is a folder.
func (s *Store) IsFolder(ctx context.Context, r *Reader) bool {
	return s.ValidatePathPointsToFolder(ctx, r) == nil
}

// IsItem reports whether r.Path() is an item.
func (s *Store) IsItem(ctx context.Context, r *Reader) bool {
	return s.ValidatePathPointsToItem(ctx, r) == nil
}

// SimplifiedItem is the projection of an item.
type SimplifiedItem struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
	MerkleRoot  string `json:"merkle_root"`
	NodeCount   int    `json:"node_count"`
}

// SimplifiedFolder is the projection of a folder. Children are sorted by
// name, so equal trees project to equal JSON.
type SimplifiedFolder struct {
	Path         string             `json:"path"`
	Name         string             `json:"name"`
	ChildFolders []SimplifiedFolder `json:"child_folders"`
	ChildItems   []SimplifiedItem   `json:"child_items"`
}

func simplifyItem(it *Item) SimplifiedItem {
	return SimplifiedItem{
		Path:        it.Path.String(),
		Name:        it.Name,
		Description: it.Description(),
		ReferenceID: it.ReferenceID(),
		MerkleRoot:  it.MerkleRoot(),
		NodeCount:   it.NodeCount(),
	}
}

func simplifyFolder(f *Folder) SimplifiedFolder {
	out := SimplifiedFolder{
		Path:         f.Path.String(),
		Name:         f.Name,
		ChildFolders: []SimplifiedFolder{},
		ChildItems:   []SimplifiedItem{},
	}
	for _, sub := range f.SortedFolders() {
		out.ChildFolders = append(out.ChildFolders, simplifyFolder(sub))
	}
	for _, it := range f.SortedItems() {
		out.ChildItems = append(out.ChildItems, simplifyItem(it))
	}
	return out
}

// RetrieveSimplified projects the folder at r.Path().
func (s *Store) RetrieveSimplified(ctx context.Context, r *Reader) (out *SimplifiedFolder, err error) {
	err = s.view(ctx, r.profile, func(in *internals) error {
		f, err := in.folderAt(r.path)
		if err != nil {
			return err
		}
		sf := simplifyFolder(f)
		out = &sf
		return nil
	})
	return out, err
}

// RetrieveSimplifiedJSON projects the entry at r.Path(), folder or item, as
// JSON.
func (s *Store) RetrieveSimplifiedJSON(ctx context.Context, r *Reader) (data []byte, err error) {
	ctx, span := s.start(ctx, "retrieve_simplified_json", r.profile, r.path)
	defer func() { s.finish(ctx, span, "retrieve_simplified_json", err) }()

	var v any
	err = s.view(ctx, r.profile, func(in *internals) error {
		e, ok := entryAt(in.Root, r.path)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, r.path)
		}
		switch e := e.(type) {
		case *Folder:
			v = simplifyFolder(e)
		case *Item:
			v = simplifyItem(e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	data, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}
