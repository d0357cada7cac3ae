package vectorfs

import (
	"fmt"
	"slices"
	"time"

	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// internals is the complete state of one profile. It is also the snapshot
// payload, so every field is serialized.
type internals struct {
	Root            *Folder           `json:"root"`
	Index           *permission.Index `json:"permissions"`
	SupportedModels []string          `json:"supported_models"`
	DefaultModel    string            `json:"default_model"`
	LastSavedAt     time.Time         `json:"last_saved_at"`
}

func newInternals(owner permission.Identity, models []string) *internals {
	in := &internals{
		Root:            newFolder(vrpath.Root(), time.Now().UTC()),
		Index:           permission.NewIndex(owner),
		SupportedModels: append([]string(nil), models...),
	}
	if len(models) > 0 {
		in.DefaultModel = models[0]
	}
	// The root is owner-only until the owner opens it up.
	in.Index.Insert(vrpath.Root(), permission.Private, permission.Private)
	return in
}

func (in *internals) clone() *internals {
	out := *in
	out.Root = in.Root.clone()
	out.Index = in.Index.Clone()
	out.SupportedModels = slices.Clone(in.SupportedModels)
	return &out
}

// folderAt resolves path to a folder.
func (in *internals) folderAt(path vrpath.Path) (*Folder, error) {
	e, ok := entryAt(in.Root, path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	f, ok := e.(*Folder)
	if !ok {
		return nil, fmt.Errorf("%w: %s is an item, not a folder", ErrWrongEntryKind, path)
	}
	return f, nil
}

// itemAt resolves path to an item.
func (in *internals) itemAt(path vrpath.Path) (*Item, error) {
	e, ok := entryAt(in.Root, path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	it, ok := e.(*Item)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a folder, not an item", ErrWrongEntryKind, path)
	}
	return it, nil
}

func (in *internals) supportsModel(model string) bool {
	return slices.Contains(in.SupportedModels, model)
}

// checkConsistency verifies that every entry has a permission record and
// every record has an entry.
func (in *internals) checkConsistency() error {
	live := map[string]bool{}
	in.Root.walkFolders(func(f *Folder) {
		live[f.Path.String()] = true
		for _, it := range f.Items {
			live[it.Path.String()] = true
		}
	})
	for p := range live {
		if !in.Index.Has(vrpath.MustParse(p)) {
			return fmt.Errorf("entry %s has no permission record", p)
		}
	}
	for _, p := range in.Index.Paths() {
		if !live[p.String()] {
			return fmt.Errorf("permission record %s has no entry", p)
		}
	}
	return nil
}
