package vectorfs

import (
	"sort"
	"time"

	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// Entry is a node of a profile tree: either a *Folder or an *Item. The set
// of implementations is closed.
type Entry interface {
	EntryName() string
	EntryPath() vrpath.Path
	Description() string
	Keywords() []string
	MerkleRoot() string
	NodeCount() int
	LastModified() time.Time

	sealed()
}

var (
	_ Entry = (*Folder)(nil)
	_ Entry = (*Item)(nil)
)

// Folder holds subfolders and items keyed by name. Names are unique across
// both maps.
type Folder struct {
	Name           string             `json:"name"`
	Path           vrpath.Path        `json:"path"`
	Folders        map[string]*Folder `json:"folders"`
	Items          map[string]*Item   `json:"items"`
	CreatedAt      time.Time          `json:"created_at"`
	LastModifiedAt time.Time          `json:"last_modified_at"`
}

func newFolder(path vrpath.Path, now time.Time) *Folder {
	return &Folder{
		Name:           path.Last(),
		Path:           path,
		Folders:        map[string]*Folder{},
		Items:          map[string]*Item{},
		CreatedAt:      now,
		LastModifiedAt: now,
	}
}

func (f *Folder) sealed() {}

// EntryName returns the folder name; the root folder has an empty name.
func (f *Folder) EntryName() string { return f.Name }

// EntryPath returns the folder path.
func (f *Folder) EntryPath() vrpath.Path { return f.Path }

// Description is always empty for folders.
func (f *Folder) Description() string { return "" }

// Keywords is always empty for folders.
func (f *Folder) Keywords() []string { return nil }

// NodeCount returns the number of direct children.
func (f *Folder) NodeCount() int { return len(f.Folders) + len(f.Items) }

// LastModified returns the last time a direct child was added or removed.
func (f *Folder) LastModified() time.Time { return f.LastModifiedAt }

// MerkleRoot hashes the names and roots of the children in name order.
func (f *Folder) MerkleRoot() string {
	var hashes []string
	for _, e := range f.Children() {
		hashes = append(hashes, resource.HashBytes([]byte(e.EntryName())), e.MerkleRoot())
	}
	return resource.CombineHashes(hashes)
}

// IsEmpty reports whether f has no children.
func (f *Folder) IsEmpty() bool { return f.NodeCount() == 0 }

// Has reports whether a child named name exists.
func (f *Folder) Has(name string) bool {
	_, isFolder := f.Folders[name]
	_, isItem := f.Items[name]
	return isFolder || isItem
}

// Children returns all children sorted by name.
func (f *Folder) Children() []Entry {
	out := make([]Entry, 0, f.NodeCount())
	for _, sub := range f.Folders {
		out = append(out, sub)
	}
	for _, it := range f.Items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryName() < out[j].EntryName() })
	return out
}

// SortedFolders returns the subfolders sorted by name.
func (f *Folder) SortedFolders() []*Folder {
	out := make([]*Folder, 0, len(f.Folders))
	for _, sub := range f.Folders {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SortedItems returns the items sorted by name.
func (f *Folder) SortedItems() []*Item {
	out := make([]*Item, 0, len(f.Items))
	for _, it := range f.Items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// walkItems visits every item below f depth first, subfolders before items at
// each level, both in name order.
func (f *Folder) walkItems(visit func(*Item)) {
	for _, sub := range f.SortedFolders() {
		sub.walkItems(visit)
	}
	for _, it := range f.SortedItems() {
		visit(it)
	}
}

// walkFolders visits f and every folder below it, parents first.
func (f *Folder) walkFolders(visit func(*Folder)) {
	visit(f)
	for _, sub := range f.SortedFolders() {
		sub.walkFolders(visit)
	}
}

// clone copies the folder structure. Resources are shared: a resource in a
// tree is never modified in place, only replaced.
func (f *Folder) clone() *Folder {
	out := *f
	out.Folders = make(map[string]*Folder, len(f.Folders))
	for name, sub := range f.Folders {
		out.Folders[name] = sub.clone()
	}
	out.Items = make(map[string]*Item, len(f.Items))
	for name, it := range f.Items {
		out.Items[name] = it.clone()
	}
	return &out
}

// deepCopy returns a clone that shares no resource with f, for handing to
// callers.
func (f *Folder) deepCopy() *Folder {
	out := f.clone()
	out.walkFolders(func(sub *Folder) {
		for name, it := range sub.Items {
			sub.Items[name] = it.deepCopy()
		}
	})
	return out
}

// relocate rewrites the paths of f and its descendants to live at path.
func (f *Folder) relocate(path vrpath.Path) {
	f.Path = path
	f.Name = path.Last()
	for name, sub := range f.Folders {
		sub.relocate(path.Push(name))
	}
	for name, it := range f.Items {
		it.Path = path.Push(name)
	}
}

// Item is a saved resource with its optional source artifacts.
type Item struct {
	Name           string                 `json:"name"`
	Path           vrpath.Path            `json:"path"`
	Resource       *resource.Resource     `json:"resource"`
	Sources        resource.SourceFileMap `json:"sources,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastModifiedAt time.Time              `json:"last_modified_at"`
}

func (it *Item) sealed() {}

// EntryName returns the item name.
func (it *Item) EntryName() string { return it.Name }

// EntryPath returns the item path.
func (it *Item) EntryPath() vrpath.Path { return it.Path }

// Description returns the resource description.
func (it *Item) Description() string { return it.Resource.Description }

// Keywords returns the resource keywords.
func (it *Item) Keywords() []string { return append([]string(nil), it.Resource.Keywords...) }

// MerkleRoot returns the resource merkle root.
func (it *Item) MerkleRoot() string { return it.Resource.MerkleRoot }

// NodeCount returns the number of resource nodes, nested ones included.
func (it *Item) NodeCount() int { return it.Resource.NodeCount() }

// LastModified returns the last write time of the item.
func (it *Item) LastModified() time.Time { return it.LastModifiedAt }

// ReferenceID identifies this saved copy of the resource.
func (it *Item) ReferenceID() string { return it.Resource.ReferenceID }

// Header returns the resource header.
func (it *Item) Header() resource.Header { return it.Resource.Header() }

// HasSources reports whether source artifacts were saved with the item.
func (it *Item) HasSources() bool { return len(it.Sources) > 0 }

func (it *Item) clone() *Item {
	out := *it
	return &out
}

func (it *Item) deepCopy() *Item {
	out := *it
	out.Resource = it.Resource.Clone()
	out.Sources = it.Sources.Clone()
	return &out
}

// entryAt resolves path below root.
func entryAt(root *Folder, path vrpath.Path) (Entry, bool) {
	cur := root
	segs := path.Segments()
	for i, name := range segs {
		if sub, ok := cur.Folders[name]; ok {
			cur = sub
			continue
		}
		if it, ok := cur.Items[name]; ok && i == len(segs)-1 {
			return it, true
		}
		return nil, false
	}
	return cur, true
}
