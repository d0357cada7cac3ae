package container

import (
	"context"
	"encoding/base64"
	"fmt"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/vecfs/internal/codec"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

var packMagic = codec.Magic{'V', 'R', 'P', 'A', 'C', 'K'}

// PackEntry is a Kai together with the path it occupies inside the pack.
// The path is relative to the pack root and ends with the resource name.
type PackEntry struct {
	Path vrpath.Path `json:"path"`
	Kai  *Kai        `json:"kai"`
}

// Parent returns the folder path holding the entry.
func (e PackEntry) Parent() vrpath.Path {
	return e.Path.Parent()
}

// Pack is an ordered, path indexed bundle of Kais. Folders are tracked
// explicitly so empty folders survive a round trip.
type Pack struct {
	Name            string            `json:"name"`
	Version         Version           `json:"version"`
	Entries         []PackEntry       `json:"entries"`
	FolderPaths     []vrpath.Path     `json:"folders"`
	EmbeddingModels map[string]int    `json:"embedding_models_used"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// NewPack returns an empty pack.
func NewPack(name string) *Pack {
	return &Pack{
		Name:            name,
		Version:         VersionV1,
		Entries:         []PackEntry{},
		FolderPaths:     []vrpath.Path{},
		EmbeddingModels: map[string]int{},
		CreatedAt:       time.Now().UTC(),
	}
}

// Len returns the number of Kais in the pack.
func (p *Pack) Len() int {
	return len(p.Entries)
}

// FolderCount returns the number of folders in the pack.
func (p *Pack) FolderCount() int {
	return len(p.FolderPaths)
}

func (p *Pack) entryIndex(path vrpath.Path) int {
	for i, e := range p.Entries {
		if e.Path.Equal(path) {
			return i
		}
	}
	return -1
}

func (p *Pack) hasFolder(path vrpath.Path) bool {
	if path.IsRoot() {
		return true
	}
	for _, f := range p.FolderPaths {
		if f.Equal(path) {
			return true
		}
	}
	return false
}

func (p *Pack) taken(path vrpath.Path) bool {
	return p.entryIndex(path) >= 0 || p.hasFolder(path)
}

// ensureFolders registers every missing folder on the way to path.
func (p *Pack) ensureFolders(path vrpath.Path) error {
	ancestors := path.Ancestors()
	for i := len(ancestors) - 1; i >= 0; i-- {
		f := ancestors[i]
		if p.hasFolder(f) {
			continue
		}
		if p.entryIndex(f) >= 0 {
			return fmt.Errorf("%w: %s is a resource, not a folder", ErrEntryExists, f)
		}
		p.FolderPaths = append(p.FolderPaths, f)
	}
	return nil
}

// CreateFolder adds a folder named name under parent, creating parent
// folders as needed.
func (p *Pack) CreateFolder(name string, parent vrpath.Path) error {
	if err := vrpath.ValidateName(name); err != nil {
		return err
	}
	path := parent.Push(name)
	if p.taken(path) {
		return fmt.Errorf("%w: %s", ErrEntryExists, path)
	}
	return p.ensureFolders(path)
}

// Insert adds kai under parent, creating parent folders as needed. The entry
// is named after the resource with a known file extension stripped, the same
// name a folder would give it.
func (p *Pack) Insert(kai *Kai, parent vrpath.Path) error {
	if kai == nil || kai.Resource == nil {
		return fmt.Errorf("%w: kai has no resource", ErrSerialization)
	}
	name := resource.CleanName(kai.Name())
	if err := vrpath.ValidateName(name); err != nil {
		return err
	}
	if name != kai.Name() {
		res := kai.Resource.Clone()
		res.Name = name
		kai = &Kai{Version: kai.Version, Resource: res, Sources: kai.Sources}
	}
	path := parent.Push(name)
	if p.taken(path) {
		return fmt.Errorf("%w: %s", ErrEntryExists, path)
	}
	if err := p.ensureFolders(parent); err != nil {
		return err
	}
	p.Entries = append(p.Entries, PackEntry{Path: path, Kai: kai})
	if model := kai.Resource.EmbeddingModel; model != "" {
		p.EmbeddingModels[model]++
	}
	return nil
}

// Get returns the Kai stored at path.
func (p *Pack) Get(path vrpath.Path) (*Kai, error) {
	i := p.entryIndex(path)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, path)
	}
	return p.Entries[i].Kai, nil
}

// Remove deletes the entry or folder at path. Removing a folder removes
// everything below it.
func (p *Pack) Remove(path vrpath.Path) error {
	if i := p.entryIndex(path); i >= 0 {
		p.dropEntry(i)
		return nil
	}
	if path.IsRoot() || !p.hasFolder(path) {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, path)
	}
	for i := len(p.Entries) - 1; i >= 0; i-- {
		if path.IsAncestorOf(p.Entries[i].Path) {
			p.dropEntry(i)
		}
	}
	kept := p.FolderPaths[:0]
	for _, f := range p.FolderPaths {
		if !path.IsPrefixOf(f) {
			kept = append(kept, f)
		}
	}
	p.FolderPaths = kept
	return nil
}

func (p *Pack) dropEntry(i int) {
	if model := p.Entries[i].Kai.Resource.EmbeddingModel; model != "" {
		p.EmbeddingModels[model]--
		if p.EmbeddingModels[model] <= 0 {
			delete(p.EmbeddingModels, model)
		}
	}
	p.Entries = append(p.Entries[:i], p.Entries[i+1:]...)
}

// Folders returns the folder paths sorted so parents precede children.
func (p *Pack) Folders() []vrpath.Path {
	out := append([]vrpath.Path(nil), p.FolderPaths...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Len() != out[j].Len() {
			return out[i].Len() < out[j].Len()
		}
		return out[i].String() < out[j].String()
	})
	return out
}

// Models returns the embedding models used by the pack, sorted.
func (p *Pack) Models() []string {
	out := make([]string, 0, len(p.EmbeddingModels))
	for m := range p.EmbeddingModels {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// UnpackAll returns every entry in insertion order.
func (p *Pack) UnpackAll() []PackEntry {
	return append([]PackEntry(nil), p.Entries...)
}

// ScoredEntry is a pack entry ranked by header similarity.
type ScoredEntry struct {
	PackEntry
	Score float32 `json:"score"`
}

// VectorSearch ranks entries by the similarity of their resource embedding to
// query. Equal scores keep insertion order.
func (p *Pack) VectorSearch(query []float32, n int) []ScoredEntry {
	scored := make([]ScoredEntry, len(p.Entries))
	for i, e := range p.Entries {
		scored[i] = ScoredEntry{PackEntry: e, Score: e.Kai.Resource.ScoreHeader(query)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// RetrievedNode is a node found by DeepVectorSearch with the path of the
// entry it came from.
type RetrievedNode struct {
	resource.RetrievedNode
	Path vrpath.Path `json:"path"`
}

// DeepVectorSearch searches inside the maxFilesToScan best matching entries
// and returns the maxResults best nodes across all of them. Node scores are
// weighted by the header score of their entry.
func (p *Pack) DeepVectorSearch(ctx context.Context, query []float32, maxFilesToScan, maxResults int) ([]RetrievedNode, error) {
	if len(p.EmbeddingModels) > 1 {
		return nil, fmt.Errorf("%w: %v", ErrMixedEmbeddingModels, p.Models())
	}
	entries := p.VectorSearch(query, maxFilesToScan)
	perEntry := make([][]RetrievedNode, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			nodes := e.Kai.Resource.ExhaustiveSearch(query)
			out := make([]RetrievedNode, len(nodes))
			for j, n := range nodes {
				n.Score = resource.HeaderWeightedScore(n.Score, e.Score)
				out[j] = RetrievedNode{RetrievedNode: n, Path: e.Path}
			}
			perEntry[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []RetrievedNode
	for _, nodes := range perEntry {
		merged = append(merged, nodes...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if maxResults > 0 && len(merged) > maxResults {
		merged = merged[:maxResults]
	}
	return merged, nil
}

// Encode serializes p.
func (p *Pack) Encode() ([]byte, error) {
	data, err := codec.Encode(packMagic, frameVersion, codec.CompressionZstd, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return data, nil
}

// EncodeBase64 serializes p as standard base64 text.
func (p *Pack) EncodeBase64() (string, error) {
	data, err := p.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePack parses bytes produced by Encode.
func DecodePack(data []byte) (*Pack, error) {
	var p Pack
	if _, err := codec.Decode(data, packMagic, acceptFrame, &p); err != nil {
		return nil, fmt.Errorf("%w: pack: %v", ErrSerialization, err)
	}
	if p.Version != VersionV1 {
		return nil, fmt.Errorf("%w: pack: unsupported version %q", ErrSerialization, p.Version)
	}
	seen := make(map[string]bool, len(p.Entries))
	for _, e := range p.Entries {
		if e.Kai == nil || e.Kai.Resource == nil {
			return nil, fmt.Errorf("%w: pack: entry %s has no resource", ErrSerialization, e.Path)
		}
		if name := e.Path.Last(); e.Path.IsRoot() || resource.CleanName(name) != name {
			return nil, fmt.Errorf("%w: pack: invalid entry path %s", ErrSerialization, e.Path)
		}
		if seen[e.Path.String()] {
			return nil, fmt.Errorf("%w: pack: duplicate entry %s", ErrSerialization, e.Path)
		}
		seen[e.Path.String()] = true
	}
	if p.EmbeddingModels == nil {
		p.EmbeddingModels = map[string]int{}
	}
	if p.Entries == nil {
		p.Entries = []PackEntry{}
	}
	if p.FolderPaths == nil {
		p.FolderPaths = []vrpath.Path{}
	}
	return &p, nil
}

// DecodePackBase64 parses text produced by EncodeBase64.
func DecodePackBase64(s string) (*Pack, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: pack: %v", ErrSerialization, err)
	}
	return DecodePack(data)
}

// IsPack reports whether data starts with the Pack header.
func IsPack(data []byte) bool {
	m, ok := codec.Peek(data)
	return ok && m == packMagic
}
