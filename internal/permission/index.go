package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

// ErrRecordNotFound is returned when a path has no permission record.
var ErrRecordNotFound = errors.New("permission record not found")

// Index maps tree paths to permission records for one profile. Index is not
// safe for concurrent use; the owning profile lock guards it.
type Index struct {
	owner   Identity
	records map[string]Record
}

// NewIndex returns an empty index owned by owner.
func NewIndex(owner Identity) *Index {
	return &Index{owner: owner, records: make(map[string]Record)}
}

// Owner returns the profile identity that is always authorized.
func (x *Index) Owner() Identity {
	return x.owner
}

// IsOwner reports whether id is the profile owner.
func (x *Index) IsOwner(id Identity) bool {
	return id == x.owner
}

// Insert sets the policies for p, creating the record if needed. An existing
// whitelist is preserved.
func (x *Index) Insert(p vrpath.Path, read, write Policy) {
	key := p.String()
	rec := x.records[key]
	rec.Read = read
	rec.Write = write
	x.records[key] = rec
}

// Get returns a copy of the record at p.
func (x *Index) Get(p vrpath.Path) (Record, bool) {
	rec, ok := x.records[p.String()]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Has reports whether p has a record.
func (x *Index) Has(p vrpath.Path) bool {
	_, ok := x.records[p.String()]
	return ok
}

// Len returns the number of records.
func (x *Index) Len() int {
	return len(x.records)
}

// Remove deletes the record at p only.
func (x *Index) Remove(p vrpath.Path) {
	delete(x.records, p.String())
}

// RemoveSubtree deletes the record at p and every record below it.
func (x *Index) RemoveSubtree(p vrpath.Path) int {
	removed := 0
	for _, sp := range x.subtree(p) {
		delete(x.records, sp.String())
		removed++
	}
	return removed
}

// Relocate moves the records of p and its descendants under to.
func (x *Index) Relocate(from, to vrpath.Path) error {
	moved, err := x.rebased(from, to)
	if err != nil {
		return err
	}
	for _, sp := range x.subtree(from) {
		delete(x.records, sp.String())
	}
	for k, rec := range moved {
		x.records[k] = rec
	}
	return nil
}

// CopySubtree duplicates the records of from and its descendants under to.
func (x *Index) CopySubtree(from, to vrpath.Path) error {
	copied, err := x.rebased(from, to)
	if err != nil {
		return err
	}
	for k, rec := range copied {
		x.records[k] = rec
	}
	return nil
}

func (x *Index) rebased(from, to vrpath.Path) (map[string]Record, error) {
	if !x.Has(from) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, from)
	}
	out := make(map[string]Record)
	for _, sp := range x.subtree(from) {
		np, err := sp.Rebase(from, to)
		if err != nil {
			return nil, err
		}
		out[np.String()] = x.records[sp.String()].Clone()
	}
	return out, nil
}

// subtree returns p and every recorded path below it.
func (x *Index) subtree(p vrpath.Path) []vrpath.Path {
	var out []vrpath.Path
	for _, rp := range x.Paths() {
		if p.IsPrefixOf(rp) {
			out = append(out, rp)
		}
	}
	return out
}

// SetPolicies replaces the policies of an existing record.
func (x *Index) SetPolicies(p vrpath.Path, read, write Policy) error {
	key := p.String()
	rec, ok := x.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, p)
	}
	rec.Read, rec.Write = read, write
	x.records[key] = rec
	return nil
}

// SetWhitelist grants id capability c at p.
func (x *Index) SetWhitelist(p vrpath.Path, id Identity, c Capability) error {
	key := p.String()
	rec, ok := x.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, p)
	}
	rec = rec.Clone()
	if rec.Whitelist == nil {
		rec.Whitelist = make(map[Identity]Capability)
	}
	rec.Whitelist[id] = c
	x.records[key] = rec
	return nil
}

// RemoveWhitelist revokes any whitelist entry for id at p.
func (x *Index) RemoveWhitelist(p vrpath.Path, id Identity) error {
	key := p.String()
	rec, ok := x.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, p)
	}
	rec = rec.Clone()
	delete(rec.Whitelist, id)
	x.records[key] = rec
	return nil
}

// CanReadAt reports whether id may read the exact path p. This is the
// content tier check.
func (x *Index) CanReadAt(id Identity, p vrpath.Path) bool {
	if x.IsOwner(id) {
		return true
	}
	rec, ok := x.records[p.String()]
	return ok && rec.grantsRead(id)
}

// HeaderVisible reports whether id may read p or any of its ancestors. This
// is the header tier check.
func (x *Index) HeaderVisible(id Identity, p vrpath.Path) bool {
	if x.IsOwner(id) {
		return true
	}
	for _, anc := range p.Ancestors() {
		if rec, ok := x.records[anc.String()]; ok && rec.grantsRead(id) {
			return true
		}
	}
	return false
}

// CanWriteAt walks from p toward the root. The first record that grants id
// write access authorizes; a Private record stops the walk. Whitelist records
// that do not list id, and paths without a record, defer to their parent.
func (x *Index) CanWriteAt(id Identity, p vrpath.Path) bool {
	if x.IsOwner(id) {
		return true
	}
	for _, anc := range p.Ancestors() {
		rec, ok := x.records[anc.String()]
		if !ok {
			continue
		}
		switch rec.Write {
		case Public:
			return true
		case Private:
			return false
		case Whitelist:
			if c, listed := rec.lookup(id); listed && c.CanWrite() {
				return true
			}
		}
	}
	return false
}

// Paths returns every recorded path in lexical order of their string form.
func (x *Index) Paths() []vrpath.Path {
	keys := make([]string, 0, len(x.records))
	for k := range x.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]vrpath.Path, 0, len(keys))
	for _, k := range keys {
		out = append(out, vrpath.MustParse(k))
	}
	return out
}

// FindWithRead returns the paths at or below start whose read policy is one
// of policies. With no policies every path under start is returned.
func (x *Index) FindWithRead(start vrpath.Path, policies ...Policy) []vrpath.Path {
	return x.find(start, policies, func(r Record) Policy { return r.Read })
}

// FindWithWrite is FindWithRead for write policies.
func (x *Index) FindWithWrite(start vrpath.Path, policies ...Policy) []vrpath.Path {
	return x.find(start, policies, func(r Record) Policy { return r.Write })
}

func (x *Index) find(start vrpath.Path, policies []Policy, pick func(Record) Policy) []vrpath.Path {
	want := make(map[Policy]bool, len(policies))
	for _, p := range policies {
		want[p] = true
	}
	var out []vrpath.Path
	for _, p := range x.subtree(start) {
		if len(want) == 0 || want[pick(x.records[p.String()])] {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the index.
func (x *Index) Clone() *Index {
	out := &Index{owner: x.owner, records: make(map[string]Record, len(x.records))}
	for k, rec := range x.records {
		out.records[k] = rec.Clone()
	}
	return out
}

type indexJSON struct {
	Owner   Identity          `json:"owner"`
	Records map[string]Record `json:"records"`
}

// MarshalJSON implements json.Marshaler. Map keys are written in sorted order
// so identical indexes encode identically.
func (x *Index) MarshalJSON() ([]byte, error) {
	return json.Marshal(indexJSON{Owner: x.owner, Records: x.records})
}

// UnmarshalJSON implements json.Unmarshaler.
func (x *Index) UnmarshalJSON(data []byte) error {
	var raw indexJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	records := make(map[string]Record, len(raw.Records))
	for k, rec := range raw.Records {
		p, err := vrpath.Parse(k)
		if err != nil {
			return fmt.Errorf("permission record key: %w", err)
		}
		records[p.String()] = rec
	}
	x.owner = raw.Owner
	x.records = records
	return nil
}
