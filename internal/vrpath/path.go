// Package vrpath implements the hierarchical address used to key entries and
// permission records in a profile's tree.
package vrpath

import (
	"errors"
	"fmt"
	"strings"
)

// Delimiter separates segments in the string form of a Path.
const Delimiter = "/"

// ErrInvalidName is returned when a segment cannot be part of a Path.
var ErrInvalidName = errors.New("invalid path segment")

// Path is an immutable, ordered sequence of name segments. The zero value is
// the root path.
type Path struct {
	segments []string
}

// Root returns the root path.
func Root() Path {
	return Path{}
}

// ValidateName reports whether name can be used as a single segment.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case strings.Contains(name, Delimiter):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, Delimiter)
	}
	return nil
}

// Parse converts a delimited string into a Path. Leading and trailing
// delimiters are ignored, so "/", "" and "/a/" are all accepted.
func Parse(s string) (Path, error) {
	trimmed := strings.Trim(s, Delimiter)
	if trimmed == "" {
		return Root(), nil
	}
	parts := strings.Split(trimmed, Delimiter)
	for _, p := range parts {
		if err := ValidateName(p); err != nil {
			return Path{}, fmt.Errorf("parsing %q: %w", s, err)
		}
	}
	return Path{segments: parts}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// New builds a Path from already separated segments.
func New(segments ...string) (Path, error) {
	for _, s := range segments {
		if err := ValidateName(s); err != nil {
			return Path{}, err
		}
	}
	return Path{segments: append([]string(nil), segments...)}, nil
}

// Push returns a new path with name appended. name must satisfy ValidateName;
// callers entering names into the tree validate them first.
func (p Path) Push(name string) Path {
	segs := make([]string, len(p.segments)+1)
	copy(segs, p.segments)
	segs[len(p.segments)] = name
	return Path{segments: segs}
}

// Pop returns the parent path and the removed last segment. Popping the root
// returns the root and an empty name.
func (p Path) Pop() (Path, string) {
	if p.IsRoot() {
		return p, ""
	}
	n := len(p.segments)
	return Path{segments: p.segments[:n-1:n-1]}, p.segments[n-1]
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	parent, _ := p.Pop()
	return parent
}

// Last returns the final segment, or "" for the root.
func (p Path) Last() string {
	_, last := p.Pop()
	return last
}

// IsRoot reports whether p addresses the root folder.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segments)
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	return append([]string(nil), p.segments...)
}

// Equal reports whether both paths address the same location.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether p is other or one of its ancestors.
func (p Path) IsPrefixOf(other Path) bool {
	if len(p.segments) > len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether p is a strict ancestor of other.
func (p Path) IsAncestorOf(other Path) bool {
	return len(p.segments) < len(other.segments) && p.IsPrefixOf(other)
}

// Join appends every segment of rel to p.
func (p Path) Join(rel Path) Path {
	segs := make([]string, 0, len(p.segments)+len(rel.segments))
	segs = append(segs, p.segments...)
	segs = append(segs, rel.segments...)
	return Path{segments: segs}
}

// Rel returns p expressed relative to base. It fails when base is not a
// prefix of p.
func (p Path) Rel(base Path) (Path, error) {
	if !base.IsPrefixOf(p) {
		return Path{}, fmt.Errorf("%s is not under %s", p, base)
	}
	return Path{segments: append([]string(nil), p.segments[len(base.segments):]...)}, nil
}

// Rebase replaces the prefix from of p with to.
func (p Path) Rebase(from, to Path) (Path, error) {
	rel, err := p.Rel(from)
	if err != nil {
		return Path{}, err
	}
	return to.Join(rel), nil
}

// Ancestors returns p followed by each of its ancestors up to and including
// the root.
func (p Path) Ancestors() []Path {
	out := make([]Path, 0, len(p.segments)+1)
	for i := len(p.segments); i >= 0; i-- {
		out = append(out, Path{segments: p.segments[:i:i]})
	}
	return out
}

// String renders the path with a leading delimiter. The root renders as "/".
func (p Path) String() string {
	return Delimiter + strings.Join(p.segments, Delimiter)
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
