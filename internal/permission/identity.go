package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIdentity is returned when an identity string cannot be parsed.
var ErrInvalidIdentity = errors.New("invalid identity")

const identityPrefix = "@@"

// Identity names a requester as a node plus an optional profile on that node.
// An identity without a profile stands for the node as a whole.
type Identity struct {
	Node    string
	Profile string
}

// NewIdentity builds a profile identity.
func NewIdentity(node, profile string) Identity {
	return Identity{Node: node, Profile: profile}
}

// ParseIdentity accepts "@@node/profile", "node/profile", "@@node" or "node".
func ParseIdentity(s string) (Identity, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), identityPrefix)
	if trimmed == "" {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	node, profile, _ := strings.Cut(trimmed, "/")
	if node == "" || strings.Contains(profile, "/") {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity{Node: node, Profile: profile}, nil
}

// NodeIdentity returns the node-level identity of i.
func (i Identity) NodeIdentity() Identity {
	return Identity{Node: i.Node}
}

// IsNode reports whether i names a whole node.
func (i Identity) IsNode() bool {
	return i.Profile == ""
}

// String renders "@@node/profile", or "@@node" for node identities.
func (i Identity) String() string {
	if i.Profile == "" {
		return identityPrefix + i.Node
	}
	return identityPrefix + i.Node + "/" + i.Profile
}

// MarshalText implements encoding.TextMarshaler so identities can key JSON maps.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
