// Package permission implements the per-profile permission index: one record
// per tree path, each holding a read policy, a write policy and a whitelist.
package permission

import (
	"fmt"
	"sort"
)

// Policy is a read or write policy attached to a path.
type Policy string

const (
	// Public grants everyone.
	Public Policy = "public"
	// Private grants only the profile owner.
	Private Policy = "private"
	// Whitelist grants identities listed in the record whitelist.
	Whitelist Policy = "whitelist"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Public, Private, Whitelist:
		return p, nil
	}
	return "", fmt.Errorf("unknown permission policy %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Capability is what a whitelisted identity may do at a path.
type Capability string

const (
	Read      Capability = "read"
	Write     Capability = "write"
	ReadWrite Capability = "read_write"
)

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case Read, Write, ReadWrite:
		return c, nil
	}
	return "", fmt.Errorf("unknown whitelist capability %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CanRead reports whether c includes reading.
func (c Capability) CanRead() bool { return c == Read || c == ReadWrite }

// CanWrite reports whether c includes writing.
func (c Capability) CanWrite() bool { return c == Write || c == ReadWrite }

// Record is the permission state of a single path.
type Record struct {
	Read      Policy                  `json:"read"`
	Write     Policy                  `json:"write"`
	Whitelist map[Identity]Capability `json:"whitelist,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := Record{Read: r.Read, Write: r.Write}
	if len(r.Whitelist) > 0 {
		out.Whitelist = make(map[Identity]Capability, len(r.Whitelist))
		for id, c := range r.Whitelist {
			out.Whitelist[id] = c
		}
	}
	return out
}

// lookup returns the capability listed for id, falling back to the
// node-level entry of id.
func (r Record) lookup(id Identity) (Capability, bool) {
	if c, ok := r.Whitelist[id]; ok {
		return c, true
	}
	if !id.IsNode() {
		c, ok := r.Whitelist[id.NodeIdentity()]
		return c, ok
	}
	return "", false
}

func (r Record) grantsRead(id Identity) bool {
	switch r.Read {
	case Public:
		return true
	case Whitelist:
		c, ok := r.lookup(id)
		return ok && c.CanRead()
	}
	return false
}

// WhitelistEntry is one identity with its capability.
type WhitelistEntry struct {
	Identity   Identity   `json:"identity"`
	Capability Capability `json:"capability"`
}

// Entries returns the whitelist sorted by identity.
func (r Record) Entries() []WhitelistEntry {
	out := make([]WhitelistEntry, 0, len(r.Whitelist))
	for id, c := range r.Whitelist {
		out = append(out, WhitelistEntry{Identity: id, Capability: c})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.String() < out[j].Identity.String()
	})
	return out
}
