// Package snapshot persists profile state between process runs.
//
// A Snapshot is an opaque, framed and compressed document keyed by profile
// name. The vectorfs store decides what goes inside; backends only move
// bytes. MemoryStore serves tests and ephemeral nodes, SQLiteStore is the
// durable default.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/vecfs/internal/codec"
)

var (
	// ErrNotFound is returned by Load when a profile was never saved.
	ErrNotFound = errors.New("snapshot not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("snapshot store closed")

	// ErrCorrupt is returned when a stored snapshot cannot be decoded.
	ErrCorrupt = errors.New("snapshot corrupt")
)

var magic = codec.Magic{'V', 'R', 'S', 'N', 'A', 'P'}

// FormatVersion is the snapshot frame version written by this package.
const FormatVersion byte = 1

// Snapshot is one saved state of a profile.
type Snapshot struct {
	Profile string
	SavedAt time.Time
	Data    []byte
}

// Encode frames state as a snapshot of profile.
func Encode(profile string, c codec.Compression, state any) (*Snapshot, error) {
	data, err := codec.Encode(magic, FormatVersion, c, state)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot for %q: %w", profile, err)
	}
	return &Snapshot{Profile: profile, SavedAt: time.Now().UTC(), Data: data}, nil
}

// Decode unmarshals the snapshot payload into state.
func (s *Snapshot) Decode(state any) error {
	_, err := codec.Decode(s.Data, magic, func(v byte) bool { return v == FormatVersion }, state)
	if err != nil {
		return fmt.Errorf("%w: profile %q: %v", ErrCorrupt, s.Profile, err)
	}
	return nil
}

// Store saves and loads snapshots.
type Store interface {
	// Load returns the latest snapshot of profile or ErrNotFound.
	Load(ctx context.Context, profile string) (*Snapshot, error)
	// Save replaces the snapshot of s.Profile.
	Save(ctx context.Context, s *Snapshot) error
	// Delete removes a profile snapshot. Deleting a missing one is not an error.
	Delete(ctx context.Context, profile string) error
	// Profiles lists saved profiles in name order.
	Profiles(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "sqlite" (default) or "memory".
	Backend string
	// Path is the SQLite database file.
	Path string
}

// Open creates the backend described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return OpenSQLite(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot backend: %s (supported: sqlite, memory)", cfg.Backend)
	}
}
