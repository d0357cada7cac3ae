// Package vectorfs implements the permissioned, hierarchical vector resource
// store.
//
// Every profile owns a tree of folders and items plus a permission index
// holding exactly one record per tree path. Callers obtain a Reader or
// Writer for a (requester, path, profile) triple and pass it to the
// operations; the capability is checked once when issued.
//
// Mutations are write-through. Each one runs against a structural clone of
// the profile, the clone is persisted as a snapshot, and only then does it
// replace the live state, so a failed write leaves nothing behind.
package vectorfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecfs/internal/codec"
	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/resource"
	"github.com/fyrsmithlabs/vecfs/internal/snapshot"
	"github.com/fyrsmithlabs/vecfs/internal/vrpath"
)

const instrumentationName = "github.com/fyrsmithlabs/vecfs/internal/vectorfs"

// Embedder produces query embeddings. *embeddings.Generator implements it.
type Embedder interface {
	GenerateEmbeddingDefault(ctx context.Context, text string) (resource.Embedding, error)
	Model() string
}

// Options configures a Store.
type Options struct {
	// NodeName identifies this node. A profile is owned by the identity
	// NodeName/profile.
	NodeName string

	// DefaultRead and DefaultWrite are the policies given to new folders and
	// items. Both default to Whitelist.
	DefaultRead  permission.Policy
	DefaultWrite permission.Policy

	// SupportedModels seeds the supported embedding models of new profiles.
	// Defaults to the embedder model.
	SupportedModels []string

	// DefaultFolders are created under the root of new profiles.
	DefaultFolders []string

	// DeferPersistence keeps mutations in memory until Flush.
	DeferPersistence bool

	// Compression names the snapshot compression: zstd (default), lz4 or none.
	Compression string

	Logger *zap.Logger

	// TracerProvider and MeterProvider default to the global providers.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

type profileState struct {
	mu    sync.RWMutex
	in    *internals
	dirty bool
}

// Store holds the trees of every profile on the node.
type Store struct {
	opts        Options
	embedder    Embedder
	snapshots   snapshot.Store
	compression codec.Compression
	logger      *zap.Logger

	tracer        trace.Tracer
	meter         metric.Meter
	opCounter     metric.Int64Counter
	searchLatency metric.Float64Histogram

	mu       sync.RWMutex
	profiles map[string]*profileState
}

// New creates a store persisting to snapshots. embedder may be nil when no
// search will be performed.
func New(embedder Embedder, snapshots snapshot.Store, opts Options) (*Store, error) {
	if snapshots == nil {
		return nil, errors.New("snapshot store is required")
	}
	if opts.NodeName == "" {
		return nil, errors.New("node name is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultRead == "" {
		opts.DefaultRead = permission.Whitelist
	}
	if opts.DefaultWrite == "" {
		opts.DefaultWrite = permission.Whitelist
	}
	if len(opts.SupportedModels) == 0 && embedder != nil {
		opts.SupportedModels = []string{embedder.Model()}
	}
	for _, name := range opts.DefaultFolders {
		if err := vrpath.ValidateName(name); err != nil {
			return nil, fmt.Errorf("default folder: %w", err)
		}
	}
	compression, err := codec.ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}

	s := &Store{
		opts:        opts,
		embedder:    embedder,
		snapshots:   snapshots,
		compression: compression,
		logger:      opts.Logger,
		tracer:      opts.TracerProvider.Tracer(instrumentationName),
		meter:       opts.MeterProvider.Meter(instrumentationName),
		profiles:    make(map[string]*profileState),
	}
	s.initMetrics()
	return s, nil
}

func (s *Store) initMetrics() {
	var err error

	s.opCounter, err = s.meter.Int64Counter(
		"vecfs.store.operations_total",
		metric.WithDescription("Store operations by name and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		s.logger.Warn("failed to create operations counter", zap.Error(err))
	}

	s.searchLatency, err = s.meter.Float64Histogram(
		"vecfs.store.search_duration_seconds",
		metric.WithDescription("Duration of header and deep searches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		s.logger.Warn("failed to create search latency histogram", zap.Error(err))
	}
}

// Owner returns the identity that owns profile on this node.
func (s *Store) Owner(profile string) permission.Identity {
	return permission.NewIdentity(s.opts.NodeName, profile)
}

func (s *Store) start(ctx context.Context, op, profile string, path vrpath.Path) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "vectorfs."+op)
	span.SetAttributes(
		attribute.String("profile", profile),
		attribute.String("path", path.String()),
	)
	return ctx, span
}

func (s *Store) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
	}
	if s.opCounter != nil {
		s.opCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		))
	}
	span.End()
}

// state returns the loaded state of profile, loading or initializing it on
// first use.
func (s *Store) state(ctx context.Context, profile string) (*profileState, error) {
	if err := vrpath.ValidateName(profile); err != nil {
		return nil, fmt.Errorf("profile name: %w", err)
	}
	s.mu.RLock()
	st, ok := s.profiles[profile]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if st, ok = s.profiles[profile]; !ok {
			st = &profileState{}
			s.profiles[profile] = st
		}
		s.mu.Unlock()
	}

	st.mu.RLock()
	loaded := st.in != nil
	st.mu.RUnlock()
	if loaded {
		return st, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.in == nil {
		in, err := s.load(ctx, profile)
		if err != nil {
			return nil, err
		}
		st.in = in
	}
	return st, nil
}

// load reads the last snapshot of profile, or builds a fresh profile when
// none exists.
func (s *Store) load(ctx context.Context, profile string) (*internals, error) {
	snap, err := s.snapshots.Load(ctx, profile)
	if errors.Is(err, snapshot.ErrNotFound) {
		in := s.fresh(profile)
		s.logger.Info("initialized profile",
			zap.String("profile", profile),
			zap.Strings("default_folders", s.opts.DefaultFolders),
		)
		return in, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading profile %s: %v", ErrPersistence, profile, err)
	}

	var in internals
	if err := snap.Decode(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if in.Root == nil || in.Index == nil {
		return nil, fmt.Errorf("%w: profile %s snapshot is incomplete", ErrSerialization, profile)
	}
	in.Root.walkFolders(func(f *Folder) {
		if f.Folders == nil {
			f.Folders = map[string]*Folder{}
		}
		if f.Items == nil {
			f.Items = map[string]*Item{}
		}
	})
	s.logger.Info("loaded profile",
		zap.String("profile", profile),
		zap.Time("saved_at", snap.SavedAt),
		zap.Int("records", in.Index.Len()),
	)
	return &in, nil
}

func (s *Store) fresh(profile string) *internals {
	in := newInternals(s.Owner(profile), s.opts.SupportedModels)
	now := time.Now().UTC()
	for _, name := range s.opts.DefaultFolders {
		p := vrpath.Root().Push(name)
		in.Root.Folders[name] = newFolder(p, now)
		in.Index.Insert(p, s.opts.DefaultRead, s.opts.DefaultWrite)
	}
	return in
}

func (s *Store) persist(ctx context.Context, profile string, in *internals) error {
	in.LastSavedAt = time.Now().UTC()
	snap, err := snapshot.Encode(profile, s.compression, in)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// view runs fn under the profile read lock.
func (s *Store) view(ctx context.Context, profile string, fn func(in *internals) error) error {
	st, err := s.state(ctx, profile)
	if err != nil {
		return err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return fn(st.in)
}

// mutate applies fn to a clone of the profile and commits the clone once it
// is persisted. fn must leave the clone consistent or return an error.
func (s *Store) mutate(ctx context.Context, profile string, fn func(in *internals) error) error {
	st, err := s.state(ctx, profile)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.in.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.DeferPersistence {
		st.in = next
		st.dirty = true
		return nil
	}
	if err := s.persist(ctx, profile, next); err != nil {
		return err
	}
	st.in = next
	st.dirty = false
	return nil
}

func (s *Store) requireOwner(requester permission.Identity, profile string) error {
	if requester != s.Owner(profile) {
		return fmt.Errorf("%w: only %s may manage profile %s", ErrPermissionDenied, s.Owner(profile), profile)
	}
	return nil
}

// Flush persists in-memory changes made under DeferPersistence.
func (s *Store) Flush(ctx context.Context, requester permission.Identity, profile string) (err error) {
	ctx, span := s.start(ctx, "flush", profile, vrpath.Root())
	defer func() { s.finish(ctx, span, "flush", err) }()

	if err := s.requireOwner(requester, profile); err != nil {
		return err
	}
	st, err := s.state(ctx, profile)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.dirty {
		return nil
	}
	next := st.in.clone()
	if err := s.persist(ctx, profile, next); err != nil {
		return err
	}
	st.in = next
	st.dirty = false
	s.logger.Debug("flushed profile", zap.String("profile", profile))
	return nil
}

// RevertToLastSave discards every change since the last durable snapshot of
// profile. A profile that was never saved reverts to a fresh one.
func (s *Store) RevertToLastSave(ctx context.Context, requester permission.Identity, profile string) (err error) {
	ctx, span := s.start(ctx, "revert", profile, vrpath.Root())
	defer func() { s.finish(ctx, span, "revert", err) }()

	if err := s.requireOwner(requester, profile); err != nil {
		return err
	}
	st, err := s.state(ctx, profile)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	in, err := s.load(ctx, profile)
	if err != nil {
		return err
	}
	st.in = in
	st.dirty = false
	s.logger.Info("reverted profile to last save",
		zap.String("profile", profile),
		zap.Time("saved_at", in.LastSavedAt),
	)
	return nil
}

// LastSavedAt returns when profile was last persisted; zero if never. Only
// the profile owner may ask.
func (s *Store) LastSavedAt(ctx context.Context, requester permission.Identity, profile string) (time.Time, error) {
	if err := s.requireOwner(requester, profile); err != nil {
		return time.Time{}, err
	}
	var t time.Time
	err := s.view(ctx, profile, func(in *internals) error {
		t = in.LastSavedAt
		return nil
	})
	return t, err
}
