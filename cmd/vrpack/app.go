package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vecfs/internal/config"
	"github.com/fyrsmithlabs/vecfs/internal/embeddings"
	"github.com/fyrsmithlabs/vecfs/internal/logging"
	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/snapshot"
	"github.com/fyrsmithlabs/vecfs/internal/telemetry"
	"github.com/fyrsmithlabs/vecfs/internal/vectorfs"
)

// app carries what a command needs. Fields beyond cfg, logger and tel are
// only set by the constructors that need them.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry

	gen   *embeddings.Generator
	snaps snapshot.Store
	store *vectorfs.Store
}

// newApp loads configuration and starts logging and telemetry.
func newApp(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	lcfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", lcfg); err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		lcfg.Level = opts.logLevel
	}
	out := cmd.ErrOrStderr()
	if lcfg.Output == "stdout" {
		out = cmd.OutOrStdout()
	}
	logger, err := logging.NewLoggerTo(lcfg, zapcore.AddSync(out))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logger = logger.Named("vrpack")

	tcfg := telemetry.NewDefaultConfig()
	if err := cfg.Section("telemetry", tcfg); err != nil {
		return nil, err
	}
	tel, err := telemetry.New(ctx, tcfg, telemetry.WithLogger(logger.Underlying()), telemetry.WithGlobal())
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, tel: tel}, nil
}

// withEmbedder builds the configured embedding generator.
func (a *app) withEmbedder() error {
	gen, err := embeddings.NewGeneratorFromConfig(a.cfg.EmbeddingProvider(),
		embeddings.WithLogger(a.logger.Underlying()),
		embeddings.WithMetrics(embeddings.NewMetricsWithMeter(
			a.tel.Meter("github.com/fyrsmithlabs/vecfs/internal/embeddings"),
			a.logger.Underlying(),
		)),
	)
	if err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	a.gen = gen
	return nil
}

// withStore opens the snapshot backend and the vector store over it.
func (a *app) withStore() error {
	if a.gen == nil {
		if err := a.withEmbedder(); err != nil {
			return err
		}
	}
	snaps, err := snapshot.Open(a.cfg.SnapshotStore())
	if err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	opts := a.cfg.StoreOptions()
	opts.Logger = a.logger.Underlying().Named("store")
	opts.TracerProvider = a.tel.TracerProvider()
	opts.MeterProvider = a.tel.MeterProvider()

	store, err := vectorfs.New(a.gen, snaps, opts)
	if err != nil {
		_ = snaps.Close()
		return err
	}
	a.snaps = snaps
	a.store = store
	return nil
}

// owner returns the identity store commands act as.
func (a *app) owner(profile string) permission.Identity {
	return a.store.Owner(profile)
}

// flush persists deferred changes of profile.
func (a *app) flush(ctx context.Context, profile string) error {
	if !a.cfg.Store.DeferPersistence {
		return nil
	}
	return a.store.Flush(ctx, a.owner(profile), profile)
}

// Close releases everything the app opened.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.snaps != nil {
		errs = append(errs, a.snaps.Close())
	}
	if a.gen != nil {
		errs = append(errs, a.gen.Close())
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug(ctx, "log sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

// run wraps a command body with app setup and teardown.
func run(cmd *cobra.Command, opts *rootOptions, needs func(*app) error, body func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if needs != nil {
		if err := needs(a); err != nil {
			return err
		}
	}
	return body(ctx, a)
}
