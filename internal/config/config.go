// Package config provides configuration loading for vecfs.
//
// Configuration comes from an optional YAML file overridden by VECFS_
// environment variables. Sections owned by other packages (logging,
// telemetry) are decoded on demand with Config.Section so their defaults
// stay next to their code.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/vecfs/internal/codec"
	"github.com/fyrsmithlabs/vecfs/internal/embeddings"
	"github.com/fyrsmithlabs/vecfs/internal/permission"
	"github.com/fyrsmithlabs/vecfs/internal/snapshot"
	"github.com/fyrsmithlabs/vecfs/internal/vectorfs"
)

// Config holds the complete vecfs configuration.
type Config struct {
	Node       NodeConfig       `koanf:"node"`
	Store      StoreConfig      `koanf:"store"`
	Snapshot   SnapshotConfig   `koanf:"snapshot"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`

	k *koanf.Koanf
}

// NodeConfig identifies the local node.
type NodeConfig struct {
	Name string `koanf:"name"`
}

// StoreConfig holds the profile defaults of the vector store.
type StoreConfig struct {
	DefaultRead      string   `koanf:"default_read"`
	DefaultWrite     string   `koanf:"default_write"`
	DefaultFolders   []string `koanf:"default_folders"`
	SupportedModels  []string `koanf:"supported_models"`
	DeferPersistence bool     `koanf:"defer_persistence"`
	Compression      string   `koanf:"compression"`
}

// SnapshotConfig selects the snapshot backend.
type SnapshotConfig struct {
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	CacheDir  string   `koanf:"cache_dir"`
	Dimension int      `koanf:"dimension"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	Timeout   Duration `koanf:"timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{k: koanf.New(".")}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Node.Name == "" {
		cfg.Node.Name = defaultNodeName()
	}

	if cfg.Store.DefaultRead == "" {
		cfg.Store.DefaultRead = string(permission.Whitelist)
	}
	if cfg.Store.DefaultWrite == "" {
		cfg.Store.DefaultWrite = string(permission.Whitelist)
	}
	if cfg.Store.Compression == "" {
		cfg.Store.Compression = codec.CompressionZstd.String()
	}

	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = "sqlite"
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = "~/.config/vecfs/snapshots.db"
	}

	// FastEmbed runs locally without an external service.
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" && cfg.Embeddings.Provider != "hashing" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.config/vecfs/models"
	}
	if cfg.Embeddings.Burst == 0 {
		cfg.Embeddings.Burst = 1
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}
}

func defaultNodeName() string {
	if host, err := os.Hostname(); err == nil && host != "" && !strings.Contains(host, "/") {
		return host
	}
	return "local"
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return errors.New("node.name is required")
	}
	if id, err := permission.ParseIdentity(c.Node.Name); err != nil || !id.IsNode() {
		return fmt.Errorf("node.name %q is not a valid node identity", c.Node.Name)
	}
	if _, err := permission.ParsePolicy(c.Store.DefaultRead); err != nil {
		return fmt.Errorf("store.default_read: %w", err)
	}
	if _, err := permission.ParsePolicy(c.Store.DefaultWrite); err != nil {
		return fmt.Errorf("store.default_write: %w", err)
	}
	if _, err := codec.ParseCompression(c.Store.Compression); err != nil {
		return fmt.Errorf("store.compression: %w", err)
	}

	switch c.Snapshot.Backend {
	case "sqlite":
		if c.Snapshot.Path == "" {
			return errors.New("snapshot.path is required for the sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("snapshot.backend must be sqlite or memory, got %q", c.Snapshot.Backend)
	}

	switch c.Embeddings.Provider {
	case "fastembed", "hashing":
	case "tei":
		if c.Embeddings.BaseURL == "" {
			return errors.New("embeddings.base_url is required for the tei provider")
		}
	default:
		return fmt.Errorf("embeddings.provider must be fastembed, tei or hashing, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 0 {
		return fmt.Errorf("embeddings.dimension must be >= 0, got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("embeddings.rate_limit must be >= 0, got %f", c.Embeddings.RateLimit)
	}
	return nil
}

// Section decodes the raw configuration under path into out. Keys missing
// from the configuration leave the corresponding fields of out untouched, so
// out should be pre-filled with defaults.
func (c *Config) Section(path string, out any) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return nil
}

// EmbeddingProvider returns the embedding provider configuration.
func (c *Config) EmbeddingProvider() embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  c.Embeddings.Provider,
		Model:     c.Embeddings.Model,
		BaseURL:   c.Embeddings.BaseURL,
		APIKey:    c.Embeddings.APIKey.Value(),
		CacheDir:  ExpandPath(c.Embeddings.CacheDir),
		Dimension: c.Embeddings.Dimension,
		RateLimit: c.Embeddings.RateLimit,
		Burst:     c.Embeddings.Burst,
		Timeout:   c.Embeddings.Timeout.Duration(),
	}
}

// SnapshotStore returns the snapshot backend configuration.
func (c *Config) SnapshotStore() snapshot.Config {
	return snapshot.Config{
		Backend: c.Snapshot.Backend,
		Path:    ExpandPath(c.Snapshot.Path),
	}
}

// StoreOptions returns vector store options. Logger and telemetry providers
// are left for the caller to set.
func (c *Config) StoreOptions() vectorfs.Options {
	return vectorfs.Options{
		NodeName:         c.Node.Name,
		DefaultRead:      permission.Policy(c.Store.DefaultRead),
		DefaultWrite:     permission.Policy(c.Store.DefaultWrite),
		SupportedModels:  append([]string(nil), c.Store.SupportedModels...),
		DefaultFolders:   append([]string(nil), c.Store.DefaultFolders...),
		DeferPersistence: c.Store.DeferPersistence,
		Compression:      c.Store.Compression,
	}
}

// ExpandPath replaces a leading "~" with the home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
