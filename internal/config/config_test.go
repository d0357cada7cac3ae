package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vecfs/internal/permission"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.NotEmpty(t, cfg.Node.Name)
	assert.Equal(t, "whitelist", cfg.Store.DefaultRead)
	assert.Equal(t, "whitelist", cfg.Store.DefaultWrite)
	assert.Equal(t, "zstd", cfg.Store.Compression)
	assert.Equal(t, "sqlite", cfg.Snapshot.Backend)
	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Embeddings.Model)
	assert.Equal(t, 30*time.Second, cfg.Embeddings.Timeout.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty node", func(c *Config) { c.Node.Name = "" }, "node.name"},
		{"node with profile", func(c *Config) { c.Node.Name = "host/alice" }, "node.name"},
		{"bad read policy", func(c *Config) { c.Store.DefaultRead = "everyone" }, "store.default_read"},
		{"bad write policy", func(c *Config) { c.Store.DefaultWrite = "nobody" }, "store.default_write"},
		{"bad compression", func(c *Config) { c.Store.Compression = "brotli" }, "store.compression"},
		{"bad backend", func(c *Config) { c.Snapshot.Backend = "postgres" }, "snapshot.backend"},
		{"sqlite without path", func(c *Config) { c.Snapshot.Path = "" }, "snapshot.path"},
		{"memory without path", func(c *Config) { c.Snapshot.Backend = "memory"; c.Snapshot.Path = "" }, ""},
		{"bad provider", func(c *Config) { c.Embeddings.Provider = "openai" }, "embeddings.provider"},
		{"tei without url", func(c *Config) { c.Embeddings.Provider = "tei"; c.Embeddings.BaseURL = "" }, "base_url"},
		{"negative dimension", func(c *Config) { c.Embeddings.Dimension = -1 }, "dimension"},
		{"negative rate", func(c *Config) { c.Embeddings.RateLimit = -2 }, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Node.Name = "node1"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Node.Name = "node1"
	cfg.Store.DefaultRead = "public"
	cfg.Store.DefaultFolders = []string{"My Files"}
	cfg.Store.DeferPersistence = true

	opts := cfg.StoreOptions()
	assert.Equal(t, "node1", opts.NodeName)
	assert.Equal(t, permission.Public, opts.DefaultRead)
	assert.Equal(t, permission.Whitelist, opts.DefaultWrite)
	assert.Equal(t, []string{"My Files"}, opts.DefaultFolders)
	assert.True(t, opts.DeferPersistence)
	assert.Equal(t, "zstd", opts.Compression)

	opts.DefaultFolders[0] = "changed"
	assert.Equal(t, "My Files", cfg.Store.DefaultFolders[0])
}

func TestEmbeddingProviderAndSnapshotStore(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	cfg.Embeddings.Provider = "tei"
	cfg.Embeddings.APIKey = "sk-live"
	cfg.Embeddings.RateLimit = 5

	pc := cfg.EmbeddingProvider()
	assert.Equal(t, "tei", pc.Provider)
	assert.Equal(t, "sk-live", pc.APIKey)
	assert.Equal(t, filepath.Join(home, ".config/vecfs/models"), pc.CacheDir)
	assert.Equal(t, 5.0, pc.RateLimit)

	sc := cfg.SnapshotStore()
	assert.Equal(t, "sqlite", sc.Backend)
	assert.Equal(t, filepath.Join(home, ".config/vecfs/snapshots.db"), sc.Path)
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "a/b"), ExpandPath("~/a/b"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "~other/x", ExpandPath("~other/x"))
}

func TestSecretNeverRenders(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
