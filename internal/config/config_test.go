package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecswitch/index"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vecswitch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "hnswlib", cfg.Index.Backend)
	assert.Equal(t, index.DefaultM, cfg.Index.M)
	assert.Equal(t, "local", cfg.Storage.Kind)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Empty(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
index:
  backend: redis
  metric: l2
  dim: 128
  max_elements: 5000
  compression: zstd
redis:
  address: localhost:6379
  write_rate_limit: 100
storage:
  kind: bolt
  path: /tmp/vecswitch.db
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Index.Backend)
	assert.Equal(t, 128, cfg.Index.Dim)
	assert.Equal(t, 5000, cfg.Index.MaxElements)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "bolt", cfg.Storage.Kind)
	assert.Equal(t, index.DefaultEF, cfg.Index.EF)
	assert.Empty(t, cfg.Validate())
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "index:\n  dim: 16\n")

	t.Setenv("VECSWITCH_INDEX_DIM", "32")
	t.Setenv("VECSWITCH_QDRANT_ADDRESS", "qdrant:6334")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Index.Dim)
	assert.Equal(t, "qdrant:6334", cfg.Qdrant.Address)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"redis without address", func(c *Config) { c.Index.Backend = "RediSearch" }, "redis.address"},
		{"qdrant without address", func(c *Config) { c.Index.Backend = "qdrant" }, "qdrant.address"},
		{"ef below m", func(c *Config) { c.Index.EFConstruction = 4 }, "ef_construction"},
		{"bad compression", func(c *Config) { c.Index.Compression = "brotli" }, "compression"},
		{"s3 without bucket", func(c *Config) { c.Storage.Kind = "s3" }, "storage.bucket"},
		{"minio without endpoint", func(c *Config) { c.Storage.Kind = "minio"; c.Storage.Bucket = "b" }, "storage.endpoint"},
		{"unknown storage", func(c *Config) { c.Storage.Kind = "ftp" }, "unknown storage kind"},
		{"commit table without s3", func(c *Config) { c.Storage.CommitTable = "commits" }, "commit_table"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.True(t, hasWarning(cfg.Validate(), tt.want), "expected warning containing %q", tt.want)
		})
	}
}

func TestParams(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Index.Seed = 7
	cfg.Index.Compression = "lz4"
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.Password = "secret"
	cfg.Qdrant.Address = "localhost:6334"
	cfg.Qdrant.APIKey = "key"

	p, err := cfg.Params(index.EngineRedis)
	require.NoError(t, err)
	require.NotNil(t, p.Credentials)
	assert.Equal(t, "secret", p.Credentials.Password)
	assert.Equal(t, index.CompressionLZ4, p.Compression)
	require.NotNil(t, p.RandomSeed)
	assert.Equal(t, int64(7), *p.RandomSeed)

	p, err = cfg.Params(index.EngineQdrant)
	require.NoError(t, err)
	assert.Equal(t, "key", p.Credentials.APIKey)

	p, err = cfg.Params(index.EngineHNSW)
	require.NoError(t, err)
	assert.Nil(t, p.Credentials)

	cfg.Index.Compression = "brotli"
	_, err = cfg.Params(index.EngineHNSW)
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	l, err := LogConfig{Level: "debug", Format: "json"}.Logger()
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = LogConfig{Format: "xml"}.Logger()
	assert.Error(t, err)

	_, err = LogConfig{Level: "loud"}.Logger()
	assert.Error(t, err)
}
