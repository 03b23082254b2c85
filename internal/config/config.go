// Package config loads process configuration for the vecswitch command.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/hupe1980/vecswitch"
	"github.com/hupe1980/vecswitch/index"
)

// EnvPrefix prefixes every environment override, e.g. VECSWITCH_REDIS_ADDRESS.
const EnvPrefix = "VECSWITCH"

// Config holds all application configuration.
type Config struct {
	Index     IndexConfig     `mapstructure:"index"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type IndexConfig struct {
	Backend        string `mapstructure:"backend"`
	Metric         string `mapstructure:"metric"`
	Dim            int    `mapstructure:"dim"`
	MaxElements    int    `mapstructure:"max_elements"`
	M              int    `mapstructure:"m"`
	EFConstruction int    `mapstructure:"ef_construction"`
	EF             int    `mapstructure:"ef"`
	Factory        string `mapstructure:"factory"`
	NumThreads     int    `mapstructure:"num_threads"`
	Collection     string `mapstructure:"collection"`
	Compression    string `mapstructure:"compression"`
	// Seed makes graph construction and quantizer training deterministic. 0 leaves it random.
	Seed int64 `mapstructure:"seed"`
}

type RedisConfig struct {
	Address        string  `mapstructure:"address"`
	Username       string  `mapstructure:"username"`
	Password       string  `mapstructure:"password"`
	DB             int     `mapstructure:"db"`
	TLS            bool    `mapstructure:"tls"`
	WriteRateLimit float64 `mapstructure:"write_rate_limit"`
}

type QdrantConfig struct {
	Address        string  `mapstructure:"address"`
	APIKey         string  `mapstructure:"api_key"`
	TLS            bool    `mapstructure:"tls"`
	WriteRateLimit float64 `mapstructure:"write_rate_limit"`
}

// StorageConfig selects where snapshots are written.
// Kind is one of local, memory, bolt, s3 or minio.
type StorageConfig struct {
	Kind        string `mapstructure:"kind"`
	Path        string `mapstructure:"path"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Region      string `mapstructure:"region"`
	Endpoint    string `mapstructure:"endpoint"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	UseSSL      bool   `mapstructure:"use_ssl"`
	CommitTable string `mapstructure:"commit_table"`
	CacheBytes  int64  `mapstructure:"cache_bytes"`
}

type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"index.backend":           "hnswlib",
	"index.metric":            "cosine",
	"index.dim":               0,
	"index.max_elements":      0,
	"index.m":                 index.DefaultM,
	"index.ef_construction":   index.DefaultEFConstruction,
	"index.ef":                index.DefaultEF,
	"index.factory":           "Flat",
	"index.num_threads":       0,
	"index.collection":        "vecswitch",
	"index.compression":       "none",
	"index.seed":              0,
	"redis.address":           "",
	"redis.username":          "",
	"redis.password":          "",
	"redis.db":                0,
	"redis.tls":               false,
	"redis.write_rate_limit":  0,
	"qdrant.address":          "",
	"qdrant.api_key":          "",
	"qdrant.tls":              false,
	"qdrant.write_rate_limit": 0,
	"storage.kind":            "local",
	"storage.path":            "",
	"storage.bucket":          "",
	"storage.prefix":          "",
	"storage.region":          "",
	"storage.endpoint":        "",
	"storage.access_key":      "",
	"storage.secret_key":      "",
	"storage.use_ssl":         true,
	"storage.commit_table":    "",
	"storage.cache_bytes":     0,
	"telemetry.otlp_endpoint": "",
	"telemetry.service_name":  "vecswitch",
	"telemetry.environment":   "development",
	"telemetry.sample_rate":   1.0,
	"log.level":               "info",
	"log.format":              "text",
}

// Load reads configuration from the file at path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	engine := vecswitch.Lookup(c.Index.Backend, vecswitch.DetectWithout()).Engine
	if engine == index.EngineRedis && c.Redis.Address == "" {
		warnings = append(warnings, fmt.Sprintf("backend %q needs redis.address", c.Index.Backend))
	}
	if engine == index.EngineQdrant && c.Qdrant.Address == "" {
		warnings = append(warnings, fmt.Sprintf("backend %q needs qdrant.address", c.Index.Backend))
	}

	if c.Index.M > 0 && c.Index.EFConstruction > 0 && c.Index.EFConstruction < c.Index.M {
		warnings = append(warnings, fmt.Sprintf("index.ef_construction %d is below index.m %d", c.Index.EFConstruction, c.Index.M))
	}

	if _, err := index.ParseCompression(c.Index.Compression); err != nil {
		warnings = append(warnings, err.Error())
	}

	switch strings.ToLower(c.Storage.Kind) {
	case "", "local", "memory":
	case "bolt":
		if c.Storage.Path == "" {
			warnings = append(warnings, "storage kind 'bolt' needs storage.path")
		}
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			warnings = append(warnings, fmt.Sprintf("storage kind '%s' needs storage.bucket", c.Storage.Kind))
		}
		if c.Storage.Kind == "minio" && c.Storage.Endpoint == "" {
			warnings = append(warnings, "storage kind 'minio' needs storage.endpoint")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown storage kind '%s'", c.Storage.Kind))
	}

	if c.Storage.CommitTable != "" && !strings.EqualFold(c.Storage.Kind, "s3") {
		warnings = append(warnings, "storage.commit_table is only used with storage kind 's3'")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("telemetry sample_rate %.2f is outside [0.0, 1.0]", c.Telemetry.SampleRate))
	}

	if _, err := c.Log.level(); err != nil {
		warnings = append(warnings, err.Error())
	}

	return warnings
}

// Params builds construction parameters for engine.
// Credentials are attached for the networked engines when an address is set.
func (c *Config) Params(engine string) (index.Params, error) {
	compression, err := index.ParseCompression(c.Index.Compression)
	if err != nil {
		return index.Params{}, err
	}

	p := index.Params{
		MaxElements:    c.Index.MaxElements,
		M:              c.Index.M,
		EFConstruction: c.Index.EFConstruction,
		EF:             c.Index.EF,
		IndexFactory:   c.Index.Factory,
		NumThreads:     c.Index.NumThreads,
		Collection:     c.Index.Collection,
		Compression:    compression,
	}
	if c.Index.Seed != 0 {
		seed := c.Index.Seed
		p.RandomSeed = &seed
	}

	switch engine {
	case index.EngineRedis:
		p.WriteRateLimit = c.Redis.WriteRateLimit
		if c.Redis.Address != "" {
			p.Credentials = &index.Credentials{
				Address:  c.Redis.Address,
				Username: c.Redis.Username,
				Password: c.Redis.Password,
				DB:       c.Redis.DB,
				TLS:      c.Redis.TLS,
			}
		}
	case index.EngineQdrant:
		p.WriteRateLimit = c.Qdrant.WriteRateLimit
		if c.Qdrant.Address != "" {
			p.Credentials = &index.Credentials{
				Address: c.Qdrant.Address,
				APIKey:  c.Qdrant.APIKey,
				TLS:     c.Qdrant.TLS,
			}
		}
	}

	return p, nil
}

// Logger builds the configured logger.
func (l LogConfig) Logger() (*vecswitch.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(l.Format) {
	case "", "text":
		return vecswitch.NewTextLogger(level), nil
	case "json":
		return vecswitch.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}
