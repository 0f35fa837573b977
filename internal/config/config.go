// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Extract ExtractConfig `mapstructure:"extract"`
	Cache   CacheConfig   `mapstructure:"cache"`
	DB      DBConfig      `mapstructure:"db"`
	GCS     GCSConfig     `mapstructure:"gcs"`
	Edge    EdgeConfig    `mapstructure:"edge"`
	Image   ImageConfig   `mapstructure:"image"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures outbound HTTP client behavior.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// FetchConfig selects the origin fetch backend.
type FetchConfig struct {
	Engine string `mapstructure:"engine"` // "http" (streaming) or "colly" (buffered)
}

// ExtractConfig governs the metadata extractor.
type ExtractConfig struct {
	Engine   string `mapstructure:"engine"` // "stream" (tokenizer) or "dom"
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// CacheConfig governs the two-tier cache manager.
type CacheConfig struct {
	Backend              string `mapstructure:"backend"`       // "memory", "postgres" or "disabled"
	ImageBackend         string `mapstructure:"image_backend"` // "same" or "gcs"
	Namespace            string `mapstructure:"namespace"`
	MetadataTTLSeconds   int    `mapstructure:"metadata_ttl_seconds"`
	ImageTTLSeconds      int    `mapstructure:"image_ttl_seconds"`
	BrowserMaxAge        int    `mapstructure:"browser_max_age"`
	StaleWhileRevalidate int    `mapstructure:"stale_while_revalidate"`
}

// DBConfig controls access to the Postgres cache backend.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinOpenConns int32  `mapstructure:"min_open_conns"`
}

// GCSConfig sets the bucket used when images are cached as GCS objects.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// EdgeConfig controls the transient full-response cache.
type EdgeConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TTLSeconds int  `mapstructure:"ttl_seconds"`
	MaxEntries int  `mapstructure:"max_entries"`
}

// ImageConfig governs the image fetch and transform pipeline.
type ImageConfig struct {
	Transform string `mapstructure:"transform"` // "none" or "webp"
	Height    int    `mapstructure:"height"`
	Quality   int    `mapstructure:"quality"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. Empty
// topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UNFURLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.user_agent", "unfurld/0.1 (+link-preview)")
	v.SetDefault("fetch.engine", "http")
	v.SetDefault("extract.engine", "stream")
	v.SetDefault("extract.max_bytes", int64(1<<20))
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.image_backend", "same")
	v.SetDefault("cache.namespace", "open-graph")
	v.SetDefault("cache.metadata_ttl_seconds", 7*24*60*60)
	v.SetDefault("cache.image_ttl_seconds", 7*24*60*60)
	v.SetDefault("cache.browser_max_age", 600)
	v.SetDefault("cache.stale_while_revalidate", 600)
	v.SetDefault("db.table", "preview_cache")
	v.SetDefault("edge.enabled", false)
	v.SetDefault("edge.ttl_seconds", 600)
	v.SetDefault("edge.max_entries", 1024)
	v.SetDefault("image.transform", "none")
	v.SetDefault("image.height", 256)
	v.SetDefault("image.quality", 85)
	v.SetDefault("image.max_bytes", int64(8<<20))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Fetch.Engine {
	case "http", "colly":
	default:
		return fmt.Errorf("fetch.engine must be \"http\" or \"colly\", got %q", c.Fetch.Engine)
	}
	switch c.Extract.Engine {
	case "stream", "dom":
	default:
		return fmt.Errorf("extract.engine must be \"stream\" or \"dom\", got %q", c.Extract.Engine)
	}
	if c.Extract.MaxBytes <= 0 {
		return fmt.Errorf("extract.max_bytes must be > 0")
	}
	switch c.Cache.Backend {
	case "memory", "postgres", "disabled":
	default:
		return fmt.Errorf("cache.backend must be \"memory\", \"postgres\" or \"disabled\", got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when cache.backend is postgres")
	}
	switch c.Cache.ImageBackend {
	case "same", "gcs":
	default:
		return fmt.Errorf("cache.image_backend must be \"same\" or \"gcs\", got %q", c.Cache.ImageBackend)
	}
	if c.Cache.ImageBackend == "gcs" && c.GCS.Bucket == "" {
		return fmt.Errorf("gcs.bucket must be set when cache.image_backend is gcs")
	}
	if c.Cache.Namespace == "" {
		return fmt.Errorf("cache.namespace must be set")
	}
	if c.Cache.MetadataTTLSeconds <= 0 || c.Cache.ImageTTLSeconds <= 0 {
		return fmt.Errorf("cache TTLs must be > 0")
	}
	switch c.Image.Transform {
	case "none", "webp":
	default:
		return fmt.Errorf("image.transform must be \"none\" or \"webp\", got %q", c.Image.Transform)
	}
	if c.Image.Transform == "webp" && c.Image.Height <= 0 {
		return fmt.Errorf("image.height must be > 0 when transform is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout returns the outbound HTTP timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MetadataTTL returns the metadata artifact TTL as a duration.
func (c Config) MetadataTTL() time.Duration {
	return time.Duration(c.Cache.MetadataTTLSeconds) * time.Second
}

// ImageTTL returns the image artifact TTL as a duration.
func (c Config) ImageTTL() time.Duration {
	return time.Duration(c.Cache.ImageTTLSeconds) * time.Second
}
