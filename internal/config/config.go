// Package config provides the configuration schema, loader, and embeddings
// provider registry for foodtracker.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OnUnavailable selects what happens when the configured embeddings provider
// cannot be reached at startup.
type OnUnavailable string

const (
	// OnUnavailableFail aborts startup.
	OnUnavailableFail OnUnavailable = "fail"

	// OnUnavailableLexical falls back to the built-in lexical provider.
	OnUnavailableLexical OnUnavailable = "lexical"
)

// IsValid reports whether o is a recognised fallback mode.
func (o OnUnavailable) IsValid() bool {
	return o == OnUnavailableFail || o == OnUnavailableLexical
}

// CacheBackend selects where precomputed corpus vectors are kept.
type CacheBackend string

const (
	CacheFile     CacheBackend = "file"
	CachePostgres CacheBackend = "postgres"
	CacheNone     CacheBackend = "none"
)

// IsValid reports whether b is a recognised cache backend.
func (b CacheBackend) IsValid() bool {
	switch b {
	case CacheFile, CachePostgres, CacheNone:
		return true
	}
	return false
}

// StoreBackend selects the entry store implementation.
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	return b == StoreFile || b == StoreSQLite
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8000"
	DefaultProvider      = "lexical"
	DefaultTimeout       = 10 * time.Second
	DefaultTopK          = 3
	DefaultMinConfidence = 0.05
	DefaultStoreDir      = "~/.food_tracker"
	DefaultServiceName   = "foodtracker"
	CacheFileName        = "corpus_cache.json"
)

// Config is the root configuration structure for foodtracker.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the embeddings backend.
type ProvidersConfig struct {
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the configuration block of the embeddings provider. The
// Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (lexical, clip,
	// openai, ollama).
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Timeout bounds each embedding request.
	Timeout time.Duration `yaml:"timeout"`

	// Replicas lists extra base URLs serving the same model. Requests fail
	// over to them in order when the primary's circuit breaker opens.
	Replicas []string `yaml:"replicas"`

	// OnUnavailable selects the behaviour when the provider cannot load.
	OnUnavailable OnUnavailable `yaml:"on_unavailable"`

	// Options holds provider-specific values (e.g., dimensions).
	Options map[string]any `yaml:"options"`
}

// CorpusConfig describes the reference food dataset and its vector cache.
type CorpusConfig struct {
	// DatasetPath is a JSON or YAML food list. Empty uses the bundled dataset.
	DatasetPath string `yaml:"dataset_path"`

	// CustomFoodsPath is where user-registered foods are kept. Empty means
	// <store.dir>/custom_foods.json.
	CustomFoodsPath string `yaml:"custom_foods_path"`

	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig selects the corpus vector cache.
type CacheConfig struct {
	Backend CacheBackend `yaml:"backend"`

	// Path is the file cache location. Empty means <store.dir>/corpus_cache.json.
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MatcherConfig holds the hot-reloadable ranking options.
type MatcherConfig struct {
	TopK int `yaml:"top_k"`

	// MinConfidence is a pointer so an explicit 0 disables the floor.
	MinConfidence *float64 `yaml:"min_confidence"`
}

// Threshold returns MinConfidence or the default.
func (m MatcherConfig) Threshold() float64 {
	if m.MinConfidence == nil {
		return DefaultMinConfidence
	}
	return *m.MinConfidence
}

// StoreConfig selects the entry store.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// Dir holds the store files. A leading ~ expands to the home directory.
	Dir string `yaml:"dir"`
}

// TelemetryConfig controls the metrics and tracing providers.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the /metrics endpoint. Nil means enabled.
	Metrics *bool `yaml:"metrics"`

	// TraceSampleRatio is the fraction of new traces kept; 0 keeps all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// MetricsEnabled reports whether metrics are exported.
func (t TelemetryConfig) MetricsEnabled() bool {
	return t.Metrics == nil || *t.Metrics
}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	e := &cfg.Providers.Embeddings
	if e.Name == "" {
		e.Name = DefaultProvider
	}
	if e.Timeout == 0 {
		e.Timeout = DefaultTimeout
	}
	if e.OnUnavailable == "" {
		e.OnUnavailable = OnUnavailableFail
	}
	if cfg.Corpus.Cache.Backend == "" {
		cfg.Corpus.Cache.Backend = CacheFile
	}
	if cfg.Matcher.TopK == 0 {
		cfg.Matcher.TopK = DefaultTopK
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreFile
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = DefaultStoreDir
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// StoreDir returns Store.Dir with a leading ~ expanded.
func (c *Config) StoreDir() string { return ExpandHome(c.Store.Dir) }

// CustomFoodsPath returns the resolved custom foods file.
func (c *Config) CustomFoodsPath() string {
	if c.Corpus.CustomFoodsPath != "" {
		return ExpandHome(c.Corpus.CustomFoodsPath)
	}
	return filepath.Join(c.StoreDir(), "custom_foods.json")
}

// CachePath returns the resolved file cache location.
func (c *Config) CachePath() string {
	if c.Corpus.Cache.Path != "" {
		return ExpandHome(c.Corpus.Cache.Path)
	}
	return filepath.Join(c.StoreDir(), CacheFileName)
}

// ExpandHome replaces a leading "~" with the user's home directory. Paths are
// returned unchanged when the home directory is unknown.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
