package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in embeddings providers. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"lexical", "clip", "openai", "ollama"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Embeddings provider
	e := cfg.Providers.Embeddings
	validateProviderName(e.Name)
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("providers.embeddings.timeout %v must not be negative", e.Timeout))
	}
	if e.OnUnavailable != "" && !e.OnUnavailable.IsValid() {
		errs = append(errs, fmt.Errorf("providers.embeddings.on_unavailable %q is invalid; valid values: fail, lexical", e.OnUnavailable))
	}
	for i, r := range e.Replicas {
		if u, err := url.Parse(r); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings.replicas[%d] %q is not an absolute URL", i, r))
		}
	}
	if len(e.Replicas) > 0 && e.Name == "lexical" {
		slog.Warn("providers.embeddings.replicas is ignored for the lexical provider")
	}
	if e.Name == "openai" && e.APIKey == "" && e.BaseURL == "" {
		slog.Warn("providers.embeddings: openai without api_key; requests will be rejected unless base_url points at a keyless server")
	}

	// Corpus
	if cfg.Corpus.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("corpus.batch_size %d must not be negative", cfg.Corpus.BatchSize))
	}
	if cfg.Corpus.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("corpus.concurrency %d must not be negative", cfg.Corpus.Concurrency))
	}
	c := cfg.Corpus.Cache
	if c.Backend != "" && !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("corpus.cache.backend %q is invalid; valid values: file, postgres, none", c.Backend))
	}
	if c.Backend == CachePostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("corpus.cache.postgres_dsn is required when backend is postgres"))
	}

	// Matcher
	if cfg.Matcher.TopK < 0 {
		errs = append(errs, fmt.Errorf("matcher.top_k %d must not be negative", cfg.Matcher.TopK))
	}
	if mc := cfg.Matcher.MinConfidence; mc != nil && (*mc < 0 || *mc > 1) {
		errs = append(errs, fmt.Errorf("matcher.min_confidence %v is out of range [0, 1]", *mc))
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: file, sqlite", cfg.Store.Backend))
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not one of the
// built-in providers.
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown embeddings provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
