package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/foodtracker/internal/resilience"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// ErrProviderNotRegistered is returned by Create when no factory has been
// registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs an embeddings provider from its config block.
type Factory func(ProviderEntry) (embeddings.Provider, error)

// Registry maps provider names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers an embeddings provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Create instantiates a provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Open creates the configured provider, wraps it with its replicas, and loads
// it. When the provider cannot be created or loaded and entry.OnUnavailable is
// lexical, the lexical provider is returned instead with a warning.
func (r *Registry) Open(ctx context.Context, entry ProviderEntry, cb resilience.CircuitBreakerConfig) (embeddings.Provider, error) {
	p, err := r.open(ctx, entry, cb)
	if err == nil {
		return p, nil
	}
	if entry.OnUnavailable != OnUnavailableLexical || entry.Name == "lexical" {
		return nil, fmt.Errorf("config: embeddings provider %q unavailable: %w", entry.Name, err)
	}
	slog.Warn("embeddings provider unavailable, falling back to lexical",
		"provider", entry.Name, "error", err)
	fallback, ferr := r.Create(ProviderEntry{Name: "lexical"})
	if ferr != nil {
		return nil, fmt.Errorf("config: embeddings provider %q unavailable: %w", entry.Name, errors.Join(err, ferr))
	}
	return fallback, nil
}

func (r *Registry) open(ctx context.Context, entry ProviderEntry, cb resilience.CircuitBreakerConfig) (embeddings.Provider, error) {
	primary, err := r.Create(entry)
	if err != nil {
		return nil, err
	}
	p := primary
	if len(entry.Replicas) > 0 && entry.Name != "lexical" {
		fb := resilience.NewEmbeddingsFallback(primary, entry.Name, resilience.FallbackConfig{CircuitBreaker: cb})
		for i, base := range entry.Replicas {
			re := entry
			re.BaseURL = base
			re.Replicas = nil
			rp, err := r.Create(re)
			if err != nil {
				return nil, fmt.Errorf("replica %d: %w", i+1, err)
			}
			fb.AddFallback(fmt.Sprintf("%s-replica-%d", entry.Name, i+1), rp)
		}
		p = fb
		slog.Info("embeddings replicas configured", "provider", entry.Name, "replicas", len(entry.Replicas))
	}
	if l, ok := p.(embeddings.Loader); ok {
		if err := l.Load(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// OptInt extracts an integer option. YAML numbers decode as int or float64.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// OptString extracts a string option. Returns "" if the map is nil, the key
// is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
