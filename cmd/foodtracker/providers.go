package main

import (
	"github.com/MrWong99/foodtracker/internal/config"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings/clip"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings/lexical"
	ollamaembed "github.com/MrWong99/foodtracker/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/foodtracker/pkg/provider/embeddings/openai"
)

// registerBuiltinProviders wires every shipped embeddings factory into reg.
// Resources a factory opens (CLIP models) are handed to onClose.
func registerBuiltinProviders(reg *config.Registry, onClose func(func() error)) {
	reg.Register("lexical", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []lexical.Option
		if n := config.OptInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, lexical.WithDimensions(n))
		}
		return lexical.New(opts...)
	})

	// clip talks to an inference server; the model handle is owned here and
	// closed on shutdown.
	reg.Register("clip", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		model, err := clip.NewModel(entry.BaseURL, entry.Model, clip.WithTimeout(entry.Timeout))
		if err != nil {
			return nil, err
		}
		onClose(model.Close)
		return clip.New(model)
	})

	reg.Register("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithTimeout(entry.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if n := config.OptInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		if _, ok := entry.Options["max_retries"]; ok {
			opts = append(opts, oaembed.WithMaxRetries(config.OptInt(entry.Options, "max_retries")))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.Register("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []ollamaembed.Option{ollamaembed.WithTimeout(entry.Timeout)}
		if n := config.OptInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, ollamaembed.WithDimensions(n))
		}
		if ka := config.OptString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}
