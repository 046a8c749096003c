package clip

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

var (
	_ embeddings.Provider      = (*Provider)(nil)
	_ embeddings.ImageEmbedder = (*Provider)(nil)
	_ embeddings.Loader        = (*Provider)(nil)
)

const providerName = "clip embeddings"

// Provider implements embeddings.Provider and embeddings.ImageEmbedder on top
// of a shared *Model. Text and image vectors live in the model's joint space
// and are L2-normalised.
type Provider struct {
	model *Model
}

// New wraps model. The model may be loaded before or after New; embedding calls
// fail with ErrModelNotLoaded until it is.
func New(model *Model) (*Provider, error) {
	if model == nil {
		return nil, fmt.Errorf("clip: model must not be nil")
	}
	return &Provider{model: model}, nil
}

// Model returns the underlying model handle.
func (p *Provider) Model() *Model { return p.model }

// Load implements embeddings.Loader by loading the shared model.
func (p *Provider) Load(ctx context.Context) error { return p.model.Load(ctx) }

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := embeddings.ValidateText(text); err != nil {
		return nil, fmt.Errorf("clip %w", err)
	}
	vecs, err := p.embed(ctx, "/v1/embed/text", embedRequest{Texts: []string{text}}, 1)
	if err != nil {
		return nil, embeddings.Failure(providerName+": embed", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if err := embeddings.ValidateText(t); err != nil {
			return nil, fmt.Errorf("clip text %d: %w", i, err)
		}
	}
	vecs, err := p.embed(ctx, "/v1/embed/text", embedRequest{Texts: texts}, len(texts))
	if err != nil {
		return nil, embeddings.Failure(providerName+": embed batch", err)
	}
	return vecs, nil
}

// EmbedImage implements embeddings.ImageEmbedder.
func (p *Provider) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if _, err := embeddings.ValidateImage(data); err != nil {
		return nil, fmt.Errorf("clip %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(data)
	vecs, err := p.embed(ctx, "/v1/embed/image", embedRequest{Images: []string{enc}}, 1)
	if err != nil {
		return nil, embeddings.Failure(providerName+": embed image", err)
	}
	return vecs[0], nil
}

// Dimensions implements embeddings.Provider. It returns 0 before the model is
// loaded.
func (p *Provider) Dimensions() int {
	info, ok := p.model.Info()
	if !ok {
		return 0
	}
	return info.Dimensions
}

// ModelID implements embeddings.Provider as "clip:<name>@<version>".
func (p *Provider) ModelID() string {
	info, ok := p.model.Info()
	if !ok {
		return "clip:" + p.model.name
	}
	return "clip:" + info.Name + "@" + info.Version
}

func (p *Provider) embed(ctx context.Context, path string, req embedRequest, want int) ([][]float32, error) {
	info, err := p.model.ready()
	if err != nil {
		return nil, err
	}
	req.Model = info.Name
	vecs, err := p.model.post(ctx, path, req)
	if err != nil {
		return nil, err
	}
	if len(vecs) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(vecs))
	}
	for i, v := range vecs {
		if len(v) != info.Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), info.Dimensions)
		}
		embeddings.Normalize(v)
	}
	return vecs, nil
}
