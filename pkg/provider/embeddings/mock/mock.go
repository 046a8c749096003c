// Package mock has embeddings providers for tests that need fixed vectors and
// a record of what was embedded.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// EmbedCall is one recorded Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall is one recorded EmbedBatch invocation. Texts is a copy.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider is a scripted embeddings.Provider. A text's vector comes from
// Vectors, then EmbedFunc, then EmbedResult, whichever answers first.
type Provider struct {
	mu sync.Mutex

	Vectors     map[string][]float32
	EmbedFunc   func(text string) []float32
	EmbedResult []float32

	// EmbedErr fails every Embed call.
	EmbedErr error
	// EmbedBatchErr fails EmbedBatch: every call, or only call number
	// FailBatchAt (1-based) when that is set.
	EmbedBatchErr error
	FailBatchAt   int

	DimensionsValue int
	ModelIDValue    string

	EmbedCalls      []EmbedCall
	EmbedBatchCalls []EmbedBatchCall
}

func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return slices.Clone(v)
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	return slices.Clone(p.EmbedResult)
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: slices.Clone(texts)})
	if p.EmbedBatchErr != nil && (p.FailBatchAt <= 0 || len(p.EmbedBatchCalls) == p.FailBatchAt) {
		return nil, p.EmbedBatchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// BatchCallCount returns how many EmbedBatch calls were made.
func (p *Provider) BatchCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedBatchCalls)
}

// Reset forgets the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

// ImageProvider adds a scripted embeddings.ImageEmbedder to Provider.
type ImageProvider struct {
	Provider

	ImageResult []float32
	ImageErr    error
	ImageCalls  int
}

// EmbedImage implements embeddings.ImageEmbedder.
func (p *ImageProvider) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ImageCalls++
	if p.ImageErr != nil {
		return nil, p.ImageErr
	}
	return slices.Clone(p.ImageResult), nil
}

var (
	_ embeddings.Provider      = (*Provider)(nil)
	_ embeddings.Provider      = (*ImageProvider)(nil)
	_ embeddings.ImageEmbedder = (*ImageProvider)(nil)
)
