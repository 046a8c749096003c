// Package openai embeds food descriptions with the OpenAI embeddings API or
// any server speaking the same protocol. It is text only.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// DefaultModel is used when New is given an empty model name.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// MaxBatchInputs is the most inputs sent in one request. Larger batches are
// split.
const MaxBatchInputs = 2048

const (
	providerName = "openai embeddings"
	apiKeyEnv    = "OPENAI_API_KEY"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider against /v1/embeddings.
type Provider struct {
	client oai.Client
	model  string
	dims   int
	// shorten is set when dims differs from the model's native size and has
	// to be requested explicitly.
	shorten bool
}

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dimensions   int
	maxRetries   int
}

// Option customises a [Provider].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option { return func(s *settings) { s.organization = org } }

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithDimensions requests vectors of n components. Only text-embedding-3
// models support shortening.
func WithDimensions(n int) Option { return func(s *settings) { s.dimensions = n } }

// WithMaxRetries overrides the client's retry count (2 by default).
func WithMaxRetries(n int) Option { return func(s *settings) { s.maxRetries = n } }

// New returns a provider for model. An empty apiKey falls back to
// $OPENAI_API_KEY; an empty model uses [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(apiKeyEnv)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: no api key configured and %s is unset", providerName, apiKeyEnv)
	}
	if model == "" {
		model = DefaultModel
	}

	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}
	if s.dimensions < 0 {
		return nil, fmt.Errorf("%s: dimensions must not be negative, got %d", providerName, s.dimensions)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	if s.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(s.maxRetries))
	}

	native := nativeDimensions(model)
	p := &Provider{client: oai.NewClient(reqOpts...), model: model, dims: native}
	if s.dimensions > 0 && s.dimensions != native {
		p.dims, p.shorten = s.dimensions, true
	}
	return p, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := embeddings.ValidateText(text); err != nil {
		return nil, fmt.Errorf("%s: %w", providerName, err)
	}
	vecs, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. Results are in input order
// whatever order the server answers in.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if err := embeddings.ValidateText(t); err != nil {
			return nil, fmt.Errorf("%s: text %d: %w", providerName, i, err)
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchInputs {
		chunk := texts[start:min(start+MaxBatchInputs, len(texts))]
		vecs, err := p.request(ctx, oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: chunk}, len(chunk))
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// request sends one embeddings call expecting n vectors.
func (p *Provider) request(ctx context.Context, input oai.EmbeddingNewParamsInputUnion, n int) ([][]float32, error) {
	params := oai.EmbeddingNewParams{Model: p.model, Input: input}
	if p.shorten {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, embeddings.Failure(providerName, err)
	}
	if len(resp.Data) != n {
		return nil, embeddings.Failure(providerName, fmt.Errorf("asked for %d embeddings, got %d", n, len(resp.Data)))
	}

	out := make([][]float32, n)
	for _, e := range resp.Data {
		if e.Index < 0 || int(e.Index) >= n || out[e.Index] != nil {
			return nil, embeddings.Failure(providerName, fmt.Errorf("bad or repeated index %d", e.Index))
		}
		if len(e.Embedding) != p.dims {
			return nil, embeddings.Failure(providerName, fmt.Errorf("embedding %d has %d dimensions, want %d", e.Index, len(e.Embedding), p.dims))
		}
		out[e.Index] = toFloat32(e.Embedding)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "openai:" + p.model }

// nativeDimensions is the full vector size of the known models. Unknown
// models are assumed to match text-embedding-3-small.
func nativeDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	return 1536
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
