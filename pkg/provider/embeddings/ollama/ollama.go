// Package ollama provides a text embeddings provider backed by a local Ollama
// server's /api/embed endpoint (nomic-embed-text, mxbai-embed-large,
// all-minilm and friends). Image scans need the clip provider.
//
// Call [Provider.Load] once at startup: it checks that the model is pulled and
// pins the vector dimensionality, which the corpus cache identity depends on.
//
//	p, err := ollama.New("", "nomic-embed-text")
//	if err != nil {
//	    return err
//	}
//	if err := p.Load(ctx); err != nil {
//	    return err // server down or model not pulled
//	}
//	vec, err := p.Embed(ctx, "greek yogurt with honey")
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

const providerName = "ollama"

// probeText is embedded by Load to discover the output dimensionality.
const probeText = "apple"

var (
	_ embeddings.Provider = (*Provider)(nil)
	_ embeddings.Loader   = (*Provider)(nil)
)

// ErrModelNotPulled is returned by Load when the server does not have the
// model. Run `ollama pull <model>` to fix it.
var ErrModelNotPulled = errors.New("ollama: model not pulled")

// Provider embeds text with an Ollama model. It is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	httpClient *http.Client

	mu sync.Mutex
	// dims is set from WithDimensions, the known-model table or Load's probe.
	dims   int
	loaded bool
}

type options struct {
	timeout    time.Duration
	dimensions int
	keepAlive  string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*options)

// WithTimeout bounds each HTTP request. Zero means no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDimensions declares the expected vector length. Load fails when the
// server returns vectors of a different length.
func WithDimensions(dims int) Option {
	return func(o *options) { o.dimensions = dims }
}

// WithKeepAlive sets how long the server keeps the model in memory after a
// request (Ollama duration syntax, e.g. "10m", or "-1" for forever).
func WithKeepAlive(d string) Option {
	return func(o *options) { o.keepAlive = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New returns a provider for model on the server at baseURL (DefaultBaseURL
// when empty). No request is made until Load or the first Embed.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: o.timeout}
	}

	dims := o.dimensions
	if dims <= 0 {
		dims = knownDimensions(model)
	}
	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		keepAlive:  o.keepAlive,
		httpClient: hc,
		dims:       dims,
	}, nil
}

// Load implements embeddings.Loader. It embeds a probe text, which makes the
// server load the model, and pins Dimensions to the probe's length. A
// successful Load is not repeated; a failed one may be retried.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}

	vecs, err := p.post(ctx, []string{probeText})
	if err != nil {
		return embeddings.Failure(providerName+": load "+p.model, err)
	}
	got := len(vecs[0])
	if p.dims > 0 && got != p.dims {
		return fmt.Errorf("ollama: load %s: %w: model returns %d dimensions, configured %d",
			p.model, food.ErrEmbeddingFailure, got, p.dims)
	}
	p.dims = got
	p.loaded = true
	return nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := embeddings.ValidateText(text); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider with one /api/embed request.
// Every returned vector must match Dimensions when it is known.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if err := embeddings.ValidateText(t); err != nil {
			return nil, fmt.Errorf("ollama: text %d: %w", i, err)
		}
	}
	vecs, err := p.post(ctx, texts)
	if err != nil {
		return nil, embeddings.Failure(providerName, err)
	}
	if len(vecs) != len(texts) {
		return nil, embeddings.Failure(providerName, fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts)))
	}
	if want := p.Dimensions(); want > 0 {
		for i, v := range vecs {
			if len(v) != want {
				return nil, embeddings.Failure(providerName, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(v), want))
			}
		}
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. It is zero for a model outside
// the known table until Load succeeds.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

// ModelID implements embeddings.Provider. The "ollama:" prefix keeps these
// vectors apart from a same-named model served by another backend.
func (p *Provider) ModelID() string {
	return providerName + ":" + p.model
}

// ── Wire format ──────────────────────────────────────────────────────────────

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (p *Provider) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, p.model)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, errors.New("empty embeddings in response")
	}
	return out.Embeddings, nil
}

// statusError turns a non-200 response into an error carrying the server's
// message. A 404 means the model has not been pulled.
func statusError(resp *http.Response, model string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(data))
	var e errorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s (run `ollama pull %s`): %s", ErrModelNotPulled, model, model, msg)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}

// knownDimensions returns the output size of common embedding models, or 0.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	case strings.Contains(lower, "bge-m3"):
		return 1024
	default:
		return 0
	}
}
