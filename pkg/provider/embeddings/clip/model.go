// Package clip provides a joint image/text embeddings provider backed by a
// CLIP-style inference server.
//
// The pretrained model is an explicitly owned resource: construct a [Model]
// once at startup, call [Model.Load] (idempotent, safe to call concurrently),
// hand the same *Model to every [Provider] that needs it, and [Model.Close] it
// on shutdown. Nothing in this package keeps a hidden global model.
//
// Inference server endpoints:
//
//	GET  /v1/models/{name}   -> {"name", "version", "dimensions"}
//	POST /v1/embed/text      {"model", "texts": [...]}  -> {"embeddings": [[...]]}
//	POST /v1/embed/image     {"model", "images": [base64...]} -> {"embeddings": [[...]]}
package clip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// DefaultBaseURL is the default address of a locally running inference server.
const DefaultBaseURL = "http://localhost:8090"

// DefaultModel is the model name requested when none is configured.
const DefaultModel = "ViT-B-32"

// DefaultLoadTimeout bounds a shared [Model.Load] when no timeout is configured.
const DefaultLoadTimeout = 2 * time.Minute

// ErrModelNotLoaded is returned by embedding calls issued before Load succeeded.
var ErrModelNotLoaded = errors.New("clip: model not loaded")

// ErrModelClosed is returned by every call after Close.
var ErrModelClosed = errors.New("clip: model closed")

// Info describes a loaded model.
type Info struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Dimensions int    `json:"dimensions"`
}

// Model is a handle on one pretrained model served by the inference server.
// A Model is safe for concurrent use.
type Model struct {
	baseURL    string
	name       string
	httpClient  *http.Client
	loadTimeout time.Duration

	group singleflight.Group

	mu     sync.RWMutex
	info   *Info
	closed bool
}

type config struct {
	timeout     time.Duration
	loadTimeout time.Duration
	httpClient  *http.Client
}

// Option is a functional option for Model.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. A zero value means no timeout
// beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithLoadTimeout bounds the load shared by concurrent [Model.Load] callers.
// Defaults to [DefaultLoadTimeout].
func WithLoadTimeout(d time.Duration) Option {
	return func(c *config) {
		c.loadTimeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// NewModel constructs an unloaded Model. If baseURL is empty DefaultBaseURL is
// used; if name is empty DefaultModel is used.
func NewModel(baseURL, name string, opts ...Option) (*Model, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("clip: invalid base URL %q: %w", baseURL, err)
	}
	if name == "" {
		name = DefaultModel
	}
	cfg := &config{loadTimeout: DefaultLoadTimeout}
	for _, o := range opts {
		o(cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	if cfg.loadTimeout <= 0 {
		cfg.loadTimeout = DefaultLoadTimeout
	}
	return &Model{
		baseURL:     strings.TrimRight(baseURL, "/"),
		name:        name,
		httpClient:  hc,
		loadTimeout: cfg.loadTimeout,
	}, nil
}

// Load fetches the model metadata and issues a warm-up embedding. Concurrent
// callers share a single in-flight load. Once a load succeeds further calls
// return immediately; a failed load may be retried.
//
// The shared load runs detached from any one caller, bounded by the load
// timeout. A caller whose ctx ends stops waiting and gets ctx's error while
// the load carries on for the others.
func (m *Model) Load(ctx context.Context) error {
	if loaded, err := m.state(); err != nil || loaded {
		return err
	}
	ch := m.group.DoChan("load", func() (any, error) {
		if loaded, err := m.state(); err != nil || loaded {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.loadTimeout)
		defer cancel()
		start := time.Now()
		info, err := m.fetchInfo(ctx)
		if err != nil {
			return nil, err
		}
		vecs, err := m.post(ctx, "/v1/embed/text", embedRequest{Model: m.name, Texts: []string{"a photo of food"}})
		if err != nil {
			return nil, fmt.Errorf("warm-up: %w", err)
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("warm-up: empty embedding")
		}
		if info.Dimensions == 0 {
			info.Dimensions = len(vecs[0])
		}
		if len(vecs[0]) != info.Dimensions {
			return nil, fmt.Errorf("warm-up: model reports %d dimensions, embedding has %d", info.Dimensions, len(vecs[0]))
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrModelClosed
		}
		m.info = info
		slog.Info("clip model loaded",
			"model", info.Name,
			"version", info.Version,
			"dimensions", info.Dimensions,
			"elapsed", time.Since(start),
		)
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("clip: load %s: %w", m.name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return fmt.Errorf("clip: load %s: %w: %w", m.name, food.ErrEmbeddingFailure, res.Err)
		}
		return nil
	}
}

// Info returns the metadata of the loaded model, or false before Load.
func (m *Model) Info() (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.info == nil {
		return Info{}, false
	}
	return *m.info, true
}

// Close releases the handle. Later calls fail with ErrModelClosed.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.info = nil
	m.httpClient.CloseIdleConnections()
	return nil
}

func (m *Model) state() (loaded bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrModelClosed
	}
	return m.info != nil, nil
}

// ready returns the loaded info or the reason the model cannot serve.
func (m *Model) ready() (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.closed:
		return Info{}, ErrModelClosed
	case m.info == nil:
		return Info{}, ErrModelNotLoaded
	}
	return *m.info, nil
}

func (m *Model) fetchInfo(ctx context.Context) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/v1/models/"+url.PathEscape(m.name), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}
	if info.Name == "" {
		info.Name = m.name
	}
	return &info, nil
}

type embedRequest struct {
	Model  string   `json:"model"`
	Texts  []string `json:"texts,omitempty"`
	Images []string `json:"images,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (m *Model) post(ctx context.Context, path string, body embedRequest) ([][]float32, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Embeddings, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(msg) > 0 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
