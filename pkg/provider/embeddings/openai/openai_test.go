package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// fakeAPI serves /v1/embeddings. Each vector is dims long with the input's
// position as its first component, and the data array is returned reversed.
type fakeAPI struct {
	t      *testing.T
	dims   int
	status int

	mu       sync.Mutex
	requests []apiRequest
}

type apiRequest struct {
	Inputs     int
	Dimensions int
}

func newFakeAPI(t *testing.T, dims int) (*fakeAPI, string) {
	t.Helper()
	f := &fakeAPI{t: t, dims: dims, status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv.URL + "/v1/"
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/embeddings" {
		f.t.Errorf("path = %q, want /v1/embeddings", r.URL.Path)
	}
	if f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
		return
	}
	var req struct {
		Input      any    `json:"input"`
		Model      string `json:"model"`
		Dimensions int    `json:"dimensions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("decode: %v", err)
	}
	n := 1
	if arr, ok := req.Input.([]any); ok {
		n = len(arr)
	}
	f.mu.Lock()
	f.requests = append(f.requests, apiRequest{Inputs: n, Dimensions: req.Dimensions})
	f.mu.Unlock()

	data := make([]map[string]any, n)
	for i := range data {
		idx := n - 1 - i
		vec := make([]float64, f.dims)
		vec[0] = float64(idx)
		data[i] = map[string]any{"object": "embedding", "index": idx, "embedding": vec}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]any{"prompt_tokens": n, "total_tokens": n},
	})
}

func (f *fakeAPI) calls() []apiRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiRequest(nil), f.requests...)
}

// ── Construction ─────────────────────────────────────────────────────────────

func TestNew(t *testing.T) {
	t.Setenv(apiKeyEnv, "")

	tests := []struct {
		name     string
		model    string
		opts     []Option
		wantDims int
		wantID   string
	}{
		{"default model", "", nil, 1536, "openai:text-embedding-3-small"},
		{"large", "text-embedding-3-large", nil, 3072, "openai:text-embedding-3-large"},
		{"shortened", "text-embedding-3-large", []Option{WithDimensions(256)}, 256, "openai:text-embedding-3-large"},
		{"native size requested", "text-embedding-3-small", []Option{WithDimensions(1536)}, 1536, "openai:text-embedding-3-small"},
		{"unknown model", "food-embed-v2", nil, 1536, "openai:food-embed-v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("sk-test", tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.Dimensions() != tt.wantDims || p.ModelID() != tt.wantID {
				t.Errorf("got %s/%d, want %s/%d", p.ModelID(), p.Dimensions(), tt.wantID, tt.wantDims)
			}
		})
	}
}

func TestNew_APIKey(t *testing.T) {
	t.Setenv(apiKeyEnv, "")
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error without an api key")
	}
	t.Setenv(apiKeyEnv, "sk-from-env")
	if _, err := New("", ""); err != nil {
		t.Fatalf("New with %s set: %v", apiKeyEnv, err)
	}
}

func TestNew_NegativeDimensions(t *testing.T) {
	if _, err := New("sk-test", "", WithDimensions(-1)); err == nil {
		t.Fatal("expected error for negative dimensions")
	}
}

// ── Embedding ────────────────────────────────────────────────────────────────

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	_, url := newFakeAPI(t, 1536)
	p, _ := New("sk-test", "", WithBaseURL(url), WithMaxRetries(0))

	got, err := p.EmbedBatch(context.Background(), []string{"apple", "banana", "cheddar"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range got {
		if v[0] != float32(i) {
			t.Errorf("vector %d starts with %v, want %d", i, v[0], i)
		}
	}
}

func TestEmbedBatch_SplitsLargeBatches(t *testing.T) {
	fake, url := newFakeAPI(t, 1536)
	p, _ := New("sk-test", "", WithBaseURL(url), WithMaxRetries(0))

	texts := make([]string, MaxBatchInputs+3)
	for i := range texts {
		texts[i] = "oat"
	}
	got, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(got), len(texts))
	}
	calls := fake.calls()
	if len(calls) != 2 || calls[0].Inputs != MaxBatchInputs || calls[1].Inputs != 3 {
		t.Errorf("requests = %+v, want %d then 3 inputs", calls, MaxBatchInputs)
	}
	if got[MaxBatchInputs][0] != 0 {
		t.Errorf("first vector of second chunk starts with %v, want 0", got[MaxBatchInputs][0])
	}
}

func TestEmbed_SendsDimensionsOnlyWhenShortened(t *testing.T) {
	fake, url := newFakeAPI(t, 256)
	p, _ := New("sk-test", "text-embedding-3-small", WithBaseURL(url), WithDimensions(256), WithMaxRetries(0))
	if _, err := p.Embed(context.Background(), "apple"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	fake2, url2 := newFakeAPI(t, 1536)
	p2, _ := New("sk-test", "text-embedding-3-small", WithBaseURL(url2), WithMaxRetries(0))
	if _, err := p2.Embed(context.Background(), "apple"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := fake.calls()[0].Dimensions; got != 256 {
		t.Errorf("shortened request dimensions = %d, want 256", got)
	}
	if got := fake2.calls()[0].Dimensions; got != 0 {
		t.Errorf("native request sent dimensions = %d, want none", got)
	}
}

func TestEmbed_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		dims   int
	}{
		{"server error", http.StatusServiceUnavailable, 1536},
		{"wrong vector size", http.StatusOK, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, url := newFakeAPI(t, tt.dims)
			fake.status = tt.status
			p, _ := New("sk-test", "", WithBaseURL(url), WithMaxRetries(0))
			if _, err := p.Embed(context.Background(), "apple"); !errors.Is(err, food.ErrEmbeddingFailure) {
				t.Fatalf("err = %v, want ErrEmbeddingFailure", err)
			}
		})
	}
}

func TestEmbed_BlankTextIsInvalidInput(t *testing.T) {
	p, _ := New("sk-test", "")
	if _, err := p.Embed(context.Background(), " "); !errors.Is(err, food.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := p.EmbedBatch(context.Background(), []string{"apple", ""}); !errors.Is(err, food.ErrInvalidInput) {
		t.Fatalf("batch err = %v, want ErrInvalidInput", err)
	}
}
