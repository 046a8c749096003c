package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/internal/resilience"
	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings/mock"
)

var errBackend = errors.New("backend down")

func cfg() resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}
}

func replica(id string, vec []float32) *mock.Provider {
	return &mock.Provider{ModelIDValue: id, DimensionsValue: len(vec), EmbedResult: vec}
}

func TestEmbeddingsFallback_Failover(t *testing.T) {
	a := replica("m", []float32{1, 0})
	a.EmbedErr = errBackend
	b := replica("m", []float32{0, 1})

	f := resilience.NewEmbeddingsFallback(a, "a", cfg())
	f.AddFallback("b", b)
	if err := f.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	v, err := f.Embed(context.Background(), "apple")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if v[1] != 1 {
		t.Errorf("vector = %v, want replica b's [0 1]", v)
	}
	if got := f.States()["a"]; got != resilience.StateOpen {
		t.Errorf("replica a state = %v, want open", got)
	}
}

func TestEmbeddingsFallback_AllFailIsEmbeddingFailure(t *testing.T) {
	a := replica("m", []float32{1})
	a.EmbedErr = errBackend
	f := resilience.NewEmbeddingsFallback(a, "a", cfg())

	_, err := f.Embed(context.Background(), "apple")
	if !errors.Is(err, food.ErrEmbeddingFailure) || !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrEmbeddingFailure and ErrAllFailed", err)
	}

	// Breaker is now open: the error must still classify as an embedding failure.
	_, err = f.Embed(context.Background(), "apple")
	if !errors.Is(err, food.ErrEmbeddingFailure) {
		t.Fatalf("open-breaker err = %v, want ErrEmbeddingFailure", err)
	}
}

func TestEmbeddingsFallback_CallerErrorNoFailover(t *testing.T) {
	a := replica("m", []float32{1})
	a.EmbedErr = food.ErrInvalidInput
	b := replica("m", []float32{1})

	f := resilience.NewEmbeddingsFallback(a, "a", cfg())
	f.AddFallback("b", b)

	_, err := f.Embed(context.Background(), "")
	if !errors.Is(err, food.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if len(b.EmbedCalls) != 0 {
		t.Errorf("replica b called %d times, want 0", len(b.EmbedCalls))
	}
}

func TestEmbeddingsFallback_LoadRejectsMixedModels(t *testing.T) {
	f := resilience.NewEmbeddingsFallback(replica("model-a", []float32{1, 0}), "a", cfg())
	f.AddFallback("b", replica("model-b", []float32{1, 0}))
	if err := f.Load(context.Background()); !errors.Is(err, resilience.ErrReplicaMismatch) {
		t.Fatalf("err = %v, want ErrReplicaMismatch", err)
	}
}

func TestEmbeddingsFallback_ImageCapabilityFollowsPrimary(t *testing.T) {
	text := resilience.NewEmbeddingsFallback(replica("m", []float32{1}), "a", cfg())
	if embeddings.SupportsImage(text) {
		t.Error("text-only primary reported image support")
	}
	if _, err := text.EmbedImage(context.Background(), []byte{1}); !errors.Is(err, food.ErrUnsupportedMedia) {
		t.Errorf("EmbedImage err = %v, want ErrUnsupportedMedia", err)
	}

	img := &mock.ImageProvider{Provider: mock.Provider{ModelIDValue: "m", DimensionsValue: 1}, ImageResult: []float32{1}}
	withImage := resilience.NewEmbeddingsFallback(img, "a", cfg())
	if !embeddings.SupportsImage(withImage) {
		t.Fatal("image primary reported no image support")
	}
	v, err := withImage.EmbedImage(context.Background(), []byte{1})
	if err != nil || len(v) != 1 {
		t.Fatalf("EmbedImage = %v, %v", v, err)
	}
}

func TestEmbeddingsFallback_CancelledIsNotFailure(t *testing.T) {
	a := replica("m", []float32{1})
	f := resilience.NewEmbeddingsFallback(a, "a", cfg())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Embed(ctx, "apple")
	if !errors.Is(err, context.Canceled) || errors.Is(err, food.ErrEmbeddingFailure) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if s := f.Snapshots()["a"]; s.ConsecutiveFailures != 0 {
		t.Errorf("snapshot = %+v, want no failures recorded", s)
	}
}
