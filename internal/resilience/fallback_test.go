package resilience_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/internal/resilience"
)

var errBadQuery = errors.New("query is empty")

// replicas builds a group of three named replicas whose value is their URL.
func replicas(maxFailures int) *resilience.FallbackGroup[string] {
	g := resilience.NewFallbackGroup("http://gpu-1:11434", "gpu-1", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
		Permanent:      func(err error) bool { return errors.Is(err, errBadQuery) },
	})
	g.AddFallback("gpu-2", "http://gpu-2:11434")
	g.AddFallback("cpu", "http://cpu:11434")
	return g
}

// failing returns a call that fails for the listed urls and records every
// url it was invoked with.
func failing(tried *[]string, down ...string) func(string) (string, error) {
	return func(url string) (string, error) {
		*tried = append(*tried, url)
		if slices.Contains(down, url) {
			return "", errEmbed
		}
		return "vector from " + url, nil
	}
}

// ── Call ─────────────────────────────────────────────────────────────────────

func TestCall_Order(t *testing.T) {
	tests := []struct {
		name      string
		down      []string
		want      string
		wantTried int
	}{
		{"primary healthy", nil, "vector from http://gpu-1:11434", 1},
		{"primary down", []string{"http://gpu-1:11434"}, "vector from http://gpu-2:11434", 2},
		{"only last up", []string{"http://gpu-1:11434", "http://gpu-2:11434"}, "vector from http://cpu:11434", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tried []string
			got, err := resilience.Call(context.Background(), replicas(3), failing(&tried, tt.down...))
			if err != nil {
				t.Fatalf("Call: %v", err)
			}
			if got != tt.want || len(tried) != tt.wantTried {
				t.Errorf("got %q after %v, want %q after %d tries", got, tried, tt.want, tt.wantTried)
			}
		})
	}
}

func TestCall_AllFailedJoinsErrors(t *testing.T) {
	var tried []string
	_, err := resilience.Call(context.Background(), replicas(3),
		failing(&tried, "http://gpu-1:11434", "http://gpu-2:11434", "http://cpu:11434"))

	if !errors.Is(err, resilience.ErrAllFailed) || !errors.Is(err, errEmbed) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the replica errors", err)
	}
	for _, name := range []string{"gpu-1", "gpu-2", "cpu"} {
		if !strings.Contains(err.Error(), name+":") {
			t.Errorf("err %q does not name replica %s", err, name)
		}
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	g := replicas(2)
	var tried []string
	for range 2 {
		_, _ = resilience.Call(context.Background(), g, failing(&tried, "http://gpu-1:11434"))
	}
	if got := g.States()["gpu-1"]; got != resilience.StateOpen {
		t.Fatalf("gpu-1 state = %v, want open", got)
	}

	tried = nil
	if _, err := resilience.Call(context.Background(), g, failing(&tried)); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !slices.Equal(tried, []string{"http://gpu-2:11434"}) {
		t.Errorf("tried = %v, want only gpu-2", tried)
	}
	if s := g.Snapshots()["gpu-1"]; s.Trips != 1 {
		t.Errorf("gpu-1 snapshot = %+v, want 1 trip", s)
	}
}

func TestCall_PermanentErrorStops(t *testing.T) {
	g := replicas(1)
	calls := 0
	_, err := resilience.Call(context.Background(), g, func(string) (string, error) {
		calls++
		return "", errBadQuery
	})
	if !errors.Is(err, errBadQuery) || errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want errBadQuery alone", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if got := g.States()["gpu-1"]; got != resilience.StateClosed {
		t.Errorf("gpu-1 state = %v, want closed", got)
	}
}

func TestCall_CancelledContext(t *testing.T) {
	g := replicas(1)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := resilience.Call(ctx, g, func(string) (string, error) {
		calls++
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want no failover after cancel", calls)
	}
	if got := g.States()["gpu-1"]; got != resilience.StateClosed {
		t.Errorf("cancellation tripped the breaker: state %v", got)
	}

	// Already done before the first member.
	calls = 0
	if _, err := resilience.Call(ctx, g, func(string) (string, error) { calls++; return "", nil }); !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("done ctx: err = %v after %d calls, want Canceled after 0", err, calls)
	}
}

// ── Group ────────────────────────────────────────────────────────────────────

func TestFallbackGroup_Members(t *testing.T) {
	g := replicas(3)
	if g.Primary() != "http://gpu-1:11434" || g.Len() != 3 {
		t.Fatalf("Primary = %q, Len = %d", g.Primary(), g.Len())
	}

	var names []string
	_ = g.Each(func(name, _ string) error {
		names = append(names, name)
		return nil
	})
	if !slices.Equal(names, []string{"gpu-1", "gpu-2", "cpu"}) {
		t.Errorf("Each order = %v", names)
	}

	stop := errors.New("stop")
	visited := 0
	if err := g.Each(func(string, string) error { visited++; return stop }); !errors.Is(err, stop) || visited != 1 {
		t.Errorf("Each: err = %v after %d visits, want stop after 1", err, visited)
	}
}
