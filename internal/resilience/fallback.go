package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [FallbackGroup] produced a
// result. It wraps every member's error.
var ErrAllFailed = errors.New("all replicas failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is copied for every member; Name is set to the
	// member name.
	CircuitBreaker CircuitBreakerConfig

	// Permanent reports errors that no other member could fix. They are
	// returned at once and do not count against the breaker.
	Permanent func(error) bool
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable values (replicas of one backend), each
// behind its own [CircuitBreaker]. [Call] tries them in the order they were
// added.
//
// Members must all be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a member tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the first member.
func (g *FallbackGroup[T]) Primary() T { return g.members[0].value }

// Len returns the number of members.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// States returns each member's breaker state by name.
func (g *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

// Snapshots returns each member's breaker snapshot by name.
func (g *FallbackGroup[T]) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.Snapshot()
	}
	return out
}

// Each calls fn for every member in order, stopping at the first error.
func (g *FallbackGroup[T]) Each(fn func(name string, v T) error) error {
	for _, m := range g.members {
		if err := fn(m.name, m.value); err != nil {
			return err
		}
	}
	return nil
}

// Call runs fn against the members of g in order and returns the first
// success. Members whose breaker is open are skipped.
//
// Permanent errors and ctx ending stop the walk immediately; neither counts
// as a member failure, so a cancelled request never trips a breaker.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, m := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var (
			out  R
			stop error
		)
		err := m.breaker.Execute(func() error {
			var err error
			out, err = fn(m.value)
			if err != nil && (g.isPermanent(err) || ctx.Err() != nil) {
				stop = err
				return nil
			}
			return err
		})
		switch {
		case stop != nil:
			return zero, stop
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("replica skipped, circuit open", "replica", m.name)
		default:
			slog.Warn("replica failed, trying next", "replica", m.name, "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (g *FallbackGroup[T]) isPermanent(err error) bool {
	return g.cfg.Permanent != nil && g.cfg.Permanent(err)
}
