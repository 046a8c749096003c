package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/foodtracker/internal/corpus"
	"github.com/MrWong99/foodtracker/internal/resilience"
	"github.com/MrWong99/foodtracker/internal/store"
)

// CorpusChecker fails while the active index has no rows.
func CorpusChecker(index func() *corpus.Index) Checker {
	return Checker{
		Name: "corpus",
		Check: func(context.Context) error {
			ix := index()
			if ix.Len() == 0 || len(ix.Rows()) == 0 {
				return errors.New("corpus index is empty")
			}
			return nil
		},
	}
}

// StoreChecker reads the goal record as a cheap round trip through st.
func StoreChecker(st store.Store) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := st.Goal(ctx)
			return err
		},
	}
}

// BreakerChecker fails when every embeddings replica has an open circuit
// breaker.
func BreakerChecker(states func() map[string]resilience.State) Checker {
	return Checker{
		Name: "embeddings",
		Check: func(context.Context) error {
			s := states()
			if len(s) == 0 {
				return nil
			}
			for _, st := range s {
				if st != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d embeddings replicas have open circuit breakers", len(s))
		},
	}
}

// PingChecker wraps a dependency with a Ping method, such as the postgres
// corpus cache.
func PingChecker(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping}
}

// Optional marks c as not affecting readiness.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}
