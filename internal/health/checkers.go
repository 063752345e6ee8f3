package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callagent/internal/resilience"
)

// Pinger is satisfied by every call store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports whether the call store is reachable.
func StoreChecker(p Pinger) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if err := p.Ping(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
	}
}

// BreakerSet is a group of backends each guarded by a circuit breaker.
// [resilience.FallbackGroup] satisfies it.
type BreakerSet interface {
	Names() []string
	Breaker(name string) *resilience.CircuitBreaker
}

// PortChecker fails when every backend of set has an open breaker, i.e. the
// port named name would degrade every call right now.
func PortChecker(name string, set BreakerSet) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			names := set.Names()
			if len(names) == 0 {
				return errors.New("no providers configured")
			}
			for _, n := range names {
				if b := set.Breaker(n); b == nil || b.State() != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d providers have an open circuit", len(names))
		},
	}
}
