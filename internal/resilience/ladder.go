package resilience

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/phucnt/kioku/pkg/memory"
)

// ErrExhausted is returned when every rung of a [Ladder] failed or was
// refused by its breaker.
var ErrExhausted = errors.New("all providers failed")

// rung pairs one provider with its own breaker so a sick primary cannot
// poison the health accounting of its fallbacks.
type rung[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Ladder chains a primary provider with ordered fallbacks of the same
// type. Calls walk the rungs top to bottom until one succeeds; rungs with
// an open breaker are skipped without a call.
//
// An error wrapping [memory.ErrInvalidInput] stops the walk immediately.
// Bad input fails the same way on every rung, so stepping down would only
// burn failure budget on healthy providers.
//
// Safe for concurrent use once assembled. Add all rungs before sharing.
type Ladder[T any] struct {
	rungs []rung[T]
	cfg   BreakerConfig
}

// NewLadder creates a ladder whose top rung is primary. cfg (minus Name)
// is the breaker template applied to every rung.
func NewLadder[T any](name string, primary T, cfg BreakerConfig) *Ladder[T] {
	l := &Ladder[T]{cfg: cfg}
	l.Add(name, primary)
	return l
}

// Add appends a fallback rung. Rungs are tried in the order added.
func (l *Ladder[T]) Add(name string, value T) {
	cfg := l.cfg
	cfg.Name = name
	l.rungs = append(l.rungs, rung[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Names lists the rung names in try order.
func (l *Ladder[T]) Names() []string {
	names := make([]string, len(l.rungs))
	for i, r := range l.rungs {
		names[i] = r.name
	}
	return names
}

// Do tries fn on each rung until one succeeds.
func (l *Ladder[T]) Do(fn func(T) error) error {
	_, err := Do(l, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Do tries fn on each rung of l until one succeeds and returns its result.
// A package function because methods cannot add type parameters.
func Do[T, R any](l *Ladder[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range l.rungs {
		r := &l.rungs[i]
		var result R
		err := r.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(r.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, memory.ErrInvalidInput) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping provider", "provider", r.name, "reason", "breaker open")
		} else {
			slog.Warn("provider failed, stepping down", "provider", r.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
