// Package resilience keeps the memory pipeline alive when a provider
// degrades. A [Breaker] stops hammering a failing backend; a [Ladder]
// steps down to the next provider in a fallback chain, so an outage of
// the LLM or the vector server degrades retrieval quality instead of
// failing saves.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and the
// cool-down has not elapsed.
var ErrOpen = errors.New("breaker open")

// State is a breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cool-down elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through. Probes all
	// succeeding closes the breaker; any probe failing re-opens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// Trip is the consecutive-failure count that opens the breaker.
	// Default 5.
	Trip int

	// CoolDown is how long the breaker stays open before probing.
	// Default 30s.
	CoolDown time.Duration

	// Probes is the number of half-open calls that must all succeed to
	// close. Default 3.
	Probes int
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name     string
	trip     int
	coolDown time.Duration
	probes   int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probesSent  int
	probesOK    int
}

// NewBreaker builds a closed breaker from cfg, defaulting zero fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.Trip,
		coolDown: cfg.CoolDown,
		probes:   cfg.Probes,
	}
}

// Do runs fn unless the breaker refuses. Open with an elapsed cool-down
// moves to half-open and admits fn as a probe.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.lastFailure) < b.coolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probesSent = 0
		b.probesOK = 0
		slog.Debug("breaker half-open", "breaker", b.name)
	case HalfOpen:
		if b.probesSent >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probesSent++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.ok(probing)
	}
	return err
}

// fail updates counters after a failed call. Caller holds b.mu.
func (b *Breaker) fail(probing bool) {
	b.lastFailure = time.Now()
	if probing {
		b.state = Open
		b.failures = b.trip
		slog.Warn("breaker re-opened", "breaker", b.name)
		return
	}
	b.failures++
	if b.failures >= b.trip {
		b.state = Open
		slog.Warn("breaker opened", "breaker", b.name, "failures", b.failures)
	}
}

// ok updates counters after a successful call. Caller holds b.mu.
func (b *Breaker) ok(probing bool) {
	if probing {
		b.probesOK++
		if b.probesOK >= b.probes {
			b.state = Closed
			b.failures = 0
			slog.Info("breaker closed", "breaker", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the effective state. An open breaker whose cool-down has
// elapsed reports half-open; the transition itself happens on the next Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.lastFailure) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probesSent = 0
	b.probesOK = 0
}
