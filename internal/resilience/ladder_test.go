package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/phucnt/kioku/pkg/memory"
)

func TestLadderPrimaryWins(t *testing.T) {
	l := NewLadder("primary", "a", BreakerConfig{})
	l.Add("fallback", "b")

	got, err := Do(l, func(v string) (string, error) { return v, nil })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "a" {
		t.Errorf("got %q, want primary's result", got)
	}
}

func TestLadderStepsDown(t *testing.T) {
	l := NewLadder("primary", "a", BreakerConfig{})
	l.Add("fallback", "b")

	got, err := Do(l, func(v string) (string, error) {
		if v == "a" {
			return "", errBoom
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "b" {
		t.Errorf("got %q, want fallback's result", got)
	}
}

func TestLadderExhausted(t *testing.T) {
	l := NewLadder("primary", 1, BreakerConfig{})
	l.Add("fallback", 2)

	calls := 0
	_, err := Do(l, func(int) (int, error) {
		calls++
		return 0, errBoom
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestLadderInvalidInputStopsWalk(t *testing.T) {
	l := NewLadder("primary", 1, BreakerConfig{})
	l.Add("fallback", 2)

	calls := 0
	_, err := Do(l, func(int) (int, error) {
		calls++
		return 0, fmt.Errorf("empty content: %w", memory.ErrInvalidInput)
	})
	if !errors.Is(err, memory.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("invalid input reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, fallback should not run on invalid input", calls)
	}
}

func TestLadderSkipsOpenBreaker(t *testing.T) {
	l := NewLadder("primary", "a", BreakerConfig{Trip: 1, CoolDown: time.Hour})
	l.Add("fallback", "b")

	// Trip the primary's breaker.
	if err := l.Do(func(v string) error {
		if v == "a" {
			return errBoom
		}
		return nil
	}); err != nil {
		t.Fatalf("warm-up: %v", err)
	}

	sawPrimary := false
	got, err := Do(l, func(v string) (string, error) {
		if v == "a" {
			sawPrimary = true
		}
		return v, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if sawPrimary {
		t.Error("primary called despite open breaker")
	}
	if got != "b" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestLadderNames(t *testing.T) {
	l := NewLadder("ollama", 1, BreakerConfig{})
	l.Add("hash", 2)
	names := l.Names()
	if len(names) != 2 || names[0] != "ollama" || names[1] != "hash" {
		t.Errorf("Names = %v", names)
	}
}

func TestLadderDoError(t *testing.T) {
	l := NewLadder("only", 1, BreakerConfig{})
	if err := l.Do(func(int) error { return errBoom }); !errors.Is(err, ErrExhausted) {
		t.Errorf("Do = %v, want ErrExhausted", err)
	}
	if err := l.Do(func(int) error { return nil }); err != nil {
		t.Errorf("Do = %v, want nil", err)
	}
}
