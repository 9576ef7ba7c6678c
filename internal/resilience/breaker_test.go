package resilience

import (
	"errors"
	"testing"
	"time"
)

var errSpawn = errors.New("runtime spawn failed")

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if got := b.State(); got != "closed" {
		t.Fatalf("state = %s, want closed", got)
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)

	for range 3 {
		_ = b.Execute(func() error { return errSpawn })
	}

	if got := b.State(); got != "open" {
		t.Fatalf("state = %s, want open", got)
	}
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(func() error { return errSpawn })
	}

	// Still inside the open window.
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	// Past the timeout the next call probes the runtime.
	now = now.Add(2 * time.Second)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called in half-open")
	}
	if got := b.State(); got != "closed" {
		t.Fatalf("state after probe success = %s, want closed", got)
	}
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	for range 2 {
		_ = b.Execute(func() error { return errSpawn })
	}

	now = now.Add(2 * time.Second)

	_ = b.Execute(func() error { return errSpawn })

	if got := b.State(); got != "open" {
		t.Fatalf("state after probe failure = %s, want open", got)
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(func() error { return errSpawn })
	_ = b.Execute(func() error { return errSpawn })

	// A success wipes the consecutive-failure count.
	_ = b.Execute(func() error { return nil })

	_ = b.Execute(func() error { return errSpawn })
	_ = b.Execute(func() error { return errSpawn })

	if got := b.State(); got != "closed" {
		t.Fatalf("state = %s, want closed after non-consecutive failures", got)
	}
}
