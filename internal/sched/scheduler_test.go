package sched

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestAfterFires(t *testing.T) {
	s := New(testLogger())
	defer s.Close()

	fired := make(chan struct{})
	s.After("a", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	if s.Active("a") {
		t.Fatal("fired task should be unregistered")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New(testLogger())
	defer s.Close()

	var fired atomic.Bool
	s.After("a", 20*time.Millisecond, func() { fired.Store(true) })

	if !s.Cancel("a") {
		t.Fatal("Cancel should report a registered task")
	}
	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled task fired")
	}
	if s.Cancel("a") {
		t.Fatal("second Cancel should report nothing registered")
	}
}

func TestAfterReplacesExisting(t *testing.T) {
	s := New(testLogger())
	defer s.Close()

	var first, second atomic.Bool
	s.After("a", 10*time.Millisecond, func() { first.Store(true) })
	s.After("a", 20*time.Millisecond, func() { second.Store(true) })

	time.Sleep(80 * time.Millisecond)
	if first.Load() {
		t.Fatal("replaced task fired")
	}
	if !second.Load() {
		t.Fatal("replacement task did not fire")
	}
}

func TestEveryStopsAtDeadline(t *testing.T) {
	s := New(testLogger())
	defer s.Close()

	var ticks atomic.Int32
	deadline := time.Now().Add(55 * time.Millisecond)
	s.Every("c", 10*time.Millisecond, deadline, func(remaining time.Duration) {
		if remaining <= 0 {
			t.Errorf("remaining should be positive, got %v", remaining)
		}
		ticks.Add(1)
	})

	time.Sleep(150 * time.Millisecond)
	n := ticks.Load()
	if n == 0 {
		t.Fatal("repeating task never ticked")
	}
	if n > 6 {
		t.Fatalf("repeating task did not stop at deadline: %d ticks", n)
	}
	if s.Active("c") {
		t.Fatal("expired repeating task should be unregistered")
	}
}

func TestEveryExpiryKeepsReplacement(t *testing.T) {
	s := New(testLogger())
	defer s.Close()

	// An expiring repeating task retires itself. A task registered under the
	// same ID while it is retiring must stay registered.
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("r-%d", i)
		s.Every(id, time.Millisecond, time.Now().Add(3*time.Millisecond), func(time.Duration) {})
		time.Sleep(2 * time.Millisecond)
		s.After(id, time.Hour, func() {})

		// Give the expired ticker goroutine time to finish retiring.
		time.Sleep(10 * time.Millisecond)
		if !s.Active(id) {
			t.Fatalf("replacement under %s was unregistered by the expired repeating task", id)
		}
	}
}

func TestCloseCancelsAll(t *testing.T) {
	s := New(testLogger())

	var fired atomic.Bool
	s.After("a", 20*time.Millisecond, func() { fired.Store(true) })
	s.Every("b", 10*time.Millisecond, time.Now().Add(time.Minute), func(time.Duration) { fired.Store(true) })

	s.Close()
	if s.Len() != 0 {
		t.Fatalf("expected empty scheduler, got %d tasks", s.Len())
	}

	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("task fired after Close")
	}

	// Scheduling after Close is a no-op.
	s.After("c", time.Millisecond, func() { fired.Store(true) })
	time.Sleep(20 * time.Millisecond)
	if fired.Load() || s.Len() != 0 {
		t.Fatal("scheduler accepted work after Close")
	}
}
