// Package sched provides cancellable scheduled tasks keyed by string ID.
// Matchmaking fallback timers and settlement countdowns are registered here so
// cancellation on a state transition is structural: cancelling the key
// guarantees no stale firing later.
package sched

import (
	"log/slog"
	"sync"
	"time"
)

// task is anything the scheduler can stop.
type task interface {
	stop()
}

type timerTask struct {
	t *time.Timer
}

func (t *timerTask) stop() { t.t.Stop() }

type tickerTask struct {
	done chan struct{}
	once sync.Once
}

func (t *tickerTask) stop() { t.once.Do(func() { close(t.done) }) }

// Scheduler owns a set of named one-shot and repeating tasks. Scheduling a
// task under an existing ID replaces (and cancels) the previous one.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]task
	closed bool
	logger *slog.Logger
}

// New creates an empty Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]task),
		logger: logger.With(slog.String("component", "sched")),
	}
}

// After schedules fn to run once after d. The task unregisters itself before
// fn executes, so fn may schedule a new task under the same ID.
func (s *Scheduler) After(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.tasks[id]; ok {
		prev.stop()
	}

	tt := &timerTask{}
	tt.t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// Only fire if we are still the registered task under this ID; a
		// concurrent Cancel or replacement must win.
		cur, ok := s.tasks[id]
		if !ok || cur != task(tt) {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, id)
		s.mu.Unlock()
		fn()
	})
	s.tasks[id] = tt
}

// Every schedules fn to run at the given interval until deadline passes or the
// task is cancelled. fn receives the time remaining until the deadline.
func (s *Scheduler) Every(id string, interval time.Duration, deadline time.Time, fn func(remaining time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.tasks[id]; ok {
		prev.stop()
	}

	tk := &tickerTask{done: make(chan struct{})}
	s.tasks[id] = tk

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tk.done:
				return
			case now := <-ticker.C:
				remaining := deadline.Sub(now)
				if remaining <= 0 {
					s.remove(id, tk)
					return
				}
				fn(remaining)
			}
		}
	}()
}

// remove unregisters a task only while it is still the one registered under
// the ID. A task retiring itself must not take down a replacement scheduled
// under the same ID in the meantime.
func (s *Scheduler) remove(id string, t task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[id]; ok && cur == t {
		delete(s.tasks, id)
	}
}

// Cancel stops and removes the task with the given ID. It reports whether a
// task was registered.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.stop()
	delete(s.tasks, id)
	return true
}

// Active reports whether a task is registered under the ID.
func (s *Scheduler) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels all tasks and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.tasks {
		t.stop()
		delete(s.tasks, id)
	}
}
