// Package apptest provides a manually driven app.Scheduler for tests that
// need to control when game phase and grace timers fire.
package apptest

import (
	"sync"
	"time"

	"quizroom-service/internal/app"
)

// ManualScheduler runs callbacks only when a test fires them.
type ManualScheduler struct {
	mu     sync.Mutex
	timers []*ManualTimer
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// ManualTimer is a callback registered with a ManualScheduler.
type ManualTimer struct {
	s       *ManualScheduler
	Delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (m *ManualScheduler) AfterFunc(d time.Duration, f func()) app.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &ManualTimer{s: m, Delay: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Stop prevents the callback from running through FireNext.
func (t *ManualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Stopped reports whether Stop was called before the timer fired.
func (t *ManualTimer) Stopped() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.stopped
}

// Fire runs the callback even if the timer was stopped, simulating a timer
// that raced with its cancellation.
func (t *ManualTimer) Fire() {
	t.s.mu.Lock()
	t.fired = true
	t.s.mu.Unlock()
	t.f()
}

// Pending returns the timers that are neither stopped nor fired, oldest first.
func (m *ManualScheduler) Pending() []*ManualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*ManualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			pending = append(pending, t)
		}
	}
	return pending
}

// All returns every timer ever scheduled, oldest first.
func (m *ManualScheduler) All() []*ManualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ManualTimer(nil), m.timers...)
}

// FireNext fires the oldest pending timer and reports whether one existed.
func (m *ManualScheduler) FireNext() bool {
	pending := m.Pending()
	if len(pending) == 0 {
		return false
	}
	pending[0].Fire()
	return true
}
