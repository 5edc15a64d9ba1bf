// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"sync"
	"time"
)

// startTimer runs fn on a new goroutine. It is a variable so tests can
// observe how many timer goroutines are started.
var startTimer = func(fn func()) { go fn() }

// timerState is shared between the polling side and the timer goroutine.
type timerState struct {
	mu        sync.Mutex
	completed bool
	waker     Waker
}

// TimerFuture completes after a fixed duration.
//
// The first poll starts one background goroutine that sleeps until the
// deadline, marks the timer completed and wakes the waker stored by the most
// recent poll. TimerFuture does not depend on a particular executor.
type TimerFuture struct {
	duration time.Duration
	deadline time.Time
	started  bool
	state    *timerState
}

// NewTimerFuture creates a timer that completes d after its first poll.
func NewTimerFuture(d time.Duration) *TimerFuture {
	return &TimerFuture{
		duration: d,
		state:    &timerState{},
	}
}

// Poll implements Future.
func (f *TimerFuture) Poll(cx *Context) Poll[Unit] {
	f.state.mu.Lock()
	if f.state.completed {
		f.state.mu.Unlock()
		return Ready(Unit{})
	}
	f.state.waker = cx.Waker()
	f.state.mu.Unlock()

	if !f.started {
		f.started = true
		f.deadline = time.Now().Add(f.duration)
		deadline, state := f.deadline, f.state
		startTimer(func() { state.sleepUntil(deadline) })
	}
	return Pending[Unit]()
}

// Deadline returns the instant the timer fires; zero before the first poll.
func (f *TimerFuture) Deadline() time.Time {
	return f.deadline
}

func (s *timerState) sleepUntil(deadline time.Time) {
	time.Sleep(time.Until(deadline))

	s.mu.Lock()
	s.completed = true
	w := s.waker
	s.waker = nil
	s.mu.Unlock()

	if w != nil {
		w.Wake()
	}
}
