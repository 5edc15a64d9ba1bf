// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

// Waker reschedules the task that is waiting on a pending future.
//
// Implementations must be safe to copy, to call from any goroutine and to
// call any number of times, including after the task has completed.
type Waker interface {
	Wake()
}

// WakerFunc adapts an ordinary function to the Waker interface.
type WakerFunc func()

// Wake calls f().
func (f WakerFunc) Wake() { f() }

type nopWaker struct{}

func (nopWaker) Wake() {}

// NopWaker is a Waker that does nothing.
var NopWaker Waker = nopWaker{}

// Context is passed to Future.Poll and carries the waker of the task being
// polled.
type Context struct {
	waker Waker
	armed bool
}

// NewContext returns a Context bound to w. A nil w is replaced by NopWaker.
func NewContext(w Waker) *Context {
	if w == nil {
		w = NopWaker
	}
	return &Context{waker: w}
}

// Waker returns the waker for the current poll.
//
// A future that returns Pending after calling Waker keeps its task, and thus
// the executor, alive while the waker is reachable. Once every waker handed
// out for a parked task has been garbage collected the task is abandoned.
func (cx *Context) Waker() Waker {
	cx.armed = true
	return cx.waker
}

// taskWaker re-enqueues one task onto the ready queue of its executor.
type taskWaker struct {
	task *task
}

// Wake implements Waker.
func (w taskWaker) Wake() {
	if w.task != nil {
		w.task.wake()
	}
}
