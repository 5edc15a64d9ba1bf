// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"sync"
	"sync/atomic"
)

// taskStatus represents where a task currently sits in its lifecycle.
type taskStatus int32

const (
	taskStatusQueued  taskStatus = iota // Task is in the ready queue
	taskStatusPolling                   // Task is being polled by the run loop
	taskStatusRepoll                    // Task was woken while being polled
	taskStatusParked                    // Task returned Pending and waits for its waker
	taskStatusDone                      // Task completed; its future slot is empty
)

// String returns the string representation of a taskStatus.
func (s taskStatus) String() string {
	switch s {
	case taskStatusQueued:
		return "queued"
	case taskStatusPolling:
		return "polling"
	case taskStatusRepoll:
		return "repoll"
	case taskStatusParked:
		return "parked"
	case taskStatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// task is a schedulable unit wrapping one future and the executor that
// re-enqueues it when woken.
type task struct {
	id       uint64    // Sequence number assigned at spawn time
	executor *Executor // Owner of the ready queue this task returns to

	mu     sync.Mutex   // Guards future; held only for the duration of one poll
	future Future[Unit] // Nil once the task completed

	status atomic.Int32 // taskStatus, updated lock-free by wakers
	wakers int          // Reachable wakers handed out by armed polls; guarded by executor.mu
	armed  bool         // Parked and counted in executor.parked; guarded by executor.mu
}

// newTask creates a task in the queued state.
func newTask(e *Executor, id uint64, fut Future[Unit]) *task {
	t := &task{
		id:       id,
		executor: e,
		future:   fut,
	}
	t.status.Store(int32(taskStatusQueued))
	return t
}

func (t *task) getStatus() taskStatus {
	return taskStatus(t.status.Load())
}

func (t *task) casStatus(from, to taskStatus) bool {
	return t.status.CompareAndSwap(int32(from), int32(to))
}

// waker returns a new Waker bound to this task. Each poll gets its own so
// the executor can tell when every waker handed out has become unreachable.
func (t *task) waker() *taskWaker {
	return &taskWaker{task: t}
}

// wake moves a parked task back onto the ready queue.
// Waking a queued or completed task is a no-op; waking a task that is being
// polled makes the run loop requeue it once the poll returns Pending.
func (t *task) wake() {
	for {
		switch s := t.getStatus(); s {
		case taskStatusQueued, taskStatusRepoll, taskStatusDone:
			return
		case taskStatusPolling:
			if t.casStatus(s, taskStatusRepoll) {
				return
			}
		case taskStatusParked:
			if t.casStatus(s, taskStatusQueued) {
				t.executor.requeue(t)
				return
			}
		default:
			return
		}
	}
}

// poll advances the task's future once with a context bound to a fresh
// waker. It reports whether the future completed and returns the waker if
// the poll handed it out.
func (t *task) poll() (done bool, armed *taskWaker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.future == nil {
		return true, nil
	}

	w := t.waker()
	cx := NewContext(w)
	if t.future.Poll(cx).IsReady() {
		t.future = nil
		return true, nil
	}
	if !cx.armed {
		return false, nil
	}
	return false, w
}
