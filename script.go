// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"errors"
	"sync"
	"time"
)

// ErrNilScriptCall is reported by a ScriptFuture created with a nil call.
var ErrNilScriptCall = errors.New("asyncexecutor: script call cannot be nil")

// scriptState is shared between a ScriptFuture and the engine thread that
// runs its call.
type scriptState struct {
	mu      sync.Mutex
	done    bool
	result  ScriptResult
	waker   Waker
	timeout *time.Timer
}

// finish publishes r and wakes the latest stored waker. Only the first call
// has an effect; it reports whether it was that call.
func (s *scriptState) finish(r ScriptResult) bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.result = r
	w := s.waker
	s.waker = nil
	if s.timeout != nil {
		s.timeout.Stop()
	}
	s.mu.Unlock()

	if w != nil {
		w.Wake()
	}
	return true
}

// fail completes the job with err.
func (j *scriptJob) fail(err error) {
	j.state.finish(ScriptResult{Id: j.call.Id, Err: err})
}

// ScriptFuture is a leaf future completing when an engine thread of its
// ScriptPool has run the call. The call is submitted on the first poll.
type ScriptFuture struct {
	pool      *ScriptPool
	call      *ScriptCall
	submitted bool
	state     *scriptState
}

func newScriptFuture(pool *ScriptPool, call *ScriptCall) *ScriptFuture {
	return &ScriptFuture{
		pool:  pool,
		call:  call,
		state: &scriptState{},
	}
}

// Poll implements Future.
func (f *ScriptFuture) Poll(cx *Context) Poll[ScriptResult] {
	f.state.mu.Lock()
	if f.state.done {
		r := f.state.result
		f.state.mu.Unlock()
		return Ready(r)
	}
	f.state.waker = cx.Waker()
	f.state.mu.Unlock()

	if !f.submitted {
		f.submitted = true
		f.submit()

		// Submission can fail synchronously
		f.state.mu.Lock()
		done, r := f.state.done, f.state.result
		f.state.mu.Unlock()
		if done {
			return Ready(r)
		}
	}
	return Pending[ScriptResult]()
}

func (f *ScriptFuture) submit() {
	if f.call == nil {
		f.state.finish(ScriptResult{Err: ErrNilScriptCall})
		return
	}
	job := &scriptJob{call: f.call, state: f.state}

	if timeout := f.pool.options.executeTimeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() { job.fail(ErrScriptTimeout) })
		f.state.mu.Lock()
		f.state.timeout = timer
		f.state.mu.Unlock()
	}

	f.pool.dispatch(job)
}
