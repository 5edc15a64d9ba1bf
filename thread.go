// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// threadAction represents an action that can be performed on an engine thread.
type threadAction int

const (
	actionStop   threadAction = iota // Stop the thread
	actionReload                     // Reload the thread's engine scripts
	actionRetire                     // Retire the thread
)

// String returns the string representation of a threadAction.
func (a threadAction) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionReload:
		return "reload"
	case actionRetire:
		return "retire"
	default:
		return "unknown"
	}
}

// threadActionRequest represents a request to perform an action on a thread.
type threadActionRequest struct {
	action threadAction // The action to perform
	done   chan error   // Channel to signal completion and return any error
}

// scriptJob is one ScriptCall waiting for an engine thread. Its result is
// published through the state shared with the ScriptFuture that submitted it.
type scriptJob struct {
	call  *ScriptCall
	state *scriptState
}

// scriptThread is a locked OS thread that owns one ScriptEngine.
type scriptThread struct {
	pool     *ScriptPool // Owning pool
	name     string      // Human-readable name for the thread
	threadId uint32      // Unique identifier for the thread

	mu          sync.RWMutex              // Guards closed against concurrent enqueues
	closed      bool                      // Set once the thread stops accepting jobs
	jobQueue    chan *scriptJob           // Channel for receiving jobs
	actionQueue chan *threadActionRequest // Channel for receiving control actions
	initCh      chan error                // Channel to signal initialization completion
	exited      chan struct{}             // Closed when the thread loop returns

	lastUsedNano atomic.Int64  // Timestamp of last job completion, nanoseconds
	jobCount     atomic.Uint32 // Number of jobs executed by this thread

	engine ScriptEngine // Engine instance, touched only by the thread goroutine
}

// newScriptThread creates a new thread instance.
func newScriptThread(pool *ScriptPool, name string, threadId uint32) *scriptThread {
	t := &scriptThread{
		pool:        pool,
		name:        name,
		threadId:    threadId,
		jobQueue:    make(chan *scriptJob, pool.options.queueSize),
		actionQueue: make(chan *threadActionRequest, 1),
		initCh:      make(chan error, 1),
		exited:      make(chan struct{}),
	}
	t.lastUsedNano.Store(time.Now().UnixNano())
	return t
}

// getJobCount returns the number of jobs executed by this thread.
func (t *scriptThread) getJobCount() uint32 {
	return t.jobCount.Load()
}

// getLastUsed returns the time the thread last finished a job.
func (t *scriptThread) getLastUsed() time.Time {
	return time.Unix(0, t.lastUsedNano.Load())
}

// queueLen returns the number of jobs waiting in the thread's queue.
func (t *scriptThread) queueLen() int {
	return len(t.jobQueue)
}

// initEngine creates the engine and loads the pool's scripts into it.
func (t *scriptThread) initEngine() error {
	engine, err := t.pool.engineFactory()
	if err != nil {
		return fmt.Errorf("failed to create script engine: %w", err)
	}
	t.engine = engine

	if err := t.engine.Load(t.pool.getScripts()); err != nil {
		return fmt.Errorf("failed to load scripts: %w", err)
	}
	return nil
}

// enqueue hands job to the thread without blocking. It reports false if
// the queue is full or the thread no longer accepts jobs.
func (t *scriptThread) enqueue(job *scriptJob) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.jobQueue <- job:
		return true
	default:
		return false
	}
}

// run is the thread loop that processes jobs and actions.
func (t *scriptThread) run() {
	// Engines such as V8 and QuickJS must stay on the OS thread that created them.
	runtime.LockOSThread()

	defer func() {
		if t.engine != nil {
			if err := t.engine.Close(); err != nil && t.pool.logger != nil {
				t.pool.logger.Error("Failed to close script engine",
					"thread", t.name,
					"error", err)
			}
			t.engine = nil
		}
		close(t.exited)
	}()

	var pendingActions []*threadActionRequest

	if err := t.initEngine(); err != nil {
		t.initCh <- err
		close(t.initCh)
		if t.pool.logger != nil {
			t.pool.logger.Error("Failed to initialize script engine",
				"thread", t.name,
				"error", err)
		}
		return
	}
	t.initCh <- nil
	close(t.initCh)

	retiring := false
	for {
		// Actions wait until the job queue is drained
		for len(pendingActions) > 0 && len(t.jobQueue) == 0 {
			action := pendingActions[0]
			pendingActions = pendingActions[1:]
			t.executeAction(action)
			if action.action == actionStop || action.action == actionRetire {
				t.shutdown(pendingActions)
				return
			}
		}

		select {
		case job := <-t.jobQueue:
			t.executeJob(job)
			if !retiring && t.reachedMaxExecutions() {
				retiring = true
				t.pool.removeThread(t.threadId)
				pendingActions = append(pendingActions, &threadActionRequest{
					action: actionRetire,
					done:   make(chan error, 1),
				})
				if t.pool.logger != nil {
					t.pool.logger.Debug("Thread reached max executions, retiring",
						"thread", t.name,
						"jobCount", t.getJobCount())
				}
			}
		case req := <-t.actionQueue:
			pendingActions = append(pendingActions, req)
		}
	}
}

// shutdown stops accepting jobs, hands jobs that raced in back to the pool
// and answers actions that will never run.
func (t *scriptThread) shutdown(pendingActions []*threadActionRequest) {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	for {
		select {
		case job := <-t.jobQueue:
			t.pool.dispatch(job)
		default:
			for _, req := range pendingActions {
				req.done <- nil
			}
			return
		}
	}
}

// executeAction executes a thread action.
func (t *scriptThread) executeAction(req *threadActionRequest) {
	defer func() {
		if r := recover(); r != nil {
			if t.pool.logger != nil {
				t.pool.logger.Error("Panic recovered in executeAction",
					"thread", t.name,
					"action", req.action.String(),
					"error", r)
			}
			req.done <- fmt.Errorf("panic in executeAction: %v", r)
		}
	}()

	switch req.action {
	case actionReload:
		err := t.engine.Load(t.pool.getScripts())
		if err != nil && t.pool.logger != nil {
			t.pool.logger.Error("Thread reload failed",
				"thread", t.name,
				"error", err)
		}
		req.done <- err

	case actionStop, actionRetire:
		var err error
		if t.engine != nil {
			err = t.engine.Close()
			if err != nil && t.pool.logger != nil {
				t.pool.logger.Error("Failed to close script engine",
					"thread", t.name,
					"error", err)
			}
			t.engine = nil
		}
		req.done <- err

	default:
		req.done <- nil
	}
}

// executeJob runs one call and publishes its result, waking the waiting task.
func (t *scriptThread) executeJob(job *scriptJob) {
	result := ScriptResult{Id: job.call.Id, Thread: t.name}

	defer func() {
		if r := recover(); r != nil {
			result.Value = nil
			result.Err = fmt.Errorf("panic in thread %s: %v", t.name, r)
			if t.pool.logger != nil {
				t.pool.logger.Error("Script call panic",
					"thread", t.name,
					"call", job.call.Id,
					"error", r)
			}
		}
		t.lastUsedNano.Store(time.Now().UnixNano())
		t.jobCount.Add(1)
		job.state.finish(result)
	}()

	result.Value, result.Err = t.engine.Call(job.call)
}

// sendAction queues an action and waits for the thread to perform it.
// A thread that already exited reports nil.
func (t *scriptThread) sendAction(action threadAction) error {
	req := &threadActionRequest{
		action: action,
		done:   make(chan error, 1),
	}
	select {
	case t.actionQueue <- req:
	case <-t.exited:
		return nil
	}
	select {
	case err := <-req.done:
		return err
	case <-t.exited:
		select {
		case err := <-req.done:
			return err
		default:
			return nil
		}
	}
}

// reload asks the thread to load the pool's current scripts.
func (t *scriptThread) reload() error {
	return t.sendAction(actionReload)
}

// stop closes the engine and ends the thread. Jobs already queued run first.
func (t *scriptThread) stop() error {
	return t.sendAction(actionStop)
}

// retire is stop for a thread removed from the pool by cleanup.
func (t *scriptThread) retire() error {
	return t.sendAction(actionRetire)
}

// reachedMaxExecutions reports whether the thread served its job quota.
func (t *scriptThread) reachedMaxExecutions() bool {
	limit := t.pool.options.maxExecutions
	return limit > 0 && t.getJobCount() >= limit
}
