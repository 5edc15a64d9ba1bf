// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	// ErrSpawnerClosed is the panic value of Spawn or Clone on a closed Spawner.
	ErrSpawnerClosed = errors.New("asyncexecutor: spawner is closed")
	// ErrExecutorTerminated is the panic value of Spawn after Run has returned.
	ErrExecutorTerminated = errors.New("asyncexecutor: executor has terminated")
	// ErrExecutorRunning is the panic value of a concurrent second call to Run.
	ErrExecutorRunning = errors.New("asyncexecutor: executor is already running")
	// ErrNilFuture is the panic value of Spawn with a nil future.
	ErrNilFuture = errors.New("asyncexecutor: nil future")
)

// Executor is a single-threaded run loop that polls spawned futures to
// completion.
//
// Tasks are polled in the order they enter the ready queue. A task that
// returns Pending is not requeued by the executor; it comes back only when
// its waker is invoked.
type Executor struct {
	name   string       // Name used in log records
	logger *slog.Logger // Logger instance, nil disables logging

	mu         sync.Mutex
	cond       *sync.Cond
	queue      *readyQueue
	spawners   int    // Open Spawner handles
	parked     int    // Parked tasks with a reachable waker
	nextID     uint64 // Last assigned task id
	running    bool
	terminated bool

	spawned   atomic.Uint64
	polled    atomic.Uint64
	completed atomic.Uint64
}

// Spawner hands new futures to an Executor. It is safe for concurrent use.
//
// Each handle must be closed once no more futures will be spawned through it;
// the executor terminates after every handle is closed and no task is left
// that could still be woken.
type Spawner struct {
	executor *Executor
	closed   atomic.Bool
}

// ExecutorStats is a snapshot of executor counters.
type ExecutorStats struct {
	Spawned   uint64 // Tasks spawned so far
	Polled    uint64 // Poll calls made so far
	Completed uint64 // Tasks that reached Ready
	Queued    int    // Tasks currently in the ready queue
	Parked    int    // Pending tasks waiting on a live waker
	Spawners  int    // Open spawner handles
}

// NewExecutorAndSpawner creates an Executor and a Spawner sharing one ready
// queue.
func NewExecutorAndSpawner(opts ...func(*Executor)) (*Executor, *Spawner) {
	e := &Executor{
		name:     "executor",
		logger:   slog.Default(),
		queue:    newReadyQueue(),
		spawners: 1,
	}
	e.cond = sync.NewCond(&e.mu)

	for _, opt := range opts {
		opt(e)
	}

	return e, &Spawner{executor: e}
}

// WithLogger configures the logger for the executor. A nil logger disables
// logging.
func WithLogger(logger *slog.Logger) func(*Executor) {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithName sets the name reported in the executor's log records.
func WithName(name string) func(*Executor) {
	return func(e *Executor) {
		if name != "" {
			e.name = name
		}
	}
}

// Run polls tasks until every spawner is closed and the ready queue is
// drained. It blocks while the queue is empty but may still receive tasks.
//
// Run panics if it is already running. Calling it after it returned is a
// no-op. A panic raised by a future propagates out of Run.
func (e *Executor) Run() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		panic(ErrExecutorRunning)
	}
	if e.terminated {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("Task panicked, executor stopped",
					"executor", e.name,
					"error", r)
			}
			panic(r)
		}
	}()

	if e.logger != nil {
		e.logger.Debug("Executor started", "executor", e.name)
	}

	for {
		t, ok := e.next()
		if !ok {
			break
		}
		e.runTask(t)
	}

	if e.logger != nil {
		stats := e.Stats()
		e.logger.Debug("Executor terminated",
			"executor", e.name,
			"spawned", stats.Spawned,
			"polled", stats.Polled,
			"completed", stats.Completed)
	}
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() ExecutorStats {
	e.mu.Lock()
	queued, parked, spawners := e.queue.len(), e.parked, e.spawners
	e.mu.Unlock()

	// Completed is read first so a snapshot never shows it above Spawned.
	completed := e.completed.Load()
	return ExecutorStats{
		Spawned:   e.spawned.Load(),
		Polled:    e.polled.Load(),
		Completed: completed,
		Queued:    queued,
		Parked:    parked,
		Spawners:  spawners,
	}
}

// next pops the next task, blocking while the queue is empty but open.
// It reports false once the queue is closed and drained, and marks the
// executor terminated.
func (e *Executor) next() (*task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for e.queue.empty() {
		if e.spawners == 0 && e.parked == 0 {
			e.terminated = true
			return nil, false
		}
		e.cond.Wait()
	}
	return e.queue.pop()
}

// runTask polls t once and either drops or parks it.
func (e *Executor) runTask(t *task) {
	if !t.casStatus(taskStatusQueued, taskStatusPolling) {
		return
	}
	e.polled.Add(1)

	done, w := t.poll()
	if done {
		t.status.Store(int32(taskStatusDone))
		e.completed.Add(1)
		if e.logger != nil {
			e.logger.Debug("Task completed", "executor", e.name, "task", t.id)
		}
		return
	}
	e.park(t, w)
}

// park records a pending task. A task woken during its own poll goes
// straight back to the queue. w is the waker the poll handed out, if any;
// it keeps the task counted as parked until it becomes unreachable.
func (e *Executor) park(t *task, w *taskWaker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w != nil {
		t.wakers++
		runtime.AddCleanup(w, e.releaseWaker, t)
	}

	if t.casStatus(taskStatusPolling, taskStatusParked) {
		if t.wakers > 0 {
			t.armed = true
			e.parked++
		} else if e.logger != nil {
			e.logger.Debug("Task pending without a waker, it will not be polled again",
				"executor", e.name,
				"task", t.id)
		}
		return
	}

	t.status.Store(int32(taskStatusQueued))
	e.queue.push(t)
}

// releaseWaker runs once a waker of t is garbage collected. When no waker of
// a parked task is left, nothing can wake it and it stops keeping Run alive.
func (e *Executor) releaseWaker(t *task) {
	e.mu.Lock()
	t.wakers--
	release := t.wakers == 0 && t.armed
	if release {
		t.armed = false
		e.parked--
	}
	e.mu.Unlock()

	if release {
		if e.logger != nil {
			e.logger.Debug("Task waker dropped, it will not be polled again",
				"executor", e.name,
				"task", t.id)
		}
		e.cond.Broadcast()
	}
}

// requeue pushes a woken task back onto the ready queue.
func (e *Executor) requeue(t *task) {
	e.mu.Lock()
	if t.armed {
		t.armed = false
		e.parked--
	}
	if e.terminated {
		e.mu.Unlock()
		return
	}
	e.queue.push(t)
	e.mu.Unlock()
	e.cond.Signal()
}

// spawn wraps fut into a task and queues it.
func (e *Executor) spawn(fut Future[Unit]) {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		panic(ErrExecutorTerminated)
	}
	e.nextID++
	t := newTask(e, e.nextID, fut)
	e.spawned.Add(1)
	e.queue.push(t)
	e.mu.Unlock()
	e.cond.Signal()

	if e.logger != nil {
		e.logger.Debug("Task spawned", "executor", e.name, "task", t.id)
	}
}

// Spawn queues fut on the executor.
//
// Spawn never blocks. It panics if this handle was closed or the executor
// has already terminated.
func (s *Spawner) Spawn(fut Future[Unit]) {
	if fut == nil {
		panic(ErrNilFuture)
	}
	if s.closed.Load() {
		panic(ErrSpawnerClosed)
	}
	s.executor.spawn(fut)
}

// Clone returns a new Spawner handle for the same executor. The executor
// keeps running until every handle is closed.
func (s *Spawner) Clone() *Spawner {
	if s.closed.Load() {
		panic(ErrSpawnerClosed)
	}
	e := s.executor
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminated {
		panic(ErrExecutorTerminated)
	}
	e.spawners++
	return &Spawner{executor: e}
}

// Close releases this handle. Closing the last handle lets Run return once
// the queue drains. Close is idempotent.
func (s *Spawner) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	e := s.executor
	e.mu.Lock()
	e.spawners--
	e.mu.Unlock()
	e.cond.Broadcast()
}
