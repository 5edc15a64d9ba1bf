// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrPoolNotStarted is reported by calls made before Start.
	ErrPoolNotStarted = errors.New("asyncexecutor: script pool is not started")
	// ErrPoolStopped is reported by calls made after Stop.
	ErrPoolStopped = errors.New("asyncexecutor: script pool is stopped")
	// ErrEnqueueTimeout is reported when no engine thread accepted a call in time.
	ErrEnqueueTimeout = errors.New("asyncexecutor: timeout enqueueing script call")
	// ErrScriptTimeout is reported when a call did not finish within the execute timeout.
	ErrScriptTimeout = errors.New("asyncexecutor: timeout waiting for script result")
)

// enqueueRetryInterval is how often a call that found every queue full
// retries.
const enqueueRetryInterval = time.Millisecond

// ScriptPoolOption contains configuration options for a ScriptPool.
type ScriptPoolOption struct {
	minPoolSize     uint32        // Minimum number of engine threads
	maxPoolSize     uint32        // Maximum number of engine threads
	queueSize       uint32        // Size of the job queue per thread
	threadTTL       time.Duration // Idle time after which a thread is retired
	maxExecutions   uint32        // Jobs a thread serves before it is retired
	enqueueTimeout  time.Duration // Timeout for handing a call to a thread
	executeTimeout  time.Duration // Timeout for a call to produce its result
	createThreshold float64       // Queue load above which a new thread is created (0.0-1.0)
	selectThreshold float64       // Queue load above which a thread is skipped (0.0-1.0)
}

// ScriptPool runs JavaScript calls on a pool of engine threads. Calls are
// exposed as ScriptFutures: an engine thread that finishes a call wakes the
// task awaiting it.
type ScriptPool struct {
	options       *ScriptPoolOption
	engineFactory ScriptEngineFactory
	scripts       atomic.Pointer[[]*Script] // Copy-on-write list of scripts
	logger        *slog.Logger

	mu      sync.RWMutex // Guards started and stopped
	started bool
	stopped bool

	threads         sync.Map                 // Thread id to *scriptThread
	threadIds       atomic.Pointer[[]uint32] // Round-robin list, copy-on-write
	threadCount     atomic.Uint32
	roundRobinIndex atomic.Uint32
	threadIdCounter atomic.Uint32
	stopCleanup     chan struct{}
	replenishChan   chan struct{}
}

// NewScriptPool creates a ScriptPool. WithScriptEngine is required.
func NewScriptPool(opts ...func(*ScriptPool)) (*ScriptPool, error) {
	cpuCount := runtime.GOMAXPROCS(0)

	p := &ScriptPool{
		logger: slog.Default(),
		options: &ScriptPoolOption{
			minPoolSize:     uint32(cpuCount),
			maxPoolSize:     uint32(cpuCount * 2),
			queueSize:       256,
			threadTTL:       0,
			maxExecutions:   0,
			enqueueTimeout:  30 * time.Second,
			executeTimeout:  60 * time.Second,
			createThreshold: 0.5,
			selectThreshold: 0.75,
		},
		stopCleanup:   make(chan struct{}),
		replenishChan: make(chan struct{}, 1),
	}
	emptyIds := make([]uint32, 0)
	p.threadIds.Store(&emptyIds)

	for _, opt := range opts {
		opt(p)
	}

	if p.engineFactory == nil {
		return nil, fmt.Errorf("script engine factory must be provided")
	}
	if p.options.maxPoolSize < p.options.minPoolSize {
		p.options.maxPoolSize = p.options.minPoolSize
	}

	return p, nil
}

// WithScriptEngine configures the factory that creates one engine per thread.
func WithScriptEngine(factory ScriptEngineFactory) func(*ScriptPool) {
	return func(p *ScriptPool) {
		p.engineFactory = factory
	}
}

// WithScripts configures the scripts loaded into every engine.
func WithScripts(scripts ...*Script) func(*ScriptPool) {
	return func(p *ScriptPool) {
		p.setScripts(scripts)
	}
}

// WithPoolLogger configures the logger for the pool. A nil logger disables
// logging.
func WithPoolLogger(logger *slog.Logger) func(*ScriptPool) {
	return func(p *ScriptPool) {
		p.logger = logger
	}
}

func WithMinPoolSize(size uint32) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if size > 0 {
			p.options.minPoolSize = size
		}
	}
}

func WithMaxPoolSize(size uint32) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if size > 0 {
			p.options.maxPoolSize = size
		}
	}
}

func WithQueueSize(size uint32) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if size > 0 {
			p.options.queueSize = size
		}
	}
}

func WithThreadTTL(ttl time.Duration) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if ttl > 0 {
			p.options.threadTTL = ttl
		}
	}
}

func WithMaxExecutions(max uint32) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if max > 0 {
			p.options.maxExecutions = max
		}
	}
}

func WithEnqueueTimeout(timeout time.Duration) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if timeout > 0 {
			p.options.enqueueTimeout = timeout
		}
	}
}

// WithExecuteTimeout bounds how long a ScriptFuture waits for its result.
// A zero or negative timeout leaves the default in place.
func WithExecuteTimeout(timeout time.Duration) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if timeout > 0 {
			p.options.executeTimeout = timeout
		}
	}
}

func WithCreateThreshold(threshold float64) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if threshold > 0 && threshold <= 1.0 {
			p.options.createThreshold = threshold
		}
	}
}

func WithSelectThreshold(threshold float64) func(*ScriptPool) {
	return func(p *ScriptPool) {
		if threshold > 0 && threshold <= 1.0 {
			p.options.selectThreshold = threshold
		}
	}
}

// getScripts returns the current scripts (no copy, read-only).
func (p *ScriptPool) getScripts() []*Script {
	if ptr := p.scripts.Load(); ptr != nil {
		return *ptr
	}
	return nil
}

// setScripts atomically replaces the scripts with a copy of scripts.
func (p *ScriptPool) setScripts(scripts []*Script) {
	if len(scripts) == 0 {
		p.scripts.Store(nil)
		return
	}
	newScripts := make([]*Script, len(scripts))
	copy(newScripts, scripts)
	p.scripts.Store(&newScripts)
}

// Scripts returns the scripts loaded into new engines.
func (p *ScriptPool) Scripts() []*Script {
	return p.getScripts()
}

// ThreadCount returns the number of engine threads in the pool.
func (p *ScriptPool) ThreadCount() uint32 {
	return p.threadCount.Load()
}

// Start creates the minimum number of engine threads.
func (p *ScriptPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return nil
	}

	for i := uint32(0); i < p.options.minPoolSize; i++ {
		if _, err := p.createThread(); err != nil {
			p.stopThreads()
			return fmt.Errorf("failed to create thread %d: %w", i, err)
		}
	}
	p.started = true

	if p.options.threadTTL > 0 || p.options.maxExecutions > 0 {
		go p.retireThreads()
	}

	if p.logger != nil {
		p.logger.Debug("Script pool started",
			"minPoolSize", p.options.minPoolSize,
			"maxPoolSize", p.options.maxPoolSize,
			"queueSize", p.options.queueSize,
			"threadTTL", p.options.threadTTL,
			"maxExecutions", p.options.maxExecutions,
			"executeTimeout", p.options.executeTimeout,
			"createThreshold", p.options.createThreshold,
			"selectThreshold", p.options.selectThreshold,
			"initialThreads", p.threadCount.Load(),
		)
	}
	return nil
}

// Stop shuts down every engine thread. Calls still queued on a thread run
// before it stops; calls issued afterwards complete with ErrPoolStopped.
func (p *ScriptPool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	wasStarted := p.started
	p.stopped = true
	p.mu.Unlock()

	if wasStarted {
		close(p.stopCleanup)
	}
	p.stopThreads()

	if p.logger != nil {
		p.logger.Debug("Script pool stopped")
	}
	return nil
}

func (p *ScriptPool) stopThreads() {
	p.threads.Range(func(key, value any) bool {
		if _, loaded := p.threads.LoadAndDelete(key); loaded {
			p.removeThreadFromList(key.(uint32))
			p.threadCount.Add(^uint32(0))
			_ = value.(*scriptThread).stop()
		}
		return true
	})
}

// Reload replaces the scripts, if any are given, and reloads them into every
// engine thread.
func (p *ScriptPool) Reload(scripts ...*Script) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	if len(scripts) > 0 {
		p.setScripts(scripts)
	}

	var reloadError error
	p.threads.Range(func(key, value any) bool {
		t := value.(*scriptThread)
		if err := t.reload(); err != nil {
			reloadError = fmt.Errorf("failed to reload thread %s: %w", t.name, err)
			return false
		}
		return true
	})

	if reloadError == nil && p.logger != nil {
		p.logger.Debug("All threads reloaded successfully",
			"threadCount", p.threadCount.Load())
	}
	return reloadError
}

// Call returns a future for calling a global JavaScript function. The call
// is handed to an engine thread on the future's first poll.
func (p *ScriptPool) Call(call *ScriptCall) *ScriptFuture {
	return newScriptFuture(p, call)
}

// CallFunction is shorthand for Call with a ScriptCall built from name and
// args.
func (p *ScriptPool) CallFunction(name string, args ...any) *ScriptFuture {
	return p.Call(&ScriptCall{Function: name, Args: args})
}

// dispatch hands job to an engine thread. It never blocks: when no thread
// can take the job right away, a goroutine keeps trying, growing the pool
// if allowed. Failures complete the job with an error.
func (p *ScriptPool) dispatch(job *scriptJob) {
	p.mu.RLock()
	started, stopped := p.started, p.stopped
	p.mu.RUnlock()

	switch {
	case stopped:
		job.fail(ErrPoolStopped)
		return
	case !started:
		job.fail(ErrPoolNotStarted)
		return
	}

	if t := p.selectThread(job.call); t != nil {
		threshold := int(float64(p.options.queueSize) * p.options.createThreshold)
		if t.queueLen() < threshold || p.threadCount.Load() >= p.options.maxPoolSize {
			if t.enqueue(job) {
				return
			}
		}
	}

	go p.enqueueSlow(job)
}

// enqueueSlow retries until a thread accepts job, the pool stops or the
// enqueue timeout expires.
func (p *ScriptPool) enqueueSlow(job *scriptJob) {
	deadline := time.Now().Add(p.options.enqueueTimeout)
	ticker := time.NewTicker(enqueueRetryInterval)
	defer ticker.Stop()

	for {
		if p.isStopped() {
			job.fail(ErrPoolStopped)
			return
		}

		if t, err := p.getOrCreateThread(job.call); err == nil && t.enqueue(job) {
			return
		}

		if time.Now().After(deadline) {
			job.fail(ErrEnqueueTimeout)
			return
		}
		<-ticker.C
	}
}

// addThreadToList adds a thread id to the round-robin list using copy-on-write.
func (p *ScriptPool) addThreadToList(threadId uint32) {
	for {
		oldIdsPtr := p.threadIds.Load()
		oldIds := *oldIdsPtr
		newIds := make([]uint32, len(oldIds)+1)
		copy(newIds, oldIds)
		newIds[len(oldIds)] = threadId

		if p.threadIds.CompareAndSwap(oldIdsPtr, &newIds) {
			return
		}
	}
}

// removeThreadFromList removes a thread id from the round-robin list using
// copy-on-write.
func (p *ScriptPool) removeThreadFromList(threadId uint32) {
	for {
		oldIdsPtr := p.threadIds.Load()
		oldIds := *oldIdsPtr
		newIds := make([]uint32, 0, len(oldIds))
		for _, id := range oldIds {
			if id != threadId {
				newIds = append(newIds, id)
			}
		}

		if p.threadIds.CompareAndSwap(oldIdsPtr, &newIds) {
			return
		}
	}
}

// removeThread takes a thread out of rotation and asks for replenishment.
func (p *ScriptPool) removeThread(threadId uint32) {
	if _, loaded := p.threads.LoadAndDelete(threadId); loaded {
		p.removeThreadFromList(threadId)
		p.threadCount.Add(^uint32(0))
		p.notifyReplenish()
	}
}

// notifyReplenish asks the cleanup goroutine to top the pool back up.
func (p *ScriptPool) notifyReplenish() {
	select {
	case p.replenishChan <- struct{}{}:
	default:
	}
}

// createThread creates and starts a new engine thread.
func (p *ScriptPool) createThread() (*scriptThread, error) {
	newCount := p.threadCount.Add(1)
	if newCount > p.options.maxPoolSize {
		p.threadCount.Add(^uint32(0))
		return nil, fmt.Errorf("max pool size reached")
	}

	threadId := p.threadIdCounter.Add(1)
	t := newScriptThread(p, "thread-"+strconv.FormatUint(uint64(threadId), 10), threadId)

	go t.run()

	if err := <-t.initCh; err != nil {
		p.threadCount.Add(^uint32(0))
		return nil, fmt.Errorf("thread initialization failed: %w", err)
	}

	p.threads.Store(threadId, t)
	p.addThreadToList(threadId)
	return t, nil
}

// selectThread picks a thread for call: the pinned thread if it exists,
// otherwise round-robin, skipping threads above the select threshold.
func (p *ScriptPool) selectThread(call *ScriptCall) *scriptThread {
	if call.ThreadId != 0 {
		if t, found := p.threads.Load(call.ThreadId); found {
			return t.(*scriptThread)
		}
	}

	threadIds := *p.threadIds.Load()
	listLen := uint32(len(threadIds))
	if listLen == 0 {
		return nil
	}

	startIndex := p.roundRobinIndex.Add(1) % listLen
	queueThreshold := int(float64(p.options.queueSize) * p.options.selectThreshold)
	for i := uint32(0); i < listLen; i++ {
		threadId := threadIds[(startIndex+i)%listLen]
		if t, exists := p.threads.Load(threadId); exists {
			if th := t.(*scriptThread); th.queueLen() < queueThreshold {
				return th
			}
		}
	}

	if t, exists := p.threads.Load(threadIds[startIndex]); exists {
		return t.(*scriptThread)
	}
	return nil
}

// getOrCreateThread gets an existing thread or creates one under load.
func (p *ScriptPool) getOrCreateThread(call *ScriptCall) (*scriptThread, error) {
	if t := p.selectThread(call); t != nil {
		queueThreshold := int(float64(p.options.queueSize) * p.options.createThreshold)
		if t.queueLen() < queueThreshold {
			return t, nil
		}
	}

	if current := p.threadCount.Load(); current < p.options.maxPoolSize {
		if p.logger != nil {
			p.logger.Debug("Creating new thread due to high load",
				"currentThreads", current,
				"maxPoolSize", p.options.maxPoolSize)
		}
		if t, err := p.createThread(); err == nil {
			return t, nil
		}
	}

	t := p.selectThread(call)
	if t == nil {
		return nil, fmt.Errorf("no available thread in pool")
	}
	return t, nil
}

// retireThreads runs the background cleanup of idle or overused threads.
func (p *ScriptPool) retireThreads() {
	interval := time.Minute
	if p.options.threadTTL > 0 {
		interval = p.options.threadTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performCleanup()
		case <-p.replenishChan:
			p.replenish()
		case <-p.stopCleanup:
			return
		}
	}
}

// shouldRemoveThread determines if a thread is idle past its TTL.
func (p *ScriptPool) shouldRemoveThread(t *scriptThread, now time.Time) bool {
	return p.options.threadTTL > 0 && now.Sub(t.getLastUsed()) > p.options.threadTTL
}

// performCleanup retires idle threads while keeping the minimum pool size.
func (p *ScriptPool) performCleanup() {
	now := time.Now()
	currentThreadCount := p.threadCount.Load()
	if currentThreadCount <= p.options.minPoolSize {
		return
	}

	var toRemove []*scriptThread
	p.threads.Range(func(key, value any) bool {
		t := value.(*scriptThread)
		if p.shouldRemoveThread(t, now) &&
			currentThreadCount-uint32(len(toRemove)) > p.options.minPoolSize {
			toRemove = append(toRemove, t)
		}
		return true
	})

	for _, t := range toRemove {
		if _, loaded := p.threads.LoadAndDelete(t.threadId); !loaded {
			continue
		}
		p.removeThreadFromList(t.threadId)
		p.threadCount.Add(^uint32(0))

		go func(th *scriptThread, lastUsed time.Time) {
			_ = th.retire()
			if p.logger != nil {
				p.logger.Debug("Thread removed",
					"thread", th.name,
					"reason", "idle timeout",
					"executions", th.getJobCount(),
					"idleTime", now.Sub(lastUsed),
					"remainingThreads", p.threadCount.Load())
			}
		}(t, t.getLastUsed())
	}
}

// replenish creates threads until the pool is back at its minimum size.
func (p *ScriptPool) replenish() {
	for p.threadCount.Load() < p.options.minPoolSize && !p.isStopped() {
		t, err := p.createThread()
		if err != nil {
			if p.logger != nil {
				p.logger.Error("Failed to create replenishment thread", "error", err)
			}
			return
		}
		// Stop may have missed a thread created while it ran
		if p.isStopped() {
			p.removeThread(t.threadId)
			_ = t.stop()
			return
		}
	}
}

func (p *ScriptPool) isStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}
