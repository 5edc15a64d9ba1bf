// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unit scales the durations used by timing tests.
const unit = 10 * time.Millisecond

// runWithTimeout runs e until it terminates, failing the test if it takes
// longer than a few seconds.
func runWithTimeout(t *testing.T, e *Executor) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not terminate")
	}
}

func newTestExecutor() (*Executor, *Spawner) {
	return NewExecutorAndSpawner(WithLogger(nil))
}

func TestTaskStatus_String(t *testing.T) {
	tests := []struct {
		status   taskStatus
		expected string
	}{
		{taskStatusQueued, "queued"},
		{taskStatusPolling, "polling"},
		{taskStatusRepoll, "repoll"},
		{taskStatusParked, "parked"},
		{taskStatusDone, "done"},
		{taskStatus(42), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, tt.status.String())
	}
}

func TestExecutor_TerminatesWithNoTasks(t *testing.T) {
	e, s := newTestExecutor()
	s.Close()
	runWithTimeout(t, e)

	stats := e.Stats()
	require.Zero(t, stats.Spawned)
	require.Zero(t, stats.Spawners)
}

func TestExecutor_PollsInSpawnOrder(t *testing.T) {
	e, s := newTestExecutor()

	var order []int
	for i := 1; i <= 3; i++ {
		s.Spawn(Discard(Lazy(func() int {
			order = append(order, i)
			return i
		})))
	}
	s.Close()
	runWithTimeout(t, e)

	require.Equal(t, []int{1, 2, 3}, order)
	require.Equal(t, uint64(3), e.Stats().Completed)
}

func TestExecutor_TimerTask(t *testing.T) {
	e, s := newTestExecutor()

	start := time.Now()
	var elapsed time.Duration
	s.Spawn(Then[Unit, Unit](NewTimerFuture(2*unit), func(Unit) Future[Unit] {
		elapsed = time.Since(start)
		return ReadyFuture(Unit{})
	}))
	s.Close()
	runWithTimeout(t, e)

	require.GreaterOrEqual(t, elapsed, 2*unit)
}

func TestExecutor_TasksSpawnTasks(t *testing.T) {
	e, s := newTestExecutor()
	child := s.Clone()

	var ran atomic.Int32
	s.Spawn(Lazy(func() Unit {
		child.Spawn(Lazy(func() Unit {
			ran.Add(1)
			return Unit{}
		}))
		child.Close()
		ran.Add(1)
		return Unit{}
	}))
	s.Close()
	runWithTimeout(t, e)

	require.Equal(t, int32(2), ran.Load())
}

func TestExecutor_SpawnFromOtherGoroutine(t *testing.T) {
	e, s := newTestExecutor()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run()
	}()

	var ran atomic.Bool
	time.Sleep(unit)
	s.Spawn(Lazy(func() Unit {
		ran.Store(true)
		return Unit{}
	}))
	s.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not terminate")
	}
	require.True(t, ran.Load())
}

func TestExecutor_CloneKeepsExecutorAlive(t *testing.T) {
	e, s := newTestExecutor()
	clone := s.Clone()
	s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run()
	}()

	select {
	case <-done:
		t.Fatal("executor terminated while a clone was open")
	case <-time.After(2 * unit):
	}

	require.Equal(t, 1, e.Stats().Spawners)
	clone.Close()
	<-done
}

func TestSpawner_CloseIsIdempotent(t *testing.T) {
	e, s := newTestExecutor()
	clone := s.Clone()
	s.Close()
	s.Close()
	require.Equal(t, 1, e.Stats().Spawners)
	clone.Close()
	runWithTimeout(t, e)
}

func TestSpawner_Misuse(t *testing.T) {
	e, s := newTestExecutor()

	require.PanicsWithValue(t, ErrNilFuture, func() { s.Spawn(nil) })

	s.Close()
	require.PanicsWithValue(t, ErrSpawnerClosed, func() { s.Spawn(ReadyFuture(Unit{})) })
	require.PanicsWithValue(t, ErrSpawnerClosed, func() { s.Clone() })

	runWithTimeout(t, e)
}

func TestExecutor_SpawnAfterTermination(t *testing.T) {
	e, s := newTestExecutor()
	s.Close()
	runWithTimeout(t, e)

	require.PanicsWithValue(t, ErrExecutorTerminated, func() { e.spawn(ReadyFuture(Unit{})) })
}

func TestExecutor_RunAfterTerminationReturns(t *testing.T) {
	e, s := newTestExecutor()
	s.Close()
	runWithTimeout(t, e)
	runWithTimeout(t, e)
}

func TestExecutor_ReentrantRunPanics(t *testing.T) {
	e, s := newTestExecutor()
	s.Spawn(Lazy(func() Unit {
		e.Run()
		return Unit{}
	}))
	s.Close()

	require.PanicsWithValue(t, ErrExecutorRunning, func() { e.Run() })
}

func TestExecutor_TaskPanicPropagates(t *testing.T) {
	e, s := newTestExecutor()
	boom := errors.New("boom")
	s.Spawn(Lazy(func() Unit { panic(boom) }))
	s.Close()

	require.PanicsWithValue(t, boom, func() { e.Run() })
}

func TestExecutor_PendingWithoutWakerDoesNotBlock(t *testing.T) {
	e, s := newTestExecutor()

	var polls atomic.Int32
	s.Spawn(FutureFunc[Unit](func(*Context) Poll[Unit] {
		polls.Add(1)
		return Pending[Unit]()
	}))
	s.Close()
	runWithTimeout(t, e)

	stats := e.Stats()
	require.Equal(t, int32(1), polls.Load())
	require.Equal(t, uint64(1), stats.Spawned)
	require.Zero(t, stats.Completed)
	require.Zero(t, stats.Parked)
}

func TestExecutor_DroppedWakerDoesNotBlock(t *testing.T) {
	e, s := newTestExecutor()

	var polls atomic.Int32
	s.Spawn(FutureFunc[Unit](func(cx *Context) Poll[Unit] {
		polls.Add(1)
		_ = cx.Waker()
		return Pending[Unit]()
	}))
	s.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run()
	}()
	require.Eventually(t, func() bool {
		runtime.GC()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, unit)

	stats := e.Stats()
	require.Equal(t, int32(1), polls.Load())
	require.Zero(t, stats.Completed)
	require.Zero(t, stats.Parked)
}

func TestExecutor_RepolledTaskKeepsOlderWaker(t *testing.T) {
	e, s := newTestExecutor()

	var kept Waker
	var polls atomic.Int32
	s.Spawn(FutureFunc[Unit](func(cx *Context) Poll[Unit] {
		switch polls.Add(1) {
		case 1:
			kept = cx.Waker()
			cx.Waker().Wake()
		case 2:
			w := kept
			go func() {
				for i := 0; i < 3; i++ {
					runtime.GC()
					time.Sleep(unit)
				}
				w.Wake()
			}()
		default:
			return Ready(Unit{})
		}
		return Pending[Unit]()
	}))
	s.Close()
	runWithTimeout(t, e)

	require.Equal(t, int32(3), polls.Load())
	require.Equal(t, uint64(1), e.Stats().Completed)
}

func TestExecutor_SpawnCountedBeforeQueued(t *testing.T) {
	e, s := newTestExecutor()

	go func() {
		defer s.Close()
		for i := 0; i < 200; i++ {
			s.Spawn(ReadyFuture(Unit{}))
		}
	}()

	var stop, overtaken atomic.Bool
	checked := make(chan struct{})
	go func() {
		defer close(checked)
		for !stop.Load() {
			if stats := e.Stats(); stats.Completed > stats.Spawned {
				overtaken.Store(true)
			}
			runtime.Gosched()
		}
	}()
	runWithTimeout(t, e)
	stop.Store(true)
	<-checked

	stats := e.Stats()
	require.False(t, overtaken.Load())
	require.Equal(t, uint64(200), stats.Spawned)
	require.Equal(t, uint64(200), stats.Completed)
}

func TestExecutor_ArmedTaskKeepsExecutorAlive(t *testing.T) {
	e, s := newTestExecutor()

	var woken atomic.Bool
	s.Spawn(FutureFunc[Unit](func(cx *Context) Poll[Unit] {
		if woken.Load() {
			return Ready(Unit{})
		}
		w := cx.Waker()
		go func() {
			time.Sleep(2 * unit)
			woken.Store(true)
			w.Wake()
		}()
		return Pending[Unit]()
	}))
	s.Close()
	runWithTimeout(t, e)

	require.True(t, woken.Load())
	require.Equal(t, uint64(1), e.Stats().Completed)
}

func TestExecutor_WakeAfterCompletionIsHarmless(t *testing.T) {
	e, s := newTestExecutor()

	var waker Waker
	s.Spawn(FutureFunc[Unit](func(cx *Context) Poll[Unit] {
		waker = cx.Waker()
		return Ready(Unit{})
	}))
	s.Close()
	runWithTimeout(t, e)

	before := e.Stats()
	require.NotPanics(t, func() {
		waker.Wake()
		waker.Wake()
	})
	require.Equal(t, before, e.Stats())
}

func TestExecutor_WakeDuringPollRequeues(t *testing.T) {
	e, s := newTestExecutor()

	var result string
	s.Spawn(Map(Future[string](NewDelay(2*unit)), func(v string) Unit {
		result = v
		return Unit{}
	}))
	s.Close()
	runWithTimeout(t, e)

	require.Equal(t, "done", result)
	require.Greater(t, e.Stats().Polled, uint64(1))
}

func TestExecutor_ConcurrentWakesRequeueOnce(t *testing.T) {
	e, s := newTestExecutor()

	var polls atomic.Int32
	s.Spawn(FutureFunc[Unit](func(cx *Context) Poll[Unit] {
		if polls.Add(1) > 1 {
			return Ready(Unit{})
		}
		w := cx.Waker()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Wake()
			}()
		}
		go func() {
			wg.Wait()
			w.Wake()
		}()
		return Pending[Unit]()
	}))
	s.Close()
	runWithTimeout(t, e)

	require.Equal(t, int32(2), polls.Load())
}

func TestExecutor_Stats(t *testing.T) {
	e, s := newTestExecutor()
	for i := 0; i < 5; i++ {
		s.Spawn(NewTimerFuture(unit))
	}

	stats := e.Stats()
	require.Equal(t, uint64(5), stats.Spawned)
	require.Equal(t, 5, stats.Queued)
	require.Equal(t, 1, stats.Spawners)

	s.Close()
	runWithTimeout(t, e)

	stats = e.Stats()
	require.Equal(t, uint64(5), stats.Completed)
	require.Equal(t, uint64(10), stats.Polled)
	require.Zero(t, stats.Queued)
	require.Zero(t, stats.Parked)
}

func TestExecutor_WithName(t *testing.T) {
	e, s := NewExecutorAndSpawner(WithName("worker"), WithName(""))
	defer s.Close()
	require.Equal(t, "worker", e.name)
}

func TestReadyQueue(t *testing.T) {
	q := newReadyQueue()
	require.True(t, q.empty())

	_, ok := q.pop()
	require.False(t, ok)

	for i := uint64(1); i <= 200; i++ {
		q.push(&task{id: i})
	}
	require.Equal(t, 200, q.len())

	for i := uint64(1); i <= 190; i++ {
		tk, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, i, tk.id)
	}
	require.Equal(t, 10, q.len())
	require.Less(t, cap(q.tasks), 200)

	for i := uint64(191); i <= 200; i++ {
		tk, _ := q.pop()
		require.Equal(t, i, tk.id)
	}
	require.True(t, q.empty())
}
