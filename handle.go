// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"context"
	"sync"
)

// JoinHandle gives access to the result of a future spawned with
// SpawnWithHandle. It is itself a Future, so other tasks can await it, and it
// offers blocking Wait for plain goroutines.
type JoinHandle[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
	waker Waker
	ch    chan struct{} // Closed on completion
}

// SpawnWithHandle spawns fut on s and returns a handle to its result.
func SpawnWithHandle[T any](s *Spawner, fut Future[T]) *JoinHandle[T] {
	if fut == nil {
		panic(ErrNilFuture)
	}
	h := &JoinHandle[T]{ch: make(chan struct{})}
	s.Spawn(Map(fut, func(v T) Unit {
		h.complete(v)
		return Unit{}
	}))
	return h
}

func (h *JoinHandle[T]) complete(v T) {
	h.mu.Lock()
	h.value = v
	h.done = true
	w := h.waker
	h.waker = nil
	close(h.ch)
	h.mu.Unlock()

	if w != nil {
		w.Wake()
	}
}

// Poll implements Future.
func (h *JoinHandle[T]) Poll(cx *Context) Poll[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return Ready(h.value)
	}
	h.waker = cx.Waker()
	return Pending[T]()
}

// Done returns a channel that is closed once the spawned future completed.
func (h *JoinHandle[T]) Done() <-chan struct{} {
	return h.ch
}

// Wait blocks until the spawned future completed and returns its value.
func (h *JoinHandle[T]) Wait() T {
	<-h.ch
	return h.value
}

// WaitContext is like Wait but gives up when ctx is done.
func (h *JoinHandle[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-h.ch:
		return h.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
