// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import "errors"

// ErrPolledAfterCompletion is the panic value of polling a combinator that
// already returned Ready.
var ErrPolledAfterCompletion = errors.New("asyncexecutor: future polled after completion")

// ReadyFuture returns a future that completes with v on its first poll.
func ReadyFuture[T any](v T) Future[T] {
	return FutureFunc[T](func(*Context) Poll[T] {
		return Ready(v)
	})
}

// Lazy returns a future that calls fn on its first poll and completes with
// the result.
func Lazy[T any](fn func() T) Future[T] {
	return FutureFunc[T](func(*Context) Poll[T] {
		return Ready(fn())
	})
}

// Map returns a future that completes with fn applied to the result of f.
func Map[A, B any](f Future[A], fn func(A) B) Future[B] {
	return FutureFunc[B](func(cx *Context) Poll[B] {
		p := f.Poll(cx)
		if p.IsPending() {
			return Pending[B]()
		}
		return Ready(fn(p.Value()))
	})
}

// Discard returns a future that completes when f completes and drops its
// value, so any future can be handed to Spawner.Spawn.
func Discard[T any](f Future[T]) Future[Unit] {
	return Map(f, func(T) Unit { return Unit{} })
}

// then is the state machine behind Then.
type then[A, B any] struct {
	first  Future[A]
	fn     func(A) Future[B]
	second Future[B]
	done   bool
}

// Then returns a future that awaits f, passes its result to fn and then
// awaits the future fn returns.
func Then[A, B any](f Future[A], fn func(A) Future[B]) Future[B] {
	return &then[A, B]{first: f, fn: fn}
}

func (t *then[A, B]) Poll(cx *Context) Poll[B] {
	if t.done {
		panic(ErrPolledAfterCompletion)
	}
	if t.second == nil {
		p := t.first.Poll(cx)
		if p.IsPending() {
			return Pending[B]()
		}
		t.second = t.fn(p.Value())
		t.first = nil
	}
	p := t.second.Poll(cx)
	if p.IsReady() {
		t.done = true
	}
	return p
}

// Fused wraps a future so that it is never polled again after completing.
type Fused[T any] struct {
	inner      Future[T]
	terminated bool
}

// Fuse wraps f into a Fused future.
func Fuse[T any](f Future[T]) *Fused[T] {
	return &Fused[T]{inner: f}
}

// Poll implements Future. Once the inner future completed, Poll returns
// Pending without arming the waker.
func (f *Fused[T]) Poll(cx *Context) Poll[T] {
	if f.terminated {
		return Pending[T]()
	}
	p := f.inner.Poll(cx)
	if p.IsReady() {
		f.terminated = true
		f.inner = nil
	}
	return p
}

// IsTerminated reports whether the inner future already completed.
func (f *Fused[T]) IsTerminated() bool {
	return f.terminated
}

// Either holds the result of Select: the value of whichever future won.
type Either[A, B any] struct {
	IsFirst bool // True if the first future completed first
	First   A    // Result of the first future when IsFirst
	Second  B    // Result of the second future when !IsFirst
}

// Select returns a future that completes as soon as either a or b
// completes. a is polled before b on every poll, so a wins ties. The losing
// future is left as is; background work it started keeps running and its
// eventual wake is harmless.
func Select[A, B any](a Future[A], b Future[B]) Future[Either[A, B]] {
	done := false
	return FutureFunc[Either[A, B]](func(cx *Context) Poll[Either[A, B]] {
		if done {
			panic(ErrPolledAfterCompletion)
		}
		if p := a.Poll(cx); p.IsReady() {
			done = true
			return Ready(Either[A, B]{IsFirst: true, First: p.Value()})
		}
		if p := b.Poll(cx); p.IsReady() {
			done = true
			return Ready(Either[A, B]{Second: p.Value()})
		}
		return Pending[Either[A, B]]()
	})
}

// SelectAllResult is the result of SelectAll.
type SelectAllResult[T any] struct {
	Value     T           // Result of the first future to complete
	Index     int         // Index of that future in the input slice
	Remaining []Future[T] // The other futures, in input order, not yet complete
}

// SelectAll returns a future that completes as soon as any of futs
// completes. Futures are polled in input order, so on a tie the lowest index
// wins. SelectAll panics if futs is empty.
func SelectAll[T any](futs []Future[T]) Future[SelectAllResult[T]] {
	if len(futs) == 0 {
		panic("asyncexecutor: SelectAll with no futures")
	}
	pending := append([]Future[T](nil), futs...)
	done := false
	return FutureFunc[SelectAllResult[T]](func(cx *Context) Poll[SelectAllResult[T]] {
		if done {
			panic(ErrPolledAfterCompletion)
		}
		for i, f := range pending {
			p := f.Poll(cx)
			if p.IsPending() {
				continue
			}
			done = true
			remaining := make([]Future[T], 0, len(pending)-1)
			remaining = append(remaining, pending[:i]...)
			remaining = append(remaining, pending[i+1:]...)
			return Ready(SelectAllResult[T]{Value: p.Value(), Index: i, Remaining: remaining})
		}
		return Pending[SelectAllResult[T]]()
	})
}

// JoinAll returns a future that completes once every future in futs has
// completed, with the results in input order. Completed futures are not
// polled again.
func JoinAll[T any](futs []Future[T]) Future[[]T] {
	fused := make([]*Fused[T], len(futs))
	for i, f := range futs {
		fused[i] = Fuse(f)
	}
	results := make([]T, len(futs))
	remaining := len(futs)
	return FutureFunc[[]T](func(cx *Context) Poll[[]T] {
		if remaining < 0 {
			panic(ErrPolledAfterCompletion)
		}
		for i, f := range fused {
			if f.IsTerminated() {
				continue
			}
			if p := f.Poll(cx); p.IsReady() {
				results[i] = p.Value()
				remaining--
			}
		}
		if remaining > 0 {
			return Pending[[]T]()
		}
		remaining = -1
		return Ready(results)
	})
}
