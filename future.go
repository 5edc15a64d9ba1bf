// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

// Unit is the value produced by futures that only signal completion.
type Unit = struct{}

// Poll is the outcome of a single attempt to advance a Future.
type Poll[T any] struct {
	ready bool
	value T
}

// Ready returns a completed Poll carrying v.
func Ready[T any](v T) Poll[T] {
	return Poll[T]{ready: true, value: v}
}

// Pending returns a Poll reporting that the future cannot make progress yet.
func Pending[T any]() Poll[T] {
	return Poll[T]{}
}

// IsReady reports whether the future completed.
func (p Poll[T]) IsReady() bool { return p.ready }

// IsPending reports whether the future has not completed yet.
func (p Poll[T]) IsPending() bool { return !p.ready }

// Value returns the completed value, or the zero value while pending.
func (p Poll[T]) Value() T { return p.value }

// Future is an asynchronous computation driven by repeated calls to Poll.
//
// Poll must not block. When it returns Pending it must arrange for the waker
// obtained from cx.Waker() to be invoked once progress is possible; only the
// waker of the most recent poll needs to be woken. Once a future returned a
// Ready result it must not be polled again.
type Future[T any] interface {
	Poll(cx *Context) Poll[T]
}

// FutureFunc adapts an ordinary function to the Future interface.
type FutureFunc[T any] func(cx *Context) Poll[T]

// Poll calls f(cx).
func (f FutureFunc[T]) Poll(cx *Context) Poll[T] {
	return f(cx)
}
