// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package asyncexecutor is a single-threaded cooperative executor for
// poll-based futures.
//
// A Future is advanced by Poll. When it cannot make progress it returns
// Pending and arranges for the Waker from its Context to be called later;
// waking puts the owning task back on the executor's ready queue. Run polls
// tasks one at a time on the calling goroutine and returns once every
// Spawner is closed and no task is left that could still be woken.
//
// Leaf futures provided here are TimerFuture, Delay and ScriptFuture, the
// last one backed by a ScriptPool of JavaScript engine threads (see the
// engines subpackages). Select, SelectAll, JoinAll, Then and Map compose
// futures; BlockOn drives a single future without an Executor.
package asyncexecutor
