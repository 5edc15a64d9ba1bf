// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import "time"

// Delay completes with "done" once its deadline has passed.
//
// Unlike TimerFuture it starts no goroutine: every pending poll wakes its own
// task right away, so the executor keeps polling it until the deadline. This
// burns CPU and exists to contrast with TimerFuture.
type Delay struct {
	when time.Time
}

// NewDelay creates a Delay whose deadline is d from now.
func NewDelay(d time.Duration) *Delay {
	return &Delay{when: time.Now().Add(d)}
}

// Poll implements Future.
func (d *Delay) Poll(cx *Context) Poll[string] {
	if !time.Now().Before(d.when) {
		return Ready("done")
	}
	cx.Waker().Wake()
	return Pending[string]()
}
