// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

// BlockOn drives fut to completion on the calling goroutine and returns its
// value. Between polls the goroutine sleeps until the future's waker fires,
// so a future that returns Pending without arranging a wake blocks forever.
func BlockOn[T any](fut Future[T]) T {
	signal := make(chan struct{}, 1)
	cx := NewContext(WakerFunc(func() {
		select {
		case signal <- struct{}{}:
		default:
		}
	}))

	for {
		if p := fut.Poll(cx); p.IsReady() {
			return p.Value()
		}
		<-signal
	}
}
