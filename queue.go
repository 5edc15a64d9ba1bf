// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact below this capacity
	compactShrinkFactor = 4  // Compact when len < cap/4
)

// readyQueue is an unbounded FIFO of tasks eligible to be polled.
// It is not synchronized; the executor guards it with its own mutex.
type readyQueue struct {
	tasks []*task
}

func newReadyQueue() *readyQueue {
	return &readyQueue{tasks: make([]*task, 0, defaultQueueCap)}
}

func (q *readyQueue) push(t *task) {
	q.tasks = append(q.tasks, t)
}

func (q *readyQueue) pop() (*task, bool) {
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompact()
	return t, true
}

func (q *readyQueue) len() int {
	return len(q.tasks)
}

func (q *readyQueue) empty() bool {
	return len(q.tasks) == 0
}

// maybeCompact reallocates the backing array once most of it is dead space
// left behind by pop.
func (q *readyQueue) maybeCompact() {
	n, c := len(q.tasks), cap(q.tasks)
	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]*task, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}
	tasks := make([]*task, n, max(c/2, defaultQueueCap, n))
	copy(tasks, q.tasks)
	q.tasks = tasks
}
