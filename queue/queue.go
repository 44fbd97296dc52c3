// usbcam-recorder - capture video frames from a USB bulk camera
//  Copyright (C) 2026, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package queue provides the bounded hand-off between pipeline stages.
// Producers never block: a push to a full queue drops the chunk.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTimeout = errors.New("queue pop timed out")
	ErrClosed  = errors.New("queue closed")
)

type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Popped  uint64 `json:"popped"`
}

// Queue is a bounded FIFO of byte slices. Any number of goroutines may
// push and pop. Close must only be called once all pushers are done.
type Queue struct {
	c         chan []byte
	closeOnce sync.Once

	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64
}

func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{c: make(chan []byte, capacity)}
}

// TryPush adds b to the queue without blocking. It returns false, and
// counts a drop, if the queue is full.
func (q *Queue) TryPush(b []byte) bool {
	select {
	case q.c <- b:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for the next item. It returns ErrClosed once
// the queue has been closed and emptied, ErrTimeout if nothing arrived
// in time, or the context's error if ctx is done first.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	// Items already queued are returned even when ctx is done.
	select {
	case b, ok := <-q.c:
		return q.received(b, ok)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b, ok := <-q.c:
		return q.received(b, ok)
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) received(b []byte, ok bool) ([]byte, error) {
	if !ok {
		return nil, ErrClosed
	}
	q.popped.Add(1)
	return b, nil
}

// Close marks the end of the stream. Items still queued can be popped
// afterwards. Closing more than once is harmless.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.c) })
}

func (q *Queue) Len() int {
	return len(q.c)
}

func (q *Queue) Cap() int {
	return cap(q.c)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Popped:  q.popped.Load(),
	}
}
