// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ioctx

import (
	"sync/atomic"
	"time"
)

// timerEntry is a pending deadline in the context's timer heap.
type timerEntry struct {
	deadline time.Time
	seq      uint64

	// fire delivers the completion. Invoked exactly once, with nil on expiry
	// or ErrCanceled on cancellation.
	fire func(error)

	// index is the entry's position in the heap, or -1 once removed.
	index int
}

// timerHeap orders entries by deadline, breaking ties by registration order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var timerSeq atomic.Uint64

// Timer is a deadline timer bound to a strand. The wait completion handler
// runs on that strand. All methods must be called from the timer's strand
// (handlers or fibers running on it); the contract mirrors the rest of the
// runtime's single-strand discipline.
type Timer struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	strand *Strand

	/////////////////////////
	// Mutable state
	/////////////////////////

	// The absolute deadline used by the next AsyncWait.
	deadline time.Time

	// The outstanding wait, or nil.
	//
	// INVARIANT: At most one wait is outstanding at a time.
	pending *timerEntry
}

// NewTimer creates a timer whose completions are delivered on s.
func NewTimer(s *Strand) *Timer {
	return &Timer{strand: s}
}

// ExpiresAfter sets the deadline to now + d, cancelling any outstanding
// wait. Returns the number of waits cancelled.
func (t *Timer) ExpiresAfter(d time.Duration) int {
	n := t.Cancel()
	t.deadline = t.strand.Context().Clock().Now().Add(d)
	return n
}

// AsyncWait registers cb to be invoked on the timer's strand once the
// deadline is reached (with a nil error) or the wait is cancelled (with
// ErrCanceled). At most one wait may be outstanding.
func (t *Timer) AsyncWait(cb func(error)) {
	if t.pending != nil {
		panic("ioctx.Timer: AsyncWait called with a wait already outstanding")
	}

	s := t.strand
	s.OnWorkStarted()

	e := &timerEntry{
		deadline: t.deadline,
		seq:      timerSeq.Add(1),
		index:    -1,
	}
	e.fire = func(err error) {
		s.Post(func() {
			if t.pending == e {
				t.pending = nil
			}
			cb(err)
			s.OnWorkFinished()
		})
	}

	t.pending = e
	s.Context().addTimer(e)
}

// Cancel removes an outstanding wait, delivering ErrCanceled to its handler.
// Returns the number of waits cancelled (zero or one). A wait whose
// completion has already been queued is not cancellable.
func (t *Timer) Cancel() int {
	e := t.pending
	if e == nil {
		return 0
	}
	if !t.strand.Context().removeTimer(e) {
		return 0
	}
	t.pending = nil
	e.fire(ErrCanceled)
	return 1
}
