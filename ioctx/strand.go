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
	"sync"

	"github.com/vinipsmaker/iofiber/common"
)

// Strand is a serializing executor: handlers submitted to it run one at a
// time, in submission order, regardless of how many goroutines drive the
// owning context.
type Strand struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	ctx *Context

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// Handlers waiting their turn.
	//
	// GUARDED_BY(mu)
	queue common.Queue[func()]

	// Whether a goroutine currently owns the right to run handlers (a drain
	// job is queued on the context, or a Dispatch caller claimed the strand
	// inline). While set, newly submitted handlers only join the queue.
	//
	// GUARDED_BY(mu)
	scheduled bool
}

// NewStrand creates a strand executing on the given context.
func NewStrand(ctx *Context) *Strand {
	return &Strand{
		ctx:   ctx,
		queue: common.NewLinkedListQueue[func()](),
	}
}

// Context returns the owning execution context.
func (s *Strand) Context() *Context {
	return s.ctx
}

// OnWorkStarted pins the owning context: Run will not return for lack of
// work while the count is outstanding.
func (s *Strand) OnWorkStarted() {
	s.ctx.workStarted()
}

// OnWorkFinished releases a unit of outstanding work.
func (s *Strand) OnWorkFinished() {
	s.ctx.workFinished()
}

// Post submits h to run on the strand and returns without running it.
func (s *Strand) Post(h func()) {
	s.mu.Lock()
	s.queue.Push(h)
	if s.scheduled {
		s.mu.Unlock()
		return
	}
	s.scheduled = true
	s.mu.Unlock()

	s.ctx.post(s.drain)
}

// Dispatch runs h immediately, on the calling goroutine, when the strand is
// free; otherwise it enqueues h behind the handlers already submitted.
// Either way h runs serialized with every other handler of the strand.
func (s *Strand) Dispatch(h func()) {
	s.mu.Lock()
	if s.scheduled {
		s.queue.Push(h)
		s.mu.Unlock()
		return
	}
	s.scheduled = true
	s.mu.Unlock()

	s.runOne(h)
	s.drain()
}

// drain runs queued handlers until the queue is empty, then releases the
// strand. If the context is stopped while handlers are still queued, drain
// re-posts itself and returns, keeping the strand claimed until a later Run
// picks it up. Only the holder of the scheduled claim executes it.
func (s *Strand) drain() {
	for {
		s.mu.Lock()
		if s.queue.IsEmpty() {
			s.scheduled = false
			s.mu.Unlock()
			return
		}
		s.ctx.mu.Lock()
		stopped := s.ctx.stopped
		s.ctx.mu.Unlock()
		if stopped {
			s.mu.Unlock()
			s.ctx.post(s.drain)
			return
		}
		h := s.queue.Pop()
		s.mu.Unlock()

		s.runOne(h)
	}
}

func (s *Strand) runOne(h func()) {
	h()
}
