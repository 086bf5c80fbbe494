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

package fiber

import (
	"context"

	"github.com/vinipsmaker/iofiber/common"
	"github.com/vinipsmaker/iofiber/ioctx"
)

// Mutex provides mutual exclusion among fibers sharing one strand. Waiters
// are woken in strict FIFO order, and unlock transfers ownership directly to
// the oldest waiter.
//
// The mutex's strand and the strand of every fiber that locks it must be the
// same; the runtime does not synchronize fibers across strands.
//
// External synchronization is not required: all methods run on the mutex's
// strand, which serializes them.
type Mutex struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	s *ioctx.Strand

	/////////////////////////
	// Mutable state
	/////////////////////////

	// INVARIANT: locked == (owner != nil)
	locked bool
	owner  *fcb

	// Fibers waiting for the mutex, oldest first.
	//
	// INVARIANT: If !locked, the queue is empty.
	// INVARIANT: Every waiter's strand equals s.
	waiters common.Queue[*fcb]
}

// NewMutex creates a mutex whose lock and unlock operations execute on s.
func NewMutex(s *ioctx.Strand) (m *Mutex) {
	m = &Mutex{
		s:       s,
		waiters: common.NewLinkedListQueue[*fcb](),
	}
	return
}

// Executor returns the strand the mutex serializes on.
func (m *Mutex) Executor() *ioctx.Strand {
	return m.s
}

// CheckInvariants panics if any internal invariants are violated.
func (m *Mutex) CheckInvariants() {
	if m.locked != (m.owner != nil) {
		panic("fiber.Mutex: locked flag and owner disagree")
	}
	if !m.locked && !m.waiters.IsEmpty() {
		panic("fiber.Mutex: waiters on an unlocked mutex")
	}
}

// Lock acquires the mutex for the calling fiber. When the mutex is free the
// acquisition completes synchronously, without rescheduling through the
// strand queue. Otherwise the fiber suspends until an unlock transfers
// ownership to it.
//
// Lock is not an interruption point: a pending interruption stays queued and
// is delivered at the next eligible suspension point after the acquisition.
func (m *Mutex) Lock(tf This) {
	f := tf.f
	if f.strand != m.s {
		panic(f.name + ": Lock on a mutex bound to a different strand")
	}
	if m.owner == f {
		panic(f.name + ": recursive Lock would deadlock the fiber")
	}

	if !m.locked {
		m.locked = true
		m.owner = f
		return
	}

	// Contended path: wait for ownership. Interruption is kept disabled for
	// the duration of the wait so the acquisition itself can never raise.
	f.mu.Lock()
	if f.forbidSuspendDepth > 0 {
		f.mu.Unlock()
		panic(f.name + ": Lock on a held mutex with forbid-suspend depth > 0")
	}
	f.disableDepth++
	f.status = statusSuspended
	f.mu.Unlock()

	m.waiters.Push(f)
	metrics := f.metrics()
	metrics.MutexContentionCount(context.Background(), 1)
	metrics.SuspendCount(context.Background(), 1,
		[]common.MetricAttr{{Key: common.SuspendReasonKey, Value: common.SuspendReasonMutex}})

	f.stack.yieldToStrand()

	// Resumed as owner; Unlock transferred ownership before waking us.
	f.mu.Lock()
	f.disableDepth--
	f.interrupter = nil
	f.mu.Unlock()
}

// Unlock releases the mutex. Must be called on the mutex's strand by the
// owning fiber; unlocking a mutex that is not held is a contract violation.
// When fibers are waiting, ownership passes atomically to the oldest waiter,
// whose resume is scheduled on the strand.
func (m *Mutex) Unlock() {
	if !m.locked {
		panic("fiber.Mutex: Unlock of an unlocked mutex")
	}

	if m.waiters.IsEmpty() {
		m.locked = false
		m.owner = nil
		return
	}

	next := m.waiters.Pop()
	m.owner = next
	m.s.Post(next.dispatchTurn)
}

// Guard is a scoped acquisition of a Mutex. The zero Guard is empty; a Guard
// obtained from LockGuard holds the mutex until Unlock. Release empties the
// guard without unlocking, so ownership can be handed elsewhere.
type Guard struct {
	m *Mutex
}

// LockGuard acquires the mutex and returns a guard holding it.
func (m *Mutex) LockGuard(tf This) *Guard {
	m.Lock(tf)
	return &Guard{m: m}
}

// Unlock releases the held mutex and empties the guard. Unlocking an empty
// guard is a contract violation.
func (g *Guard) Unlock() {
	if g.m == nil {
		panic("fiber.Guard: Unlock of an empty guard")
	}
	m := g.m
	g.m = nil
	m.Unlock()
}

// Release empties the guard without unlocking and returns the mutex.
func (g *Guard) Release() *Mutex {
	m := g.m
	g.m = nil
	return m
}

// Held reports whether the guard currently holds a mutex.
func (g *Guard) Held() bool {
	return g.m != nil
}
