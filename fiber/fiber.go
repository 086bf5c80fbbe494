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

// Package fiber implements stackful fibers cooperatively scheduled on
// serializing executors (strands), with deferred interruption, fiber-aware
// synchronization, and adapters binding asynchronous completions to fiber
// resumption.
package fiber

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/vinipsmaker/iofiber/internal/logger"
	"github.com/vinipsmaker/iofiber/ioctx"
)

// Body is a fiber's start function. It receives the this-fiber handle
// through which the fiber interacts with the runtime.
type Body func(tf This)

// Fiber is the movable owner of a spawned fiber, usable from outside the
// fiber itself. Exactly one of Join or Detach must be called before the
// handle is dropped; a handle collected without either stops the owning
// execution context (see ioctx.Aborted).
type Fiber struct {
	f *fcb

	// Whether Join or Detach consumed the handle.
	consumed atomic.Bool

	// Set by a successful Join.
	joined bool
	caught bool
}

// Spawn schedules body to run as a new fiber on the given strand. The fiber
// is scheduled immediately; the strand's work count is incremented until the
// fiber has terminated and the returned handle has been consumed.
func Spawn(s *ioctx.Strand, body Body) *Fiber {
	f := newFCB(s)
	f.stack.start(func() { f.runBody(body) })

	s.OnWorkStarted()
	f.metrics().FiberSpawnCount(context.Background(), 1)
	logger.Tracef("%s: spawned", f.name)
	s.Post(f.dispatchTurn)

	fb := &Fiber{f: f}
	runtime.SetFinalizer(fb, (*Fiber).abandon)
	return fb
}

// SpawnOnContext spawns a fiber on a fresh strand of the given context.
func SpawnOnContext(ctx *ioctx.Context, body Body) *Fiber {
	return Spawn(ioctx.NewStrand(ctx), body)
}

// SpawnChild spawns a fiber on the strand of the calling fiber.
func SpawnChild(tf This, body Body) *Fiber {
	return Spawn(tf.f.strand, body)
}

// Executor returns the strand the fiber runs on.
func (fb *Fiber) Executor() *ioctx.Strand {
	return fb.f.strand
}

// Name returns the fiber's diagnostic name.
func (fb *Fiber) Name() string {
	return fb.f.name
}

// Interrupt requests deferred cancellation of the fiber: the request is
// delivered at the fiber's next eligible suspension point. If the fiber is
// currently suspended in an asynchronous operation with an interrupter
// registered and interruption is not disabled, the interrupter is invoked on
// the fiber's strand. Interrupt
// never suspends the caller and is not itself an interruption point.
func (fb *Fiber) Interrupt() {
	f := fb.f
	f.strand.Dispatch(func() {
		f.mu.Lock()
		if f.doneBody {
			f.mu.Unlock()
			return
		}
		f.requested = true
		var interrupter func()
		if f.status == statusSuspended && f.disableDepth == 0 && f.interrupter != nil {
			interrupter = f.interrupter
			f.interrupter = nil
		}
		f.mu.Unlock()

		if interrupter != nil {
			interrupter()
		}
	})
}

// Join suspends the calling fiber until this fiber terminates, then consumes
// the handle. The caller and target may live on different strands. Join is
// an interruption point: if the caller is interrupted while waiting, the
// interruption escape is raised and the handle remains joinable.
func (fb *Fiber) Join(tf This) {
	caller := tf.f
	target := fb.f
	if caller == target {
		panic(target.name + ": a fiber cannot join itself")
	}
	if fb.consumed.Load() {
		panic(target.name + ": Join on a handle already joined or detached")
	}

	// Fast path: the target already terminated; no suspension.
	target.mu.Lock()
	done := target.doneBody
	target.mu.Unlock()
	if done {
		fb.finishJoin()
		return
	}

	caller.prepareSuspend("join")

	op := &joinOp{caller: caller, target: target}
	target.mu.Lock()
	if target.doneBody {
		// Terminated between the fast path and here.
		target.mu.Unlock()
		caller.mu.Lock()
		caller.status = statusRunning
		caller.mu.Unlock()
		fb.finishJoin()
		return
	}
	target.joiner = op
	target.mu.Unlock()

	caller.mu.Lock()
	caller.interrupter = op.interrupt
	caller.mu.Unlock()

	caller.stack.yieldToStrand()
	caller.afterResume()
	fb.finishJoin()
}

// Detach relinquishes the right to join: the fiber runs to completion
// independently. Consumes the handle.
func (fb *Fiber) Detach() {
	f := fb.f
	fb.markConsumed("Detach")

	f.mu.Lock()
	f.detached = true
	f.consumed = true
	f.mu.Unlock()

	f.maybeFinishWork()
}

// InterruptionCaught reports whether the fiber terminated through an
// interruption escape. Must only be called after Join.
func (fb *Fiber) InterruptionCaught() bool {
	if !fb.joined {
		panic(fb.f.name + ": InterruptionCaught called before Join")
	}
	return fb.caught
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (fb *Fiber) markConsumed(op string) {
	if !fb.consumed.CompareAndSwap(false, true) {
		panic(fb.f.name + ": " + op + " on a handle already joined or detached")
	}
	runtime.SetFinalizer(fb, nil)
}

func (fb *Fiber) finishJoin() {
	f := fb.f
	fb.markConsumed("Join")

	f.mu.Lock()
	f.consumed = true
	fb.caught = f.status == statusTerminatedInterrupted
	f.mu.Unlock()

	fb.joined = true
	f.maybeFinishWork()
}

// abandon is the finalizer of a handle that was neither joined nor detached.
// Dropping such a handle is a logic error; the owning context is stopped and
// flagged so the failure is observable after the fact.
func (fb *Fiber) abandon() {
	if fb.consumed.Load() {
		return
	}
	logger.Errorf("%s: fiber handle dropped without Join or Detach; aborting the execution context", fb.f.name)
	fb.f.strand.Context().Abort()
}

////////////////////////////////////////////////////////////////////////
// Join wakeup
////////////////////////////////////////////////////////////////////////

// joinOp is the one-shot wakeup shared by the two events that can resume a
// joining fiber: termination of the target (on the target's strand) and
// interruption of the caller (on the caller's strand). Whichever fires first
// wins.
type joinOp struct {
	fired  atomic.Bool
	caller *fcb
	target *fcb
}

// interrupt is installed as the caller's interrupter while it waits.
func (op *joinOp) interrupt() {
	if !op.fired.CompareAndSwap(false, true) {
		return
	}

	t := op.target
	t.mu.Lock()
	if t.joiner == op {
		t.joiner = nil
	}
	t.mu.Unlock()

	op.caller.strand.Dispatch(op.caller.dispatchTurn)
}

// fireFromTermination wakes the caller after the target terminated.
func (op *joinOp) fireFromTermination() {
	if !op.fired.CompareAndSwap(false, true) {
		return
	}
	op.caller.strand.Post(op.caller.dispatchTurn)
}
