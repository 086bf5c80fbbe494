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
	"fmt"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"
	"github.com/vinipsmaker/iofiber/common"
	"github.com/vinipsmaker/iofiber/internal/logger"
	"github.com/vinipsmaker/iofiber/ioctx"
)

type fiberStatus int

const (
	statusReady fiberStatus = iota
	statusRunning
	statusSuspended
	statusTerminatedNormal
	statusTerminatedInterrupted
)

// fcb is the fiber control block: the state shared between the fiber body,
// the external Fiber handle, and handlers running on the fiber's strand.
type fcb struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	// The strand this fiber and every handler related to it execute on.
	strand *ioctx.Strand

	name string

	// The suspendable execution context holding the fiber's stack.
	stack *stackContext

	/////////////////////////
	// Mutable state
	/////////////////////////

	// A mutex guarding everything below. Never held across a suspension.
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	status fiberStatus

	// Whether an interruption has been requested and not yet delivered.
	//
	// GUARDED_BY(mu)
	requested bool

	// While positive, interruption delivery is deferred.
	//
	// INVARIANT: disableDepth >= 0
	//
	// GUARDED_BY(mu)
	disableDepth int

	// While positive, any attempted suspension is a contract violation.
	//
	// INVARIANT: forbidSuspendDepth >= 0
	//
	// GUARDED_BY(mu)
	forbidSuspendDepth int

	// The hook invoked when an interruption is delivered to a currently
	// suspended fiber. Cleared on every resume.
	//
	// GUARDED_BY(mu)
	interrupter func()

	// The error delivered by the last asynchronous completion, consumed at
	// the resume site.
	//
	// GUARDED_BY(mu)
	resumeErr error

	// The fiber waiting in Join on this one, or nil.
	//
	// INVARIANT: detached => joiner == nil
	//
	// GUARDED_BY(mu)
	joiner *joinOp

	// Whether the body has returned.
	//
	// INVARIANT: doneBody => status is one of the terminated values
	//
	// GUARDED_BY(mu)
	doneBody bool

	// GUARDED_BY(mu)
	detached bool

	// Whether the external handle has been consumed by Join or Detach.
	//
	// GUARDED_BY(mu)
	consumed bool

	// GUARDED_BY(mu)
	workReleased bool

	// A panic value that escaped the body and was not an interruption,
	// re-raised on the strand after termination bookkeeping.
	//
	// GUARDED_BY(mu)
	panicVal error
}

func newFCB(s *ioctx.Strand) (f *fcb) {
	f = &fcb{
		strand: s,
		name:   "fiber-" + uuid.New().String()[:8],
		stack:  newStackContext(),
		status: statusReady,
	}
	f.mu = syncutil.NewInvariantMutex(f.checkInvariants)
	return
}

func (f *fcb) checkInvariants() {
	// INVARIANT: disableDepth >= 0
	if f.disableDepth < 0 {
		panic(fmt.Sprintf("%s: negative disable-interruption depth", f.name))
	}

	// INVARIANT: forbidSuspendDepth >= 0
	if f.forbidSuspendDepth < 0 {
		panic(fmt.Sprintf("%s: negative forbid-suspend depth", f.name))
	}

	// INVARIANT: doneBody => status is one of the terminated values
	if f.doneBody && f.status != statusTerminatedNormal && f.status != statusTerminatedInterrupted {
		panic(fmt.Sprintf("%s: terminated body with live status %d", f.name, f.status))
	}

	// INVARIANT: detached => joiner == nil
	if f.detached && f.joiner != nil {
		panic(fmt.Sprintf("%s: detached fiber with a registered joiner", f.name))
	}
}

func (f *fcb) metrics() common.MetricHandle {
	return f.strand.Context().Metrics()
}

////////////////////////////////////////////////////////////////////////
// Body and turns
////////////////////////////////////////////////////////////////////////

// runBody is what actually runs on the fiber's stack: the user body plus
// termination bookkeeping. Never panics; escapes are recorded and handled on
// the strand by afterTurn.
func (f *fcb) runBody(body Body) {
	defer func() {
		r := recover()
		f.mu.Lock()
		f.doneBody = true
		switch {
		case r == nil:
			f.status = statusTerminatedNormal
		case IsInterrupted(r):
			f.status = statusTerminatedInterrupted
		default:
			f.status = statusTerminatedNormal
			f.panicVal = newPanicError(f.name, r)
		}
		f.mu.Unlock()
	}()

	body(This{f: f})
}

// dispatchTurn is the strand handler that hands control to the fiber. Every
// resume, including the initial one, goes through it.
func (f *fcb) dispatchTurn() {
	f.mu.Lock()
	f.status = statusRunning
	f.mu.Unlock()

	f.stack.resumeFromStrand()
	f.afterTurn()
}

// afterTurn runs on the strand once the fiber has yielded or its body has
// returned. On termination it notifies the joiner, releases resources, and
// re-raises any escaped panic.
func (f *fcb) afterTurn() {
	f.mu.Lock()
	if !f.doneBody {
		f.mu.Unlock()
		return
	}
	j := f.joiner
	f.joiner = nil
	interrupted := f.status == statusTerminatedInterrupted
	pv := f.panicVal
	f.mu.Unlock()

	outcome := common.OutcomeNormal
	if interrupted {
		outcome = common.OutcomeInterrupted
	}
	f.metrics().FiberOutcomeCount(context.Background(), 1,
		[]common.MetricAttr{{Key: common.OutcomeKey, Value: outcome}})
	logger.Tracef("%s: terminated (%s)", f.name, outcome)

	if j != nil {
		j.fireFromTermination()
	}
	f.maybeFinishWork()

	if pv != nil {
		panic(pv)
	}
}

// maybeFinishWork releases the work unit pinned at spawn once both sides are
// done with the fiber: the body has returned and the handle was consumed.
func (f *fcb) maybeFinishWork() {
	f.mu.Lock()
	release := f.doneBody && f.consumed && !f.workReleased
	if release {
		f.workReleased = true
	}
	f.mu.Unlock()

	if release {
		f.strand.OnWorkFinished()
	}
}

////////////////////////////////////////////////////////////////////////
// Suspension protocol
////////////////////////////////////////////////////////////////////////

// prepareSuspend enters a suspension point: it enforces the forbid-suspend
// contract, delivers a pending interruption, and marks the fiber suspended.
func (f *fcb) prepareSuspend(reason string) {
	f.mu.Lock()
	if f.forbidSuspendDepth > 0 {
		depth := f.forbidSuspendDepth
		f.mu.Unlock()
		panic(fmt.Sprintf(
			"%s: suspension point (%s) reached with forbid-suspend depth %d",
			f.name, reason, depth))
	}
	if f.requested && f.disableDepth == 0 {
		f.requested = false
		f.mu.Unlock()
		panic(Interrupted{})
	}
	f.status = statusSuspended
	f.mu.Unlock()

	f.metrics().SuspendCount(context.Background(), 1,
		[]common.MetricAttr{{Key: common.SuspendReasonKey, Value: reason}})
}

// afterResume runs on the fiber right after a resume, before control returns
// to user code: it clears the interrupter slot and delivers a pending
// interruption.
func (f *fcb) afterResume() {
	f.mu.Lock()
	f.interrupter = nil
	if f.requested && f.disableDepth == 0 {
		f.requested = false
		f.mu.Unlock()
		panic(Interrupted{})
	}
	f.mu.Unlock()
}

func (f *fcb) adjustForbid(delta int) {
	f.mu.Lock()
	f.forbidSuspendDepth += delta
	f.mu.Unlock()
}
