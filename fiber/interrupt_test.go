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

package fiber_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vinipsmaker/iofiber/fiber"
	"github.com/vinipsmaker/iofiber/ioctx"
)

// joinAndReport spawns a detached helper fiber that joins target and records
// whether it terminated by interruption.
func joinAndReport(s *ioctx.Strand, target *fiber.Fiber, caught *bool) {
	j := fiber.Spawn(s, func(tf fiber.This) {
		target.Join(tf)
		*caught = target.InterruptionCaught()
	})
	j.Detach()
}

// Interrupt issued before the fiber reaches any suspension point: the first
// yield raises the interruption.
func TestInterruptBeforeFirstSuspension(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	iterations := 0
	var caught bool

	f := fiber.Spawn(s, func(tf fiber.This) {
		for i := 0; i < 10; i++ {
			tf.Yield()
			iterations++
		}
	})
	f.Interrupt()
	joinAndReport(s, f, &caught)
	ctx.Run()

	assert.Equal(t, 0, iterations)
	assert.True(t, caught)
}

// Interruption requested while delivery is disabled stays queued: five
// yields complete inside the scope, leaving the scope does not raise, and
// the first yield outside raises.
func TestDisabledScopeDefersDelivery(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	completed := 0
	leftScope := false
	var caught bool

	f := fiber.Spawn(s, func(tf fiber.This) {
		ds := tf.DisableInterruption()
		for i := 0; i < 5; i++ {
			tf.Yield()
			completed++
		}
		ds.End()
		leftScope = true
		tf.Yield()
		completed = 100 // not reached
	})
	f.Interrupt()
	joinAndReport(s, f, &caught)
	ctx.Run()

	assert.Equal(t, 5, completed)
	assert.True(t, leftScope)
	assert.True(t, caught)
}

// A restore scope inside a disable scope re-enables delivery, and its end
// puts the disabled state back.
func TestRestoreInterruptionRoundTrip(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var interruptedInRestore, yieldAfterRestoreOK bool
	var caught bool

	f := fiber.Spawn(s, func(tf fiber.This) {
		ds := tf.DisableInterruption()
		defer ds.End()

		tf.Yield() // request arrives around here; delivery is disabled

		rs := ds.Restore()
		interruptedInRestore = fiber.Catch(func() {
			for i := 0; i < 10; i++ {
				tf.Yield()
			}
		})
		rs.End()

		// The request was consumed inside the restore scope; yields are
		// clean again, disabled or not.
		tf.Yield()
		yieldAfterRestoreOK = true
	})
	f.Interrupt()
	joinAndReport(s, f, &caught)
	ctx.Run()

	assert.True(t, interruptedInRestore)
	assert.True(t, yieldAfterRestoreOK)
	assert.False(t, caught, "the escape was caught inside the fiber")
}

// Custom interrupter: a fiber awaiting a 60-second timer is interrupted
// shortly after start; the registered interrupter cancels the timer, so the
// await ends with the interruption escape almost immediately.
func TestCustomInterrupterAcceleratesCancellation(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var caught bool

	f := fiber.Spawn(s, func(tf fiber.This) {
		tm := ioctx.NewTimer(tf.Executor())
		tm.ExpiresAfter(60 * time.Second)
		tf.SetInterrupter(func() { tm.Cancel() })
		_ = tf.Await(func(done fiber.Completion) { tm.AsyncWait(done) })
	})
	joinAndReport(s, f, &caught)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Interrupt()
	}()

	start := time.Now()
	ctx.Run()

	assert.True(t, caught)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// Sleep registers the timer-cancel interrupter on its own.
func TestSleepIsPromptlyInterruptible(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var caught bool

	f := fiber.Spawn(s, func(tf fiber.This) {
		fiber.Sleep(tf, time.Hour)
	})
	joinAndReport(s, f, &caught)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Interrupt()
	}()

	start := time.Now()
	ctx.Run()

	assert.True(t, caught)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// Interrupt on an already-terminated fiber has no effect.
func TestInterruptAfterTermination(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	terminated := false
	caught := true

	f := fiber.Spawn(s, func(tf fiber.This) { terminated = true })
	j := fiber.Spawn(s, func(tf fiber.This) {
		for !terminated {
			tf.Yield()
		}
		f.Interrupt()
		f.Join(tf)
		caught = f.InterruptionCaught()
	})
	j.Detach()
	ctx.Run()

	assert.False(t, caught)
}

// Catching the escape inside the fiber flips the post-join report back to
// "not interrupted".
func TestCatchFlipsInterruptionReport(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var sawEscape bool
	var caught bool

	f := fiber.Spawn(s, func(tf fiber.This) {
		sawEscape = fiber.Catch(func() {
			for i := 0; i < 10; i++ {
				tf.Yield()
			}
		})
	})
	f.Interrupt()
	joinAndReport(s, f, &caught)
	ctx.Run()

	assert.True(t, sawEscape)
	assert.False(t, caught)
}

// An external cancellation with no interruption requested surfaces as the
// operation error, not as an interruption.
func TestCancellationWithoutInterruptIsAnError(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var got error
	var caught bool

	tm := ioctx.NewTimer(s)
	f := fiber.Spawn(s, func(tf fiber.This) {
		tm.ExpiresAfter(time.Hour)
		got = tf.Await(func(done fiber.Completion) { tm.AsyncWait(done) })
	})
	canceler := fiber.Spawn(s, func(tf fiber.This) {
		// Runs after f has suspended in the await.
		tm.Cancel()
	})
	canceler.Detach()
	joinAndReport(s, f, &caught)
	ctx.Run()

	assert.ErrorIs(t, got, ioctx.ErrCanceled)
	assert.False(t, caught)
}

// Interrupting a fiber that waits in Join raises the escape in the joiner
// and leaves the handle joinable.
func TestJoinIsAnInterruptionPoint(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var joinInterrupted bool
	var caughtAfterRejoin bool

	target := fiber.Spawn(s, func(tf fiber.This) {
		for i := 0; i < 50; i++ {
			tf.Yield()
		}
	})
	j := fiber.Spawn(s, func(tf fiber.This) {
		joinInterrupted = fiber.Catch(func() { target.Join(tf) })
		// The handle was not consumed by the interrupted join.
		target.Join(tf)
		caughtAfterRejoin = target.InterruptionCaught()
	})
	j.Detach()
	k := fiber.Spawn(s, func(tf fiber.This) {
		tf.Yield()
		j.Interrupt()
	})
	k.Detach()
	ctx.Run()

	assert.True(t, joinInterrupted)
	assert.False(t, caughtAfterRejoin)
}

// A pending interruption is not delivered by a contended Lock; it fires at
// the next eligible suspension point instead.
func TestLockDoesNotDeliverInterruption(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	m := fiber.NewMutex(s)
	enteredCritical := false
	var caught bool

	a := fiber.Spawn(s, func(tf fiber.This) {
		m.Lock(tf)
		for i := 0; i < 3; i++ {
			tf.Yield()
		}
		m.Unlock()
	})
	a.Detach()
	b := fiber.Spawn(s, func(tf fiber.This) {
		m.Lock(tf) // must not raise, despite the pending request
		enteredCritical = true
		m.Unlock()
		tf.Yield() // the queued interruption fires here
		enteredCritical = false
	})
	b.Interrupt()
	joinAndReport(s, b, &caught)
	ctx.Run()

	assert.True(t, enteredCritical)
	assert.True(t, caught)
}

// Balanced forbid/allow scopes compose and leave the depth unchanged.
func TestForbidAllowSuspendCompose(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	yieldedInsideAllow := false

	f := fiber.Spawn(s, func(tf fiber.This) {
		outer := tf.ForbidSuspend()
		inner := tf.ForbidSuspend()

		allow := tf.AllowSuspend()
		allow2 := tf.AllowSuspend()
		tf.Yield() // depth is back to zero here
		yieldedInsideAllow = true
		allow2.End()
		allow.End()

		inner.End()
		outer.End()
		tf.Yield() // balanced: suspension is legal again
	})
	f.Detach()
	ctx.Run()

	assert.True(t, yieldedInsideAllow)
}
