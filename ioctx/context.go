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

// Package ioctx provides the I/O execution context the fiber runtime is
// scheduled on: a handler queue with deadline timers, and strands that
// serialize handler execution on top of it.
package ioctx

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/vinipsmaker/iofiber/common"
)

// anyAborted records whether any context was ever aborted by a forgotten
// fiber handle. See Aborted.
var anyAborted atomic.Bool

// Aborted reports whether any execution context in the process has been
// aborted because a fiber handle was dropped without being joined or
// detached.
func Aborted() bool {
	return anyAborted.Load()
}

// Context is an execution context: a queue of ready handlers and a heap of
// deadline timers, driven by one or more goroutines calling Run.
//
// Handlers are only ever submitted through strands; see NewStrand.
type Context struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	clock   timeutil.Clock
	metrics common.MetricHandle

	/////////////////////////
	// Mutable state
	/////////////////////////

	// A mutex protecting everything below. The condition variable shares it.
	mu   syncutil.InvariantMutex
	cond *sync.Cond

	// Handlers ready to run, in submission order.
	ready common.Queue[func()]

	// Pending deadline timers.
	//
	// INVARIANT: Every entry has index >= 0 and timers[e.index] == e.
	timers timerHeap

	// The number of outstanding work units. Run does not return while this
	// is positive, even when no handler is ready.
	//
	// INVARIANT: work >= 0
	work int64

	stopped bool
	aborted bool

	// The earliest deadline an alarm has been armed for, and the alarm
	// itself. Zero/nil when no alarm is armed.
	alarmAt time.Time
	alarm   *time.Timer
}

// NewContext creates a context using the real clock and no-op metrics.
func NewContext() *Context {
	return NewContextWithDeps(timeutil.RealClock(), common.NewNoopMetrics())
}

// NewContextWithDeps creates a context with the given clock and metric
// handle. The clock is consulted for timer deadlines; substituting a
// simulated clock is only meaningful for code that drives expirations
// explicitly, since Run sleeps in real time.
func NewContextWithDeps(clock timeutil.Clock, metrics common.MetricHandle) (c *Context) {
	c = &Context{
		clock:   clock,
		metrics: metrics,
		ready:   common.NewLinkedListQueue[func()](),
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	c.cond = sync.NewCond(&c.mu)
	return
}

func (c *Context) checkInvariants() {
	if c.work < 0 {
		panic("ioctx.Context: negative work count")
	}
	for i, e := range c.timers {
		if e.index != i {
			panic("ioctx.Context: corrupt timer heap")
		}
	}
}

// Clock returns the clock this context was created with.
func (c *Context) Clock() timeutil.Clock {
	return c.clock
}

// Metrics returns the metric handle this context was created with.
func (c *Context) Metrics() common.MetricHandle {
	return c.metrics
}

// Run executes handlers until the context is stopped or runs out of work:
// no ready handler, no pending timer, and a zero work count. It returns the
// number of handlers executed. Multiple goroutines may call Run
// concurrently; strands still serialize their own handlers.
func (c *Context) Run() (n int) {
	for {
		h, ok := c.next()
		if !ok {
			return
		}
		c.metrics.HandlerCount(context.Background(), 1)
		h()
		n++
	}
}

// RunFor runs for at most the given wall-clock duration, then stops the
// context. Call Restart to reuse the context afterwards.
func (c *Context) RunFor(d time.Duration) (n int) {
	t := time.AfterFunc(d, c.Stop)
	defer t.Stop()
	return c.Run()
}

// Stop makes all Run calls return as soon as their current handler
// finishes. Queued handlers and timers are kept.
func (c *Context) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Restart clears the stopped state so the context can be run again.
func (c *Context) Restart() {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()
}

// Abort stops the context and marks it (and the process-wide flag) as
// aborted. Used when a fiber handle is dropped without join or detach.
func (c *Context) Abort() {
	c.mu.Lock()
	c.stopped = true
	c.aborted = true
	c.mu.Unlock()
	anyAborted.Store(true)
	c.cond.Broadcast()
}

// Aborted reports whether Abort was called on this context.
func (c *Context) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

////////////////////////////////////////////////////////////////////////
// Scheduling internals
////////////////////////////////////////////////////////////////////////

// next blocks until a handler is ready and returns it, or returns false when
// the context is stopped or out of work.
func (c *Context) next() (h func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.stopped {
			return
		}

		// Promote due timers.
		now := c.clock.Now()
		for c.timers.Len() > 0 && !c.timers[0].deadline.After(now) {
			e := heap.Pop(&c.timers).(*timerEntry)
			fire := e.fire
			c.ready.Push(func() { fire(nil) })
		}

		if !c.ready.IsEmpty() {
			return c.ready.Pop(), true
		}

		if c.work == 0 && c.timers.Len() == 0 {
			return
		}

		c.armAlarmLocked(now)
		c.cond.Wait()
	}
}

// armAlarmLocked makes sure a wakeup is scheduled for the earliest timer
// deadline.
func (c *Context) armAlarmLocked(now time.Time) {
	if c.timers.Len() == 0 {
		return
	}
	deadline := c.timers[0].deadline
	if c.alarm != nil && !c.alarmAt.After(deadline) {
		return
	}
	if c.alarm != nil {
		c.alarm.Stop()
	}
	c.alarmAt = deadline
	c.alarm = time.AfterFunc(deadline.Sub(now), func() {
		c.mu.Lock()
		c.alarm = nil
		c.alarmAt = time.Time{}
		c.mu.Unlock()
		c.cond.Broadcast()
	})
}

// post enqueues a ready handler. Called by strands.
func (c *Context) post(h func()) {
	c.mu.Lock()
	c.ready.Push(h)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Context) workStarted() {
	c.mu.Lock()
	c.work++
	c.mu.Unlock()
}

func (c *Context) workFinished() {
	c.mu.Lock()
	c.work--
	c.mu.Unlock()
	c.cond.Broadcast()
}

// addTimer registers a timer entry with the scheduler.
func (c *Context) addTimer(e *timerEntry) {
	c.mu.Lock()
	heap.Push(&c.timers, e)
	front := e.index == 0
	if front && c.alarm != nil && c.alarmAt.After(e.deadline) {
		// A waiting runner would otherwise sleep past the new deadline.
		c.alarm.Stop()
		c.alarm = nil
		c.alarmAt = time.Time{}
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// removeTimer removes an entry that has not fired yet. Returns false when
// the entry already fired or was already removed.
func (c *Context) removeTimer(e *timerEntry) (removed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.index < 0 {
		return
	}
	heap.Remove(&c.timers, e.index)
	if c.timers.Len() == 0 && c.alarm != nil {
		c.alarm.Stop()
		c.alarm = nil
		c.alarmAt = time.Time{}
	}
	removed = true
	return
}
