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
	"sync/atomic"
	"time"

	"github.com/vinipsmaker/iofiber/ioctx"
)

// This is the in-fiber capability handle: the sole surface through which a
// fiber's own code yields, awaits asynchronous completions, and toggles
// interruption scopes. Valid only inside the fiber it was passed to.
type This struct {
	f *fcb
}

// Executor returns the strand the fiber runs on.
func (tf This) Executor() *ioctx.Strand {
	return tf.f.strand
}

// Name returns the fiber's diagnostic name.
func (tf This) Name() string {
	return tf.f.name
}

// Yield suspends the fiber voluntarily, re-queuing its resume behind the
// handlers already waiting on the strand. An interruption point.
func (tf This) Yield() {
	f := tf.f
	f.prepareSuspend("yield")
	f.strand.Post(f.dispatchTurn)
	f.stack.yieldToStrand()
	f.afterResume()
}

// SetInterrupter installs the hook invoked on the fiber's strand when an
// interruption is delivered while the fiber is suspended in an asynchronous
// operation. The slot is cleared on every resume.
func (tf This) SetInterrupter(interrupter func()) {
	f := tf.f
	f.mu.Lock()
	f.interrupter = interrupter
	f.mu.Unlock()
}

// Completion is the callback an asynchronous operation invokes when it is
// done. Passing one to an operation binds its completion to the awaiting
// fiber's resume. A completion token must be invoked exactly once.
type Completion func(err error)

// Await suspends the fiber until the asynchronous operation initiated by
// start completes, and returns the operation's error. start receives the
// completion token to hand to the operation; the token may be invoked from
// any goroutine.
//
// Await is an interruption point: a pending interruption is delivered before
// the operation is started and again at the resume site, before control
// returns to the caller. When the operation fails with ioctx.ErrCanceled and
// an interruption was requested, the cancellation is reported as the
// interruption escape rather than as an error.
func (tf This) Await(start func(done Completion)) error {
	f := tf.f
	f.prepareSuspend("await")

	var delivered atomic.Bool
	done := Completion(func(err error) {
		if !delivered.CompareAndSwap(false, true) {
			panic(f.name + ": completion token invoked more than once")
		}
		f.strand.Dispatch(func() {
			f.mu.Lock()
			f.resumeErr = err
			f.mu.Unlock()
			f.dispatchTurn()
		})
	})

	start(done)
	f.stack.yieldToStrand()

	f.mu.Lock()
	err := f.resumeErr
	f.resumeErr = nil
	f.mu.Unlock()

	f.afterResume()
	return err
}

// AwaitResult is the variant of Await for operations that deliver a value
// along with the error.
func AwaitResult[T any](tf This, start func(done func(T, error))) (T, error) {
	var value T
	err := tf.Await(func(done Completion) {
		start(func(v T, opErr error) {
			value = v
			done(opErr)
		})
	})
	return value, err
}

// Sleep suspends the fiber for the given duration using a deadline timer on
// the fiber's strand. An interruption point: interrupting the fiber cancels
// the timer so the escape is delivered promptly.
func Sleep(tf This, d time.Duration) {
	t := ioctx.NewTimer(tf.Executor())
	t.ExpiresAfter(d)
	tf.SetInterrupter(func() { t.Cancel() })
	// The only error the timer delivers is ErrCanceled, and cancellation
	// only comes from the interrupter above, which Await reports as the
	// interruption escape.
	_ = tf.Await(func(done Completion) { t.AsyncWait(done) })
}
