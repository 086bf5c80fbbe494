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

// stackContext is the suspendable execution context backing a fiber. The
// backend is a dedicated goroutine parked on a pair of unbuffered handoff
// channels: control is transferred in with resumeFromStrand and out with
// yieldToStrand, and exactly one side runs at any moment.
type stackContext struct {
	resume chan struct{}
	yield  chan struct{}
}

func newStackContext() *stackContext {
	return &stackContext{
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
}

// start launches the context's goroutine. body does not run until the first
// resumeFromStrand; it must not panic (the fiber control block wraps it with
// a recovering shim).
func (sc *stackContext) start(body func()) {
	go func() {
		<-sc.resume
		body()
		sc.yield <- struct{}{}
	}()
}

// resumeFromStrand transfers control into the stack. It returns when the
// stack yields out or its body returns. Must be called from a handler
// serialized on the fiber's strand.
func (sc *stackContext) resumeFromStrand() {
	sc.resume <- struct{}{}
	<-sc.yield
}

// yieldToStrand transfers control back to the strand handler that resumed
// the stack, blocking until the next resumeFromStrand. Must be called from
// the stack's own goroutine.
func (sc *stackContext) yieldToStrand() {
	sc.yield <- struct{}{}
	<-sc.resume
}
