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

// noCopy flags a type to `go vet` as must-not-be-copied.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// ExclStrandRef is a scoped borrow of a value that is private to the
// fiber's strand. While the borrow is held, the fiber's forbid-suspend depth
// is raised: reaching any suspension point is a contract violation, which is
// exactly what makes the borrowed reference safe to use without further
// locking.
//
// The guard is intentionally neither copyable nor movable; it lives and dies
// in the scope that created it.
type ExclStrandRef[T any] struct {
	noCopy noCopy

	f     *fcb
	value *T
	held  bool
}

// NewExclStrandRef borrows value on behalf of the calling fiber, raising the
// forbid-suspend depth until the borrow is dropped.
func NewExclStrandRef[T any](tf This, value *T) *ExclStrandRef[T] {
	tf.f.adjustForbid(1)
	return &ExclStrandRef[T]{f: tf.f, value: value, held: true}
}

// NewExclStrand is the value-less form: it asserts "no suspension while this
// scope is alive" without borrowing anything.
func NewExclStrand(tf This) *ExclStrandRef[struct{}] {
	var nothing struct{}
	return NewExclStrandRef(tf, &nothing)
}

// Get returns the borrowed reference. Dereferencing a released borrow is a
// contract violation.
func (r *ExclStrandRef[T]) Get() *T {
	if !r.held {
		panic(r.f.name + ": Get on a released exclusive borrow")
	}
	return r.value
}

// Release drops the borrow and lowers the forbid-suspend depth. Releasing
// twice is a contract violation; use Close for an idempotent scope exit.
func (r *ExclStrandRef[T]) Release() {
	if !r.held {
		panic(r.f.name + ": Release on a released exclusive borrow")
	}
	r.held = false
	r.value = nil
	r.f.adjustForbid(-1)
}

// Reset re-points the borrow at a new value, re-acquiring the
// forbid-suspend depth when the borrow had been released.
func (r *ExclStrandRef[T]) Reset(value *T) {
	if !r.held {
		r.f.adjustForbid(1)
		r.held = true
	}
	r.value = value
}

// Close drops the borrow if it is still held. Intended for defer.
func (r *ExclStrandRef[T]) Close() {
	if r.held {
		r.Release()
	}
}
