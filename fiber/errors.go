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
	"fmt"
	"runtime"
)

// PanicError wraps a panic that escaped a fiber body without being an
// interruption. It is re-raised on the strand that ran the fiber, so it
// propagates out of the Run call driving the context.
type PanicError struct {
	FiberName string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: panic escaped the fiber body: %v", e.FiberName, e.Value)
}

func newPanicError(name string, value any) *PanicError {
	var buf [64 << 10]byte
	n := runtime.Stack(buf[:], false)
	return &PanicError{
		FiberName: name,
		Value:     value,
		Stack:     string(buf[:n]),
	}
}
