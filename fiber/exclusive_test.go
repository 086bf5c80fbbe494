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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinipsmaker/iofiber/fiber"
	"github.com/vinipsmaker/iofiber/ioctx"
)

func TestExclusiveBorrowGivesAccess(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	counter := 0
	got := 0

	f := fiber.Spawn(s, func(tf fiber.This) {
		ref := fiber.NewExclStrandRef(tf, &counter)
		defer ref.Close()
		*ref.Get()++
		*ref.Get()++
		got = *ref.Get()
	})
	f.Detach()
	ctx.Run()

	assert.Equal(t, 2, counter)
	assert.Equal(t, 2, got)
}

func TestSuspensionUnderBorrowIsAContractViolation(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	value := 0

	f := fiber.Spawn(s, func(tf fiber.This) {
		ref := fiber.NewExclStrandRef(tf, &value)
		defer ref.Close()
		tf.Yield()
	})
	f.Detach()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		pe, ok := r.(*fiber.PanicError)
		require.True(t, ok, "expected *fiber.PanicError, got %T", r)
		assert.Contains(t, pe.Error(), "forbid-suspend")
	}()
	ctx.Run()
	t.Fatal("Run returned instead of panicking")
}

func TestReleaseAllowsSuspensionAgain(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	value := 0
	yielded := false

	f := fiber.Spawn(s, func(tf fiber.This) {
		ref := fiber.NewExclStrandRef(tf, &value)
		*ref.Get() = 5
		ref.Release()
		tf.Yield()
		yielded = true
	})
	f.Detach()
	ctx.Run()

	assert.Equal(t, 5, value)
	assert.True(t, yielded)
}

func TestGetAfterReleasePanics(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	var recovered any

	f := fiber.Spawn(s, func(tf fiber.This) {
		value := 0
		ref := fiber.NewExclStrandRef(tf, &value)
		ref.Release()
		defer func() { recovered = recover() }()
		ref.Get()
	})
	f.Detach()
	ctx.Run()

	assert.NotNil(t, recovered)
}

func TestResetReacquiresTheBorrow(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)
	first, second := 0, 0
	yieldedAfterFinalRelease := false

	f := fiber.Spawn(s, func(tf fiber.This) {
		ref := fiber.NewExclStrandRef(tf, &first)
		ref.Release()
		tf.Yield() // legal: nothing is borrowed

		ref.Reset(&second)
		*ref.Get() = 9
		ref.Release()
		tf.Yield() // the reacquired depth was dropped again
		yieldedAfterFinalRelease = true
	})
	f.Detach()
	ctx.Run()

	assert.Equal(t, 9, second)
	assert.True(t, yieldedAfterFinalRelease)
}

func TestVoidFormForbidsSuspension(t *testing.T) {
	ctx := ioctx.NewContext()
	s := ioctx.NewStrand(ctx)

	f := fiber.Spawn(s, func(tf fiber.This) {
		scope := fiber.NewExclStrand(tf)
		defer scope.Close()
		tf.Yield()
	})
	f.Detach()

	assert.Panics(t, func() { ctx.Run() })
}
