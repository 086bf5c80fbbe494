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

package common

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockMetricHandle struct {
	mock.Mock
}

func (m *MockMetricHandle) FiberSpawnCount(ctx context.Context, inc int64) {
	m.Called(ctx, inc)
}

func (m *MockMetricHandle) FiberOutcomeCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	m.Called(ctx, inc, attrs)
}

func (m *MockMetricHandle) SuspendCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	m.Called(ctx, inc, attrs)
}

func (m *MockMetricHandle) HandlerCount(ctx context.Context, inc int64) {
	m.Called(ctx, inc)
}

func (m *MockMetricHandle) MutexContentionCount(ctx context.Context, inc int64) {
	m.Called(ctx, inc)
}
