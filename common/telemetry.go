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
	"fmt"
)

const (
	// OutcomeKey annotates a fiber termination with how the body ended.
	OutcomeKey = "outcome"

	// SuspendReasonKey annotates a suspension with the operation that caused it.
	SuspendReasonKey = "suspend_reason"
)

// Values recorded under OutcomeKey.
const (
	OutcomeNormal      = "normal"
	OutcomeInterrupted = "interrupted"
)

// Values recorded under SuspendReasonKey.
const (
	SuspendReasonYield = "yield"
	SuspendReasonAwait = "await"
	SuspendReasonJoin  = "join"
	SuspendReasonMutex = "mutex"
)

// MetricAttr represents the attributes associated with a metric.
type MetricAttr struct {
	Key, Value string
}

func (a *MetricAttr) String() string {
	return fmt.Sprintf("Key: %s, Value: %s", a.Key, a.Value)
}

// FiberMetricHandle counts fiber lifecycle events.
type FiberMetricHandle interface {
	FiberSpawnCount(ctx context.Context, inc int64)
	FiberOutcomeCount(ctx context.Context, inc int64, attrs []MetricAttr)
	SuspendCount(ctx context.Context, inc int64, attrs []MetricAttr)
}

// SchedulerMetricHandle counts work done by the execution context and its
// synchronization primitives.
type SchedulerMetricHandle interface {
	HandlerCount(ctx context.Context, inc int64)
	MutexContentionCount(ctx context.Context, inc int64)
}

type MetricHandle interface {
	FiberMetricHandle
	SchedulerMetricHandle
}
