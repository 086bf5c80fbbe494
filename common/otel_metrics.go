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
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	outcomeAttributeSet,
	suspendReasonAttributeSet sync.Map
)

func loadOrStoreAttributeOption[K comparable](mp *sync.Map, key K, attrSetGenFunc func() attribute.Set) metric.MeasurementOption {
	attrSet, ok := mp.Load(key)
	if ok {
		return attrSet.(metric.MeasurementOption)
	}
	v, _ := mp.LoadOrStore(key, metric.WithAttributeSet(attrSetGenFunc()))
	return v.(metric.MeasurementOption)
}

func getOutcomeAttributeSet(outcome string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&outcomeAttributeSet, outcome, func() attribute.Set {
		return attribute.NewSet(attribute.String(OutcomeKey, outcome))
	})
}

func getSuspendReasonAttributeSet(reason string) metric.MeasurementOption {
	return loadOrStoreAttributeOption(&suspendReasonAttributeSet, reason, func() attribute.Set {
		return attribute.NewSet(attribute.String(SuspendReasonKey, reason))
	})
}

// firstAttr digs the single attribute value this package records under the
// given key out of the caller-supplied attribute list.
func firstAttr(attrs []MetricAttr, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// otelMetrics maintains the list of all metrics computed by the runtime.
type otelMetrics struct {
	fiberSpawnCount   metric.Int64Counter
	fiberOutcomeCount metric.Int64Counter
	suspendCount      metric.Int64Counter

	handlerCount         metric.Int64Counter
	mutexContentionCount metric.Int64Counter
}

func (o *otelMetrics) FiberSpawnCount(ctx context.Context, inc int64) {
	o.fiberSpawnCount.Add(ctx, inc)
}

func (o *otelMetrics) FiberOutcomeCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	o.fiberOutcomeCount.Add(ctx, inc, getOutcomeAttributeSet(firstAttr(attrs, OutcomeKey)))
}

func (o *otelMetrics) SuspendCount(ctx context.Context, inc int64, attrs []MetricAttr) {
	o.suspendCount.Add(ctx, inc, getSuspendReasonAttributeSet(firstAttr(attrs, SuspendReasonKey)))
}

func (o *otelMetrics) HandlerCount(ctx context.Context, inc int64) {
	o.handlerCount.Add(ctx, inc)
}

func (o *otelMetrics) MutexContentionCount(ctx context.Context, inc int64) {
	o.mutexContentionCount.Add(ctx, inc)
}

// NewOTelMetrics creates the counters on meters taken from the global meter
// provider current at the time of the call.
func NewOTelMetrics() (MetricHandle, error) {
	fiberMeter := otel.Meter("fiber")
	schedulerMeter := otel.Meter("scheduler")

	fiberSpawnCount, err1 := fiberMeter.Int64Counter("fiber/spawn_count",
		metric.WithDescription("The cumulative number of fibers spawned."))
	fiberOutcomeCount, err2 := fiberMeter.Int64Counter("fiber/outcome_count",
		metric.WithDescription("The cumulative number of fiber terminations along with the outcome - normal/interrupted."))
	suspendCount, err3 := fiberMeter.Int64Counter("fiber/suspend_count",
		metric.WithDescription("The cumulative number of fiber suspensions along with the reason - yield/await/join/mutex."))
	handlerCount, err4 := schedulerMeter.Int64Counter("scheduler/handler_count",
		metric.WithDescription("The cumulative number of handlers executed by strands."))
	mutexContentionCount, err5 := schedulerMeter.Int64Counter("scheduler/mutex_contention_count",
		metric.WithDescription("The cumulative number of lock acquisitions that had to wait."))

	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return &otelMetrics{
		fiberSpawnCount:      fiberSpawnCount,
		fiberOutcomeCount:    fiberOutcomeCount,
		suspendCount:         suspendCount,
		handlerCount:         handlerCount,
		mutexContentionCount: mutexContentionCount,
	}, nil
}
