// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package accuracy

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("symfit.accuracy")
	meter  = otel.Meter("symfit.accuracy")
)

var (
	evaluationsTotal metric.Int64Counter
	accuracyValue    metric.Float64Histogram
	excludedPoints   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		evaluationsTotal, err = meter.Int64Counter(
			"symfit_evaluations_total",
			metric.WithDescription("Accuracy evaluations by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		accuracyValue, err = meter.Float64Histogram(
			"symfit_accuracy",
			metric.WithDescription("Pointwise accuracy of conclusive evaluations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		excludedPoints, err = meter.Int64Counter(
			"symfit_excluded_points_total",
			metric.WithDescription("Test points excluded from accuracy"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordEvaluation records metrics for one report.
func recordEvaluation(ctx context.Context, rep *Report) {
	if err := initMetrics(); err != nil {
		return
	}

	outcome := "unsolved"
	switch {
	case rep.Inconclusive:
		outcome = "inconclusive"
	case rep.Solved:
		outcome = "solved"
	}
	evaluationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	excludedPoints.Add(ctx, int64(rep.Excluded))
	if acc, ok := rep.Value(); ok {
		accuracyValue.Record(ctx, acc)
	}
}
