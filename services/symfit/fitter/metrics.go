// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fitter

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for fit operations.
var (
	tracer = otel.Tracer("symfit.fitter")
	meter  = otel.Meter("symfit.fitter")
)

var (
	fitDuration metric.Float64Histogram
	fitTotal    metric.Int64Counter
	fitRestarts metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		fitDuration, err = meter.Float64Histogram(
			"symfit_fit_duration_seconds",
			metric.WithDescription("Duration of constant fitting per skeleton"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fitTotal, err = meter.Int64Counter(
			"symfit_fit_total",
			metric.WithDescription("Total number of skeleton fits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fitRestarts, err = meter.Int64Histogram(
			"symfit_fit_restarts",
			metric.WithDescription("Optimizer attempts per fit"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordFit records metrics for one completed fit.
func recordFit(ctx context.Context, duration time.Duration, res *Result) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("converged", res.Converged))

	fitDuration.Record(ctx, duration.Seconds(), attrs)
	fitTotal.Add(ctx, 1, attrs)
	fitRestarts.Record(ctx, int64(res.Restarts))
}
