// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ranker

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("symfit.ranker")
	meter  = otel.Meter("symfit.ranker")
)

var (
	rankDuration        metric.Float64Histogram
	candidatesTotal     metric.Int64Counter
	buildFailures       metric.Int64Counter
	convergenceFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		rankDuration, err = meter.Float64Histogram(
			"symfit_rank_duration_seconds",
			metric.WithDescription("Duration of ranking one beam"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		candidatesTotal, err = meter.Int64Counter(
			"symfit_candidates_total",
			metric.WithDescription("Beam candidates received for ranking"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildFailures, err = meter.Int64Counter(
			"symfit_build_failures_total",
			metric.WithDescription("Candidates dropped because they did not build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		convergenceFailures, err = meter.Int64Counter(
			"symfit_convergence_failures_total",
			metric.WithDescription("Fitted candidates whose optimizer did not converge"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRank records metrics for one ranking pass.
func recordRank(ctx context.Context, rc *RankedCandidates) {
	if err := initMetrics(); err != nil {
		return
	}

	rankDuration.Record(ctx, rc.Duration.Seconds())
	candidatesTotal.Add(ctx, int64(rc.Candidates))
	buildFailures.Add(ctx, int64(rc.BuildFailures-rc.BudgetFailures),
		metric.WithAttributes(attribute.String("reason", "malformed")))
	buildFailures.Add(ctx, int64(rc.BudgetFailures),
		metric.WithAttributes(attribute.String("reason", "constant_budget")))
	convergenceFailures.Add(ctx, int64(rc.ConvergenceFailures))
}
