// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package accuracy scores a predictor against a benchmark equation by
// pointwise tolerance hits on freshly sampled test points.
//
// A point is a hit when |pred - true| <= atol + rtol*|true|. Points where
// either value is non-finite, or where a coordinate lies outside the
// support, are excluded from both numerator and denominator. When every
// point is excluded the accuracy is undefined (nil), never zero, and the
// report is marked inconclusive.
package accuracy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/symfit/services/symfit/benchmark"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidTolerance is returned for a negative or NaN rtol or atol.
	ErrInvalidTolerance = errors.New("invalid tolerance")

	// ErrNoTestPoints is returned when fewer than one test point is requested.
	ErrNoTestPoints = errors.New("at least one test point is required")

	// ErrPredictionShape is returned when the predictor returns a slice whose
	// length differs from the number of input rows.
	ErrPredictionShape = errors.New("prediction length does not match input")
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// PredictFunc evaluates a fitted model at every row of X. Columns follow the
// benchmark equation's variable order.
type PredictFunc func(X [][]float64) ([]float64, error)

// Config controls the evaluator.
type Config struct {
	// Seed drives test point sampling.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Threshold is the accuracy at or above which an equation counts as
	// solved.
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default evaluator settings.
func DefaultConfig() Config {
	return Config{Seed: 0, Threshold: 0.95}
}

// Report is the outcome of one evaluation.
type Report struct {
	// Equation is the ground-truth expression.
	Equation string `json:"equation"`

	// Accuracy is Hits/Included, or nil when Included is zero.
	Accuracy *float64 `json:"accuracy"`

	// Inconclusive is true exactly when Accuracy is nil.
	Inconclusive bool `json:"inconclusive"`

	// Solved is true when Accuracy is defined and at least Threshold.
	Solved bool `json:"solved"`

	Threshold float64 `json:"threshold"`
	RTol      float64 `json:"rtol"`
	ATol      float64 `json:"atol"`

	// Requested is the number of sampled points.
	Requested int `json:"requested"`

	// Included is the number of points that entered the ratio.
	Included int `json:"included"`

	// Excluded is Requested - Included.
	Excluded int `json:"excluded"`

	// Hits is the number of included points within tolerance.
	Hits int `json:"hits"`

	// ExcludedFraction is Excluded / Requested.
	ExcludedFraction float64 `json:"excluded_fraction"`

	// Exclusion reasons. A point counts toward the first reason that applies.
	OutOfSupport        int `json:"out_of_support"`
	NonFiniteTruth      int `json:"non_finite_truth"`
	NonFinitePrediction int `json:"non_finite_prediction"`
}

// Value returns the accuracy and whether it is defined.
func (r *Report) Value() (float64, bool) {
	if r.Accuracy == nil {
		return 0, false
	}
	return *r.Accuracy, true
}

// -----------------------------------------------------------------------------
// Evaluator
// -----------------------------------------------------------------------------

// Evaluator computes accuracy reports.
//
// Thread Safety: Safe for concurrent use; every call samples from its own
// source seeded from the configuration.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Evaluator. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

// Evaluate scores predict against eq.
//
// Description:
//
//	Draws numTestPoints points uniformly from eq's support with the
//	configured seed, evaluates the ground truth and predict on all of them,
//	and counts hits among the included points.
//
// Inputs:
//
//	ctx - For tracing and cancellation before prediction.
//	predict - The model under test.
//	eq - The benchmark equation.
//	numTestPoints - Must be at least 1.
//	rtol, atol - Non-negative tolerances.
//
// Outputs:
//
//	*Report - The report; Accuracy is nil when no point was included.
//	error - ErrNoTestPoints, ErrInvalidTolerance, ErrPredictionShape, the
//	        predictor's error, or the context error.
func (e *Evaluator) Evaluate(ctx context.Context, predict PredictFunc, eq *benchmark.Equation, numTestPoints int, rtol, atol float64) (*Report, error) {
	if numTestPoints < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoTestPoints, numTestPoints)
	}
	if !validTolerance(rtol) || !validTolerance(atol) {
		return nil, fmt.Errorf("%w: rtol=%v atol=%v", ErrInvalidTolerance, rtol, atol)
	}

	ctx, span := tracer.Start(ctx, "Evaluator.Evaluate",
		trace.WithAttributes(
			attribute.String("symfit.equation", eq.Expr),
			attribute.Int("symfit.test_points", numTestPoints),
		),
	)
	defer span.End()

	X, err := eq.Sample(numTestPoints, e.cfg.Seed, 0, benchmark.ModeIID)
	if err != nil {
		return nil, err
	}
	truth := eq.Eval(X)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred, err := predict(X)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(pred) != len(X) {
		return nil, fmt.Errorf("%w: %d predictions for %d points", ErrPredictionShape, len(pred), len(X))
	}

	rep := Score(eq, X, truth, pred, rtol, atol)
	rep.Threshold = e.cfg.Threshold
	if acc, ok := rep.Value(); ok {
		rep.Solved = acc >= e.cfg.Threshold
	}

	span.SetAttributes(
		attribute.Int("symfit.included", rep.Included),
		attribute.Int("symfit.hits", rep.Hits),
		attribute.Bool("symfit.inconclusive", rep.Inconclusive),
	)
	recordEvaluation(ctx, rep)

	e.logger.Info("equation evaluated",
		slog.String("equation", eq.Expr),
		slog.Int("requested", rep.Requested),
		slog.Int("included", rep.Included),
		slog.Int("hits", rep.Hits),
		slog.Bool("inconclusive", rep.Inconclusive))
	return rep, nil
}

// Score computes hit counts for already evaluated points.
//
// X, truth and pred must have equal lengths. Threshold and Solved are left
// unset.
func Score(eq *benchmark.Equation, X [][]float64, truth, pred []float64, rtol, atol float64) *Report {
	rep := &Report{
		Equation:  eq.Expr,
		RTol:      rtol,
		ATol:      atol,
		Requested: len(X),
	}
	for i, x := range X {
		switch {
		case !eq.InSupport(x):
			rep.OutOfSupport++
			continue
		case !finite(truth[i]):
			rep.NonFiniteTruth++
			continue
		case !finite(pred[i]):
			rep.NonFinitePrediction++
			continue
		}
		rep.Included++
		if Hit(pred[i], truth[i], rtol, atol) {
			rep.Hits++
		}
	}
	rep.Excluded = rep.Requested - rep.Included
	if rep.Requested > 0 {
		rep.ExcludedFraction = float64(rep.Excluded) / float64(rep.Requested)
	}
	if rep.Included == 0 {
		rep.Inconclusive = true
		return rep
	}
	acc := float64(rep.Hits) / float64(rep.Included)
	rep.Accuracy = &acc
	return rep
}

// Hit reports whether pred is within atol + rtol*|truth| of truth.
func Hit(pred, truth, rtol, atol float64) bool {
	return math.Abs(pred-truth) <= atol+rtol*math.Abs(truth)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validTolerance(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
