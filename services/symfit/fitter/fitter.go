// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fitter optimizes the free constants of an expression skeleton
// against numeric data.
//
// Each Fit runs up to Config.Restarts BFGS attempts over a penalized mean
// squared residual and keeps the attempt with the lowest final error. An
// optimizer that fails to converge produces a Result with Converged=false,
// never an error: only malformed input data is reported as an error.
//
// Thread Safety: A Fitter is safe for concurrent use. Every Fit call owns its
// random source, so results depend only on the seed and the inputs.
package fitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/AleutianAI/symfit/services/symfit/skeleton"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptyData is returned when X is empty or len(X) != len(y).
	ErrEmptyData = errors.New("empty or mismatched fit data")

	// ErrDataShape is returned when a row of X has fewer columns than the
	// skeleton reads.
	ErrDataShape = errors.New("data rows narrower than variable set")
)

// ValidateData checks that (X, y) is a non-empty aligned dataset whose rows
// cover numVars columns.
func ValidateData(X [][]float64, y []float64, numVars int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d targets", ErrEmptyData, len(X), len(y))
	}
	for i, row := range X {
		if len(row) < numVars {
			return fmt.Errorf("%w: row %d has %d columns, need %d", ErrDataShape, i, len(row), numVars)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls the optimizer.
type Config struct {
	// Restarts is the number of optimization attempts per Fit. Minimum 1.
	Restarts int `json:"restarts" yaml:"restarts" validate:"gte=1"`

	// MaxIterations bounds BFGS major iterations per attempt. 0 means no limit.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" validate:"gte=0"`

	// MaxEvaluations bounds objective evaluations per attempt. 0 means no limit.
	MaxEvaluations int `json:"max_evaluations" yaml:"max_evaluations" validate:"gte=0"`

	// GradientTolerance stops an attempt when the gradient norm drops below it.
	GradientTolerance float64 `json:"gradient_tolerance" yaml:"gradient_tolerance" validate:"gte=0"`

	// FunctionTolerance stops an attempt when the objective stops improving
	// by more than this absolute amount.
	FunctionTolerance float64 `json:"function_tolerance" yaml:"function_tolerance" validate:"gte=0"`

	// SuccessThreshold marks an attempt converged when its final error is at
	// or below this value, whatever the optimizer status.
	SuccessThreshold float64 `json:"success_threshold" yaml:"success_threshold" validate:"gte=0"`

	// Penalty replaces the squared residual of any point that evaluates to a
	// non-finite value or whose squared residual exceeds it. An attempt that
	// ends penalized at every point is never converged.
	Penalty float64 `json:"penalty" yaml:"penalty" validate:"gt=0"`

	// Seed drives restart initialization.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Timeout bounds the wall-clock time of one Fit call across restarts.
	// 0 means no limit.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Restarts:          4,
		MaxIterations:     500,
		MaxEvaluations:    5000,
		GradientTolerance: 1e-8,
		FunctionTolerance: 1e-12,
		SuccessThreshold:  1e-10,
		Penalty:           1e10,
		Seed:              0,
		Timeout:           0,
	}
}

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// Result is the outcome of fitting one skeleton.
type Result struct {
	// Skeleton is the fitted skeleton.
	Skeleton *skeleton.Skeleton `json:"-"`

	// Equation is the skeleton rendered with fitted constants.
	Equation string `json:"equation"`

	// Constants maps placeholder names (c0, c1, ...) to fitted values.
	Constants map[string]float64 `json:"constants"`

	// Values holds the fitted values indexed by placeholder id.
	Values []float64 `json:"values"`

	// FitError is the penalized mean squared residual of Values.
	FitError float64 `json:"fit_error"`

	// Converged is true when at least one attempt converged.
	Converged bool `json:"converged"`

	// Restarts is the number of attempts that ran.
	Restarts int `json:"restarts"`

	// Iterations is the BFGS major iteration count of the kept attempt.
	Iterations int `json:"iterations"`

	// Status is the optimizer status of the kept attempt.
	Status string `json:"status"`
}

// -----------------------------------------------------------------------------
// Fitter
// -----------------------------------------------------------------------------

// Fitter fits skeleton constants.
type Fitter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Fitter.
//
// Inputs:
//
//	cfg - Optimizer settings. Restarts below 1 are raised to 1 and a
//	      non-positive Penalty falls back to the default.
//	logger - Logger for per-attempt diagnostics. If nil, uses slog.Default().
//
// Outputs:
//
//	*Fitter - The configured fitter.
func New(cfg Config, logger *slog.Logger) *Fitter {
	if cfg.Restarts < 1 {
		cfg.Restarts = 1
	}
	if cfg.Penalty <= 0 || math.IsNaN(cfg.Penalty) || math.IsInf(cfg.Penalty, 0) {
		cfg.Penalty = DefaultConfig().Penalty
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fitter{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (f *Fitter) Config() Config { return f.cfg }

// attempt is one optimization run.
type attempt struct {
	values     []float64
	err        float64
	converged  bool
	iterations int
	status     optimize.Status
}

// Fit optimizes the constants of sk against (X, y).
//
// Description:
//
//	Attempt 0 starts every constant at 1. Attempt k>0 starts from standard
//	normal draws of a PCG source seeded with (Seed, k), so each restart is
//	reproducible on its own. The attempt with the lowest final error is
//	kept; Converged reports whether any attempt converged. An attempt whose
//	final constants leave every point penalized does not count as converged.
//	A skeleton with no placeholders is evaluated as-is with zero restarts.
//
// Inputs:
//
//	ctx - Checked between restarts.
//	sk - The skeleton. Must not be nil.
//	X - Input rows; each must cover every variable the skeleton reads.
//	y - Targets aligned with X.
//
// Outputs:
//
//	*Result - The fit outcome, including non-converged fits.
//	error - ErrEmptyData, ErrDataShape, or the context error.
func (f *Fitter) Fit(ctx context.Context, sk *skeleton.Skeleton, X [][]float64, y []float64) (*Result, error) {
	if err := ValidateData(X, y, sk.Root.MaxVariable()+1); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Fitter.Fit",
		trace.WithAttributes(
			attribute.String("symfit.skeleton", sk.String()),
			attribute.Int("symfit.constants", sk.NumConstants),
			attribute.Int("symfit.points", len(X)),
		),
	)
	defer span.End()

	start := time.Now()
	obj := newObjective(sk, X, y, f.cfg.Penalty)

	if sk.NumConstants == 0 {
		conv := !obj.degenerate(nil)
		res := f.result(sk, attempt{values: []float64{}, err: obj.value(nil), converged: conv, status: optimize.Success}, conv, 0)
		recordFit(ctx, time.Since(start), res)
		return res, nil
	}

	var deadline time.Time
	if f.cfg.Timeout > 0 {
		deadline = start.Add(f.cfg.Timeout)
	}

	var (
		best      *attempt
		anyConv   bool
		attempted int
	)
	for k := 0; k < f.cfg.Restarts; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 && k > 0 {
				f.logger.Debug("fit timeout reached",
					slog.String("skeleton", sk.String()),
					slog.Int("restarts", k))
				break
			}
			if remaining <= 0 {
				remaining = time.Nanosecond
			}
		}

		a := f.run(obj, f.initial(sk.NumConstants, k), remaining)
		attempted++
		anyConv = anyConv || a.converged

		f.logger.Debug("fit attempt",
			slog.String("skeleton", sk.String()),
			slog.Int("restart", k),
			slog.Float64("error", a.err),
			slog.String("status", a.status.String()),
			slog.Bool("converged", a.converged))

		if best == nil || a.err < best.err {
			best = &a
		}
	}

	res := f.result(sk, *best, anyConv, attempted)
	span.SetAttributes(
		attribute.Float64("symfit.fit_error", res.FitError),
		attribute.Bool("symfit.converged", res.Converged),
		attribute.Int("symfit.restarts", res.Restarts),
	)
	recordFit(ctx, time.Since(start), res)
	return res, nil
}

// initial returns the starting point of restart k.
func (f *Fitter) initial(n, k int) []float64 {
	x0 := make([]float64, n)
	if k == 0 {
		for i := range x0 {
			x0[i] = 1
		}
		return x0
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(f.cfg.Seed, uint64(k))}
	for i := range x0 {
		x0[i] = normal.Rand()
	}
	return x0
}

// run performs one BFGS minimization from x0.
func (f *Fitter) run(obj *objective, x0 []float64, runtime time.Duration) attempt {
	problem := optimize.Problem{
		Func: obj.value,
		Grad: obj.gradient,
	}
	settings := &optimize.Settings{
		MajorIterations:   f.cfg.MaxIterations,
		FuncEvaluations:   f.cfg.MaxEvaluations,
		GradientThreshold: f.cfg.GradientTolerance,
		Runtime:           runtime,
		Converger: &optimize.FunctionConverge{
			Absolute:   f.cfg.FunctionTolerance,
			Iterations: 20,
		},
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.BFGS{})
	if res == nil {
		// Minimize only returns a nil result for invalid problem setup;
		// fall back to the starting point.
		return attempt{values: x0, err: obj.value(x0), status: optimize.Failure}
	}

	a := attempt{
		values:     res.Location.X,
		err:        res.Location.F,
		iterations: res.Stats.MajorIterations,
		status:     res.Status,
	}
	if math.IsNaN(a.err) || math.IsInf(a.err, 0) {
		a.err = obj.value(a.values)
	}
	a.converged = (err == nil && statusConverged(res.Status)) || a.err <= f.cfg.SuccessThreshold
	if a.converged && obj.degenerate(a.values) {
		a.converged = false
	}
	return a
}

// statusConverged reports whether the optimizer stopped because it reached a
// minimum rather than because a budget ran out or a line search failed.
func statusConverged(s optimize.Status) bool {
	switch s {
	case optimize.Success,
		optimize.FunctionThreshold,
		optimize.FunctionConvergence,
		optimize.GradientThreshold,
		optimize.StepConvergence,
		optimize.MethodConverge:
		return true
	default:
		return false
	}
}

func (f *Fitter) result(sk *skeleton.Skeleton, a attempt, converged bool, restarts int) *Result {
	consts := make(map[string]float64, len(a.values))
	for i, v := range a.values {
		consts[skeleton.ConstantName(i)] = v
	}
	return &Result{
		Skeleton:   sk,
		Equation:   sk.Format(a.values),
		Constants:  consts,
		Values:     a.values,
		FitError:   a.err,
		Converged:  converged,
		Restarts:   restarts,
		Iterations: a.iterations,
		Status:     a.status.String(),
	}
}
