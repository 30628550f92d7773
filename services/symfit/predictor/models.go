// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/AleutianAI/symfit/services/symfit/decoder"
	"github.com/AleutianAI/symfit/services/symfit/expr"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
)

// Kind names a fitting strategy.
type Kind string

const (
	KindNeSymReS Kind = "nesymres"
	KindEquation Kind = "equation"
	KindLinear   Kind = "linear"
)

// Kinds lists every supported strategy.
func Kinds() []Kind {
	return []Kind{KindNeSymReS, KindEquation, KindLinear}
}

// Deps are the collaborators a strategy may need.
type Deps struct {
	// Decoder and Ranker are required by KindNeSymReS.
	Decoder decoder.Decoder
	Ranker  *ranker.Ranker

	// Expression and Variables are required by KindEquation.
	Expression string
	Variables  []string

	Logger *slog.Logger
}

// New constructs the model for kind.
//
// Outputs:
//
//	Model - The strategy.
//	error - ErrUnknownModel, ErrMissingDependency, or an expression parse
//	        error for KindEquation.
func New(kind Kind, deps Deps) (Model, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case KindNeSymReS:
		if deps.Decoder == nil || deps.Ranker == nil {
			return nil, fmt.Errorf("%w: %s needs a decoder and a ranker", ErrMissingDependency, kind)
		}
		return &beamModel{decoder: deps.Decoder, ranker: deps.Ranker, logger: logger}, nil
	case KindEquation:
		if deps.Expression == "" {
			return nil, fmt.Errorf("%w: %s needs an expression", ErrMissingDependency, kind)
		}
		tree, err := expr.Parse(deps.Expression, deps.Variables)
		if err != nil {
			return nil, fmt.Errorf("equation model: %w", err)
		}
		p, err := NewExprPredictor(tree, deps.Variables)
		if err != nil {
			return nil, fmt.Errorf("equation model: %w", err)
		}
		return &equationModel{predictor: p}, nil
	case KindLinear:
		return &linearModel{logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownModel, kind, Kinds())
	}
}

// -----------------------------------------------------------------------------
// nesymres
// -----------------------------------------------------------------------------

type beamModel struct {
	decoder decoder.Decoder
	ranker  *ranker.Ranker
	logger  *slog.Logger
}

func (m *beamModel) Name() string { return string(KindNeSymReS) }

// Fit decodes a beam for (X, y), ranks it and returns the best candidate.
func (m *beamModel) Fit(ctx context.Context, X [][]float64, y []float64) (Predictor, error) {
	beam, err := m.decoder.Decode(ctx, X, y)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	ranked, err := m.ranker.Rank(ctx, beam, X, y)
	if err != nil {
		return nil, err
	}
	best, ok := ranked.Best()
	if !ok {
		return nil, fmt.Errorf("%w: %d candidates, %d build failures", ErrNoCandidate, ranked.Candidates, ranked.BuildFailures)
	}
	sk := best.Result.Skeleton
	p, err := NewExprPredictor(sk.Root.Bind(best.Values), sk.Variables)
	if err != nil {
		return nil, err
	}
	return &BeamPredictor{ExprPredictor: p, Ranked: ranked}, nil
}

// BeamPredictor is the best ranked candidate together with the ranking it
// came from.
type BeamPredictor struct {
	*ExprPredictor

	// Ranked is the full ranking snapshot.
	Ranked *ranker.RankedCandidates
}

// Metrics summarizes the ranking pass.
func (p *BeamPredictor) Metrics() map[string]any {
	out := map[string]any{
		"candidates":           p.Ranked.Candidates,
		"fitted":               len(p.Ranked.Entries),
		"build_failures":       p.Ranked.BuildFailures,
		"convergence_failures": p.Ranked.ConvergenceFailures,
	}
	if best, ok := p.Ranked.Best(); ok {
		out["best_fit_error"] = best.FitError
		out["best_converged"] = best.Converged
		out["best_skeleton"] = best.Form
	}
	return out
}

// -----------------------------------------------------------------------------
// equation
// -----------------------------------------------------------------------------

type equationModel struct {
	predictor *ExprPredictor
}

func (m *equationModel) Name() string { return string(KindEquation) }

// Fit ignores the data; the expression is fixed.
func (m *equationModel) Fit(ctx context.Context, _ [][]float64, _ []float64) (Predictor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.predictor, nil
}

// -----------------------------------------------------------------------------
// linear
// -----------------------------------------------------------------------------

type linearModel struct {
	logger *slog.Logger
}

func (m *linearModel) Name() string { return string(KindLinear) }

// Fit solves the least squares problem [1 X] beta = y.
func (m *linearModel) Fit(ctx context.Context, X [][]float64, y []float64) (Predictor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("linear model: %d rows, %d targets", len(X), len(y))
	}
	d := len(X[0])
	A := mat.NewDense(len(X), d+1, nil)
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("linear model: row %d has %d columns, want %d", i, len(row), d)
		}
		A.Set(i, 0, 1)
		for j, v := range row {
			A.Set(i, j+1, v)
		}
	}

	var beta mat.VecDense
	if err := beta.SolveVec(A, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("linear model: %w", err)
		}
		m.logger.Warn("linear model is ill-conditioned", slog.Float64("condition", float64(cond)))
	}

	var fitted mat.VecDense
	fitted.MulVec(A, &beta)
	resid := fitted.RawVector().Data
	floats.Sub(resid, y)
	m.logger.Debug("linear model fitted",
		slog.Int("terms", d+1),
		slog.Float64("rmse", floats.Norm(resid, 2)/math.Sqrt(float64(len(y)))))

	tree := expr.Lit(beta.AtVec(0))
	for j := 0; j < d; j++ {
		term := expr.Binary(expr.OpMul, expr.Lit(beta.AtVec(j+1)), expr.Var(j))
		tree = expr.Binary(expr.OpAdd, tree, term)
	}
	p, err := NewExprPredictor(tree, nil)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Compile-time interface checks.
var (
	_ Model           = (*beamModel)(nil)
	_ Model           = (*equationModel)(nil)
	_ Model           = (*linearModel)(nil)
	_ Predictor       = (*BeamPredictor)(nil)
	_ MetricsReporter = (*BeamPredictor)(nil)
)
