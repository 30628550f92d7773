// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package predictor is the closed set of fitting strategies a run can use.
//
// Every strategy implements Model: Fit consumes a dataset and returns a
// Predictor that can be evaluated on new points. The strategy is chosen once,
// by Kind, when the model is constructed.
//
//	nesymres - decode a beam of skeletons, fit and rank them, keep the best
//	equation - a fixed expression given in configuration
//	linear   - ordinary least squares with intercept, as a baseline
package predictor

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/symfit/services/symfit/expr"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownModel is returned by New for a Kind outside the closed set.
	ErrUnknownModel = errors.New("unknown model")

	// ErrMissingDependency is returned by New when a Kind's collaborator is
	// not supplied.
	ErrMissingDependency = errors.New("missing model dependency")

	// ErrNoCandidate is returned when a beam yields no fittable skeleton.
	ErrNoCandidate = errors.New("no candidate survived ranking")
)

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// Predictor evaluates a fitted model.
type Predictor interface {
	// Predict evaluates the model at every row of X.
	Predict(X [][]float64) ([]float64, error)

	// Equation renders the fitted model as an expression.
	Equation() string
}

// Model fits a Predictor to data.
type Model interface {
	// Name returns the model kind.
	Name() string

	// Fit trains on (X, y).
	Fit(ctx context.Context, X [][]float64, y []float64) (Predictor, error)
}

// MetricsReporter is implemented by predictors that carry extra run
// diagnostics worth persisting with the result.
type MetricsReporter interface {
	Metrics() map[string]any
}

// -----------------------------------------------------------------------------
// Expression Predictor
// -----------------------------------------------------------------------------

// ExprPredictor evaluates a closed expression tree.
type ExprPredictor struct {
	tree      *expr.Node
	variables []string
}

// NewExprPredictor wraps a tree with no constant placeholders.
func NewExprPredictor(tree *expr.Node, variables []string) (*ExprPredictor, error) {
	if n := tree.NumConstants(); n > 0 {
		return nil, fmt.Errorf("expression has %d unbound constants", n)
	}
	return &ExprPredictor{tree: tree, variables: variables}, nil
}

// Predict evaluates the expression at every row of X.
func (p *ExprPredictor) Predict(X [][]float64) ([]float64, error) {
	need := p.tree.MaxVariable() + 1
	for i, row := range X {
		if len(row) < need {
			return nil, fmt.Errorf("row %d has %d columns, expression reads %d", i, len(row), need)
		}
	}
	return p.tree.EvalRows(X, nil), nil
}

// Equation renders the expression.
func (p *ExprPredictor) Equation() string {
	return expr.Format(p.tree, p.variables, nil)
}

// Tree returns the expression tree.
func (p *ExprPredictor) Tree() *expr.Node { return p.tree }
