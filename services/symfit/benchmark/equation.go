// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package benchmark loads ground-truth equations and generates data from them.
//
// A benchmark file is a CSV with at least the columns eqs, support and
// num_points. Each row becomes an Equation: the expression string, the
// sampling interval of every variable, and the number of test points.
package benchmark

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/AleutianAI/symfit/services/symfit/expr"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidFormat is returned when a benchmark file or support literal
	// does not follow the expected layout.
	ErrInvalidFormat = errors.New("invalid benchmark format")

	// ErrIndexOutOfRange is returned when an equation index does not exist.
	ErrIndexOutOfRange = errors.New("equation index out of range")

	// ErrNoValidPoints is returned when sampling or loading yields no
	// finite data point.
	ErrNoValidPoints = errors.New("no valid data points")
)

// ParseError locates a format problem in a benchmark file.
//
// errors.Is(err, ErrInvalidFormat) holds for every ParseError.
type ParseError struct {
	// Row is the 1-based data row (the header is row 0).
	Row int

	// Column is the column name, empty for row-level problems.
	Column string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%v: row %d: %v", ErrInvalidFormat, e.Row, e.Err)
	}
	return fmt.Sprintf("%v: row %d, column %q: %v", ErrInvalidFormat, e.Row, e.Column, e.Err)
}

// Unwrap exposes both ErrInvalidFormat and the cause.
func (e *ParseError) Unwrap() []error {
	return []error{ErrInvalidFormat, e.Err}
}

// -----------------------------------------------------------------------------
// Interval
// -----------------------------------------------------------------------------

// Interval is a closed sampling range.
type Interval struct {
	Low  float64 `json:"min" yaml:"min"`
	High float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies in [Low, High].
func (iv Interval) Contains(v float64) bool {
	return v >= iv.Low && v <= iv.High
}

// Width returns High - Low.
func (iv Interval) Width() float64 {
	return iv.High - iv.Low
}

func (iv Interval) validate() error {
	if math.IsNaN(iv.Low) || math.IsNaN(iv.High) || math.IsInf(iv.Low, 0) || math.IsInf(iv.High, 0) {
		return fmt.Errorf("non-finite bound in [%v, %v]", iv.Low, iv.High)
	}
	if iv.Low > iv.High {
		return fmt.Errorf("lower bound %v above upper bound %v", iv.Low, iv.High)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Equation
// -----------------------------------------------------------------------------

// Equation is one ground-truth benchmark entry.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Equation struct {
	// Index is the row index in the benchmark file, or -1 for ad hoc
	// equations.
	Index int `json:"index"`

	// Expr is the ground-truth expression as written in the benchmark.
	Expr string `json:"expr"`

	// Support maps each variable to its sampling interval.
	Support map[string]Interval `json:"support"`

	// Variables are the support keys in natural order (x_1, x_2, ..., x_10).
	Variables []string `json:"variables"`

	// NumPoints is the number of points to sample for this equation.
	NumPoints int `json:"num_points"`

	tree *expr.Node
}

// NewEquation validates and parses a ground-truth equation.
//
// Inputs:
//
//	src - Expression string, e.g. "x_1**2 + sin(x_2)".
//	support - Interval per variable. Must be non-empty; its keys define the
//	          variable set and their column order.
//	numPoints - Default number of points; must be positive.
//
// Outputs:
//
//	*Equation - The parsed equation with Index -1.
//	error - Wraps ErrInvalidFormat or an expr parse error.
func NewEquation(src string, support map[string]Interval, numPoints int) (*Equation, error) {
	if len(support) == 0 {
		return nil, fmt.Errorf("%w: empty support", ErrInvalidFormat)
	}
	if numPoints <= 0 {
		return nil, fmt.Errorf("%w: num_points must be positive, got %d", ErrInvalidFormat, numPoints)
	}
	for name, iv := range support {
		if err := iv.validate(); err != nil {
			return nil, fmt.Errorf("%w: variable %s: %v", ErrInvalidFormat, name, err)
		}
	}
	vars := SortVariables(keys(support))
	tree, err := expr.Parse(src, vars)
	if err != nil {
		return nil, fmt.Errorf("ground truth %q: %w", src, err)
	}
	return &Equation{
		Index:     -1,
		Expr:      src,
		Support:   support,
		Variables: vars,
		NumPoints: numPoints,
		tree:      tree,
	}, nil
}

// Tree returns the parsed expression. Callers must not mutate it.
func (e *Equation) Tree() *expr.Node { return e.tree }

// Eval evaluates the ground truth at every row of X. Columns follow
// e.Variables.
func (e *Equation) Eval(X [][]float64) []float64 {
	return e.tree.EvalRows(X, nil)
}

// InSupport reports whether every coordinate of x lies in its interval.
func (e *Equation) InSupport(x []float64) bool {
	if len(x) < len(e.Variables) {
		return false
	}
	for i, name := range e.Variables {
		if !e.Support[name].Contains(x[i]) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Variable Ordering
// -----------------------------------------------------------------------------

var trailingNumber = regexp.MustCompile(`^(.*?)(\d+)$`)

// SortVariables sorts names in natural order so that x_10 follows x_9.
// The input slice is sorted in place and returned.
func SortVariables(names []string) []string {
	sort.SliceStable(names, func(i, j int) bool {
		pi, ni := splitName(names[i])
		pj, nj := splitName(names[j])
		if pi != pj {
			return pi < pj
		}
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names
}

func splitName(s string) (string, int) {
	m := trailingNumber.FindStringSubmatch(s)
	if m == nil {
		return s, -1
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return s, -1
	}
	return m[1], n
}

func keys(m map[string]Interval) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
