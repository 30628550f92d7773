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
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
)

// stubFitter returns canned results keyed by the skeleton's placeholder form.
type stubFitter struct {
	results map[string]fitter.Result
	err     error
}

func (s *stubFitter) Fit(_ context.Context, sk *skeleton.Skeleton, _ [][]float64, _ []float64) (*fitter.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	res := s.results[sk.String()]
	res.Skeleton = sk
	return &res, nil
}

func beam(seqs ...string) []skeleton.TokenSequence {
	out := make([]skeleton.TokenSequence, len(seqs))
	for i, s := range seqs {
		out[i] = skeleton.TokenSequence{Tokens: strings.Fields(s), Score: -float64(i)}
	}
	return out
}

var (
	oneVar = []string{"x_1"}
	data   = [][]float64{{0}, {1}, {2}, {3}}
	target = []float64{3, 5, 7, 9}
)

func TestRank_Order(t *testing.T) {
	stub := &stubFitter{results: map[string]fitter.Result{
		"c0*x_1":       {Converged: false, FitError: 0.1},
		"x_1 + c0":     {Converged: true, FitError: 0.5},
		"sin(x_1)":     {Converged: true, FitError: 0.5},
		"cos(x_1)":     {Converged: true, FitError: math.NaN()},
		"exp(x_1)":     {Converged: true, FitError: 0.01},
		"c0*tanh(x_1)": {Converged: false, FitError: math.Inf(1)},
	}}
	r := New(skeleton.NewBuilder(oneVar), stub, 3, nil)

	got, err := r.Rank(context.Background(), beam(
		"mul c x_1",      // 0
		"add x_1",        // 1: malformed
		"add x_1 c",      // 2
		"sin x_1",        // 3
		"cos x_1",        // 4
		"exp x_1",        // 5
		"mul c tanh x_1", // 6
	), data, target)
	require.NoError(t, err)

	var ranks []int
	for _, e := range got.Entries {
		ranks = append(ranks, e.Rank)
	}
	assert.Equal(t, []int{5, 2, 3, 4, 0, 6}, ranks)
	assert.Equal(t, 7, got.Candidates)
	assert.Equal(t, 1, got.BuildFailures)
	assert.Equal(t, 2, got.ConvergenceFailures)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, 1, got.Failures[0].Rank)

	best, ok := got.Best()
	require.True(t, ok)
	assert.Equal(t, "exp(x_1)", best.Form)
	assert.Equal(t, -5.0, best.Score)
}

func TestRank_OrderIndependentOfWorkers(t *testing.T) {
	b := beam("add mul c x_1 c", "mul c x_1", "add x_1 c", "mul c exp x_1", "add c c")
	f := fitter.New(fitter.DefaultConfig(), nil)

	serial, err := New(skeleton.NewBuilder(oneVar), f, 1, nil).Rank(context.Background(), b, data, target)
	require.NoError(t, err)
	parallel, err := New(skeleton.NewBuilder(oneVar), f, 8, nil).Rank(context.Background(), b, data, target)
	require.NoError(t, err)

	require.Len(t, parallel.Entries, len(serial.Entries))
	for i := range serial.Entries {
		assert.Equal(t, serial.Entries[i].Rank, parallel.Entries[i].Rank)
		assert.Equal(t, serial.Entries[i].FitError, parallel.Entries[i].FitError)
	}
}

func TestRank_AffineBeam(t *testing.T) {
	r := New(skeleton.NewBuilder(oneVar), fitter.New(fitter.DefaultConfig(), nil), 4, nil)
	got, err := r.Rank(context.Background(), beam(
		"mul c sin x_1",
		"S add mul c x_1 c F",
		"add x_1 bogus",
	), data, target)
	require.NoError(t, err)

	best, ok := got.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.Rank)
	assert.True(t, best.Converged)
	assert.Less(t, best.FitError, 1e-8)
	assert.InDelta(t, 2.0, best.Constants["c0"], 1e-4)
	assert.InDelta(t, 3.0, best.Constants["c1"], 1e-4)
	assert.Equal(t, 1, got.BuildFailures)
}

func TestRank_EmptyAndAllFailing(t *testing.T) {
	r := New(skeleton.NewBuilder(oneVar), &stubFitter{}, 2, nil)

	got, err := r.Rank(context.Background(), nil, data, target)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
	_, ok := got.Best()
	assert.False(t, ok)

	got, err = r.Rank(context.Background(), beam("add", "x_9", "F"), data, target)
	require.NoError(t, err)
	assert.Empty(t, got.Entries)
	assert.Equal(t, 3, got.BuildFailures)
}

func TestRank_UndefinedCandidateSortsLast(t *testing.T) {
	X := [][]float64{{-1}, {-2}, {-3}, {-4}}
	y := make([]float64, len(X))
	for i, row := range X {
		y[i] = math.Exp(0.5 * row[0])
	}

	cfg := fitter.DefaultConfig()
	cfg.MaxIterations = 1
	r := New(skeleton.NewBuilder(oneVar), fitter.New(cfg, nil), 2, nil)
	got, err := r.Rank(context.Background(), beam(
		"exp mul c x_1",
		"ln sub x_1 abs c",
	), X, y)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)

	assert.Equal(t, 0, got.Entries[0].Rank)
	last := got.Entries[1]
	assert.Equal(t, 1, last.Rank)
	assert.False(t, last.Converged)
	assert.Equal(t, cfg.Penalty, last.FitError)

	best, ok := got.Best()
	require.True(t, ok)
	assert.Equal(t, "exp(c0*x_1)", best.Form)
}

func TestRank_BudgetFailures(t *testing.T) {
	r := New(skeleton.NewBuilder(oneVar, skeleton.WithConstantBudget(1)), &stubFitter{results: map[string]fitter.Result{}}, 2, nil)
	got, err := r.Rank(context.Background(), beam("add mul c x_1 c", "mul c x_1"), data, target)
	require.NoError(t, err)
	assert.Equal(t, 1, got.BuildFailures)
	assert.Equal(t, 1, got.BudgetFailures)
	assert.Len(t, got.Entries, 1)
}

func TestRank_InvalidData(t *testing.T) {
	r := New(skeleton.NewBuilder([]string{"x_1", "x_2"}), &stubFitter{}, 2, nil)

	_, err := r.Rank(context.Background(), beam("x_1"), nil, nil)
	assert.ErrorIs(t, err, fitter.ErrEmptyData)

	_, err = r.Rank(context.Background(), beam("x_1"), data, target)
	assert.ErrorIs(t, err, fitter.ErrDataShape)
}

func TestRank_FitterErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	r := New(skeleton.NewBuilder(oneVar), &stubFitter{err: boom}, 2, nil)
	_, err := r.Rank(context.Background(), beam("mul c x_1"), data, target)
	assert.ErrorIs(t, err, boom)
}

func TestLess_NaNSortsLast(t *testing.T) {
	nan := Entry{Rank: 0, Result: &fitter.Result{Converged: true, FitError: math.NaN()}}
	inf := Entry{Rank: 1, Result: &fitter.Result{Converged: true, FitError: math.Inf(1)}}
	finite := Entry{Rank: 2, Result: &fitter.Result{Converged: true, FitError: 1e9}}

	assert.True(t, less(finite, nan))
	assert.False(t, less(nan, finite))
	assert.True(t, less(nan, inf), "equal errors fall back to decode rank")
}
