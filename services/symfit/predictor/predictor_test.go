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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/symfit/services/symfit/decoder"
	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
)

var (
	affineX = [][]float64{{0}, {1}, {2}, {3}}
	affineY = []float64{3, 5, 7, 9}
)

func newRanker() *ranker.Ranker {
	return ranker.New(skeleton.NewBuilder([]string{"x_1"}), fitter.New(fitter.DefaultConfig(), nil), 2, nil)
}

func beam(seqs ...string) []skeleton.TokenSequence {
	out := make([]skeleton.TokenSequence, len(seqs))
	for i, s := range seqs {
		out[i] = skeleton.TokenSequence{Tokens: strings.Fields(s)}
	}
	return out
}

func TestNew_ClosedSet(t *testing.T) {
	_, err := New("gaussian_proc", Deps{})
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = New(KindNeSymReS, Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = New(KindEquation, Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = New(KindEquation, Deps{Expression: "x_1 +", Variables: []string{"x_1"}})
	assert.Error(t, err)

	for _, k := range Kinds() {
		assert.NotEmpty(t, string(k))
	}
}

func TestBeamModel_Fit(t *testing.T) {
	m, err := New(KindNeSymReS, Deps{
		Decoder: decoder.NewStatic(beam("mul c x_1", "add mul c x_1 c", "add x_1")),
		Ranker:  newRanker(),
	})
	require.NoError(t, err)
	assert.Equal(t, "nesymres", m.Name())

	p, err := m.Fit(context.Background(), affineX, affineY)
	require.NoError(t, err)

	pred, err := p.Predict([][]float64{{10}})
	require.NoError(t, err)
	assert.InDelta(t, 23.0, pred[0], 1e-4)

	bp, ok := p.(*BeamPredictor)
	require.True(t, ok)
	assert.Equal(t, 1, bp.Ranked.BuildFailures)
	metrics := bp.Metrics()
	assert.Equal(t, 3, metrics["candidates"])
	assert.Equal(t, "c0*x_1 + c1", metrics["best_skeleton"])
	assert.Contains(t, p.Equation(), "x_1")
}

func TestBeamModel_NoCandidate(t *testing.T) {
	m, err := New(KindNeSymReS, Deps{Decoder: decoder.NewStatic(beam("add", "x_7")), Ranker: newRanker()})
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), affineX, affineY)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestBeamModel_EmptyDataPropagates(t *testing.T) {
	m, err := New(KindNeSymReS, Deps{Decoder: decoder.NewStatic(beam("x_1")), Ranker: newRanker()})
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), nil, nil)
	assert.ErrorIs(t, err, fitter.ErrEmptyData)
}

func TestEquationModel(t *testing.T) {
	m, err := New(KindEquation, Deps{Expression: "x1**2 + 1", Variables: []string{"x1"}})
	require.NoError(t, err)
	assert.Equal(t, "equation", m.Name())

	p, err := m.Fit(context.Background(), nil, nil)
	require.NoError(t, err)
	got, err := p.Predict([][]float64{{2}, {3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 10}, got)
	assert.Equal(t, "x1**2 + 1", p.Equation())

	_, err = p.Predict([][]float64{{}})
	assert.Error(t, err)
}

func TestLinearModel(t *testing.T) {
	m, err := New(KindLinear, Deps{})
	require.NoError(t, err)

	X := [][]float64{{0, 1}, {1, 0}, {2, 2}, {3, 1}, {4, 5}}
	y := make([]float64, len(X))
	for i, row := range X {
		y[i] = 1.5 + 2*row[0] - 0.5*row[1]
	}

	p, err := m.Fit(context.Background(), X, y)
	require.NoError(t, err)
	got, err := p.Predict([][]float64{{10, 10}})
	require.NoError(t, err)
	assert.InDelta(t, 16.5, got[0], 1e-9)

	_, err = m.Fit(context.Background(), [][]float64{{1}, {1, 2}}, []float64{1, 2})
	assert.Error(t, err)
	_, err = m.Fit(context.Background(), nil, nil)
	assert.Error(t, err)
}
