// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/symfit/services/symfit/config"
	"github.com/AleutianAI/symfit/services/symfit/decoder"
	"github.com/AleutianAI/symfit/services/symfit/predictor"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
	"github.com/AleutianAI/symfit/services/symfit/store"
)

const benchCSV = `name,eqs,support,num_points
line,2*x_1 + 3,"{'x_1': (-1, 1)}",50
plane,x_1 + x_2,"{'x_1': (0, 1), 'x_2': (0, 1)}",40
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Eval.Benchmark = writeFile(t, "bench.csv", benchCSV)
	cfg.Eval.NumTestPoints = 200
	cfg.Storage.OutputDir = t.TempDir()
	cfg.Fit.Restarts = 2
	return cfg
}

func memoryStore(t *testing.T) *store.RunStore {
	t.Helper()
	s, err := store.Open(store.InMemoryDBConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVariables(t *testing.T) {
	cfg := config.Default()
	p := New(cfg, nil, nil)

	assert.Equal(t, []string{"x_1", "x_2"}, p.Variables(2))
	assert.Equal(t, []string{"x_1", "x_2", "x_3", "x_4"}, p.Variables(4))

	cfg.Vocabulary.Variables = []string{"a", "b"}
	assert.Equal(t, []string{"a"}, p.Variables(1))
	assert.Equal(t, []string{"x_1", "x_2", "x_3"}, p.Variables(3))
}

func TestLoadDataset_Benchmark(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, nil)

	ds, err := p.LoadDataset()
	require.NoError(t, err)
	require.NotNil(t, ds.Equation)
	assert.Equal(t, "2*x_1 + 3", ds.Equation.Expr)
	assert.Equal(t, []string{"x_1"}, ds.Variables)
	assert.Len(t, ds.X, 50)
	assert.Len(t, ds.Y, 50)

	cfg.Eval.EquationIndex = 1
	cfg.Eval.NumTrainPoints = 7
	ds, err = p.LoadDataset()
	require.NoError(t, err)
	assert.Equal(t, []string{"x_1", "x_2"}, ds.Variables)
	assert.Len(t, ds.X, 7)
}

func TestLoadDataset_Points(t *testing.T) {
	cfg := config.Default()
	cfg.Eval.PointsPath = writeFile(t, "points.csv", "1,2,3\n2,3,5\n3,nan,1\n4,5,9\n")
	p := New(cfg, nil, nil)

	ds, err := p.LoadDataset()
	require.NoError(t, err)
	assert.Nil(t, ds.Equation)
	assert.Equal(t, []string{"x_1", "x_2"}, ds.Variables)
	assert.Len(t, ds.X, 3)
	assert.Equal(t, []float64{3, 5, 9}, ds.Y)
}

func TestLoadDataset_Errors(t *testing.T) {
	cfg := config.Default()
	p := New(cfg, nil, nil)
	_, err := p.LoadDataset()
	assert.ErrorIs(t, err, ErrNoDataset)

	cfg.Eval.Benchmark = filepath.Join(t.TempDir(), "missing.csv")
	_, err = p.LoadDataset()
	assert.Error(t, err)
}

func TestModel(t *testing.T) {
	cfg := config.Default()
	p := New(cfg, nil, nil)

	_, err := p.Model(predictor.KindNeSymReS, nil, []string{"x_1"})
	assert.ErrorIs(t, err, predictor.ErrMissingDependency)

	cfg.Model.BeamPath = writeFile(t, "beam.yaml", "beam:\n  - tokens: S mul c x_1 F\n")
	m, err := p.Model(predictor.KindNeSymReS, nil, []string{"x_1"})
	require.NoError(t, err)
	assert.Equal(t, "nesymres", m.Name())

	cfg.Model.Expression = "x_1 + 1"
	m, err = p.Model(predictor.KindEquation, nil, []string{"x_1"})
	require.NoError(t, err)
	assert.Equal(t, "equation", m.Name())

	_, err = p.Model("gplearn", nil, nil)
	assert.ErrorIs(t, err, predictor.ErrUnknownModel)
}

func TestRun_Linear(t *testing.T) {
	cfg := testConfig(t)
	runs := memoryStore(t)
	p := New(cfg, runs, nil)
	ctx := context.Background()

	ds, err := p.LoadDataset()
	require.NoError(t, err)
	m, err := p.Model(predictor.KindLinear, nil, ds.Variables)
	require.NoError(t, err)

	run, pred, err := p.Run(ctx, m, ds)
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, "linear", run.Model)
	assert.Equal(t, "2*x_1 + 3", run.GroundTruth)
	require.NotNil(t, run.Accuracy)
	assert.True(t, run.Accuracy.Solved)
	assert.NotEmpty(t, run.PlatformNode)
	assert.GreaterOrEqual(t, run.Duration, 0.0)

	saved, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Equation, saved.Equation)

	_, err = os.Stat(filepath.Join(cfg.Storage.OutputDir, store.ResultsFile))
	assert.NoError(t, err)
}

func TestRun_Beam(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, nil)
	ctx := context.Background()

	ds, err := p.LoadDataset()
	require.NoError(t, err)
	dec := decoder.NewStatic([]skeleton.TokenSequence{
		{Tokens: []string{"S", "add", "mul", "c", "x_1", "c", "F"}, Score: -0.1},
		{Tokens: []string{"S", "sin", "x_1", "F"}, Score: -0.5},
		{Tokens: []string{"S", "add", "F"}, Score: -0.9},
	})
	m, err := p.Model(predictor.KindNeSymReS, dec, ds.Variables)
	require.NoError(t, err)

	run, pred, err := p.Run(ctx, m, ds)
	require.NoError(t, err)
	assert.IsType(t, &predictor.BeamPredictor{}, pred)
	require.NotEmpty(t, run.Candidates)
	assert.Equal(t, 0, run.Candidates[0].Rank)
	assert.Equal(t, 3, run.Metrics["candidates"])
	require.NotNil(t, run.Accuracy)
	assert.True(t, run.Accuracy.Solved)
}

func TestRun_PointsWithoutTruth(t *testing.T) {
	cfg := config.Default()
	cfg.Eval.PointsPath = writeFile(t, "points.csv", "x,y\n0,1\n1,3\n2,5\n3,7\n")
	cfg.Storage.OutputDir = ""
	p := New(cfg, nil, nil)

	ds, err := p.LoadDataset()
	require.NoError(t, err)
	m, err := p.Model(predictor.KindLinear, nil, ds.Variables)
	require.NoError(t, err)

	run, _, err := p.Run(context.Background(), m, ds)
	require.NoError(t, err)
	assert.Nil(t, run.Accuracy)
	assert.Empty(t, run.GroundTruth)
}

func TestRun_FitError(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, nil)

	m, err := p.Model(predictor.KindLinear, nil, []string{"x_1"})
	require.NoError(t, err)
	_, _, err = p.Run(context.Background(), m, &Dataset{})
	assert.Error(t, err)
}

func TestRank(t *testing.T) {
	cfg := config.Default()
	p := New(cfg, nil, nil)

	X := [][]float64{{0}, {1}, {2}, {3}, {4}}
	y := []float64{1, 3, 5, 7, 9}
	beam := []skeleton.TokenSequence{
		{Tokens: []string{"S", "mul", "c", "x_1", "F"}},
		{Tokens: []string{"S", "add", "mul", "c", "x_1", "c", "F"}},
	}
	ranked, err := p.Rank(context.Background(), beam, []string{"x_1"}, X, y)
	require.NoError(t, err)
	best, ok := ranked.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.Rank)
	assert.Less(t, best.FitError, 1e-6)
}

func TestEvaluate_Overrides(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, nil)
	ds, err := p.LoadDataset()
	require.NoError(t, err)

	cfg.Model.Expression = "2*x_1 + 3.2"
	m, err := p.Model(predictor.KindEquation, nil, ds.Variables)
	require.NoError(t, err)
	pred, err := m.Fit(context.Background(), nil, nil)
	require.NoError(t, err)

	rep, err := p.Evaluate(context.Background(), pred, ds.Equation, EvalOptions{NumPoints: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, rep.Requested)

	loose := 0.2
	rep, err = p.Evaluate(context.Background(), pred, ds.Equation, EvalOptions{RTol: &loose, ATol: &loose})
	require.NoError(t, err)
	assert.True(t, rep.Solved)
}
