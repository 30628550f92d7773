// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmark

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `name,eqs,support,num_points
nguyen1,x_1**3 + x_1**2 + x_1,"{'x_1': (-1, 1)}",20
nguyen2,sin(x_1) + sin(x_2**2),"{'x_1': (-1, 1), 'x_2': (0, 2)}",500.0
`

func TestParseSupport(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want map[string]Interval
	}{
		{"python tuple", "{'x_1': (-5, 5)}", map[string]Interval{"x_1": {-5, 5}}},
		{"json list", `{"x_1": [-5.5, 5], "x_2": [1, 2]}`, map[string]Interval{"x_1": {-5.5, 5}, "x_2": {1, 2}}},
		{"min max mapping", "{x_1: {min: 0, max: 1}}", map[string]Interval{"x_1": {0, 1}}},
		{"degenerate interval", "{'x_1': (2, 2)}", map[string]Interval{"x_1": {2, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSupport(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSupport_Invalid(t *testing.T) {
	for _, src := range []string{
		"",
		"{}",
		"{'x_1': (1, 2, 3)}",
		"{'x_1': (5, -5)}",
		"{'x_1': ('a', 1)}",
		"{'x_1': {min: 0}}",
		"not a mapping",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := ParseSupport(src)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	eqs, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, eqs, 2)

	assert.Equal(t, 0, eqs[0].Index)
	assert.Equal(t, []string{"x_1"}, eqs[0].Variables)
	assert.Equal(t, 20, eqs[0].NumPoints)
	assert.InDelta(t, 14.0, eqs[0].Tree().Eval([]float64{2}, nil), 1e-12)

	assert.Equal(t, 1, eqs[1].Index)
	assert.Equal(t, []string{"x_1", "x_2"}, eqs[1].Variables)
	assert.Equal(t, 500, eqs[1].NumPoints)
	assert.Equal(t, Interval{0, 2}, eqs[1].Support["x_2"])
}

func TestLoad_MissingColumn(t *testing.T) {
	_, err := Load(strings.NewReader("eqs,support\nx_1,\"{'x_1': (0, 1)}\"\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 0, pe.Row)
	assert.Equal(t, ColumnNumPoints, pe.Column)
}

func TestLoad_BadRows(t *testing.T) {
	tests := []struct {
		name   string
		row    string
		column string
	}{
		{"bad support", `x_1,"{'x_1': (1, 0)}",10`, ColumnSupport},
		{"bad count", `x_1,"{'x_1': (0, 1)}",ten`, ColumnNumPoints},
		{"unknown variable", `x_1 + x_2,"{'x_1': (0, 1)}",10`, ColumnEquation},
		{"empty expression", `,"{'x_1': (0, 1)}",10`, ColumnEquation},
		{"short row", `x_1`, ColumnSupport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader("eqs,support,num_points\n" + tt.row + "\n"))
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, 1, pe.Row)
			assert.Equal(t, tt.column, pe.Column)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestLoadEquation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	eq, err := LoadEquation(path, 1)
	require.NoError(t, err)
	assert.Equal(t, "sin(x_1) + sin(x_2**2)", eq.Expr)

	_, err = LoadEquation(path, 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = LoadEquation(filepath.Join(t.TempDir(), "missing.csv"), 0)
	assert.Error(t, err)
}

func TestSortVariables(t *testing.T) {
	got := SortVariables([]string{"x_10", "x_2", "x_1", "y"})
	assert.Equal(t, []string{"x_1", "x_2", "x_10", "y"}, got)
}

func TestEquation_Sample(t *testing.T) {
	eq, err := NewEquation("x_1*x_2", map[string]Interval{"x_1": {-1, 1}, "x_2": {10, 20}}, 50)
	require.NoError(t, err)

	X, err := eq.Sample(200, 3, 0, ModeIID)
	require.NoError(t, err)
	require.Len(t, X, 200)
	for _, row := range X {
		assert.True(t, eq.InSupport(row), "%v", row)
	}

	again, err := eq.Sample(200, 3, 0, ModeIID)
	require.NoError(t, err)
	assert.Equal(t, X, again)

	other, err := eq.Sample(200, 3, 1, ModeIID)
	require.NoError(t, err)
	assert.NotEqual(t, X, other)

	ood, err := eq.Sample(200, 3, 0, ModeOOD)
	require.NoError(t, err)
	for _, row := range ood {
		assert.False(t, eq.Support["x_1"].Contains(row[0]) && eq.Support["x_2"].Contains(row[1]))
		assert.GreaterOrEqual(t, row[0], -3.0)
		assert.LessOrEqual(t, row[0], 3.0)
	}

	_, err = eq.Sample(1, 0, 0, Mode("grid"))
	assert.Error(t, err)
}

func TestEquation_RobustData(t *testing.T) {
	eq, err := NewEquation("log(x_1)", map[string]Interval{"x_1": {-1, 1}}, 40)
	require.NoError(t, err)

	X, y, err := eq.RobustData(40, 9, ModeIID)
	require.NoError(t, err)
	assert.Len(t, X, 40)
	for i, v := range y {
		assert.False(t, math.IsNaN(v))
		assert.Greater(t, X[i][0], 0.0)
	}

	never, err := NewEquation("sqrt(x_1)", map[string]Interval{"x_1": {-2, -1}}, 10)
	require.NoError(t, err)
	_, _, err = never.RobustData(10, 0, ModeIID)
	assert.ErrorIs(t, err, ErrNoValidPoints)
}

func TestNewEquation_Invalid(t *testing.T) {
	_, err := NewEquation("x_1", nil, 10)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = NewEquation("x_1", map[string]Interval{"x_1": {0, 1}}, 0)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = NewEquation("x_1", map[string]Interval{"x_1": {0, math.Inf(1)}}, 10)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestLoadPoints(t *testing.T) {
	src := "a, b, y\n1, 2, 3\n4, nan, 6\n7, 8, 9\n"
	p, err := LoadPoints(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Columns)
	assert.Equal(t, [][]float64{{1, 2}, {7, 8}}, p.X)
	assert.Equal(t, []float64{3, 9}, p.Y)
	assert.Equal(t, 1, p.Skipped)

	p, err = LoadPoints(strings.NewReader("1,2\n3,4\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x_1"}, p.Columns)

	_, err = LoadPoints(strings.NewReader("x,y\nnan,1\n"))
	assert.ErrorIs(t, err, ErrNoValidPoints)

	_, err = LoadPoints(strings.NewReader("1,2\nfoo,4\n"))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
