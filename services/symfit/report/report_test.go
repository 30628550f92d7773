// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
	"github.com/AleutianAI/symfit/services/symfit/store"
)

func ranking() *ranker.RankedCandidates {
	return &ranker.RankedCandidates{
		Entries: []ranker.Entry{
			{Rank: 1, Form: "c0*x_1 + c1", Result: &fitter.Result{Equation: "2*x_1 + 3", FitError: 1e-12, Converged: true}},
			{Rank: 0, Form: "c0*x_1", Result: &fitter.Result{Equation: "3.4*x_1", FitError: math.Inf(1)}},
		},
		Candidates:          3,
		BuildFailures:       1,
		ConvergenceFailures: 1,
		Failures:            []ranker.BuildFailure{{Rank: 2, Reason: "malformed"}},
		Duration:            1500 * time.Millisecond,
	}
}

func report(acc *float64) *accuracy.Report {
	r := &accuracy.Report{
		Equation: "x_1**2", Accuracy: acc, Threshold: 0.95, RTol: 0.05, ATol: 0.001,
		Requested: 10, Included: 8, Excluded: 2, Hits: 8, ExcludedFraction: 0.2, OutOfSupport: 2,
	}
	r.Inconclusive = acc == nil
	r.Solved = acc != nil && *acc >= r.Threshold
	return r
}

func TestNew(t *testing.T) {
	for _, f := range []Format{FormatConsole, FormatPlain, FormatJSON} {
		r, err := New(f, &bytes.Buffer{})
		require.NoError(t, err)
		assert.NotNil(t, r)
	}
	_, err := New("yaml", &bytes.Buffer{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestPlain_Ranking(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(FormatPlain, &buf)
	require.NoError(t, r.Ranking(ranking(), 0))

	out := buf.String()
	assert.Contains(t, out, "Ranked candidates")
	assert.Contains(t, out, "rank=1\terror=1e-12\t2*x_1 + 3")
	assert.Contains(t, out, "error=+Inf")
	assert.Contains(t, out, "build_failures=1")
	assert.Contains(t, out, "duration=1.5s")
	assert.NotContains(t, out, "\x1b[")

	buf.Reset()
	require.NoError(t, r.Ranking(ranking(), 1))
	assert.NotContains(t, buf.String(), "3.4*x_1")

	assert.Error(t, r.Ranking(nil, 0))
}

func TestPlain_Accuracy(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(FormatPlain, &buf)

	acc := 1.0
	require.NoError(t, r.Accuracy(report(&acc)))
	assert.Contains(t, buf.String(), "solved (accuracy 1.0000 >= 0.95)")
	assert.Contains(t, buf.String(), "excluded:  2 (20.0%)")

	buf.Reset()
	low := 0.5
	require.NoError(t, r.Accuracy(report(&low)))
	assert.Contains(t, buf.String(), "not solved")

	buf.Reset()
	require.NoError(t, r.Accuracy(report(nil)))
	assert.Contains(t, buf.String(), "inconclusive")
}

func TestPlain_Runs(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(FormatPlain, &buf)

	require.NoError(t, r.Runs(nil))
	assert.Contains(t, buf.String(), "no runs")

	buf.Reset()
	acc := 0.99
	runs := []*store.Run{
		{ID: "a", Model: "linear", Equation: "x_1", Accuracy: report(&acc)},
		{ID: "b", Model: "nesymres", Equation: "x_2", Accuracy: report(nil)},
		{ID: "c", Model: "equation", Equation: "x_3"},
	}
	require.NoError(t, r.Runs(runs))
	out := buf.String()
	assert.Contains(t, out, "acc=0.9900")
	assert.Contains(t, out, "acc=inconclusive")
	assert.Contains(t, out, "acc=-")
}

func TestConsole_Run(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(FormatConsole, &buf)

	fe := 0.25
	acc := 0.97
	run := &store.Run{
		ID: "id-1", Model: "nesymres", Equation: "2*x_1", GroundTruth: "2*x_1",
		Duration: 0.5, PlatformNode: "node", Accuracy: report(&acc),
		Candidates: []store.CandidateSummary{{Rank: 0, Equation: "2*x_1", FitError: &fe, Converged: true}, {Rank: 1, Equation: "x_1"}},
	}
	require.NoError(t, r.Run(run))
	out := buf.String()
	assert.Contains(t, out, "id-1")
	assert.Contains(t, out, "truth:")
	assert.Contains(t, out, "error=0.25")
	assert.Contains(t, out, "error=n/a")
	assert.Error(t, r.Run(nil))
}

func TestJSON_Ranking(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(FormatJSON, &buf)
	require.NoError(t, r.Ranking(ranking(), 0))

	var doc struct {
		Entries []struct {
			Rank     int      `json:"rank"`
			FitError *float64 `json:"fit_error"`
		} `json:"entries"`
		BuildFailures   int     `json:"build_failures"`
		DurationSeconds float64 `json:"duration_seconds"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, 1, doc.Entries[0].Rank)
	assert.NotNil(t, doc.Entries[0].FitError)
	assert.Nil(t, doc.Entries[1].FitError)
	assert.Equal(t, 1, doc.BuildFailures)
	assert.Equal(t, 1.5, doc.DurationSeconds)
}

func TestJSON_AccuracyAndRuns(t *testing.T) {
	var buf bytes.Buffer
	r, _ := New(FormatJSON, &buf)

	require.NoError(t, r.Accuracy(report(nil)))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Nil(t, doc["accuracy"])
	assert.Equal(t, true, doc["inconclusive"])

	buf.Reset()
	require.NoError(t, r.Runs(nil))
	assert.JSONEq(t, "[]", buf.String())
}
