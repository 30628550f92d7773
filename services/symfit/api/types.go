// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/benchmark"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
	"github.com/AleutianAI/symfit/services/symfit/store"
)

// =============================================================================
// Requests
// =============================================================================

// RankRequest is the body of POST /v1/symfit/rank.
type RankRequest struct {
	// Beam is the decoded beam, best decoder score first.
	Beam []skeleton.TokenSequence `json:"beam" binding:"required,min=1"`

	// X holds one row per point.
	X [][]float64 `json:"x" binding:"required"`

	// Y holds one target per row of X.
	Y []float64 `json:"y" binding:"required"`

	// Variables names the columns of X. Defaults to x_1..x_d.
	Variables []string `json:"variables,omitempty"`

	// Limit truncates the returned entries when positive.
	Limit int `json:"limit,omitempty" binding:"gte=0"`

	// Save records the best candidate as a run.
	Save bool `json:"save,omitempty"`
}

// EvaluateRequest is the body of POST /v1/symfit/evaluate.
type EvaluateRequest struct {
	// Equation is the ground truth.
	Equation string `json:"equation" binding:"required"`

	// Support maps each variable of Equation to its sampling interval.
	Support map[string]benchmark.Interval `json:"support" binding:"required"`

	// Prediction is the expression being scored, over the same variables.
	Prediction string `json:"prediction" binding:"required"`

	// NumPoints overrides the configured test point count.
	NumPoints int `json:"num_points,omitempty" binding:"gte=0"`

	RTol *float64 `json:"rtol,omitempty" binding:"omitempty,gte=0"`
	ATol *float64 `json:"atol,omitempty" binding:"omitempty,gte=0"`
	Seed *uint64  `json:"seed,omitempty"`

	// Save records the evaluation as a run.
	Save bool `json:"save,omitempty"`
}

// =============================================================================
// Responses
// =============================================================================

// RankResponse is the ranking with non-finite fit errors as null.
type RankResponse struct {
	Entries             []store.CandidateSummary `json:"entries"`
	Candidates          int                      `json:"candidates"`
	BuildFailures       int                      `json:"build_failures"`
	BudgetFailures      int                      `json:"budget_failures"`
	ConvergenceFailures int                      `json:"convergence_failures"`
	Failures            []ranker.BuildFailure    `json:"failures,omitempty"`
	DurationSeconds     float64                  `json:"duration_seconds"`

	// RunID is set when the request asked for the result to be saved.
	RunID string `json:"run_id,omitempty"`
}

// EvaluateResponse wraps an accuracy report.
type EvaluateResponse struct {
	Report *accuracy.Report `json:"report"`
	RunID  string           `json:"run_id,omitempty"`
}

// RunsResponse is the body of GET /v1/symfit/runs.
type RunsResponse struct {
	Runs  []*store.Run `json:"runs"`
	Count int          `json:"count"`
}

// HealthResponse is the body of GET /v1/symfit/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage bool   `json:"storage"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func newRankResponse(ranked *ranker.RankedCandidates, limit int) RankResponse {
	return RankResponse{
		Entries:             store.Summarize(ranked, limit),
		Candidates:          ranked.Candidates,
		BuildFailures:       ranked.BuildFailures,
		BudgetFailures:      ranked.BudgetFailures,
		ConvergenceFailures: ranked.ConvergenceFailures,
		Failures:            ranked.Failures,
		DurationSeconds:     ranked.Duration.Seconds(),
	}
}
