// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the symbolic regression pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/benchmark"
	"github.com/AleutianAI/symfit/services/symfit/expr"
	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/pipeline"
	"github.com/AleutianAI/symfit/services/symfit/predictor"
	"github.com/AleutianAI/symfit/services/symfit/store"
	"github.com/AleutianAI/symfit/services/symfit/telemetry"
)

// maxListLimit caps GET /runs?limit.
const maxListLimit = 1000

// Handlers contains the HTTP handlers for the symfit API.
//
// Thread Safety: Safe for concurrent use.
type Handlers struct {
	pipe    *pipeline.Pipeline
	version string
	logger  *slog.Logger
}

// NewHandlers creates handlers over pipe. A nil logger uses slog.Default().
func NewHandlers(pipe *pipeline.Pipeline, version string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{pipe: pipe, version: version, logger: logger}
}

// HandleRank handles POST /v1/symfit/rank.
//
// Description:
//
//	Builds every skeleton of the beam, fits its constants to (x, y) and
//	returns the candidates ordered by fit error then decode rank.
//
// Request Body:
//
//	RankRequest
//
// Response:
//
//	200 OK: RankResponse
//	400 Bad Request: Invalid body or data shape
//	422 Unprocessable Entity: save requested but no candidate could be fitted
//	503 Service Unavailable: save requested with storage disabled
//	504 Gateway Timeout: Deadline exceeded
func (h *Handlers) HandleRank(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", requestID, "handler", "HandleRank")

	var req RankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, err)
		return
	}
	if req.Save && h.pipe.Store() == nil {
		storageDisabled(c)
		return
	}

	variables := req.Variables
	if len(variables) == 0 && len(req.X) > 0 {
		variables = h.pipe.Variables(len(req.X[0]))
	}

	ctx := c.Request.Context()
	ranked, err := h.pipe.Rank(ctx, req.Beam, variables, req.X, req.Y)
	if err != nil {
		logger.Error("Rank failed", "error", err)
		writeError(c, err, "RANK_FAILED")
		return
	}

	resp := newRankResponse(ranked, req.Limit)
	if req.Save {
		best, ok := ranked.Best()
		if !ok {
			writeError(c, predictor.ErrNoCandidate, "NO_CANDIDATE")
			return
		}
		run := &store.Run{
			Model:        string(predictor.KindNeSymReS),
			Equation:     best.Equation,
			Duration:     ranked.Duration.Seconds(),
			PlatformNode: store.PlatformNode(),
			Metrics:      (&predictor.BeamPredictor{Ranked: ranked}).Metrics(),
			Candidates:   store.Summarize(ranked, req.Limit),
		}
		if err := h.pipe.Store().Save(ctx, run); err != nil {
			logger.Error("Save failed", "error", err)
			writeError(c, err, "SAVE_FAILED")
			return
		}
		resp.RunID = run.ID
	}

	logger.Info("Ranked beam",
		"candidates", ranked.Candidates,
		"fitted", len(ranked.Entries),
		"build_failures", ranked.BuildFailures,
		"duration_ms", ranked.Duration.Milliseconds())

	c.JSON(http.StatusOK, resp)
}

// HandleEvaluate handles POST /v1/symfit/evaluate.
//
// Description:
//
//	Samples test points from the support, scores the prediction against
//	the ground truth and returns the accuracy report.
//
// Request Body:
//
//	EvaluateRequest
//
// Response:
//
//	200 OK: EvaluateResponse
//	400 Bad Request: Invalid body, expression, support or tolerance, or
//	                 num_points above server.max_test_points
//	503 Service Unavailable: save requested with storage disabled
func (h *Handlers) HandleEvaluate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With("request_id", requestID, "handler", "HandleEvaluate")

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		badRequest(c, err)
		return
	}
	if limit := h.pipe.Config().Server.MaxTestPoints; req.NumPoints > limit {
		logger.Warn("Test point count over limit", "num_points", req.NumPoints, "limit", limit)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "num_points exceeds the server limit",
			Code:    "TOO_MANY_POINTS",
			Details: fmt.Sprintf("requested %d, limit %d", req.NumPoints, limit),
		})
		return
	}
	if req.Save && h.pipe.Store() == nil {
		storageDisabled(c)
		return
	}

	n := req.NumPoints
	if n == 0 {
		n = h.pipe.Config().Eval.NumTestPoints
	}
	eq, err := benchmark.NewEquation(req.Equation, req.Support, n)
	if err != nil {
		writeError(c, err, "INVALID_EQUATION")
		return
	}
	pred, err := parsePrediction(req.Prediction, eq.Variables)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PREDICTION"})
		return
	}

	ctx := c.Request.Context()
	rep, err := h.pipe.Evaluate(ctx, pred, eq, pipeline.EvalOptions{
		NumPoints: n,
		RTol:      req.RTol,
		ATol:      req.ATol,
		Seed:      req.Seed,
	})
	if err != nil {
		logger.Error("Evaluate failed", "error", err)
		writeError(c, err, "EVALUATE_FAILED")
		return
	}

	resp := EvaluateResponse{Report: rep}
	if req.Save {
		run := &store.Run{
			Model:        string(predictor.KindEquation),
			GroundTruth:  eq.Expr,
			Equation:     pred.Equation(),
			PlatformNode: store.PlatformNode(),
			Accuracy:     rep,
		}
		if err := h.pipe.Store().Save(ctx, run); err != nil {
			logger.Error("Save failed", "error", err)
			writeError(c, err, "SAVE_FAILED")
			return
		}
		resp.RunID = run.ID
	}

	logger.Info("Evaluated prediction",
		"equation", eq.Expr,
		"solved", rep.Solved,
		"inconclusive", rep.Inconclusive,
		"excluded", rep.Excluded)

	c.JSON(http.StatusOK, resp)
}

// HandleListRuns handles GET /v1/symfit/runs.
//
// Query Parameters:
//
//	limit - Maximum runs to return, newest first (default 50, max 1000)
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	runs := h.pipe.Store()
	if runs == nil {
		storageDisabled(c)
		return
	}

	limit := 50
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = min(v, maxListLimit)
	}

	list, err := runs.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("List runs failed", "request_id", requestID, "error", err)
		writeError(c, err, "LIST_FAILED")
		return
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: list, Count: len(list)})
}

// HandleGetRun handles GET /v1/symfit/runs/:id.
//
// Response:
//
//	200 OK: store.Run
//	400 Bad Request: id is not a UUID
//	404 Not Found: no such run
func (h *Handlers) HandleGetRun(c *gin.Context) {
	getOrCreateRequestID(c)
	runs := h.pipe.Store()
	if runs == nil {
		storageDisabled(c)
		return
	}

	run, err := runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "GET_FAILED")
		return
	}
	c.JSON(http.StatusOK, run)
}

// HandleHealth handles GET /v1/symfit/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Storage: h.pipe.Store() != nil,
	})
}

// =============================================================================
// Helpers
// =============================================================================

// getOrCreateRequestID echoes X-Request-ID or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func parsePrediction(src string, variables []string) (*predictor.ExprPredictor, error) {
	tree, err := expr.Parse(src, variables)
	if err != nil {
		return nil, err
	}
	return predictor.NewExprPredictor(tree, variables)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request body",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}

func storageDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error: "run storage is disabled",
		Code:  "STORAGE_DISABLED",
	})
}

// writeError maps pipeline errors to a status and code. fallback is the
// code used for 500s.
func writeError(c *gin.Context, err error, fallback string) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		code = fallback
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, fitter.ErrEmptyData), errors.Is(err, fitter.ErrDataShape):
		return http.StatusBadRequest, "INVALID_DATA"
	case errors.Is(err, expr.ErrSyntax),
		errors.Is(err, expr.ErrUnknownIdentifier),
		errors.Is(err, expr.ErrUnknownFunction):
		return http.StatusBadRequest, "INVALID_EXPRESSION"
	case errors.Is(err, benchmark.ErrInvalidFormat):
		return http.StatusBadRequest, "INVALID_SUPPORT"
	case errors.Is(err, accuracy.ErrInvalidTolerance), errors.Is(err, accuracy.ErrNoTestPoints):
		return http.StatusBadRequest, "INVALID_EVALUATION"
	case errors.Is(err, store.ErrInvalidID):
		return http.StatusBadRequest, "INVALID_ID"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, predictor.ErrNoCandidate):
		return http.StatusUnprocessableEntity, "NO_CANDIDATE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
