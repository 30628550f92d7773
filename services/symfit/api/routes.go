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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/symfit/services/symfit/telemetry"
)

// RegisterRoutes registers the /v1/symfit endpoints.
//
// Description:
//
//	The router group should already carry any required middleware.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	h - The handlers instance
//
// Endpoints:
//
//	POST /v1/symfit/rank - Fit and rank a decoded beam
//	POST /v1/symfit/evaluate - Score a prediction against a ground truth
//	GET  /v1/symfit/runs - List stored runs, newest first
//	GET  /v1/symfit/runs/:id - Get one stored run
//	GET  /v1/symfit/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	sf := rg.Group("/symfit")
	{
		sf.POST("/rank", h.HandleRank)
		sf.POST("/evaluate", h.HandleEvaluate)
		sf.GET("/health", h.HandleHealth)

		runs := sf.Group("/runs")
		{
			runs.GET("", h.HandleListRuns)
			runs.GET("/:id", h.HandleGetRun)
		}
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName labels the otelgin spans.
	ServiceName string

	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64

	// Metrics, when non-nil, is served at GET /metrics.
	Metrics http.Handler
}

// NewRouter returns a gin engine with recovery, tracing, the body limit
// and all routes installed.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	name := opts.ServiceName
	if name == "" {
		name = "symfit"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(name))
	router.Use(traceHeader())
	if opts.MaxBodyBytes > 0 {
		router.Use(bodyLimit(opts.MaxBodyBytes))
	}

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

// traceHeader exposes the request's trace ID as X-Trace-ID.
func traceHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := telemetry.TraceID(c.Request.Context()); id != "" {
			c.Header("X-Trace-ID", id)
		}
		c.Next()
	}
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
