// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	stdoutWriter = io.Discard
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()
	assert.Equal(t, "symfit", cfg.ServiceName)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)

	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	assert.Equal(t, "stdout", DefaultConfig().TraceExporter)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_None(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Stdout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "symfit.test", "op")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.NotEmpty(t, TraceID(ctx))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "statsd"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("symfit.test").Int64Counter("symfit_test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	handler := MetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "symfit_test_events")
}

// A second Prometheus Init must not collide with the first registry.
func TestInit_PrometheusTwice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	for i := 0; i < 2; i++ {
		shutdown, err := Init(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	}
}

// -----------------------------------------------------------------------------
// Span helpers
// -----------------------------------------------------------------------------

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestRecordError(t *testing.T) {
	rec := withRecorder(t)

	_, span := StartSpan(context.Background(), "symfit.test", "failing")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}

func TestLoggerWithTrace(t *testing.T) {
	withRecorder(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
	assert.NotNil(t, LoggerWithTrace(context.Background(), nil))

	ctx, span := StartSpan(context.Background(), "symfit.test", "logged")
	defer span.End()
	LoggerWithTrace(ctx, logger).Info("hello")
	assert.Contains(t, buf.String(), "trace_id="+TraceID(ctx))
	assert.Contains(t, buf.String(), "span_id=")
}
