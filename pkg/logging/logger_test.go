// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{" Error ", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(99).toSlogLevel())
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, JSON: true})
	logger.Info("fit complete", "equation", "x_1 + 1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "symfit", rec["service"])
	assert.Equal(t, "fit complete", rec["msg"])
	assert.Equal(t, "x_1 + 1", rec["equation"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	child := logger.With("run_id", "abc")
	child.Info("ranking")
	assert.Contains(t, buf.String(), "run_id=abc")

	buf.Reset()
	logger.Info("parent")
	assert.NotContains(t, buf.String(), "run_id")
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	logger.Slog().Info("via slog")
	assert.Contains(t, buf.String(), "via slog")
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	logger.Error("hidden")
	assert.Empty(t, buf.String())
	assert.NoError(t, logger.Close())
}

func TestNew_LogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Quiet: true, LogDir: dir, Service: "evaluate"})
	logger.Info("written to file", "accuracy", 0.97)

	path := logger.FilePath()
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "evaluate_"))
	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
	assert.Empty(t, logger.FilePath())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "written to file", rec["msg"])
	assert.Equal(t, 0.97, rec["accuracy"])
}

func TestNew_LogDirUnwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: file, Output: &buf})
	logger.Info("still logs")
	assert.Empty(t, logger.FilePath())
	assert.Contains(t, buf.String(), "still logs")
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger := New(Config{Quiet: true, LogDir: t.TempDir()})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.With("worker", i).Info("fit")
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}))
	logger.Info("info only")
	logger.Warn("both")

	assert.Contains(t, debugBuf.String(), "info only")
	assert.Contains(t, debugBuf.String(), "k=v")
	assert.NotContains(t, warnBuf.String(), "info only")
	assert.Contains(t, warnBuf.String(), "both")

	grouped := slog.New(h.WithGroup("fit"))
	grouped.Warn("grouped", "restarts", 4)
	assert.Contains(t, warnBuf.String(), "fit.restarts=4")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".symfit/logs"), expandPath("~/.symfit/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}
