// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads symfit settings.
//
// Resolution order, later wins:
//
//  1. Default()
//  2. the YAML file passed to Load (JSON is accepted as well)
//  3. SYMFIT_* environment variables
//
// The result is then validated with struct tags plus cross-field checks.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/symfit/pkg/logging"
	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/predictor"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
	"github.com/AleutianAI/symfit/services/symfit/telemetry"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// Types
// =============================================================================

// Config is the full symfit configuration.
type Config struct {
	Model      ModelConfig      `json:"model" yaml:"model"`
	Vocabulary VocabularyConfig `json:"vocabulary" yaml:"vocabulary"`
	Fit        fitter.Config    `json:"fit" yaml:"fit"`
	Eval       EvalConfig       `json:"eval" yaml:"eval"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Telemetry  telemetry.Config `json:"telemetry" yaml:"telemetry"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

// ModelConfig selects the fitting strategy.
type ModelConfig struct {
	// Name is one of predictor.Kinds().
	Name string `json:"name" yaml:"name" validate:"required,oneof=nesymres equation linear"`

	// BeamPath is the decoded beam file for nesymres.
	BeamPath string `json:"beam_path" yaml:"beam_path"`

	// Expression and Variables define the equation model.
	Expression string   `json:"expression" yaml:"expression"`
	Variables  []string `json:"variables" yaml:"variables"`

	// Workers bounds concurrent candidate fits. 0 means one per CPU.
	Workers int `json:"workers" yaml:"workers" validate:"gte=0"`
}

// VocabularyConfig configures skeleton construction.
type VocabularyConfig struct {
	// Variables the decoder may reference. Empty means "take them from the
	// dataset".
	Variables []string `json:"variables" yaml:"variables" validate:"omitempty,dive,required"`

	// ConstantBudget caps placeholders per skeleton; -1 is unlimited.
	ConstantBudget int `json:"constant_budget" yaml:"constant_budget" validate:"gte=-1"`

	// AddCoefficients wraps constant-free skeletons as c0*(sk)+c1.
	AddCoefficients bool `json:"add_coefficients" yaml:"add_coefficients"`
}

// EvalConfig configures accuracy evaluation and benchmark input.
type EvalConfig struct {
	accuracy.Config `yaml:",inline"`

	NumTestPoints  int     `json:"num_test_points" yaml:"num_test_points" validate:"gte=1"`
	NumTrainPoints int     `json:"num_train_points" yaml:"num_train_points" validate:"gte=0"`
	RTol           float64 `json:"rtol" yaml:"rtol" validate:"gte=0"`
	ATol           float64 `json:"atol" yaml:"atol" validate:"gte=0"`

	// Benchmark is the equations CSV; EquationIndex selects its row.
	Benchmark     string `json:"benchmark" yaml:"benchmark"`
	EquationIndex int    `json:"equation_index" yaml:"equation_index" validate:"gte=0"`

	// PointsPath replaces sampled training data with a CSV of points.
	PointsPath string `json:"points_path" yaml:"points_path"`

	// Mode is "iid" or "ood" for training data sampling.
	Mode string `json:"mode" yaml:"mode" validate:"oneof=iid ood"`
}

// StorageConfig configures run persistence.
type StorageConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string `json:"path" yaml:"path"`
	InMemory bool   `json:"in_memory" yaml:"in_memory"`

	// OutputDir receives results.json after each run. Empty disables it.
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `json:"dir" yaml:"dir"`
	JSON  bool   `json:"json" yaml:"json"`
}

// ServerConfig configures `symfit serve`.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" validate:"required,hostport"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`

	// MaxTestPoints caps the num_points an evaluate request may ask for.
	MaxTestPoints int `json:"max_test_points" yaml:"max_test_points" validate:"gt=0"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Model: ModelConfig{Name: string(predictor.KindNeSymReS)},
		Vocabulary: VocabularyConfig{
			Variables:       []string{"x_1", "x_2", "x_3"},
			ConstantBudget:  skeleton.UnlimitedConstants,
			AddCoefficients: true,
		},
		Fit: fitter.DefaultConfig(),
		Eval: EvalConfig{
			Config:        accuracy.DefaultConfig(),
			NumTestPoints: 500,
			RTol:          0.05,
			ATol:          0.001,
			Mode:          "iid",
		},
		Storage: StorageConfig{
			Path:      "~/.symfit/runs",
			OutputDir: ".",
		},
		Telemetry: telemetry.DefaultConfig(),
		Log:       LogConfig{Level: "info"},
		Server: ServerConfig{
			Addr:            ":8090",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    8 << 20,
			MaxTestPoints:   100_000,
		},
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load resolves the configuration.
//
// Description:
//
//	Starts from Default, overlays the file at path (skipped when path is
//	empty), applies SYMFIT_* environment overrides, expands ~ in paths and
//	validates. Unknown keys in the file are errors.
//
// Inputs:
//
//	path - YAML or JSON file, or "".
//
// Outputs:
//
//	*Config - The resolved configuration.
//	error - Read, parse, override or ErrInvalidConfig failures.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Storage.Path = expandPath(cfg.Storage.Path)
	cfg.Storage.OutputDir = expandPath(cfg.Storage.OutputDir)
	cfg.Log.Dir = expandPath(cfg.Log.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// WriteDefault writes Default as YAML to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// =============================================================================
// Environment
// =============================================================================

type envOverride struct {
	key   string
	apply func(c *Config, v string) error
}

var envOverrides = []envOverride{
	{"SYMFIT_MODEL", func(c *Config, v string) error { c.Model.Name = v; return nil }},
	{"SYMFIT_BEAM_PATH", func(c *Config, v string) error { c.Model.BeamPath = v; return nil }},
	{"SYMFIT_EXPRESSION", func(c *Config, v string) error { c.Model.Expression = v; return nil }},
	{"SYMFIT_WORKERS", intOverride(func(c *Config) *int { return &c.Model.Workers })},
	{"SYMFIT_VARIABLES", func(c *Config, v string) error { c.Vocabulary.Variables = splitList(v); return nil }},
	{"SYMFIT_CONSTANT_BUDGET", intOverride(func(c *Config) *int { return &c.Vocabulary.ConstantBudget })},
	{"SYMFIT_RESTARTS", intOverride(func(c *Config) *int { return &c.Fit.Restarts })},
	{"SYMFIT_SEED", func(c *Config, v string) error {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.Fit.Seed, c.Eval.Seed = seed, seed
		return nil
	}},
	{"SYMFIT_BENCHMARK", func(c *Config, v string) error { c.Eval.Benchmark = v; return nil }},
	{"SYMFIT_EQUATION_INDEX", intOverride(func(c *Config) *int { return &c.Eval.EquationIndex })},
	{"SYMFIT_NUM_TEST_POINTS", intOverride(func(c *Config) *int { return &c.Eval.NumTestPoints })},
	{"SYMFIT_STORAGE_PATH", func(c *Config, v string) error { c.Storage.Path = v; return nil }},
	{"SYMFIT_OUTPUT_DIR", func(c *Config, v string) error { c.Storage.OutputDir = v; return nil }},
	{"SYMFIT_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"SYMFIT_LOG_DIR", func(c *Config, v string) error { c.Log.Dir = v; return nil }},
	{"SYMFIT_SERVER_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"SYMFIT_SERVER_MAX_TEST_POINTS", intOverride(func(c *Config) *int { return &c.Server.MaxTestPoints })},
}

func intOverride(field func(c *Config) *int) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s=%q: %w", o.key, v, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// Validation
// =============================================================================

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("hostport", validateHostPort)
}

// validateHostPort accepts "host:port" and ":port".
func validateHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}

// Validate checks struct tags and the rules that span fields.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch predictor.Kind(c.Model.Name) {
	case predictor.KindEquation:
		if c.Model.Expression == "" {
			return fmt.Errorf("%w: model.expression is required for the equation model", ErrInvalidConfig)
		}
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless storage.in_memory is set", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logging.Level {
	l, _ := logging.ParseLevel(c.Log.Level)
	return l
}

// BuilderOptions returns the skeleton builder options for the vocabulary.
func (c *Config) BuilderOptions() []skeleton.Option {
	return []skeleton.Option{
		skeleton.WithConstantBudget(c.Vocabulary.ConstantBudget),
		skeleton.WithCoefficientWrapping(c.Vocabulary.AddCoefficients),
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
