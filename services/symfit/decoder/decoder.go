// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decoder defines the source of candidate skeletons.
//
// The sequence model that proposes skeletons runs outside this module. A
// Decoder hands its beam over as an ordered list of token sequences, best
// first; the fitting pipeline never sees model weights or accelerators.
package decoder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/symfit/services/symfit/skeleton"
)

// Decoder produces a ranked beam of candidate skeletons for a dataset.
type Decoder interface {
	// Decode returns the beam, best candidate first. An empty beam is valid.
	Decode(ctx context.Context, X [][]float64, y []float64) ([]skeleton.TokenSequence, error)
}

// Func adapts a function to the Decoder interface.
type Func func(ctx context.Context, X [][]float64, y []float64) ([]skeleton.TokenSequence, error)

// Decode calls f.
func (f Func) Decode(ctx context.Context, X [][]float64, y []float64) ([]skeleton.TokenSequence, error) {
	return f(ctx, X, y)
}

// Static returns the same pre-computed beam for every dataset.
//
// Thread Safety: Safe for concurrent use; callers receive copies.
type Static struct {
	beam []skeleton.TokenSequence
}

// NewStatic wraps a pre-computed beam.
func NewStatic(beam []skeleton.TokenSequence) *Static {
	return &Static{beam: copyBeam(beam)}
}

// Decode returns a copy of the beam.
func (s *Static) Decode(ctx context.Context, _ [][]float64, _ []float64) ([]skeleton.TokenSequence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return copyBeam(s.beam), nil
}

// Len returns the beam size.
func (s *Static) Len() int { return len(s.beam) }

func copyBeam(beam []skeleton.TokenSequence) []skeleton.TokenSequence {
	out := make([]skeleton.TokenSequence, len(beam))
	for i, ts := range beam {
		out[i] = skeleton.TokenSequence{
			Tokens: append([]string(nil), ts.Tokens...),
			Score:  ts.Score,
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Beam Files
// -----------------------------------------------------------------------------

// entry is one beam element as written on disk. Tokens may be a list or a
// whitespace separated string.
type entry struct {
	Tokens tokenList `yaml:"tokens"`
	Score  float64   `yaml:"score"`
}

type tokenList []string

// UnmarshalYAML accepts both `[add, x_1, c]` and `"add x_1 c"`.
func (t *tokenList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = list
		return nil
	default:
		return fmt.Errorf("line %d: tokens must be a list or a string", node.Line)
	}
}

type beamFile struct {
	Beam []entry `yaml:"beam"`
}

// Parse decodes a beam document.
//
// Description:
//
//	Accepts YAML or JSON, either a bare list of entries or a mapping with a
//	`beam` key:
//
//	  beam:
//	    - tokens: S add mul c x_1 c F
//	      score: -0.12
//	    - tokens: [S, mul, c, x_1, F]
//	      score: -1.3
func Parse(data []byte) ([]skeleton.TokenSequence, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse beam: %w", err)
	}
	if len(root.Content) == 0 {
		return []skeleton.TokenSequence{}, nil
	}

	var entries []entry
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("parse beam: %w", err)
		}
	case yaml.MappingNode:
		var f beamFile
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse beam: %w", err)
		}
		entries = f.Beam
	default:
		return nil, fmt.Errorf("parse beam: expected a list or a mapping with a beam key")
	}

	out := make([]skeleton.TokenSequence, len(entries))
	for i, e := range entries {
		out[i] = skeleton.TokenSequence{Tokens: []string(e.Tokens), Score: e.Score}
	}
	return out, nil
}

// LoadFile reads a beam file and wraps it in a Static decoder.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read beam file: %w", err)
	}
	beam, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStatic(beam), nil
}
