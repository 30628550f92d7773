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
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseSupport parses a support literal.
//
// Description:
//
//	Accepts the dictionary literals found in benchmark files. Every value
//	is a two-element range or a min/max mapping:
//
//	  {'x_1': (-5, 5), 'x_2': (1, 10)}
//	  {"x_1": [-5, 5]}
//	  {x_1: {min: -5, max: 5}}
//
//	Tuples are rewritten as YAML flow sequences and the result is decoded
//	with yaml.v3, which also understands single-quoted keys.
//
// Outputs:
//
//	map[string]Interval - Interval per variable.
//	error - Wraps ErrInvalidFormat.
func ParseSupport(s string) (map[string]Interval, error) {
	src := strings.NewReplacer("(", "[", ")", "]").Replace(strings.TrimSpace(s))
	if src == "" {
		return nil, fmt.Errorf("%w: empty support", ErrInvalidFormat)
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(src), &raw); err != nil {
		return nil, fmt.Errorf("%w: support %q: %v", ErrInvalidFormat, s, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: support %q has no variables", ErrInvalidFormat, s)
	}

	out := make(map[string]Interval, len(raw))
	for name, v := range raw {
		iv, err := toInterval(v)
		if err != nil {
			return nil, fmt.Errorf("%w: support for %s: %v", ErrInvalidFormat, name, err)
		}
		if err := iv.validate(); err != nil {
			return nil, fmt.Errorf("%w: support for %s: %v", ErrInvalidFormat, name, err)
		}
		out[name] = iv
	}
	return out, nil
}

func toInterval(v any) (Interval, error) {
	switch t := v.(type) {
	case []any:
		if len(t) != 2 {
			return Interval{}, fmt.Errorf("expected 2 bounds, got %d", len(t))
		}
		lo, err := toFloat(t[0])
		if err != nil {
			return Interval{}, err
		}
		hi, err := toFloat(t[1])
		if err != nil {
			return Interval{}, err
		}
		return Interval{Low: lo, High: hi}, nil
	case map[string]any:
		lo, okLo := first(t, "min", "low")
		hi, okHi := first(t, "max", "high")
		if !okLo || !okHi {
			return Interval{}, fmt.Errorf("mapping needs min and max")
		}
		l, err := toFloat(lo)
		if err != nil {
			return Interval{}, err
		}
		h, err := toFloat(hi)
		if err != nil {
			return Interval{}, err
		}
		return Interval{Low: l, High: h}, nil
	default:
		return Interval{}, fmt.Errorf("unsupported bound type %T", v)
	}
}

func first(m map[string]any, names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := m[n]; ok {
			return v, true
		}
	}
	return nil, false
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("bound %v is not a number", v)
	}
}
