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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Required benchmark columns.
const (
	ColumnEquation  = "eqs"
	ColumnSupport   = "support"
	ColumnNumPoints = "num_points"
)

// Load reads every equation of a benchmark CSV.
//
// Description:
//
//	The header must contain eqs, support and num_points; other columns are
//	ignored. The first problem found is returned as a *ParseError and
//	loading stops; nothing is retried.
//
// Inputs:
//
//	r - CSV source.
//
// Outputs:
//
//	[]*Equation - Equations in file order, with Index set to the row index.
//	error - *ParseError (matches ErrInvalidFormat) or a read error.
func Load(r io.Reader) ([]*Equation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Row: 0, Err: errors.New("missing header")}
	}
	if err != nil {
		return nil, &ParseError{Row: 0, Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, want := range []string{ColumnEquation, ColumnSupport, ColumnNumPoints} {
		if _, ok := cols[want]; !ok {
			return nil, &ParseError{Row: 0, Column: want, Err: errors.New("required column missing; need eqs, support and num_points")}
		}
	}

	var out []*Equation
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Row: row, Err: err}
		}
		eq, err := parseRow(rec, cols, row)
		if err != nil {
			return nil, err
		}
		eq.Index = row - 1
		out = append(out, eq)
	}
	return out, nil
}

func parseRow(rec []string, cols map[string]int, row int) (*Equation, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(rec) {
			return "", &ParseError{Row: row, Column: name, Err: errors.New("missing value")}
		}
		return strings.TrimSpace(rec[i]), nil
	}

	src, err := field(ColumnEquation)
	if err != nil {
		return nil, err
	}
	if src == "" {
		return nil, &ParseError{Row: row, Column: ColumnEquation, Err: errors.New("empty expression")}
	}

	rawSupport, err := field(ColumnSupport)
	if err != nil {
		return nil, err
	}
	support, err := ParseSupport(rawSupport)
	if err != nil {
		return nil, &ParseError{Row: row, Column: ColumnSupport, Err: err}
	}

	rawPoints, err := field(ColumnNumPoints)
	if err != nil {
		return nil, err
	}
	n, err := parseCount(rawPoints)
	if err != nil {
		return nil, &ParseError{Row: row, Column: ColumnNumPoints, Err: err}
	}

	eq, err := NewEquation(src, support, n)
	if err != nil {
		return nil, &ParseError{Row: row, Column: ColumnEquation, Err: err}
	}
	return eq, nil
}

// parseCount accepts integers written as floats ("500.0"), as pandas does.
func parseCount(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}

// LoadFile reads a benchmark CSV from disk.
func LoadFile(path string) ([]*Equation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open benchmark: %w", err)
	}
	defer f.Close()

	eqs, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load benchmark %s: %w", path, err)
	}
	return eqs, nil
}

// LoadEquation reads one equation of a benchmark file by row index.
func LoadEquation(path string, index int) (*Equation, error) {
	eqs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(eqs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(eqs))
	}
	return eqs[index], nil
}
