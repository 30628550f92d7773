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
	"math"
	"os"
	"strconv"
	"strings"
)

// Points is a numeric dataset read from disk.
type Points struct {
	// Columns names the input columns. Generated as x_1..x_n when the file
	// has no header.
	Columns []string

	// X holds the input rows.
	X [][]float64

	// Y holds the targets from the last column.
	Y []float64

	// Skipped counts rows dropped for holding a non-finite value.
	Skipped int
}

// LoadPoints reads a CSV whose last column is the target.
//
// Description:
//
//	A first row that does not parse as numbers is treated as a header.
//	Rows with NaN or infinite values are skipped. Every row must have the
//	same number of fields, at least two.
//
// Outputs:
//
//	*Points - The dataset.
//	error - *ParseError for malformed rows, ErrNoValidPoints when nothing
//	        usable remains.
func LoadPoints(r io.Reader) (*Points, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	p := &Points{}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Row: row, Err: err}
		}
		if len(rec) < 2 {
			return nil, &ParseError{Row: row, Err: fmt.Errorf("need at least one input and one target column, got %d", len(rec))}
		}

		vals, perr := parseFloats(rec)
		if perr != nil {
			if row == 0 {
				p.Columns = trimAll(rec[:len(rec)-1])
				continue
			}
			return nil, &ParseError{Row: row, Err: perr}
		}
		if !allFinite(vals) {
			p.Skipped++
			continue
		}
		p.X = append(p.X, vals[:len(vals)-1])
		p.Y = append(p.Y, vals[len(vals)-1])
	}

	if len(p.X) == 0 {
		return nil, ErrNoValidPoints
	}
	if p.Columns == nil {
		p.Columns = make([]string, len(p.X[0]))
		for i := range p.Columns {
			p.Columns[i] = "x_" + strconv.Itoa(i+1)
		}
	}
	return p, nil
}

// LoadPointsFile reads a points CSV from disk.
func LoadPointsFile(path string) (*Points, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open points: %w", err)
	}
	defer f.Close()

	p, err := LoadPoints(f)
	if err != nil {
		return nil, fmt.Errorf("load points %s: %w", path, err)
	}
	return p, nil
}

func parseFloats(rec []string) ([]float64, error) {
	out := make([]float64, len(rec))
	for i, s := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func allFinite(vals []float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func trimAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
