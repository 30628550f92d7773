// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/symfit/services/symfit/benchmark"
	"github.com/AleutianAI/symfit/services/symfit/decoder"
)

type rankOptions struct {
	beam      string
	points    string
	variables []string
	limit     int
}

func newRankCmd(a *app) *cobra.Command {
	opts := &rankOptions{}
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Fit every skeleton of a beam to a points file and print the ranking",
		Example: `  symfit rank --beam beam.yaml --points data.csv --limit 5
  symfit rank --beam beam.json --points data.csv --variables x,y -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runRank(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.beam, "beam", "", "Beam file (YAML or JSON)")
	f.StringVar(&opts.points, "points", "", "Points CSV, last column is y")
	f.StringSliceVar(&opts.variables, "variables", nil, "Names of the input columns (default x_1..x_d)")
	f.IntVarP(&opts.limit, "limit", "n", 10, "Show at most this many candidates (0 for all)")
	_ = cmd.MarkFlagRequired("beam")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func (a *app) runRank(cmd *cobra.Command, opts *rankOptions) error {
	ctx := cmd.Context()
	if err := a.initTelemetry(ctx); err != nil {
		return err
	}
	rep, err := a.reporter(cmd)
	if err != nil {
		return err
	}

	dec, err := decoder.LoadFile(opts.beam)
	if err != nil {
		return err
	}
	pts, err := benchmark.LoadPointsFile(opts.points)
	if err != nil {
		return err
	}
	if pts.Skipped > 0 {
		a.logger.Warn("Skipped rows with non-finite values", "path", opts.points, "skipped", pts.Skipped)
	}

	p := a.pipeline(nil)
	variables := opts.variables
	if len(variables) == 0 {
		variables = p.Variables(len(pts.Columns))
	} else if len(variables) != len(pts.Columns) {
		return fmt.Errorf("--variables names %d columns, %s has %d", len(variables), opts.points, len(pts.Columns))
	}

	beam, err := dec.Decode(ctx, pts.X, pts.Y)
	if err != nil {
		return err
	}
	ranked, err := p.Rank(ctx, beam, variables, pts.X, pts.Y)
	if err != nil {
		return err
	}
	return rep.Ranking(ranked, opts.limit)
}
