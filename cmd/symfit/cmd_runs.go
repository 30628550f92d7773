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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/symfit/services/symfit/config"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := a.reporter(cmd)
			if err != nil {
				return err
			}
			runs, err := a.openStore()
			if err != nil {
				return err
			}
			list, err := runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return rep.Runs(list)
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many runs (0 for all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := a.reporter(cmd)
			if err != nil {
				return err
			}
			runs, err := a.openStore()
			if err != nil {
				return err
			}
			run, err := runs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return rep.Run(run)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "symfit.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			abs, _ := filepath.Abs(path)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", abs)
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "symfit %s\n", version)
			return err
		},
	}
}
