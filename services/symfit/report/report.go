// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders rankings, accuracy reports and stored runs for the
// command line.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
	"github.com/AleutianAI/symfit/services/symfit/store"
)

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// Format names an output style.
type Format string

const (
	// FormatConsole is styled terminal output.
	FormatConsole Format = "console"

	// FormatPlain is unstyled, tab separated output for pipes and scripts.
	FormatPlain Format = "plain"

	// FormatJSON is one indented JSON document per call.
	FormatJSON Format = "json"
)

// Reporter writes pipeline results.
type Reporter interface {
	Ranking(ranked *ranker.RankedCandidates, limit int) error
	Accuracy(r *accuracy.Report) error
	Run(run *store.Run) error
	Runs(runs []*store.Run) error
}

// New returns the reporter for format, writing to w.
func New(format Format, w io.Writer) (Reporter, error) {
	switch format {
	case FormatConsole:
		return &Console{w: w, styled: true}, nil
	case FormatPlain:
		return &Console{w: w}, nil
	case FormatJSON:
		return &JSON{w: w}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want console, plain or json)", ErrUnknownFormat, format)
	}
}

// -----------------------------------------------------------------------------
// Console
// -----------------------------------------------------------------------------

var (
	colorTeal  = lipgloss.Color("#2CD7C7")
	colorGold  = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
	colorSlate = lipgloss.Color("#2C4A54")
	colorDeep  = lipgloss.Color("#16858E")
)

var styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Success: lipgloss.NewStyle().Foreground(colorTeal),
	Warning: lipgloss.NewStyle().Foreground(colorGold),
	Error:   lipgloss.NewStyle().Foreground(colorRed),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDeep).
		Padding(0, 1),
}

// Console renders human readable text. When styled is false it prints plain
// tab separated lines.
type Console struct {
	w      io.Writer
	styled bool
}

func (c *Console) render(s lipgloss.Style, text string) string {
	if !c.styled {
		return text
	}
	return s.Render(text)
}

// Ranking prints the first limit entries (all when limit <= 0) and the
// failure counts.
func (c *Console) Ranking(ranked *ranker.RankedCandidates, limit int) error {
	if ranked == nil {
		return errors.New("nil ranking")
	}
	entries := ranked.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	var b strings.Builder
	fmt.Fprintln(&b, c.render(styles.Title, "Ranked candidates"))
	for i, e := range entries {
		mark := c.render(styles.Success, "✓")
		if !e.Converged {
			mark = c.render(styles.Warning, "⚠")
		}
		fmt.Fprintf(&b, "%2d\t%s\trank=%d\terror=%s\t%s\n", i+1, mark, e.Rank, formatFloat(e.FitError), e.Equation)
		if c.styled {
			fmt.Fprintf(&b, "\t\t%s\n", styles.Muted.Render(e.Form))
		}
	}
	fmt.Fprintf(&b, "%s candidates=%d fitted=%d build_failures=%d (budget=%d) convergence_failures=%d duration=%s\n",
		c.render(styles.Muted, "summary:"),
		ranked.Candidates, len(ranked.Entries), ranked.BuildFailures, ranked.BudgetFailures,
		ranked.ConvergenceFailures, ranked.Duration)

	_, err := io.WriteString(c.w, b.String())
	return err
}

// Accuracy prints an evaluation report.
func (c *Console) Accuracy(r *accuracy.Report) error {
	if r == nil {
		return errors.New("nil accuracy report")
	}
	var verdict string
	switch {
	case r.Inconclusive:
		verdict = c.render(styles.Warning, "inconclusive: no test point could be scored")
	case r.Solved:
		verdict = c.render(styles.Success, fmt.Sprintf("solved (accuracy %.4f >= %.2f)", *r.Accuracy, r.Threshold))
	default:
		verdict = c.render(styles.Error, fmt.Sprintf("not solved (accuracy %.4f < %.2f)", *r.Accuracy, r.Threshold))
	}

	lines := []string{
		fmt.Sprintf("equation:  %s", r.Equation),
		fmt.Sprintf("verdict:   %s", verdict),
		fmt.Sprintf("points:    %d requested, %d included, %d hits", r.Requested, r.Included, r.Hits),
		fmt.Sprintf("excluded:  %d (%.1f%%) support=%d truth=%d prediction=%d",
			r.Excluded, 100*r.ExcludedFraction, r.OutOfSupport, r.NonFiniteTruth, r.NonFinitePrediction),
		fmt.Sprintf("tolerance: rtol=%g atol=%g", r.RTol, r.ATol),
	}
	return c.box("Accuracy", strings.Join(lines, "\n"))
}

// Run prints one stored run.
func (c *Console) Run(run *store.Run) error {
	if run == nil {
		return errors.New("nil run")
	}
	lines := []string{
		fmt.Sprintf("id:        %s", run.ID),
		fmt.Sprintf("created:   %s", run.CreatedAt.Format("2006-01-02 15:04:05Z07:00")),
		fmt.Sprintf("model:     %s", run.Model),
		fmt.Sprintf("equation:  %s", run.Equation),
		fmt.Sprintf("duration:  %.3fs on %s", run.Duration, run.PlatformNode),
	}
	if run.GroundTruth != "" {
		lines = append(lines, fmt.Sprintf("truth:     %s", run.GroundTruth))
	}
	if err := c.box("Run", strings.Join(lines, "\n")); err != nil {
		return err
	}
	if run.Accuracy != nil {
		if err := c.Accuracy(run.Accuracy); err != nil {
			return err
		}
	}
	if len(run.Candidates) > 0 {
		var b strings.Builder
		fmt.Fprintln(&b, c.render(styles.Title, "Candidates"))
		for _, cand := range run.Candidates {
			errText := "n/a"
			if cand.FitError != nil {
				errText = formatFloat(*cand.FitError)
			}
			fmt.Fprintf(&b, "rank=%d\terror=%s\tconverged=%t\t%s\n", cand.Rank, errText, cand.Converged, cand.Equation)
		}
		if _, err := io.WriteString(c.w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// Runs prints one line per run.
func (c *Console) Runs(runs []*store.Run) error {
	var b strings.Builder
	if len(runs) == 0 {
		fmt.Fprintln(&b, c.render(styles.Muted, "no runs"))
	}
	for _, run := range runs {
		acc := "-"
		if run.Accuracy != nil {
			if v, ok := run.Accuracy.Value(); ok {
				acc = fmt.Sprintf("%.4f", v)
			} else {
				acc = "inconclusive"
			}
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\tacc=%s\t%s\n",
			run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.Model, acc, run.Equation)
	}
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *Console) box(title, body string) error {
	var out string
	if c.styled {
		out = styles.Box.Render(styles.Title.Render(title)+"\n"+body) + "\n"
	} else {
		out = title + "\n" + body + "\n"
	}
	_, err := io.WriteString(c.w, out)
	return err
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%.6g", v)
}

// -----------------------------------------------------------------------------
// JSON
// -----------------------------------------------------------------------------

// JSON writes each result as an indented JSON document.
type JSON struct {
	w io.Writer
}

// rankingDoc mirrors ranker.RankedCandidates with non-finite errors as null.
type rankingDoc struct {
	Entries             []store.CandidateSummary `json:"entries"`
	Candidates          int                      `json:"candidates"`
	BuildFailures       int                      `json:"build_failures"`
	BudgetFailures      int                      `json:"budget_failures"`
	ConvergenceFailures int                      `json:"convergence_failures"`
	Failures            []ranker.BuildFailure    `json:"failures,omitempty"`
	DurationSeconds     float64                  `json:"duration_seconds"`
}

func (j *JSON) encode(v any) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Ranking writes the ranking. Entries are truncated to limit when positive.
func (j *JSON) Ranking(ranked *ranker.RankedCandidates, limit int) error {
	if ranked == nil {
		return errors.New("nil ranking")
	}
	return j.encode(rankingDoc{
		Entries:             store.Summarize(ranked, limit),
		Candidates:          ranked.Candidates,
		BuildFailures:       ranked.BuildFailures,
		BudgetFailures:      ranked.BudgetFailures,
		ConvergenceFailures: ranked.ConvergenceFailures,
		Failures:            ranked.Failures,
		DurationSeconds:     ranked.Duration.Seconds(),
	})
}

func (j *JSON) Accuracy(r *accuracy.Report) error { return j.encode(r) }
func (j *JSON) Run(run *store.Run) error          { return j.encode(run) }
func (j *JSON) Runs(runs []*store.Run) error {
	if runs == nil {
		runs = []*store.Run{}
	}
	return j.encode(runs)
}

// Compile-time interface checks.
var (
	_ Reporter = (*Console)(nil)
	_ Reporter = (*JSON)(nil)
)
