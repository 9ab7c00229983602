package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/okian/trophy/internal/adapters/repository"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/internal/roster"
	"github.com/spf13/cobra"
)

type scoreFlags struct {
	format      string
	breakdown   bool
	concurrency int
}

func newScoreCmd() *cobra.Command {
	f := &scoreFlags{}
	cmd := &cobra.Command{
		Use:   "score <roster-file>",
		Short: "Score a YAML or JSON roster offline and print the ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.format, "format", "table", "Output format: table or json")
	flags.BoolVar(&f.breakdown, "breakdown", false, "Include per-entry points")
	flags.IntVar(&f.concurrency, "concurrency", runtime.NumCPU(), "Records scored in parallel")
	return cmd
}

// rankedResult is one row of offline output.
type rankedResult struct {
	types.Entry
	Breakdown *achievement.Result `json:"breakdown,omitempty"`
}

func runScore(ctx context.Context, w io.Writer, path string, f *scoreFlags) error {
	if f.format != "table" && f.format != "json" {
		return exitError(2, "unknown format %q: want table or json", f.format)
	}
	recs, err := roster.Load(path)
	if err != nil {
		return exitError(3, "failed to load roster: %v", err)
	}

	engine := achievement.NewEngine(achievement.WithConcurrency(f.concurrency))
	results, err := engine.ScoreAll(ctx, recs)
	if err != nil {
		return err
	}

	store := repository.NewTreapStore(ctx)
	defer func() { _ = store.Close() }()
	byURN := make(map[string]achievement.Result, len(results))
	for i, res := range results {
		rec := recs[i]
		st := types.Standing{URN: rec.URN, Name: rec.Name, Branch: rec.Branch, Year: rec.Year, Score: res.Total}
		if err := store.Upsert(ctx, st); err != nil {
			return exitError(3, "record %d: %v", i+1, err)
		}
		byURN[rec.URN] = res
	}
	n, _ := store.Count(ctx)
	if n == 0 {
		return nil
	}
	entries, err := store.TopN(ctx, n)
	if err != nil {
		return err
	}

	rows := make([]rankedResult, len(entries))
	for i, e := range entries {
		rows[i] = rankedResult{Entry: e}
		if f.breakdown {
			res := byURN[e.URN]
			rows[i].Breakdown = &res
		}
	}

	if f.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return writeTable(w, rows)
}

func writeTable(w io.Writer, rows []rankedResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tURN\tNAME\tBRANCH\tYEAR\tSCORE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n", r.Rank, r.URN, r.Name, r.Branch, r.Year, r.Score)
		if r.Breakdown == nil {
			continue
		}
		for _, e := range r.Breakdown.Entries {
			fmt.Fprintf(tw, "\t  %s\t%s\t%s/%s\t\t%+d\n", e.Sport, strings.TrimSpace(e.RawPosition), e.Level, e.Position, e.Points)
		}
		if r.Breakdown.CaptainBonus > 0 {
			fmt.Fprintf(tw, "\t  captain\t\t\t\t%+d\n", r.Breakdown.CaptainBonus)
		}
		if r.Breakdown.SportBonus > 0 {
			fmt.Fprintf(tw, "\t  sport bonus\t\t\t\t%+d\n", r.Breakdown.SportBonus)
		}
	}
	return tw.Flush()
}
