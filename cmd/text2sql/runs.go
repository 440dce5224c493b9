package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/runlog"
)

func newRunsCmd(g *globals) *cobra.Command {
	var (
		runID   string
		last    int
		jsonOut bool
		kinds   bool
		scope   string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded pipeline runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cfg.RunLog.Path == "" {
				return fmt.Errorf("run log disabled: set runlog.path")
			}
			store, err := runlog.NewStore(cfg.RunLog.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case runID != "":
				run, err := store.Get(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, run)
				}
				printRunDetail(out, run)
			case kinds:
				counts, err := store.KindCounts(ctx, scope)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, counts)
				}
				for _, k := range errctx.Kinds {
					fmt.Fprintf(out, "%-16s %d\n", k, counts[k])
				}
			default:
				runs, err := store.List(ctx, last)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, runs)
				}
				return printRunList(out, runs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "id", "", "show one run with its error records")
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent runs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of a table")
	cmd.Flags().BoolVar(&kinds, "kinds", false, "show error-kind counts across recorded runs")
	cmd.Flags().StringVar(&scope, "scope", "", "restrict --kinds to one scope")
	return cmd
}

// #region list-mode

func printRunList(w io.Writer, runs []runlog.Run) error {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSCOPE\tSTATE\tRETRIES\tROWS\tQUESTION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(r.RunID), r.StartedAt.Local().Format(time.DateTime), r.ScopeID, r.State,
			r.RetryCount, r.RowCount, truncate(r.Question, 60))
	}
	return tw.Flush()
}

// #endregion list-mode

// #region detail-mode

func printRunDetail(w io.Writer, r runlog.Run) {
	fmt.Fprintf(w, "run:       %s\n", r.RunID)
	fmt.Fprintf(w, "scope:     %s\n", r.ScopeID)
	fmt.Fprintf(w, "question:  %s\n", r.Question)
	if r.Evidence != "" {
		fmt.Fprintf(w, "evidence:  %s\n", r.Evidence)
	}
	fmt.Fprintf(w, "state:     %s (retries=%d, rows=%d)\n", r.State, r.RetryCount, r.RowCount)
	fmt.Fprintf(w, "started:   %s (took %s)\n", r.StartedAt.Local().Format(time.DateTime), r.Elapsed)
	for _, st := range orchestrator.WorkStages {
		if secs, ok := r.StageTimes[st]; ok {
			fmt.Fprintf(w, "  %-12s %.3fs\n", st, secs)
		}
	}
	if r.SQL != "" {
		fmt.Fprintf(w, "\n%s\n", r.SQL)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "\n%s\n", r.Error)
	}
	if len(r.ErrorLog) > 0 {
		fmt.Fprintln(w, "\nerror log:")
		for _, rec := range r.ErrorLog {
			fmt.Fprintf(w, "  #%d %-16s %s\n", rec.AttemptNumber, rec.Kind, truncate(rec.RawMessage, 100))
		}
		if patterns := errctx.AnalyzePatterns(r.ErrorLog); len(patterns) > 0 {
			fmt.Fprintln(w, "patterns:")
			for _, p := range patterns {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
	}
}

// #endregion detail-mode

// #region helpers

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// #endregion helpers
