package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// askFlags are shared by ask and repl.
type askFlags struct {
	scope        string
	evidence     string
	strategy     string
	attemptLimit int
	jsonOut      bool
	maxRows      int
}

func (f *askFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.scope, "scope", "s", "", "scope (database) id to ask against")
	cmd.Flags().StringVarP(&f.evidence, "evidence", "e", "", "extra domain hints for the question")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "retrieval strategy: balanced, qa_heavy, sql_heavy, context_heavy")
	cmd.Flags().IntVar(&f.attemptLimit, "attempts", 0, "maximum SQL attempts (0 uses the configured limit)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the full result as JSON")
	cmd.Flags().IntVar(&f.maxRows, "show-rows", 20, "rows to print in table output")
	_ = cmd.MarkFlagRequired("scope")
}

func (f *askFlags) request(question string) (orchestrator.Request, error) {
	// An empty strategy leaves the configured default in charge.
	var strategy retrieval.Strategy
	if f.strategy != "" {
		st, err := retrieval.ParseStrategy(f.strategy)
		if err != nil {
			return orchestrator.Request{}, err
		}
		strategy = st
	}
	return orchestrator.Request{
		ScopeID:      f.scope,
		Question:     question,
		Evidence:     f.evidence,
		AttemptLimit: f.attemptLimit,
		Strategy:     strategy,
	}, nil
}

// #region ask

func newAskCmd(g *globals) *cobra.Command {
	f := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and print the SQL and its rows.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, g.logger())
			if err != nil {
				return err
			}
			defer a.close()

			req, err := f.request(strings.Join(args, " "))
			if err != nil {
				return err
			}
			res := a.orch.Run(ctx, req)
			if err := printResult(cmd.OutOrStdout(), res, f.jsonOut, f.maxRows); err != nil {
				return err
			}
			if !res.Success {
				g.code = exitCodeFailed
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// #endregion ask

// #region repl

func newReplCmd(g *globals) *cobra.Command {
	f := &askFlags{}
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Ask questions interactively against one scope.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, g.logger())
			if err != nil {
				return err
			}
			defer a.close()

			return repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), f, a.orch)
		},
	}
	f.register(cmd)
	return cmd
}

type runner interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.PipelineResult
}

func repl(ctx context.Context, in io.Reader, out io.Writer, f *askFlags, r runner) error {
	fmt.Fprintf(out, "text2sql ready. Scope: %s\n", f.scope)
	fmt.Fprintln(out, "Type a question (or 'quit' to exit):")

	scanner := bufio.NewScanner(in)
	turn := 0
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "quit" || question == "exit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		turn++
		req, err := f.request(question)
		if err != nil {
			return err
		}
		res := r.Run(ctx, req)
		if err := printResult(out, res, f.jsonOut, f.maxRows); err != nil {
			return err
		}
		fmt.Fprintf(out, "[turn-%d] state=%s retries=%d run=%s\n\n", turn, res.State, res.RetryCount, res.RunID)
	}
	return scanner.Err()
}

// #endregion repl

// #region output

func printResult(w io.Writer, res orchestrator.PipelineResult, jsonOut bool, maxRows int) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.SQL != "" {
		fmt.Fprintf(w, "\n%s\n\n", res.SQL)
	}
	if !res.Success {
		fmt.Fprintf(w, "%s\n", res.Error)
		return nil
	}

	out := res.ExecutionOutcome
	if out == nil {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(out.Columns, "\t"))
	for i, row := range out.Rows {
		if i >= maxRows {
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	suffix := ""
	if out.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(w, "\n%d row(s)%s in %s, %d retr%s\n", out.RowCount, suffix, res.Elapsed.Round(time.Millisecond), res.RetryCount, plural(res.RetryCount, "y", "ies"))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// #endregion output
