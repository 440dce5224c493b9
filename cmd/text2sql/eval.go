package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/text2sql/internal/eval"
)

func newEvalCmd(g *globals) *cobra.Command {
	var (
		fixturesPath string
		jsonOut      bool
		minAccuracy  float64
	)
	config := eval.DefaultEvalConfig()

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Measure execution accuracy against JSONL fixtures with gold SQL.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fixtures, err := eval.LoadFixtures(fixturesPath)
			if err != nil {
				return err
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			log := g.logger()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := eval.NewEvalHarness(a.orch, a.registry, config, log).Run(ctx, fixtures)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				report.Write(cmd.OutOrStdout())
			}

			if report.ExecutionAccuracy < minAccuracy {
				fmt.Fprintf(cmd.ErrOrStderr(), "execution accuracy %.3f below --min-accuracy %.3f\n", report.ExecutionAccuracy, minAccuracy)
				g.code = exitCodeFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&fixturesPath, "fixtures", "f", "", "path to a JSONL fixture file")
	cmd.Flags().IntVar(&config.Concurrency, "concurrency", config.Concurrency, "fixtures evaluated in parallel")
	cmd.Flags().IntVar(&config.AttemptLimit, "attempts", 0, "maximum SQL attempts per fixture (0 uses the configured limit)")
	cmd.Flags().StringVar(&config.Strategy, "strategy", "", "retrieval strategy override")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().Float64Var(&minAccuracy, "min-accuracy", 0, "exit non-zero below this execution accuracy")
	_ = cmd.MarkFlagRequired("fixtures")
	return cmd
}
