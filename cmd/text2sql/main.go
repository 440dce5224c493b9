package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/text2sql/internal/config"
	"github.com/danielpatrickdp/text2sql/internal/metrics"
)

// Set by -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

type exitCode int

const (
	exitCodeSuccess exitCode = 0
	exitCodeError   exitCode = 1
	exitCodeFailed  exitCode = 3
)

// #region main

func main() {
	os.Exit(int(run()))
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	verbose    bool
	code       exitCode
}

func (g *globals) logger() *slog.Logger {
	return newLogger(g.verbose)
}

func (g *globals) loadConfig() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func run() exitCode {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "text2sql",
		Short:         "Answer natural-language questions with SQL against registered databases.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			metrics.BuildInfo.WithLabelValues(version, commit).Set(1)
			slog.SetDefault(g.logger())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", envOr("TEXT2SQL_CONFIG", ""), "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.AddCommand(
		newAskCmd(g),
		newReplCmd(g),
		newServeCmd(g),
		newEvalCmd(g),
		newIngestCmd(g),
		newRunsCmd(g),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCodeError
	}
	return g.code
}

// #endregion main

// #region helpers

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
