package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/text2sql/internal/server"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API, the run log and Prometheus metrics over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			log := g.logger()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			if !g.verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			deps := server.Deps{
				Pipeline: a.orch,
				Scopes:   a.registry.Scopes(),
				Logger:   log,
			}
			// A nil *runlog.Store must not become a non-nil interface.
			if a.runs != nil {
				deps.Runs = a.runs
			}
			return server.Serve(ctx, cfg.Server.Addr, server.NewRouter(deps), log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
