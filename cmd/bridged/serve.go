package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/signal_bridge/internal/app"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridges, relayer and HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, log.Component("app"))
			if err != nil {
				return err
			}
			if err := application.Start(ctx); err != nil {
				return err
			}
			log.WithField("version", version).Info("bridged started")

			<-ctx.Done()
			log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+cfg.Relayer.Limits.AcquireTimeout)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
}
