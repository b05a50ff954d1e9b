package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the status reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := NewServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			s.Start()

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case runErr = <-s.Errors():
				logger.Error("server failed", zap.Error(runErr))
			}
			s.Shutdown()
			return runErr
		},
	}
}

func reconcilerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconciler",
		Short: "Run only the status reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := NewWorker(ctx, cfg, logger)
			if err != nil {
				return err
			}
			s.StartWorkers()
			logger.Info("reconciler running", zap.String("bus", cfg.Bus.Driver))
			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-s.Errors():
			}
			s.Shutdown()
			return runErr
		},
	}
}
