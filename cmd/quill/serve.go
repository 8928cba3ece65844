package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teilomillet/quill/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !fileExists(a.configPath) {
				return fmt.Errorf("config file %s not found", a.configPath)
			}
			a.cfg.LogCheck(a.logger)

			srv, err := server.NewServer(a.configPath, a.logger, server.WithLevel(a.level))
			if err != nil {
				a.logger.Error("Server initialization failed",
					zap.Error(err),
					zap.String("config_path", a.configPath),
				)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.logger.Info("Starting quill", zap.String("version", version), zap.Int("port", a.cfg.Server.Port))
			if err := srv.Start(ctx); err != nil {
				a.logger.Error("Server error", zap.Error(err))
				return err
			}
			a.logger.Info("Server shutdown complete")
			return nil
		},
	}
}
