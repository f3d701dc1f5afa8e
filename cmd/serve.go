package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"piesta-gateway/internal/config"
	"piesta-gateway/internal/server"
)

// runServer blocks serving HTTP. Tests replace it.
var runServer = func(ctx context.Context, srv *server.Server) error {
	return srv.Run(ctx)
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var overridePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), flags, overridePort)
		},
	}
	cmd.Flags().IntVar(&overridePort, "port", 0, "override server port from configuration")
	return cmd
}

func serve(ctx context.Context, flags *rootFlags, overridePort int) error {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort < 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	creds, err := config.LoadCredentials(flags.envFile)
	if err != nil {
		return err
	}

	svc, closeStore, err := buildServices(ctx, cfg, creds)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("closing history store", "error", err)
		}
	}()

	srv, err := server.New(cfg, svc)
	if err != nil {
		return err
	}

	return runServer(ctx, srv)
}
