package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"flash-sale-reservation-service/internal/app"
	"flash-sale-reservation-service/internal/config"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/tools/common"
)

func main() {
	root := &cobra.Command{
		Use:           "flash-sale-server",
		Short:         "Flash sale reservation API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var envFile string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, reservation reaper and payment webhook listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(logLevel(cfg.Server.Profile))

			a, err := app.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	serve.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.AddCommand(serve)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func logLevel(profile string) slog.Level {
	if profile == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
