// cmd/library/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"librarycatalog/internal/config"
	"librarycatalog/internal/logging"
	"librarycatalog/internal/server"
	"librarycatalog/internal/store/postgres"
	"librarycatalog/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "library",
		Short:         "Library catalog API server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	load := func() (*config.Config, zerolog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		if err := cfg.Validate(); err != nil {
			return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
		}
		log, err := logging.Stderr(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		return cfg, log, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog API and book subscriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn().Err(err).Msg("telemetry shutdown")
				}
			}()

			srv, err := server.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Store.DatabaseURL, cfg.Store.ConnectWait)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.New(db).Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("schema is up to date")
			return nil
		},
	})
	return root
}
