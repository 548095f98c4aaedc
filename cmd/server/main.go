package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/studyroom-server/internal/app"
	"github.com/vovakirdan/studyroom-server/internal/config"
	"github.com/vovakirdan/studyroom-server/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	// loadConfig resolves the config file, then applies flag overrides.
	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		bootLog := log.New("info", "console")
		cfg, path, err := config.Load(bootLog, configPath)
		if err != nil {
			return nil, err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = addr
		}
		bootLog.Debug().Str("config", path).Msg("config loaded")
		return &cfg, nil
	}

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := log.New(cfg.LogLevel, cfg.LogFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		application, err := app.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("init app: %w", err)
		}

		logger.Info().Str("addr", cfg.Addr).Msg("starting studyroom server")
		if err := application.Run(ctx); err != nil {
			return fmt.Errorf("server exited with error: %w", err)
		}
		logger.Info().Msg("server stopped")
		return nil
	}

	root := &cobra.Command{
		Use:           "studyroom",
		Short:         "Study room presence server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE:  serve,
	}
	for _, c := range []*cobra.Command{root, serveCmd} {
		c.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return app.Migrate(context.Background(), cfg, log.New(cfg.LogLevel, cfg.LogFormat))
		},
	}

	root.AddCommand(serveCmd, migrateCmd)
	return root
}
