package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bwdash/pkg/telemetry"
	"bwdash/services/dashboard/internal/config"
	"bwdash/services/dashboard/internal/snapshot"
)

const serviceName = "bwdash"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "V2RayZone bandwidth dashboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default $"+config.ConfigPathEnv+")")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newGenerateCommand(&configPath))
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and keep the stats snapshot fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return serve(commandContext(cmd), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "HTTP listen port")
	return cmd
}

func newGenerateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Regenerate the stats snapshot once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.CheckInstallDir(); err != nil {
				return err
			}

			logger, err := telemetry.NewLogger(serviceName, telemetry.Options{
				LogLevel:  cfg.Log.Level,
				LogFormat: cfg.Log.Format,
				Output:    cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}

			fan, err := newFanout(cfg, logger)
			if err != nil {
				return err
			}
			defer closeFanout(fan, logger)

			store, err := newStore(cfg, logger, nil, fan)
			if err != nil {
				return err
			}
			if err := store.EnsureDir(); err != nil {
				return err
			}

			res, err := store.Regenerate(commandContext(cmd), snapshot.TriggerCLI)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s) in %s, run %s\n",
				store.Path(), humanize.Bytes(uint64(res.SizeBytes)), res.Duration.Round(time.Millisecond), res.RunID)
			return nil
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
