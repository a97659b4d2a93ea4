package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gamelaunch/gamelaunch/internal/config"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

const appName = "gamelaunch"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "gamelaunch - game launcher and play time tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default "+config.DefaultPath()+")")

	load := func() (*config.Config, error) {
		cfg, err := config.New(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCommand(load),
		newStartCommand(load, &configPath),
		newStopCommand(load),
		newStatusCommand(load),
		newAppsCommand(load),
		newLaunchCommand(load),
		newSessionCommand(load),
		newWhitelistCommand(load),
		newScriptsCommand(load),
		newRootStatusCommand(load),
		newProbeCommand(load),
		newReportCommand(load),
		newClearCommand(load),
		newVersionCommand(),
	)
	return rootCmd
}

// configLoader builds the validated configuration once flags are parsed.
type configLoader func() (*config.Config, error)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s version %s\n", appName, version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
