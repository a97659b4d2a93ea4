package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/config"
	"github.com/gamelaunch/gamelaunch/internal/daemon"
	"github.com/gamelaunch/gamelaunch/internal/database"
	"github.com/gamelaunch/gamelaunch/internal/host"
	"github.com/gamelaunch/gamelaunch/internal/launcher"
	"github.com/gamelaunch/gamelaunch/internal/logging"
	"github.com/gamelaunch/gamelaunch/internal/monitor"
	"github.com/gamelaunch/gamelaunch/internal/reporter"
	"github.com/gamelaunch/gamelaunch/internal/scripts"
	"github.com/gamelaunch/gamelaunch/internal/tracker"
	"github.com/gamelaunch/gamelaunch/internal/web"
	"github.com/gamelaunch/gamelaunch/pkg/detector"
	"github.com/gamelaunch/gamelaunch/pkg/probe"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with the web API in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newStartCommand(load configLoader, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			dm := daemon.New(cfg.Daemon.PIDFile)
			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}
			if running {
				return fmt.Errorf("daemon is already running (PID: %d)", pid)
			}

			childArgs := []string{"serve"}
			if *configPath != "" {
				childArgs = append(childArgs, "--config", *configPath)
			}
			pid, err = daemon.Detach(childArgs, cfg.Daemon.LogFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon started successfully (PID: %d)\n", pid)
			fmt.Fprintf(out, "Web API available at: http://%s\n", cfg.Addr())
			fmt.Fprintf(out, "Logs: %s\n", cfg.Daemon.LogFile)
			return nil
		},
	}
}

// runServe wires the daemon together and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Log.Level, os.Stderr, !daemon.IsChild())

	dm := daemon.New(cfg.Daemon.PIDFile)
	if running, pid, err := dm.IsRunning(); err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	} else if running && pid != os.Getpid() {
		return fmt.Errorf("daemon is already running (PID: %d)", pid)
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		return err
	}
	repo := database.NewRepository(db)

	fg, sampler, closeDetector := foregroundProbe(cfg, repo, logger)
	defer closeDetector()

	root := scripts.NewRootDetector(cfg.Scripts.ElevateCommand, nil)
	runner := scripts.NewRunner(cfg.Scripts.Dir, cfg.Scripts.ElevateCommand, root, scripts.CommandExecutor{}, logger)

	relevance := launcher.AllApps
	if cfg.Launcher.GamesOnly {
		relevance = launcher.GamesOnly
	}
	registry := launcher.NewDesktopRegistry(cfg.Launcher.DataDirs, relevance, logger)

	h := host.New(host.Deps{
		Registry: registry,
		Spawner:  launcher.SpawnDetached,
		Probe:    fg,
		Scripts:  runner,
		Root:     root,
		Store:    repo,
	}, host.Options{
		Monitor: monitor.Config{
			Interval:  cfg.Monitor.PollInterval,
			Threshold: cfg.Monitor.ExitThreshold,
			Whitelist: cfg.Monitor.Whitelist,
		},
		PerfOnLaunch:  cfg.Scripts.PerfOnLaunch,
		RestoreOnExit: cfg.Scripts.RestoreOnExit,
	}, logger)

	server := web.NewServer(cfg, h, reporter.New(repo), logger)

	if err := dm.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer dm.RemovePID()

	logger.Info("starting gamelaunch daemon", "version", version, "addr", "http://"+server.GetAddress(),
		"session", detector.DetectDisplayServer(), "probe", cfg.Monitor.ProbeSource)
	logger.Debug("configuration", "config", cfg.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return h.Run(gctx)
	})
	if sampler != nil {
		g.Go(func() error {
			if err := sampler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if cfg.Monitor.WhitelistFile != "" {
		g.Go(func() error {
			add := func(id string) { h.AddWhitelistedPackage(id) }
			if err := config.WatchWhitelist(gctx, cfg.Monitor.WhitelistFile, add, logger); err != nil {
				logger.Warn("whitelist file is not watched", "path", cfg.Monitor.WhitelistFile, "err", err)
			}
			return nil
		})
	}
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("daemon stopped")
	return err
}

// foregroundProbe picks where the monitor learns the foreground app. The
// usage source also needs the sampler recording into the repository.
func foregroundProbe(cfg *config.Config, repo *database.Repository, logger *slog.Logger) (probe.Probe, *tracker.Service, func()) {
	det, err := detector.New(logger)
	if err != nil {
		logger.Warn("no window detector, the foreground app stays unknown", "err", err)
		unavailable := apperr.Wrap(err, apperr.PermissionDenied, "no window detector")
		return probe.Func(func(context.Context) (string, error) {
			return "", unavailable
		}), nil, func() {}
	}
	closeDetector := func() { det.Close() }

	if cfg.Monitor.ProbeSource == config.ProbeSourceWindow {
		return probe.NewWindowProbe(det), nil, closeDetector
	}
	sampler := tracker.NewService(repo, det, cfg.Tracker.SampleInterval, logger)
	return probe.NewUsageProbe(repo, cfg.Monitor.UsageWindow), sampler, closeDetector
}
