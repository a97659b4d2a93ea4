package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gamelaunch/gamelaunch/internal/daemon"
	"github.com/gamelaunch/gamelaunch/internal/logging"
	"github.com/gamelaunch/gamelaunch/internal/web"
	"github.com/gamelaunch/gamelaunch/pkg/detector"
	"github.com/gamelaunch/gamelaunch/pkg/utils"
)

const stopTimeout = 15 * time.Second

func newStopCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			dm := daemon.New(cfg.Daemon.PIDFile)
			pid, err := dm.ReadPID()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			err = dm.Stop(cmd.Context(), stopTimeout)
			if errors.Is(err, daemon.ErrNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to stop daemon: %w", err)
			}
			fmt.Fprintf(out, "Daemon stopped successfully (PID: %d)\n", pid)
			return nil
		},
	}
}

func newStatusCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, the tracked session and the focused window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			dm := daemon.New(cfg.Daemon.PIDFile)
			running, pid, err := dm.IsRunning()
			if err != nil {
				return fmt.Errorf("failed to check daemon status: %w", err)
			}

			if !running {
				fmt.Fprintln(out, "Status: Not running")
			} else {
				fmt.Fprintf(out, "Status: Running (PID: %d)\n", pid)
				fmt.Fprintf(out, "Web API: http://%s\n", cfg.Addr())
				fmt.Fprintf(out, "Probe: %s every %v\n", cfg.Monitor.ProbeSource, cfg.Monitor.PollInterval)

				ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
				defer cancel()
				state, err := web.NewClient(cfg.Addr()).Session(ctx)
				switch {
				case err != nil:
					fmt.Fprintf(out, "\nCould not query session: %v\n", err)
				case !state.Active:
					fmt.Fprintln(out, "\nSession: none")
				default:
					fmt.Fprintf(out, "\nSession: %s\n", state.SessionID)
					fmt.Fprintf(out, "  App: %s\n", state.TrackedAppID)
					fmt.Fprintf(out, "  Elapsed: %s\n", utils.FormatClock(time.Since(state.StartedAt)))
					fmt.Fprintf(out, "  Foreground: %s\n", orUnknown(state.LastForeground))
					fmt.Fprintf(out, "  Mismatches: %d\n", state.MismatchCount)
				}
			}

			// Show the focused window even when the daemon is not running.
			fmt.Fprintf(out, "\nSession type: %s\n", detector.DetectDisplayServer())
			det, err := detector.New(logging.Discard())
			if err != nil {
				fmt.Fprintf(out, "\nCould not detect current window: %v\n", err)
				return nil
			}
			defer det.Close()

			windowInfo, err := det.GetFocusedWindow()
			if err == nil && windowInfo != nil {
				fmt.Fprintf(out, "\nCurrent Window:\n")
				fmt.Fprintf(out, "  App: %s (%s)\n", windowInfo.AppName, windowInfo.AppID)
				fmt.Fprintf(out, "  Title: %s\n", windowInfo.WindowTitle)
				fmt.Fprintf(out, "  Display: %s\n", windowInfo.DisplayServer)
			}

			idleInfo, err := det.GetIdleInfo()
			if err == nil && idleInfo != nil {
				fmt.Fprintf(out, "\nSystem State:\n")
				fmt.Fprintf(out, "  Idle: %v\n", idleInfo.IsIdle)
				fmt.Fprintf(out, "  Locked: %v\n", idleInfo.IsLocked)
				if idleInfo.IdleTime > 0 {
					fmt.Fprintf(out, "  Idle Time: %ds\n", idleInfo.IdleTime)
				}
			}
			return nil
		},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
