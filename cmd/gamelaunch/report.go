package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gamelaunch/gamelaunch/internal/database"
	"github.com/gamelaunch/gamelaunch/internal/logging"
	"github.com/gamelaunch/gamelaunch/internal/reporter"
	"github.com/gamelaunch/gamelaunch/pkg/detector"
)

func newReportCommand(load configLoader) *cobra.Command {
	var jsonOutput bool

	reportCmd := &cobra.Command{
		Use:       "report [period]",
		Short:     "Generate a play time report (period: day, week, month)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			periodType := "day"
			if len(args) > 0 {
				periodType = args[0]
			}

			cfg, err := load()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				return err
			}

			report, err := reporter.New(database.NewRepository(db)).GenerateReport(periodType)
			if err != nil {
				return fmt.Errorf("failed to generate report: %w", err)
			}

			if jsonOutput {
				out, err := reporter.FormatReportJSON(report)
				if err != nil {
					return fmt.Errorf("failed to format JSON: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), reporter.FormatReportText(report))
			return nil
		},
	}
	reportCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	return reportCmd
}

func newClearCommand(load configLoader) *cobra.Command {
	var yes bool

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded usage, sessions and errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !yes {
				fmt.Fprint(out, "This will delete all tracking data. Are you sure? (yes/no): ")
				response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				response = strings.TrimSpace(response)
				if response != "yes" && response != "y" {
					fmt.Fprintln(out, "Operation cancelled")
					return nil
				}
			}

			db, err := database.Connect(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				return err
			}

			if err := database.NewRepository(db).Clear(); err != nil {
				return fmt.Errorf("failed to clear database: %w", err)
			}
			fmt.Fprintln(out, "Database cleared successfully")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return clearCmd
}

func newProbeCommand(load configLoader) *cobra.Command {
	var interval time.Duration

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the foreground application until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %v", interval)
			}
			cfg, err := load()
			if err != nil {
				return err
			}

			logger := logging.New(cfg.Log.Level, cmd.ErrOrStderr(), true)
			det, err := detector.New(logger)
			if err != nil {
				return fmt.Errorf("failed to initialize window detector: %w", err)
			}
			defer det.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Probing %s every %v, press Ctrl+C to stop\n", det.GetDisplayServer(), interval)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			ctx := cmd.Context()
			for {
				now := time.Now().Format(time.TimeOnly)
				info, err := det.GetFocusedWindow()
				switch {
				case err != nil:
					fmt.Fprintf(out, "%s  error: %v\n", now, err)
				case info == nil:
					fmt.Fprintf(out, "%s  (nothing focused)\n", now)
				default:
					fmt.Fprintf(out, "%s  %-32s %s [%s]\n", now, info.AppID, info.WindowTitle, info.DisplayServer)
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	probeCmd.Flags().DurationVar(&interval, "interval", time.Second, "time between probes")
	return probeCmd
}
