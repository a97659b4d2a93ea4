package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/gamelaunch/gamelaunch/internal/apperr"
	"github.com/gamelaunch/gamelaunch/internal/scripts"
	"github.com/gamelaunch/gamelaunch/internal/web"
)

// remoteTimeout bounds calls to the daemon. Script runs hold the request
// open until the script exits, so they get the client's own timeout.
const remoteTimeout = 10 * time.Second

// withClient runs fn against the daemon's web API and turns a refused
// connection into a hint to start the daemon.
func withClient(cmd *cobra.Command, load configLoader, timeout time.Duration, fn func(ctx context.Context, c *web.Client) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err = fn(ctx, web.NewClient(cfg.Addr()))
	if web.IsUnavailable(err) {
		return fmt.Errorf("daemon is not reachable at %s (start it with `%s start`)", cfg.Addr(), appName)
	}
	if err != nil && apperr.KindOf(err) != apperr.Internal {
		return fmt.Errorf("%s: %s", apperr.KindOf(err), apperr.Detail(err))
	}
	return err
}

func newAppsCommand(load configLoader) *cobra.Command {
	var gamesOnly bool

	appsCmd := &cobra.Command{
		Use:   "apps",
		Short: "List installed applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				apps, err := c.Apps(ctx, gamesOnly)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCATEGORIES")
				for _, app := range apps {
					fmt.Fprintf(w, "%s\t%s\t%s\n", app.ID, app.Name, strings.Join(app.Categories, ","))
				}
				return w.Flush()
			})
		},
	}
	appsCmd.Flags().BoolVar(&gamesOnly, "games", false, "only list applications that look like games")
	return appsCmd
}

func newLaunchCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "launch <id>",
		Short: "Launch an application and track its session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				launched, err := c.Launch(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Launched %s (PID: %d, session: %s)\n",
					launched.Name, launched.PID, launched.SessionID)
				return nil
			})
		},
	}
}

func newSessionCommand(load configLoader) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Show the tracked session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				state, err := c.Session(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !state.Active {
					fmt.Fprintln(out, "No active session")
					return nil
				}
				fmt.Fprintf(out, "%s: %s since %s (foreground: %s)\n", state.SessionID, state.TrackedAppID,
					state.StartedAt.Local().Format(time.DateTime), orUnknown(state.LastForeground))
				return nil
			})
		},
	}
	sessionCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop tracking the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				return c.StopSession(ctx)
			})
		},
	})
	return sessionCmd
}

func newWhitelistCommand(load configLoader) *cobra.Command {
	whitelistCmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage apps that may hold the foreground without ending a session",
	}
	whitelistCmd.AddCommand(
		&cobra.Command{
			Use:   "add <id>",
			Short: "Add an application id to the whitelist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
					added, err := c.AddWhitelisted(ctx, args[0])
					if err != nil {
						return err
					}
					if added {
						fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", args[0])
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s is already whitelisted\n", args[0])
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List whitelisted application ids",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
					ids, err := c.Whitelist(ctx)
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				})
			},
		},
	)
	return whitelistCmd
}

func newScriptsCommand(load configLoader) *cobra.Command {
	scriptsCmd := &cobra.Command{
		Use:   "scripts",
		Short: "Manage the performance scripts",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the scripts are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				status, err := c.Scripts(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Extracted: %v\n", status.Extracted)
				for _, name := range status.Names {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
				}
				return nil
			})
		},
	}

	var dir string
	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Install the four scripts from a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := readScriptSet(dir)
			if err != nil {
				return err
			}
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				if err := c.ExtractScripts(ctx, set); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Scripts extracted")
				return nil
			})
		},
	}
	extractCmd.Flags().StringVar(&dir, "dir", ".", "directory holding "+strings.Join(scripts.Names, ", "))

	runCmd := &cobra.Command{
		Use:       "run <name>",
		Short:     "Run one of the installed scripts",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scripts.Names,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, 0, func(ctx context.Context, c *web.Client) error {
				if err := c.ExecuteScript(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s finished\n", args[0])
				return nil
			})
		},
	}

	scriptsCmd.AddCommand(statusCmd, extractCmd, runCmd)
	return scriptsCmd
}

// readScriptSet loads the script bodies named by scripts.Names from dir.
func readScriptSet(dir string) (scripts.ScriptSet, error) {
	bodies := make(map[string]string, len(scripts.Names))
	for _, name := range scripts.Names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return scripts.ScriptSet{}, errors.Wrapf(err, "read script %s", name)
		}
		bodies[name] = string(data)
	}
	return scripts.ScriptSet{
		RootPerf:        bodies[scripts.RootPerf],
		RootBalanced:    bodies[scripts.RootBalanced],
		NonRootPerf:     bodies[scripts.NonRootPerf],
		NonRootBalanced: bodies[scripts.NonRootBalanced],
	}, nil
}

func newRootStatusCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "Report whether scripts run with root privileges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, load, remoteTimeout, func(ctx context.Context, c *web.Client) error {
				root, err := c.IsRoot(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Root: %v\n", root)
				return nil
			})
		},
	}
}
