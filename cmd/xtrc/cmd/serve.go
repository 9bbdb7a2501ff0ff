package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/justafolk/xtrc/internal/config"
	"github.com/justafolk/xtrc/internal/daemon"
	"github.com/justafolk/xtrc/internal/logging"
)

// newServeCmd runs the search daemon in the foreground, bound to the
// current project. Unlike 'daemon start', this blocks the calling process
// and exits as soon as the context is cancelled - useful for supervised
// process managers or debugging.
func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var session string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search daemon in the foreground for this project",
		Long: `Run the search daemon in the foreground, serving HTTP /index, /query
and /status for the current project until interrupted.

--transport and --port are accepted for compatibility with process
supervisors that launch xtrc with a fixed invocation; the daemon always
serves over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if debug {
				level = "debug"
			}
			if cleanup, err := logging.SetupMCPModeWithLevel(level); err == nil {
				defer cleanup()
			}

			root, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}

			if session != "" {
				return runServeWithSession(cmd.Context(), session, root, transport, port)
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Accepted for compatibility; serving is always HTTP")
	cmd.Flags().IntVar(&port, "port", 0, "Override the daemon port (0 = use configured default)")
	cmd.Flags().StringVar(&session, "session", "", "Label this foreground instance for logging purposes")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose logging")

	return cmd
}

// runServe starts the daemon in the foreground for the current directory's
// project root, blocking until ctx is cancelled.
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve project root: %w", err)
		}
	}
	return runServeWithSession(ctx, "", root, transport, port)
}

// runServeWithSession starts the daemon in the foreground for projectPath,
// tagging logs with name when non-empty.
func runServeWithSession(ctx context.Context, name, projectPath, transport string, port int) error {
	cfg := daemon.DefaultConfig()
	if port > 0 {
		cfg.Port = port
	}

	appCfg, err := config.Load(projectPath)
	if err != nil {
		appCfg = config.NewConfig()
	}

	d, err := daemon.NewDaemon(cfg, daemon.WithAppConfig(appCfg))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	slog.Info("serve_starting",
		slog.String("project", projectPath),
		slog.String("session", name),
		slog.String("requested_transport", transport),
		slog.String("addr", cfg.Addr()))

	return d.Start(ctx)
}
