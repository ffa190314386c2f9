package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"edcfeed/internal/runner"
	"edcfeed/internal/web"
)

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled and watch-triggered jobs until stopped",
		Long: `Daemon schedules cron-triggered jobs, watches the input directories
of file_watch jobs, and serves the status API. It runs until SIGINT or
SIGTERM, then stops triggering and drains in-flight jobs before
exiting.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}
	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	r, closeRunner, err := openRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx, cancel := context.WithCancel(baseContext(cmd))
	defer cancel()

	d := runner.NewDaemon(r, cfg)
	if err := d.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "start daemon", err)
	}

	var server *web.Server
	serverErr := make(chan error, 1)
	if cfg.Status.Enabled {
		server = web.NewServer(cfg, r)
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Daemon started. Press Ctrl-C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var failure error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		slog.Error("status server failed", "error", err)
		failure = WrapExitError(ExitFailure, "status server", err)
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Status.ShutdownTimeout)
	defer stop()

	d.Stop(shutdownCtx)
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("status server shutdown failed", "error", err)
		}
	}
	return failure
}
