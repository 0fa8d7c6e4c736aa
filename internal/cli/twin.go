package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/apitwin"
)

// TwinOptions holds flags for the twin command.
type TwinOptions struct {
	*RootOptions
	Addr   string
	NoSeed bool

	// listening, when set, receives the bound address (for testing).
	listening chan<- string
}

// NewTwinCommand creates the twin command.
func NewTwinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TwinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Serve an in-memory kudos service for local use",
		Long: `Serve an in-memory stand-in for the kudos service. It speaks the same
routes as the real service, so the other commands can run against it by
pointing api_url (or KUDOSYNC_API_URL) at its address.

Unless --no-seed is given it starts with four employees, two rewards and
one project. Sign in as admin@example.com with password "admin".

Example:
  kudos twin --addr 127.0.0.1:8080
  KUDOSYNC_API_URL=http://127.0.0.1:8080 kudos login --email admin@example.com --password admin`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveTwin(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().BoolVar(&opts.NoSeed, "no-seed", false, "start with no data")

	return cmd
}

func serveTwin(opts *TwinOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	tw := apitwin.New()
	if !opts.NoSeed {
		email, password := apitwin.Seed(tw)
		slog.Info("twin seeded", "email", email, "password", password)
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: tw.Handler(), ReadHeaderTimeout: 10 * time.Second}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	addr := ln.Addr().String()
	slog.Info("twin starting", "addr", addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving kudos twin on http://%s\n", addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.listening != nil {
		opts.listening <- addr
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "twin server error", err)
	}

	slog.Info("twin stopped gracefully")
	return nil
}
