package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/badges"
	"github.com/roach88/kudosync/internal/config"
	"github.com/roach88/kudosync/internal/coordinator"
	"github.com/roach88/kudosync/internal/events"
	"github.com/roach88/kudosync/internal/gateway"
	"github.com/roach88/kudosync/internal/journal"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/session"
	"github.com/roach88/kudosync/internal/store"
	"github.com/roach88/kudosync/internal/views"
)

// App is one CLI invocation's wiring: the mirror, the gateway that fills
// it, the coordinator that writes to it and the journal that audits flows.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Session     *session.State
	Store       *store.Store
	Gateway     *gateway.Gateway
	Coordinator *coordinator.Coordinator
	Views       *views.Engine
	Journal     *journal.Journal
}

// openApp loads configuration and wires the core. Callers must Close it.
func openApp(opts *RootOptions, stderr io.Writer) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	level, _ := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	rules := badges.Default()
	if cfg.BadgeRules != "" {
		src, err := os.ReadFile(cfg.BadgeRules)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read badge rules", err)
		}
		if rules, err = badges.Load(cfg.BadgeRules, src); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid badge rules", err)
		}
	}

	creds, err := session.OpenFileCredentials(cfg.CredentialsPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open credentials", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o700); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create journal directory", err)
	}
	jr, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}

	notifier := events.LogNotifier{Logger: logger}
	sess := session.New(creds)
	st := store.New()
	gw := gateway.New(
		gateway.NewHTTPTransport(cfg.APIURL, cfg.RequestTimeout), st, sess,
		gateway.WithNotifier(notifier),
		gateway.WithLogger(logger),
	)
	coord := coordinator.New(gw, st, sess,
		coordinator.WithNotifier(notifier),
		coordinator.WithObserver(jr),
		coordinator.WithConfirmTimeout(cfg.ConfirmTimeout),
		coordinator.WithLogger(logger),
	)

	logger.Debug("app ready", "api", cfg.APIURL, "journal", cfg.JournalPath)
	return &App{
		Config:      cfg,
		Logger:      logger,
		Session:     sess,
		Store:       st,
		Gateway:     gw,
		Coordinator: coord,
		Views:       views.New(st, rules),
		Journal:     jr,
	}, nil
}

// Close waits for in-flight flows and closes the journal.
func (a *App) Close() {
	a.Coordinator.Close()
	if err := a.Journal.Close(); err != nil {
		a.Logger.Error("error closing journal", "error", err)
	}
}

// signedIn restores the identity for a stored token.
func (a *App) signedIn(ctx context.Context) (session.Identity, error) {
	if id, ok := a.Session.Current(); ok {
		return id, nil
	}
	if _, ok := a.Session.Token(); !ok {
		return session.Identity{}, NewExitError(ExitReauth, "not signed in (run `kudos login`)")
	}
	if _, err := a.Gateway.RefreshSession(ctx); err != nil {
		return session.Identity{}, failed("failed to restore session", err)
	}
	id, _ := a.Session.Current()
	return id, nil
}

// synced restores the session and refreshes the mirror.
func (a *App) synced(ctx context.Context) (session.Identity, gateway.SyncReport, error) {
	id, err := a.signedIn(ctx)
	if err != nil {
		return id, gateway.SyncReport{}, err
	}
	report, err := a.Gateway.Sync(ctx)
	if err != nil {
		return id, report, failed("sync failed", err)
	}
	return id, report, nil
}

// withApp opens the app, runs fn and reports a failure in the configured
// format before returning it.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *App, *OutputFormatter) error) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := openApp(opts, cmd.ErrOrStderr())
	if err != nil {
		_ = out.Fail(err)
		return err
	}
	defer app.Close()

	if err := fn(ctx, app, out); err != nil {
		_ = out.Fail(err)
		return err
	}
	return nil
}

// parseID parses a positional record id.
func parseID(what, s string) (record.ID, error) {
	id, err := record.ParseID(s)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s id %q", what, s))
	}
	return id, nil
}

// parseRole parses a role argument, accepting any spelling ParseRole does.
func parseRole(s string) (record.Role, error) {
	r, err := record.ParseRole(s)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid role", err)
	}
	return r, nil
}

// lookupUser finds a user in the mirror by id or exact case-insensitive name.
func lookupUser(a *App, ref string) (record.User, error) {
	if id, err := record.ParseID(ref); err == nil {
		if u, ok := a.Store.Users().Get(id); ok {
			return u, nil
		}
		return record.User{}, NewExitError(ExitFailure, fmt.Sprintf("no employee with id %d", id))
	}
	matches := a.Views.SearchEmployees(ref, "")
	switch len(matches) {
	case 0:
		return record.User{}, NewExitError(ExitFailure, fmt.Sprintf("no employee matches %q", ref))
	case 1:
		return matches[0], nil
	}
	for _, u := range matches {
		if strings.EqualFold(u.Name, ref) {
			return u, nil
		}
	}
	return record.User{}, NewExitError(ExitFailure, fmt.Sprintf("%q matches %d employees; use an id", ref, len(matches)))
}
