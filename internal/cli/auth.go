package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/session"
)

// EnvPassword supplies the password when --password is not given.
const EnvPassword = "KUDOSYNC_PASSWORD"

// AuthOptions holds flags for login and register.
type AuthOptions struct {
	*RootOptions
	Email    string
	Password string
	Name     string
}

// IdentityResult is printed by login, register and whoami.
type IdentityResult struct {
	UserID    record.ID   `json:"userId"`
	Name      string      `json:"name"`
	Email     string      `json:"email,omitempty"`
	Role      record.Role `json:"role"`
	Balance   int64       `json:"kudosBalance"`
	Received  int64       `json:"kudosReceived"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

func (r IdentityResult) String() string {
	s := fmt.Sprintf("Signed in as %s <%s> (id %d, %s)\nBalance: %d  Received: %d\n",
		r.Name, r.Email, r.UserID, r.Role, r.Balance, r.Received)
	if r.ExpiresAt != nil {
		s += fmt.Sprintf("Session expires %s\n", r.ExpiresAt.Format(time.RFC3339))
	}
	return s
}

func identityResult(id session.Identity, u record.User) IdentityResult {
	r := IdentityResult{
		UserID:   id.UserID,
		Name:     id.Name,
		Email:    id.Email,
		Role:     id.Role,
		Balance:  u.KudosBalance,
		Received: u.KudosReceived,
	}
	if !id.ExpiresAt.IsZero() {
		exp := id.ExpiresAt.UTC()
		r.ExpiresAt = &exp
	}
	return r
}

func (o *AuthOptions) password() string {
	if o.Password != "" {
		return o.Password
	}
	return os.Getenv(EnvPassword)
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		Long: `Sign in to the kudos service. The bearer token is written to the
credentials file so later commands run as this user.

Example:
  kudos login --email dana@example.com --password dana
  KUDOSYNC_PASSWORD=dana kudos login --email dana@example.com`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				u, err := a.Gateway.Login(ctx, opts.Email, opts.password())
				if err != nil {
					return failed("login failed", err)
				}
				return printIdentity(a, out, u)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (default $"+EnvPassword+")")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "register",
		Short:         "Create an account and sign in as it",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				u, err := a.Gateway.Register(ctx, opts.Name, opts.Email, opts.password())
				if err != nil {
					return failed("registration failed", err)
				}
				return printIdentity(a, out, u)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "account password (default $"+EnvPassword+")")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "logout",
		Short:         "Forget the stored session token",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				if err := a.Gateway.Logout(); err != nil {
					return WrapExitError(ExitFailure, "logout failed", err)
				}
				if out.Format == "json" {
					return out.Success(map[string]bool{"signedOut": true})
				}
				return out.Success("Signed out.\n")
			})
		},
	}
}

// NewWhoamiCommand creates the whoami command.
func NewWhoamiCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "whoami",
		Short:         "Show the signed-in user",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				id, err := a.signedIn(ctx)
				if err != nil {
					return err
				}
				u, _ := a.Store.Users().Get(id.UserID)
				return out.Success(identityResult(id, u))
			})
		},
	}
}

func printIdentity(a *App, out *OutputFormatter, u record.User) error {
	id, ok := a.Session.Current()
	if !ok {
		id = session.IdentityOf(u)
	}
	return out.Success(identityResult(id, u))
}
