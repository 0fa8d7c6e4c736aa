package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/badges"
	"github.com/roach88/kudosync/internal/gateway"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/store"
	"github.com/roach88/kudosync/internal/views"
)

// SyncResult is printed by the sync command.
type SyncResult struct {
	gateway.SyncReport
}

func (r SyncResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synced %d users, %d projects, %d rewards, %d kudos\n",
		r.Users, r.Projects, r.Rewards, r.Kudos)
	for _, tok := range r.Orphaned {
		fmt.Fprintf(&b, "orphaned flow %s\n", tok)
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sync",
		Short:         "Refresh the local mirror from the service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				_, report, err := a.synced(ctx)
				if err != nil {
					return err
				}
				return out.Success(SyncResult{report})
			})
		},
	}
}

// LeaderboardEntry is one ranked employee.
type LeaderboardEntry struct {
	Rank     int       `json:"rank"`
	UserID   record.ID `json:"userId"`
	Name     string    `json:"name"`
	Received int64     `json:"kudosReceived"`
}

// LeaderboardResult is printed by the leaderboard command.
type LeaderboardResult struct {
	Entries []LeaderboardEntry `json:"entries"`
}

func (r LeaderboardResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-20s %8s\n", "RANK", "NAME", "RECEIVED")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%-5d %-20s %8d\n", e.Rank, e.Name, e.Received)
	}
	return b.String()
}

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank employees by kudos received",
		Long: `Rank employees by kudos received, highest first. Ties are broken by
ascending id.

Example:
  kudos leaderboard
  kudos leaderboard --top 3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				board := a.Views.Leaderboard()
				if top > 0 {
					board = a.Views.TopN(top)
				}
				res := LeaderboardResult{Entries: []LeaderboardEntry{}}
				for i, u := range board {
					res.Entries = append(res.Entries, LeaderboardEntry{
						Rank: i + 1, UserID: u.ID, Name: u.Name, Received: u.KudosReceived,
					})
				}
				return out.Success(res)
			})
		},
	}

	cmd.Flags().IntVar(&top, "top", 0, "show only the first N employees")

	return cmd
}

// FeedEntry is one kudos transaction with resolved names.
type FeedEntry struct {
	record.KudosTransaction
	SenderName   string `json:"senderName,omitempty"`
	ReceiverName string `json:"receiverName,omitempty"`
}

// FeedResult is printed by the feed command.
type FeedResult struct {
	Entries []FeedEntry `json:"entries"`
}

func (r FeedResult) String() string {
	if len(r.Entries) == 0 {
		return "No kudos yet.\n"
	}
	var b strings.Builder
	for _, e := range r.Entries {
		bonus := ""
		if e.StreakBonus {
			bonus = " (streak bonus)"
		}
		fmt.Fprintf(&b, "%s  %s -> %s  +%d%s\n", e.Timestamp.Format(time.DateTime),
			e.SenderName, e.ReceiverName, e.Amount, bonus)
		if e.Message != "" {
			fmt.Fprintf(&b, "    %q\n", e.Message)
		}
	}
	return b.String()
}

// NewFeedCommand creates the feed command.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "feed",
		Short:         "Show recent kudos, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				users := a.Store.Users()
				res := FeedResult{Entries: []FeedEntry{}}
				for _, k := range a.Views.Feed(limit) {
					res.Entries = append(res.Entries, FeedEntry{
						KudosTransaction: k,
						SenderName:       displayName(users, k.SenderID),
						ReceiverName:     displayName(users, k.ReceiverID),
					})
				}
				return out.Success(res)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries (0 for all)")

	return cmd
}

// EmployeesOptions holds flags for the employees command.
type EmployeesOptions struct {
	*RootOptions
	Search     string
	Role       string
	Project    string
	Assigned   bool
	Unassigned bool
}

// EmployeesResult is printed by the employees command.
type EmployeesResult struct {
	Employees []record.User   `json:"employees"`
	Staffing  *views.Staffing `json:"staffing,omitempty"`
}

func (r EmployeesResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-20s %-16s %8s %8s\n", "ID", "NAME", "ROLE", "BALANCE", "RECEIVED")
	for _, u := range r.Employees {
		fmt.Fprintf(&b, "%-5d %-20s %-16s %8d %8d\n", u.ID, u.Name, u.Role, u.KudosBalance, u.KudosReceived)
	}
	if s := r.Staffing; s != nil {
		fmt.Fprintf(&b, "Project %d: %d assigned (%d developers, %d project managers)\n",
			s.ProjectID, s.Total, s.Developers, s.ProjectManagers)
	}
	return b.String()
}

// NewEmployeesCommand creates the employees command.
func NewEmployeesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmployeesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "employees",
		Short: "List and search employees",
		Long: `List employees by ascending id.

--search matches a name or id substring, ignoring case. --project with
--assigned or --unassigned splits employees by membership of that project.

Example:
  kudos employees --search dana
  kudos employees --role developer
  kudos employees --project 7 --unassigned`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				return listEmployees(ctx, a, out, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "name or id substring")
	cmd.Flags().StringVar(&opts.Role, "role", "", "only this role")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project id for --assigned/--unassigned")
	cmd.Flags().BoolVar(&opts.Assigned, "assigned", false, "only employees on --project")
	cmd.Flags().BoolVar(&opts.Unassigned, "unassigned", false, "only employees not on --project")
	cmd.MarkFlagsMutuallyExclusive("assigned", "unassigned")

	return cmd
}

func listEmployees(ctx context.Context, a *App, out *OutputFormatter, opts *EmployeesOptions) error {
	var role record.Role
	if opts.Role != "" {
		r, err := parseRole(opts.Role)
		if err != nil {
			return err
		}
		role = r
	}
	if (opts.Assigned || opts.Unassigned) && opts.Project == "" {
		return NewExitError(ExitCommandError, "--assigned and --unassigned need --project")
	}
	if _, _, err := a.synced(ctx); err != nil {
		return err
	}

	res := EmployeesResult{Employees: a.Views.SearchEmployees(opts.Search, role)}
	if opts.Project != "" {
		pid, err := parseID("project", opts.Project)
		if err != nil {
			return err
		}
		if !a.Store.Projects().Has(pid) {
			return NewExitError(ExitFailure, fmt.Sprintf("no project with id %d", pid))
		}
		switch {
		case opts.Assigned:
			res.Employees = intersect(res.Employees, a.Views.AssignedEmployees(pid))
		case opts.Unassigned:
			res.Employees = intersect(res.Employees, a.Views.UnassignedEmployees(pid))
		}
		staffing := a.Views.Staffing(pid)
		res.Staffing = &staffing
	}
	return out.Success(res)
}

// intersect keeps the users of a that also appear in b, in a's order.
func intersect(a, b []record.User) []record.User {
	in := make(map[record.ID]bool, len(b))
	for _, u := range b {
		in[u.ID] = true
	}
	out := []record.User{}
	for _, u := range a {
		if in[u.ID] {
			out = append(out, u)
		}
	}
	return out
}

// BadgesResult is printed by the badges command.
type BadgesResult struct {
	UserID record.ID      `json:"userId"`
	Name   string         `json:"name"`
	Stats  badges.Stats   `json:"stats"`
	Badges []badges.Badge `json:"badges"`
}

func (r BadgesResult) String() string {
	var b strings.Builder
	rank := "unranked"
	if r.Stats.Rank > 0 {
		rank = fmt.Sprintf("#%d", r.Stats.Rank)
	}
	fmt.Fprintf(&b, "%s: %s, received %d, sent %d, streak %d\n",
		r.Name, rank, r.Stats.Received, r.Stats.Sent, r.Stats.Streak)
	if len(r.Badges) == 0 {
		b.WriteString("No badges yet.\n")
	}
	for _, bd := range r.Badges {
		fmt.Fprintf(&b, "  %s", bd.Name)
		if bd.Description != "" {
			fmt.Fprintf(&b, " - %s", bd.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// NewBadgesCommand creates the badges command.
func NewBadgesCommand(rootOpts *RootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:           "badges",
		Short:         "Show the badges an employee has earned",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				id, _, err := a.synced(ctx)
				if err != nil {
					return err
				}
				u, ok := a.Store.Users().Get(id.UserID)
				if user != "" {
					if u, err = lookupUser(a, user); err != nil {
						return err
					}
					ok = true
				}
				if !ok {
					return NewExitError(ExitFailure, "signed-in user is not in the directory")
				}
				st, _ := a.Views.Standing(u.ID)
				res := BadgesResult{UserID: u.ID, Name: u.Name, Stats: st.Stats, Badges: st.Badges}
				if res.Badges == nil {
					res.Badges = []badges.Badge{}
				}
				return out.Success(res)
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "employee id or name (default: yourself)")

	return cmd
}

func displayName(users store.Snapshot[record.User], id record.ID) string {
	if u, ok := users.Get(id); ok {
		return u.Name
	}
	return fmt.Sprintf("#%d", id)
}
