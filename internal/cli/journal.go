package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Flow  string
	Limit int
	All   bool
}

// JournalResult is printed by the journal command.
type JournalResult struct {
	Flow    string          `json:"flow,omitempty"`
	Entries []journal.Entry `json:"entries"`
}

func (r JournalResult) String() string {
	if len(r.Entries) == 0 {
		return "No flows recorded.\n"
	}
	var b strings.Builder
	if r.Flow != "" {
		fmt.Fprintf(&b, "Flow %s (%s, user %d, amount %d)\n",
			r.Flow, r.Entries[0].Kind, r.Entries[0].UserID, r.Entries[0].Amount)
		for _, e := range r.Entries {
			from := string(e.From)
			if from == "" {
				from = "-"
			}
			fmt.Fprintf(&b, "  %s  %s -> %s", e.RecordedAt.Format(time.RFC3339), from, e.To)
			if e.Error != "" {
				fmt.Fprintf(&b, "  %s", e.Error)
			}
			b.WriteString("\n")
		}
		return b.String()
	}
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%s  %-36s  %-13s  %-21s  %d\n",
			e.RecordedAt.Format(time.RFC3339), e.Token, e.Kind, e.To, e.Amount)
	}
	return b.String()
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded send and redeem flows",
		Long: `Show the audit trail of send and redeem flows.

Without --flow, lists how recent flows ended. With --flow, shows every state
the flow passed through. --all lists raw transitions instead of outcomes.

Example:
  kudos journal
  kudos journal --flow 01890a5d-ac96-774b-bcce-b302099a8057`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				return showJournal(ctx, a, out, opts)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Flow, "flow", "", "flow token to show")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum entries")
	cmd.Flags().BoolVar(&opts.All, "all", false, "list every transition, not only outcomes")

	return cmd
}

func showJournal(ctx context.Context, a *App, out *OutputFormatter, opts *JournalOptions) error {
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}

	var (
		entries []journal.Entry
		err     error
	)
	switch {
	case opts.Flow != "":
		entries, err = a.Journal.Flow(ctx, opts.Flow)
		if err == nil && len(entries) == 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("flow not found: %s", opts.Flow))
		}
	case opts.All:
		entries, err = a.Journal.Recent(ctx, opts.Limit)
	default:
		entries, err = a.Journal.Outcomes(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	out.VerboseLog("journal %s: %d entries", a.Config.JournalPath, len(entries))
	return out.Success(JournalResult{Flow: opts.Flow, Entries: entries})
}
