package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/coordinator"
	"github.com/roach88/kudosync/internal/record"
)

// FlowResult is printed by send and redeem.
type FlowResult struct {
	Token      string                   `json:"flow"`
	Kind       coordinator.Kind         `json:"kind"`
	State      coordinator.State        `json:"state"`
	States     []coordinator.State      `json:"states"`
	Amount     int64                    `json:"amount"`
	Balance    int64                    `json:"kudosBalance"`
	Kudos      *record.KudosTransaction `json:"kudos,omitempty"`
	Redemption *record.Redemption       `json:"redemption,omitempty"`
	Receiver   string                   `json:"receiver,omitempty"`
	Reward     string                   `json:"reward,omitempty"`
}

func (r FlowResult) String() string {
	var b strings.Builder
	switch {
	case r.Kudos != nil:
		fmt.Fprintf(&b, "Sent %d kudos to %s", r.Amount, r.Receiver)
		if r.Kudos.Amount != r.Amount {
			fmt.Fprintf(&b, " (they received %d)", r.Kudos.Amount)
		}
		b.WriteString("\n")
	case r.Redemption != nil:
		fmt.Fprintf(&b, "Redeemed %s for %d kudos\n", r.Reward, r.Redemption.Cost)
	}
	fmt.Fprintf(&b, "Balance: %d\n", r.Balance)
	return b.String()
}

func flowResult(a *App, o *coordinator.Outcome) FlowResult {
	u, _ := a.Store.Users().Get(o.UserID)
	return FlowResult{
		Token:      o.Token,
		Kind:       o.Kind,
		State:      o.State,
		States:     o.States(),
		Amount:     o.Amount,
		Balance:    u.KudosBalance,
		Kudos:      o.Kudos,
		Redemption: o.Redemption,
	}
}

// flowFailed reports the flow token alongside the failure so the journal
// entry can be found.
func flowFailed(message string, o *coordinator.Outcome, err error) error {
	if o != nil && o.Token != "" {
		message = fmt.Sprintf("%s (flow %s, %s)", message, o.Token, o.State)
	}
	return failed(message, err)
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "send <employee> <amount>",
		Short: "Send kudos to another employee",
		Long: `Send kudos from your balance to another employee. The employee is an
id or a name. The amount is debited immediately and restored if the service
rejects the transfer.

Example:
  kudos send 2 10 --message "thanks for the review"
  kudos send "Sam Designer" 5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				amount, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", args[1]))
				}
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				receiver, err := lookupUser(a, args[0])
				if err != nil {
					return err
				}
				out.VerboseLog("sending %d kudos to %s (id %d)", amount, receiver.Name, receiver.ID)

				o, err := a.Coordinator.SendKudos(ctx, receiver.ID, amount, message)
				if err != nil {
					return flowFailed("send failed", o, err)
				}
				res := flowResult(a, o)
				res.Receiver = receiver.Name
				return out.Success(res)
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "message shown in the feed")

	return cmd
}

// NewRedeemCommand creates the redeem command.
func NewRedeemCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <reward-id>",
		Short: "Redeem a reward with your balance",
		Long: `Redeem a catalogue reward. Its cost is debited immediately and restored
if the service rejects the redemption. See "kudos rewards" for ids.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				rewardID, err := parseID("reward", args[0])
				if err != nil {
					return err
				}
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				o, err := a.Coordinator.Redeem(ctx, rewardID)
				if err != nil {
					return flowFailed("redeem failed", o, err)
				}
				res := flowResult(a, o)
				if rw, ok := a.Store.Rewards().Get(rewardID); ok {
					res.Reward = rw.Name
				}
				return out.Success(res)
			})
		},
	}
}

// RewardsResult is printed by the rewards command.
type RewardsResult struct {
	Rewards []record.Reward `json:"rewards"`
	Balance int64           `json:"kudosBalance"`
}

func (r RewardsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-24s %6s\n", "ID", "REWARD", "COST")
	for _, rw := range r.Rewards {
		mark := ""
		if rw.Cost > r.Balance {
			mark = "  (not enough kudos)"
		}
		fmt.Fprintf(&b, "%-5d %-24s %6d%s\n", rw.ID, rw.Name, rw.Cost, mark)
	}
	fmt.Fprintf(&b, "Balance: %d\n", r.Balance)
	return b.String()
}

// NewRewardsCommand creates the rewards command.
func NewRewardsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rewards",
		Short:         "List the reward catalogue",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				id, _, err := a.synced(ctx)
				if err != nil {
					return err
				}
				rewards := a.Store.Rewards().All()
				sortByID(rewards)
				u, _ := a.Store.Users().Get(id.UserID)
				return out.Success(RewardsResult{Rewards: rewards, Balance: u.KudosBalance})
			})
		},
	}
}
