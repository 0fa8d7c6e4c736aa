package coordinator

import (
	"context"
	"time"

	"github.com/roach88/kudosync/internal/record"
)

// State is a step of a balance-affecting flow.
//
//	Validating -> Applying -> AwaitingConfirmation -> Committed
//	     |            |                |
//	     +------------+----------------+-----------> RolledBack
//
// A flow waiting in its lane is Validating: its checks run when it reaches
// the head, against the balance left by the flows ahead of it.
type State string

const (
	StateValidating           State = "validating"
	StateApplying             State = "applying"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateCommitted            State = "committed"
	StateRolledBack           State = "rolled-back"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// Kind names the flow type.
type Kind string

const (
	KindSendKudos Kind = "send-kudos"
	KindRedeem    Kind = "redeem-reward"
)

// Transition is one state change of a flow.
type Transition struct {
	Token  string
	Kind   Kind
	UserID record.ID
	Amount int64
	From   State // empty for the first transition
	To     State
	At     time.Time
	Err    error // set on the RolledBack transition
}

// Observer receives every transition, synchronously, in order per flow.
type Observer interface {
	ObserveTransition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) ObserveTransition(t Transition) { f(t) }

// Outcome is the result of a finished flow.
type Outcome struct {
	Token       string
	Kind        Kind
	UserID      record.ID
	Amount      int64
	State       State
	Transitions []Transition

	// Exactly one of Kudos or Redemption is set when State is Committed.
	Kudos      *record.KudosTransaction
	Redemption *record.Redemption

	Err error
}

// States returns the sequence of states the flow passed through.
func (o *Outcome) States() []State {
	out := make([]State, len(o.Transitions))
	for i, t := range o.Transitions {
		out[i] = t.To
	}
	return out
}

// flow is the mutable record of one attempt. It is owned by whoever claimed
// its job: the lane worker, or the submitter after abandoning it.
type flow struct {
	ctx   context.Context
	token string
	kind  Kind

	userID     record.ID
	amount     int64
	receiverID record.ID
	message    string
	rewardID   record.ID

	state       State
	transitions []Transition
	kudos       *record.KudosTransaction
	redemption  *record.Redemption
	err         error
}

func (f *flow) op() string { return string(f.kind) }

func (f *flow) subject() record.ID {
	if f.kind == KindRedeem {
		return f.rewardID
	}
	return f.receiverID
}

func (f *flow) outcome() *Outcome {
	return &Outcome{
		Token:       f.token,
		Kind:        f.kind,
		UserID:      f.userID,
		Amount:      f.amount,
		State:       f.state,
		Transitions: append([]Transition(nil), f.transitions...),
		Kudos:       f.kudos,
		Redemption:  f.redemption,
		Err:         f.err,
	}
}
