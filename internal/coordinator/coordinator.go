// Package coordinator runs the balance-affecting flows: sending kudos and
// redeeming rewards.
//
// Each flow validates locally, debits the user's balance in the store under a
// hold, asks the gateway to confirm, and then either commits the confirmed
// records or rolls the debit back. Flows of one user run one at a time in
// submission order, so a queued flow is validated against the balance the
// flows ahead of it left behind.
//
// A flow can be cancelled while it is Validating. Once the debit is written
// it runs to Committed or RolledBack regardless of the caller's context; the
// confirmation is bounded by the confirm timeout instead.
//
// Every flow emits exactly one event: kudos-sent, kudos-failed,
// reward-redeemed or reward-failed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/kudosync/internal/events"
	"github.com/roach88/kudosync/internal/fault"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/session"
	"github.com/roach88/kudosync/internal/store"
)

// DefaultConfirmTimeout bounds a confirmation when no timeout is configured.
const DefaultConfirmTimeout = 15 * time.Second

// Operation names for the assignment flows.
const (
	OpAssign       = "assign-employee"
	OpUnassign     = "unassign-employee"
	OpReassignRole = "reassign-role"
)

// ErrClosed is returned for flows submitted after Close.
var ErrClosed = errors.New("coordinator closed")

// Gateway is the remote side of a flow. *gateway.Gateway implements it.
type Gateway interface {
	SendKudos(ctx context.Context, receiverID record.ID, amount int64, message string) (record.KudosTransaction, error)
	Redeem(ctx context.Context, rewardID record.ID) (record.Redemption, error)
}

// Coordinator owns the optimistic-write protocol.
//
// Thread-safety: safe for concurrent use. Each user gets a lane with its own
// worker goroutine; Close stops them.
type Coordinator struct {
	gateway        Gateway
	store          *store.Store
	session        *session.State
	notifier       events.Notifier
	observer       Observer
	tokens         TokenGenerator
	confirmTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger

	mu     sync.Mutex
	lanes  map[record.ID]*lane
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier sets where flow events go.
func WithNotifier(n events.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithObserver receives every state transition.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithTokenGenerator sets how flow tokens are generated.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(c *Coordinator) { c.tokens = g }
}

// WithConfirmTimeout bounds how long a flow waits in AwaitingConfirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// WithClock sets the time source for transitions and events.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a coordinator. The session decides whose balance a flow debits.
func New(gw Gateway, s *store.Store, sess *session.State, opts ...Option) *Coordinator {
	c := &Coordinator{
		gateway:        gw,
		store:          s,
		session:        sess,
		notifier:       events.Discard,
		tokens:         UUIDv7Generator{},
		confirmTimeout: DefaultConfirmTimeout,
		now:            time.Now,
		logger:         slog.Default(),
		lanes:          make(map[record.ID]*lane),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendKudos transfers amount from the signed-in user to receiverID.
//
// The returned Outcome is non-nil whenever a flow was started, including on
// failure; its Err equals the returned error.
func (c *Coordinator) SendKudos(ctx context.Context, receiverID record.ID, amount int64, message string) (*Outcome, error) {
	return c.submit(ctx, &flow{
		kind:       KindSendKudos,
		receiverID: receiverID,
		amount:     amount,
		message:    message,
	})
}

// Redeem buys a reward with the signed-in user's balance. The reward must be
// in the store: its cost is the amount debited.
func (c *Coordinator) Redeem(ctx context.Context, rewardID record.ID) (*Outcome, error) {
	return c.submit(ctx, &flow{kind: KindRedeem, rewardID: rewardID})
}

// Queued returns how many flows of a user are waiting behind the running one.
func (c *Coordinator) Queued(userID record.ID) int {
	c.mu.Lock()
	l, ok := c.lanes[userID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return l.len()
}

// Close refuses new flows and waits for queued and running flows to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	lanes := make([]*lane, 0, len(c.lanes))
	for _, l := range c.lanes {
		lanes = append(lanes, l)
	}
	c.mu.Unlock()

	for _, l := range lanes {
		l.close()
	}
	c.wg.Wait()
}

func (c *Coordinator) submit(ctx context.Context, f *flow) (*Outcome, error) {
	f.ctx = ctx
	f.token = c.tokens.Generate()
	f.userID = c.session.UserID()
	c.enter(f, StateValidating, nil)

	if f.userID == 0 {
		c.finish(f, c.unauthorized(f.op(), "not signed in"))
		return f.outcome(), f.err
	}

	l, err := c.laneFor(f.userID)
	if err != nil {
		c.finish(f, err)
		return f.outcome(), f.err
	}
	j := newJob(f)
	if !l.enqueue(j) {
		c.finish(f, ErrClosed)
		return f.outcome(), f.err
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		if j.abandon() {
			c.finish(f, cancelled(f.op(), ctx.Err()))
		} else {
			<-j.done
		}
	}
	return f.outcome(), f.err
}

func (c *Coordinator) laneFor(userID record.ID) (*lane, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	l, ok := c.lanes[userID]
	if !ok {
		l = newLane()
		c.lanes[userID] = l
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			l.drain(c.run)
		}()
	}
	return l, nil
}

// run executes a claimed job. It is only called from the job's lane worker.
func (c *Coordinator) run(j *job) {
	defer close(j.done)
	f := j.flow

	if err := c.validate(f); err != nil {
		c.finish(f, err)
		return
	}

	c.enter(f, StateApplying, nil)
	if err := c.store.Debit(f.token, f.userID, f.amount); err != nil {
		c.finish(f, debitFault(f.op(), err))
		return
	}

	c.enter(f, StateAwaitingConfirmation, nil)
	if err := c.confirm(f); err != nil {
		c.finish(f, c.rollback(f, err))
		return
	}

	c.finish(f, c.commit(f))
}

// validate runs the local checks. No store write or network call happens
// before it passes.
func (c *Coordinator) validate(f *flow) error {
	op := f.op()
	if err := f.ctx.Err(); err != nil {
		return cancelled(op, err)
	}
	if id, ok := c.session.Current(); !ok || id.UserID != f.userID {
		return c.unauthorized(op, "session ended before the flow ran")
	}
	sender, ok := c.store.Users().Get(f.userID)
	if !ok {
		return fault.Validation(op, "your account is not loaded; sync first").
			WithDetail("user", f.userID.String())
	}

	switch f.kind {
	case KindSendKudos:
		if f.amount <= 0 {
			return fault.Validation(op, "amount must be positive").
				WithDetail("amount", fmt.Sprint(f.amount))
		}
		if f.receiverID == f.userID {
			return fault.Validation(op, "cannot send kudos to yourself")
		}
	case KindRedeem:
		reward, ok := c.store.Rewards().Get(f.rewardID)
		if !ok {
			return fault.Validation(op, "unknown reward").
				WithDetail("reward", f.rewardID.String())
		}
		f.amount = reward.Cost
	}

	if sender.KudosBalance < f.amount {
		return fault.Validation(op, "insufficient kudos balance").
			WithDetail("balance", fmt.Sprint(sender.KudosBalance)).
			WithDetail("amount", fmt.Sprint(f.amount))
	}
	return nil
}

// confirm calls the gateway. The caller's cancellation does not reach the
// call; the confirm timeout does, and surfaces as Unreachable.
func (c *Coordinator) confirm(f *flow) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(f.ctx), c.confirmTimeout)
	defer cancel()

	var err error
	switch f.kind {
	case KindSendKudos:
		var k record.KudosTransaction
		if k, err = c.gateway.SendKudos(ctx, f.receiverID, f.amount, f.message); err == nil {
			f.kudos = &k
		}
	case KindRedeem:
		var r record.Redemption
		if r, err = c.gateway.Redeem(ctx, f.rewardID); err == nil {
			f.redemption = &r
		}
	}
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return fault.Unreachable(f.op(), err)
	}
	return err
}

// rollback reverses the hold after a failed confirmation. A hold that a
// refresh already orphaned fails as a Conflict, whatever the service said.
func (c *Coordinator) rollback(f *flow, cause error) error {
	err := c.store.Rollback(f.token)
	switch {
	case errors.Is(err, store.ErrOrphaned):
		return fault.Wrap(fault.KindConflict, f.op(), err).
			WithDetail("user", f.userID.String()).
			WithDetail("confirm", cause.Error())
	case err != nil:
		c.logger.Warn("rollback failed", "flow", f.token, "user", f.userID, "error", err)
	}
	return cause
}

// commit releases the hold and writes the confirmed records. The sender's
// debit stays: it already matches the server.
func (c *Coordinator) commit(f *flow) error {
	var ops []store.Op
	switch f.kind {
	case KindSendKudos:
		// The receiver is credited with what the server says it received,
		// which includes any streak bonus.
		if c.store.Users().Has(f.kudos.ReceiverID) {
			ops = append(ops, store.CreditReceived(f.kudos.ReceiverID, f.kudos.Amount))
		}
		ops = append(ops, store.AppendKudos(*f.kudos))
	case KindRedeem:
		ops = append(ops, store.AppendRedemption(*f.redemption))
	}

	err := c.store.Commit(f.token, ops...)
	switch {
	case errors.Is(err, store.ErrOrphaned):
		f.kudos, f.redemption = nil, nil
		return fault.Wrap(fault.KindConflict, f.op(), err).
			WithDetail("user", f.userID.String())
	case err != nil:
		// The server has the record; the next sync brings the mirror back.
		c.logger.Warn("confirmed flow left the mirror stale", "flow", f.token, "error", err)
	}
	return nil
}

// enter records a transition and hands it to the observer.
func (c *Coordinator) enter(f *flow, to State, err error) {
	t := Transition{
		Token:  f.token,
		Kind:   f.kind,
		UserID: f.userID,
		Amount: f.amount,
		From:   f.state,
		To:     to,
		At:     c.now(),
		Err:    err,
	}
	f.state = to
	f.transitions = append(f.transitions, t)
	c.logger.Debug("flow transition", "flow", f.token, "kind", f.kind, "from", t.From, "to", to)
	if c.observer != nil {
		c.observer.ObserveTransition(t)
	}
}

// finish moves the flow to its terminal state and emits its one event.
func (c *Coordinator) finish(f *flow, err error) {
	f.err = err
	e := events.Event{At: c.now(), Flow: f.token, Subject: f.subject().String(), Amount: f.amount}

	if err != nil {
		c.enter(f, StateRolledBack, err)
		e.Kind, e.Err = events.KudosFailed, err
		if f.kind == KindRedeem {
			e.Kind = events.RewardFailed
		}
		c.logger.Info("flow rolled back", "flow", f.token, "kind", f.kind, "user", f.userID, "error", err)
	} else {
		c.enter(f, StateCommitted, nil)
		e.Kind = events.KudosSent
		if f.kind == KindRedeem {
			e.Kind = events.RewardRedeemed
		} else {
			e.Amount = f.kudos.Amount
		}
		c.logger.Info("flow committed", "flow", f.token, "kind", f.kind, "user", f.userID, "amount", e.Amount)
	}
	c.notifier.Notify(e)
}

// unauthorized builds an Unauthorized failure and drops whatever session is
// left, as the gateway does for a rejected credential.
func (c *Coordinator) unauthorized(op, message string) error {
	f := fault.Unauthorized(op, message)
	if c.session.Present() {
		if err := c.session.Clear(); err != nil {
			c.logger.Warn("clearing session", "error", err)
		}
		c.notifier.Notify(events.Event{Kind: events.SessionExpired, At: c.now(), Err: f})
	}
	return f
}

func cancelled(op string, err error) error {
	return fmt.Errorf("%s: cancelled before any write: %w", op, err)
}

func debitFault(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientBalance), errors.Is(err, store.ErrNegativeBalance):
		return fault.Wrap(fault.KindValidation, op, err)
	}
	return fault.Wrap(fault.KindConflict, op, err)
}
