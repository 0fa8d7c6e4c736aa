package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kudosync/internal/events"
	"github.com/roach88/kudosync/internal/fault"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/session"
	"github.com/roach88/kudosync/internal/store"
	"github.com/roach88/kudosync/internal/testutil"
)

var at = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// fakeGateway confirms everything unless a hook says otherwise.
type fakeGateway struct {
	mu     sync.Mutex
	calls  int
	nextID record.ID

	send   func(ctx context.Context, receiverID record.ID, amount int64) error
	redeem func(ctx context.Context, rewardID record.ID) error
}

func (g *fakeGateway) SendKudos(ctx context.Context, receiverID record.ID, amount int64, message string) (record.KudosTransaction, error) {
	g.mu.Lock()
	g.calls++
	g.nextID++
	id := g.nextID
	hook := g.send
	g.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, receiverID, amount); err != nil {
			return record.KudosTransaction{}, err
		}
	}
	return record.KudosTransaction{
		ID: id, SenderID: 1, ReceiverID: receiverID, Amount: amount, Message: message, Timestamp: at,
	}, nil
}

func (g *fakeGateway) Redeem(ctx context.Context, rewardID record.ID) (record.Redemption, error) {
	g.mu.Lock()
	g.calls++
	g.nextID++
	id := g.nextID
	hook := g.redeem
	g.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, rewardID); err != nil {
			return record.Redemption{}, err
		}
	}
	return record.Redemption{ID: id, UserID: 1, RewardID: rewardID, Cost: 30, Status: "COMPLETED", RedeemedAt: at}, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	c       *Coordinator
	gw      *fakeGateway
	store   *store.Store
	session *session.State
	events  *events.Recorder
}

// newFixture signs in Ann (id 1, balance 50) next to Ben (id 2, balance 10,
// received 5) and Cat (id 3). Reward 7 costs 30; project 9 has no members.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := testutil.NewStore(t,
		store.PutUser(record.User{ID: 1, Name: "Ann", Role: record.RoleAdmin, KudosBalance: 50}),
		store.PutUser(record.User{ID: 2, Name: "Ben", Role: record.RoleDeveloper, KudosBalance: 10, KudosReceived: 5}),
		store.PutUser(record.User{ID: 3, Name: "Cat", Role: record.RoleDesigner, KudosBalance: 40}),
		store.PutReward(record.Reward{ID: 7, Name: "Coffee", Cost: 30}),
		store.PutProject(record.Project{ID: 9, Name: "Atlas"}),
	)

	sess := session.New(nil)
	require.NoError(t, sess.Establish(session.Identity{UserID: 1, Name: "Ann", Role: record.RoleAdmin}, "opaque"))

	f := &fixture{gw: &fakeGateway{}, store: s, session: sess, events: &events.Recorder{}}
	opts = append([]Option{WithNotifier(f.events), WithClock(func() time.Time { return at })}, opts...)
	f.c = New(f.gw, s, sess, opts...)
	t.Cleanup(f.c.Close)
	return f
}

func (f *fixture) user(t *testing.T, id record.ID) record.User {
	t.Helper()
	u, ok := f.store.Users().Get(id)
	require.True(t, ok)
	return u
}

func (f *fixture) setBalance(t *testing.T, id record.ID, balance int64) {
	t.Helper()
	u := f.user(t, id)
	u.KudosBalance = balance
	require.NoError(t, f.store.Apply(store.PutUser(u)))
}

func TestSendKudos_Commits(t *testing.T) {
	f := newFixture(t)

	out, err := f.c.SendKudos(context.Background(), 2, 20, "great demo")
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, out.State)
	assert.Equal(t, []State{StateValidating, StateApplying, StateAwaitingConfirmation, StateCommitted}, out.States())
	require.NotNil(t, out.Kudos)
	assert.Equal(t, "great demo", out.Kudos.Message)

	assert.Equal(t, int64(30), f.user(t, 1).KudosBalance)
	ben := f.user(t, 2)
	assert.Equal(t, int64(10), ben.KudosBalance, "receiver balance untouched")
	assert.Equal(t, int64(25), ben.KudosReceived)

	assert.Equal(t, 1, f.store.Kudos().Len())
	assert.Equal(t, 0, f.store.Pending())
	assert.Equal(t, []events.Kind{events.KudosSent}, f.events.Kinds())
}

func TestSendKudos_CreditsServerAmount(t *testing.T) {
	f := newFixture(t)
	bonus := &fakeGateway{}
	f.c.gateway = gatewayFunc(func(ctx context.Context, to record.ID, amount int64, msg string) (record.KudosTransaction, error) {
		k, err := bonus.SendKudos(ctx, to, amount, msg)
		k.Amount += 2
		k.StreakBonus = true
		return k, err
	})

	out, err := f.c.SendKudos(context.Background(), 2, 20, "")
	require.NoError(t, err)
	assert.Equal(t, int64(22), out.Kudos.Amount)
	assert.Equal(t, int64(30), f.user(t, 1).KudosBalance, "sender pays the requested amount")
	assert.Equal(t, int64(27), f.user(t, 2).KudosReceived)
	assert.Equal(t, int64(22), f.events.Events()[0].Amount)
}

func TestSendKudos_ValidationMakesNoWrites(t *testing.T) {
	tests := []struct {
		name     string
		receiver record.ID
		amount   int64
	}{
		{"zero amount", 2, 0},
		{"negative amount", 2, -5},
		{"self", 1, 5},
		{"over balance", 2, 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.store.Snapshot()

			out, err := f.c.SendKudos(context.Background(), tt.receiver, tt.amount, "")
			require.Error(t, err)
			assert.True(t, fault.IsValidation(err), "got %v", err)
			assert.Equal(t, []State{StateValidating, StateRolledBack}, out.States())

			after := f.store.Snapshot()
			for _, c := range record.Collections() {
				assert.Equal(t, before.Version(c), after.Version(c), "collection %s written", c)
			}
			assert.Zero(t, f.gw.Calls(), "no network call")
			assert.Equal(t, []events.Kind{events.KudosFailed}, f.events.Kinds())
		})
	}
}

func TestSendKudos_InsufficientBalanceKeepsBalance(t *testing.T) {
	f := newFixture(t)
	f.setBalance(t, 1, 5)

	_, err := f.c.SendKudos(context.Background(), 2, 20, "")
	require.True(t, fault.IsValidation(err))

	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "5", fe.Details["balance"])
	assert.Equal(t, int64(5), f.user(t, 1).KudosBalance)
	assert.Zero(t, f.store.Kudos().Len())
}

func TestSendKudos_ConfirmFailureRestoresBalance(t *testing.T) {
	f := newFixture(t)
	var during int64
	f.gw.send = func(context.Context, record.ID, int64) error {
		u, _ := f.store.Users().Get(1)
		during = u.KudosBalance
		return fault.Conflict("send-kudos", "Insufficient balance")
	}

	out, err := f.c.SendKudos(context.Background(), 2, 20, "")
	require.True(t, fault.IsConflict(err))
	assert.Equal(t, int64(30), during, "debit applied before confirmation")
	assert.Equal(t, []State{StateValidating, StateApplying, StateAwaitingConfirmation, StateRolledBack}, out.States())

	assert.Equal(t, int64(50), f.user(t, 1).KudosBalance)
	assert.Equal(t, int64(5), f.user(t, 2).KudosReceived)
	assert.Zero(t, f.store.Kudos().Len())
	assert.Zero(t, f.store.Pending())
	assert.Len(t, f.events.ForFlow(out.Token), 1)
	assert.Equal(t, []events.Kind{events.KudosFailed}, f.events.Kinds())
}

func TestRedeem_Commits(t *testing.T) {
	f := newFixture(t)

	out, err := f.c.Redeem(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30), out.Amount)
	require.NotNil(t, out.Redemption)
	assert.Equal(t, int64(20), f.user(t, 1).KudosBalance)
	assert.Equal(t, 1, f.store.Redemptions().Len())
	assert.Equal(t, []events.Kind{events.RewardRedeemed}, f.events.Kinds())
}

func TestRedeem_TimeoutRollsBack(t *testing.T) {
	f := newFixture(t, WithConfirmTimeout(20*time.Millisecond))
	f.setBalance(t, 1, 30)
	var during int64
	f.gw.redeem = func(ctx context.Context, _ record.ID) error {
		u, _ := f.store.Users().Get(1)
		during = u.KudosBalance
		<-ctx.Done()
		return ctx.Err()
	}

	out, err := f.c.Redeem(context.Background(), 7)
	require.True(t, fault.IsUnreachable(err), "got %v", err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int64(0), during)
	assert.Equal(t, StateRolledBack, out.State)
	assert.Equal(t, int64(30), f.user(t, 1).KudosBalance)
	assert.Zero(t, f.store.Redemptions().Len())
	assert.Equal(t, []events.Kind{events.RewardFailed}, f.events.Kinds())
}

func TestRedeem_UnknownReward(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.Redeem(context.Background(), 99)
	assert.True(t, fault.IsValidation(err))
	assert.Zero(t, f.gw.Calls())
}

// blockingSend holds the first confirmation until release is closed.
func blockingSend(f *fixture) (entered chan struct{}, release chan struct{}) {
	entered, release = make(chan struct{}, 1), make(chan struct{})
	var once sync.Once
	f.gw.send = func(context.Context, record.ID, int64) error {
		first := false
		once.Do(func() { first = true })
		if first {
			entered <- struct{}{}
			<-release
		}
		return nil
	}
	return entered, release
}

type result struct {
	out *Outcome
	err error
}

func goSend(c *Coordinator, ctx context.Context, to record.ID, amount int64) chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := c.SendKudos(ctx, to, amount, "")
		ch <- result{out, err}
	}()
	return ch
}

func TestQueuedFlow_ValidatedAgainstReducedBalance(t *testing.T) {
	f := newFixture(t)
	entered, release := blockingSend(f)

	first := goSend(f.c, context.Background(), 2, 30)
	<-entered
	second := goSend(f.c, context.Background(), 3, 30)
	require.Eventually(t, func() bool { return f.c.Queued(1) == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, int64(20), f.user(t, 1).KudosBalance, "first debit visible")
	close(release)

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	assert.True(t, fault.IsValidation(r2.err), "second send must see the debited balance")
	assert.Equal(t, 1, f.gw.Calls())
	assert.Equal(t, int64(20), f.user(t, 1).KudosBalance)
}

func TestQueuedFlow_RunsAfterRollback(t *testing.T) {
	f := newFixture(t)
	entered, release := make(chan struct{}, 1), make(chan struct{})
	var calls int
	var mu sync.Mutex
	f.gw.send = func(context.Context, record.ID, int64) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			entered <- struct{}{}
			<-release
			return fault.Server("send-kudos", 500, "boom")
		}
		return nil
	}

	first := goSend(f.c, context.Background(), 2, 30)
	<-entered
	second := goSend(f.c, context.Background(), 3, 30)
	require.Eventually(t, func() bool { return f.c.Queued(1) == 1 }, time.Second, time.Millisecond)
	close(release)

	r1, r2 := <-first, <-second
	assert.True(t, fault.IsServer(r1.err))
	require.NoError(t, r2.err)
	assert.Equal(t, int64(20), f.user(t, 1).KudosBalance)
	assert.Equal(t, int64(30), f.user(t, 3).KudosReceived)
}

func TestCancel_WhileQueued(t *testing.T) {
	f := newFixture(t)
	entered, release := blockingSend(f)

	first := goSend(f.c, context.Background(), 2, 10)
	<-entered
	ctx, cancel := context.WithCancel(context.Background())
	second := goSend(f.c, ctx, 3, 10)
	require.Eventually(t, func() bool { return f.c.Queued(1) == 1 }, time.Second, time.Millisecond)

	cancel()
	r2 := <-second
	require.Error(t, r2.err)
	assert.True(t, errors.Is(r2.err, context.Canceled))
	assert.Equal(t, []State{StateValidating, StateRolledBack}, r2.out.States())

	close(release)
	r1 := <-first
	require.NoError(t, r1.err)

	assert.Equal(t, 1, f.gw.Calls(), "cancelled flow never reached the gateway")
	assert.Equal(t, int64(40), f.user(t, 1).KudosBalance)
	assert.Equal(t, int64(0), f.user(t, 3).KudosReceived)
	assert.Len(t, f.events.ForFlow(r1.out.Token), 1)
	assert.Len(t, f.events.ForFlow(r2.out.Token), 1)
}

func TestCancel_AfterDebitRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	entered, release := make(chan struct{}), make(chan struct{})
	var seen error
	f.gw.send = func(ctx context.Context, _ record.ID, _ int64) error {
		close(entered)
		<-release
		seen = ctx.Err()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	res := goSend(f.c, ctx, 2, 10)
	<-entered
	cancel()
	close(release)

	r := <-res
	require.NoError(t, r.err)
	assert.NoError(t, seen, "confirmation does not see the caller's cancellation")
	assert.Equal(t, StateCommitted, r.out.State)
	assert.Equal(t, int64(40), f.user(t, 1).KudosBalance)
}

func TestOrphanedHold_FailsWithConflict(t *testing.T) {
	f := newFixture(t)
	f.gw.send = func(context.Context, record.ID, int64) error {
		// A refresh lands mid-flight and Ann is gone from it.
		_, err := f.store.ReplaceUsers([]record.User{
			{ID: 2, Name: "Ben", Role: record.RoleDeveloper, KudosBalance: 10, KudosReceived: 5},
		})
		return err
	}

	out, err := f.c.SendKudos(context.Background(), 2, 20, "")
	require.True(t, fault.IsConflict(err), "got %v", err)
	assert.True(t, errors.Is(err, store.ErrOrphaned))
	assert.Nil(t, out.Kudos)
	assert.Zero(t, f.store.Kudos().Len())
	assert.Zero(t, f.store.Pending())
	assert.Equal(t, int64(5), f.user(t, 2).KudosReceived)
}

func TestOrphanedHold_FailedConfirmationIsConflict(t *testing.T) {
	f := newFixture(t)
	f.gw.send = func(context.Context, record.ID, int64) error {
		_, err := f.store.ReplaceUsers([]record.User{
			{ID: 2, Name: "Ben", Role: record.RoleDeveloper, KudosBalance: 10, KudosReceived: 5},
		})
		assert.NoError(t, err)
		return fault.Unreachable("send-kudos", errors.New("dial tcp: refused"))
	}

	out, err := f.c.SendKudos(context.Background(), 2, 20, "")
	require.True(t, fault.IsConflict(err), "got %v", err)
	assert.True(t, errors.Is(err, store.ErrOrphaned))
	var fe *fault.Error
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Details["confirm"], "dial tcp: refused")
	assert.Equal(t, StateRolledBack, out.State)
	assert.Zero(t, f.store.Pending())
	assert.Equal(t, int64(10), f.user(t, 2).KudosBalance)
	assert.Equal(t, []events.Kind{events.KudosFailed}, f.events.Kinds())
}

func TestSignedOut_Unauthorized(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Clear())

	out, err := f.c.SendKudos(context.Background(), 2, 5, "")
	assert.True(t, fault.NeedsReauth(err))
	assert.Equal(t, StateRolledBack, out.State)
	assert.Zero(t, f.gw.Calls())
	assert.Equal(t, []events.Kind{events.KudosFailed}, f.events.Kinds())
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	initial := map[record.ID]record.User{}
	for _, u := range f.store.Users().All() {
		initial[u.ID] = u
	}

	sends := []struct {
		to     record.ID
		amount int64
	}{{2, 5}, {3, 12}, {2, 1}, {3, 40}, {2, 30}, {3, 2}}
	for _, s := range sends {
		_, _ = f.c.SendKudos(context.Background(), s.to, s.amount, "")
	}

	var net int64
	for _, u := range f.store.Users().All() {
		assert.GreaterOrEqual(t, u.KudosBalance, int64(0))
		sent := initial[u.ID].KudosBalance - u.KudosBalance
		received := u.KudosReceived - initial[u.ID].KudosReceived
		net += sent - received
	}
	assert.Zero(t, net)

	var recorded int64
	for _, k := range f.store.Kudos().All() {
		recorded += k.Amount
	}
	assert.Equal(t, initial[1].KudosBalance-f.user(t, 1).KudosBalance, recorded)
}

func TestObserver_SeesEveryTransition(t *testing.T) {
	var mu sync.Mutex
	var seen []Transition
	f := newFixture(t,
		WithObserver(ObserverFunc(func(tr Transition) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tr)
		})),
		WithTokenGenerator(NewFixedGenerator("flow-1")),
	)

	_, err := f.c.SendKudos(context.Background(), 2, 5, "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, State(""), seen[0].From)
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1].To, seen[i].From)
		assert.Equal(t, "flow-1", seen[i].Token)
	}
	assert.True(t, seen[3].To.Terminal())
}

func TestClose_RefusesNewFlows(t *testing.T) {
	f := newFixture(t)
	f.c.Close()

	out, err := f.c.SendKudos(context.Background(), 2, 5, "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateRolledBack, out.State)
	assert.Equal(t, int64(50), f.user(t, 1).KudosBalance)
	assert.Equal(t, []events.Kind{events.KudosFailed}, f.events.Kinds())
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("a")
	assert.Equal(t, "a", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

type gatewayFunc func(ctx context.Context, to record.ID, amount int64, msg string) (record.KudosTransaction, error)

func (f gatewayFunc) SendKudos(ctx context.Context, to record.ID, amount int64, msg string) (record.KudosTransaction, error) {
	return f(ctx, to, amount, msg)
}

func (gatewayFunc) Redeem(context.Context, record.ID) (record.Redemption, error) {
	return record.Redemption{}, errors.New("not supported")
}
