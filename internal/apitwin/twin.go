// Package apitwin is an in-memory stand-in for the kudos service.
//
// It serves the same routes and JSON shapes as the real service, signs HS256
// bearer tokens, applies the server-side balance and streak rules, and can be
// told to fail or stall specific routes. Tests mount it with httptest; the
// CLI's twin command serves it on a port.
package apitwin

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/kudosync/internal/record"
)

// InitialBalance is the kudos balance of a newly registered account.
const InitialBalance = 100

// account is a user plus login credentials.
type account struct {
	user     record.User
	password string
}

type project struct {
	record.Project
	ownerID   record.ID
	createdAt time.Time
	updatedAt time.Time
}

type routeFault struct {
	status    int
	delay     time.Duration
	remaining int // <0 means until cleared
}

// Twin holds the service state.
//
// Thread-safety: safe for concurrent use.
type Twin struct {
	mu sync.Mutex

	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	accounts    map[record.ID]*account
	projects    map[record.ID]*project
	rewards     map[record.ID]record.Reward
	kudos       []record.KudosTransaction
	redemptions []record.Redemption
	nextID      record.ID

	faults map[string]*routeFault
}

// Option configures a Twin.
type Option func(*Twin)

// WithSecret sets the HMAC key for bearer tokens.
func WithSecret(secret []byte) Option {
	return func(t *Twin) { t.secret = secret }
}

// WithTokenTTL sets how long issued tokens stay valid.
func WithTokenTTL(d time.Duration) Option {
	return func(t *Twin) { t.tokenTTL = d }
}

// WithClock sets the time source for timestamps, streaks and token expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Twin) { t.now = now }
}

// New creates an empty twin.
func New(opts ...Option) *Twin {
	t := &Twin{
		secret:   []byte("kudosync-twin-secret"),
		tokenTTL: 24 * time.Hour,
		now:      time.Now,
		accounts: make(map[record.ID]*account),
		projects: make(map[record.ID]*project),
		rewards:  make(map[record.ID]record.Reward),
		faults:   make(map[string]*routeFault),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Twin) allocID() record.ID {
	t.nextID++
	return t.nextID
}

func (t *Twin) reserve(id record.ID) record.ID {
	if id == 0 {
		return t.allocID()
	}
	if id > t.nextID {
		t.nextID = id
	}
	return id
}

// AddUser creates an account. A zero ID is assigned; an empty role is USER.
func (t *Twin) AddUser(u record.User, password string) record.User {
	t.mu.Lock()
	defer t.mu.Unlock()
	u.ID = t.reserve(u.ID)
	if u.Role == "" {
		u.Role = record.RoleUser
	}
	t.accounts[u.ID] = &account{user: u, password: password}
	return u
}

// AddReward adds a catalogue entry. A zero ID is assigned.
func (t *Twin) AddReward(r record.Reward) record.Reward {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.ID = t.reserve(r.ID)
	t.rewards[r.ID] = r
	return r
}

// AddProject adds a project owned by ownerID. A zero ID is assigned.
func (t *Twin) AddProject(p record.Project, ownerID record.ID) record.Project {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.ID = t.reserve(p.ID)
	now := t.now()
	t.projects[p.ID] = &project{Project: p.Clone(), ownerID: ownerID, createdAt: now, updatedAt: now}
	return p
}

// User returns the current server-side state of a user.
func (t *Twin) User(id record.ID) (record.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[id]
	if !ok {
		return record.User{}, false
	}
	return a.user, true
}

// RemoveUser deletes an account.
func (t *Twin) RemoveUser(id record.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.accounts, id)
}

// Kudos returns every recorded transaction, oldest first.
func (t *Twin) Kudos() []record.KudosTransaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]record.KudosTransaction(nil), t.kudos...)
}

// Redemptions returns every recorded redemption, oldest first.
func (t *Twin) Redemptions() []record.Redemption {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]record.Redemption(nil), t.redemptions...)
}

func faultKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// FailNext makes the next request to method+path answer with status.
func (t *Twin) FailNext(method, path string, status int) {
	t.setFault(method, path, &routeFault{status: status, remaining: 1})
}

// Fail makes every request to method+path answer with status until
// ClearFaults.
func (t *Twin) Fail(method, path string, status int) {
	t.setFault(method, path, &routeFault{status: status, remaining: -1})
}

// Delay stalls every request to method+path by d before handling it. A
// client that gives up first never sees a response, but the request is still
// processed if the stall completes.
func (t *Twin) Delay(method, path string, d time.Duration) {
	t.setFault(method, path, &routeFault{delay: d, remaining: -1})
}

// ClearFaults removes every injected fault.
func (t *Twin) ClearFaults() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = make(map[string]*routeFault)
}

func (t *Twin) setFault(method, path string, f *routeFault) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults[faultKey(method, path)] = f
}

// takeFault returns the fault for a request and consumes one-shot faults.
func (t *Twin) takeFault(method, path string) (routeFault, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := faultKey(method, path)
	f, ok := t.faults[key]
	if !ok {
		return routeFault{}, false
	}
	out := *f
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(t.faults, key)
		}
	}
	return out, true
}

// sortedUsers returns accounts by ascending id. Callers hold mu.
func (t *Twin) sortedUsers() []record.User {
	out := make([]record.User, 0, len(t.accounts))
	for _, a := range t.accounts {
		out = append(out, a.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Seed loads a small demo organisation and returns the admin's credentials.
func Seed(t *Twin) (email, password string) {
	admin := t.AddUser(record.User{Name: "Avery Admin", Email: "admin@example.com", Role: record.RoleAdmin, KudosBalance: 500}, "admin")
	dev := t.AddUser(record.User{Name: "Dana Developer", Email: "dana@example.com", Role: record.RoleDeveloper, KudosBalance: 100, KudosReceived: 40}, "dana")
	pm := t.AddUser(record.User{Name: "Priya Manager", Email: "priya@example.com", Role: record.RoleProjectManager, KudosBalance: 100, KudosReceived: 25}, "priya")
	t.AddUser(record.User{Name: "Sam Designer", Email: "sam@example.com", Role: record.RoleDesigner, KudosBalance: 100, KudosReceived: 60}, "sam")

	t.AddReward(record.Reward{Name: "Coffee voucher", Description: "One drink at the corner cafe", Cost: 30})
	t.AddReward(record.Reward{Name: "Extra day off", Description: "A paid day of leave", Cost: 400})
	t.AddProject(record.Project{
		Name:        "Atlas",
		Description: "Internal tooling revamp",
		Assignments: []record.Assignment{{EmployeeID: dev.ID}, {EmployeeID: pm.ID}},
	}, admin.ID)
	return admin.Email, "admin"
}
