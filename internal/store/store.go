package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/kudosync/internal/record"
)

var (
	// ErrOrphaned is returned when a hold's user vanished in a replace.
	ErrOrphaned = errors.New("optimistic write orphaned by refresh")

	// ErrUnknownHold is returned when a token has no live hold.
	ErrUnknownHold = errors.New("no pending hold for token")

	// ErrDuplicateHold is returned when a token already holds a debit.
	ErrDuplicateHold = errors.New("token already holds a debit")
)

// Store is the versioned in-memory mirror.
//
// Thread-safety: all methods are safe for concurrent use. Writers serialize
// on an internal lock; readers only hold it long enough to copy a table pointer.
type Store struct {
	mu sync.RWMutex

	users       *table[record.User]
	projects    *table[record.Project]
	rewards     *table[record.Reward]
	kudos       *table[record.KudosTransaction]
	redemptions *table[record.Redemption]

	holds   map[string]*hold
	holdSeq int64
}

// hold is a live optimistic debit owned by one coordinator flow.
type hold struct {
	token  string
	userID record.ID
	amount int64
	seq    int64

	// applied is true while the debit is reflected in the users table.
	applied bool

	// orphaned is terminal: the user vanished in a replace.
	orphaned bool
}

// ReplaceReport describes what a users replace did to live holds.
type ReplaceReport struct {
	// Orphaned lists tokens whose user is missing from the new records.
	Orphaned []string

	// Detached lists tokens whose debit no longer fits the fresh balance.
	// They stay live but are not reflected until a later replace can carry them.
	Detached []string
}

// New creates an empty store. Every collection starts at version 0.
func New() *Store {
	return &Store{
		users:       newTable[record.User](),
		projects:    newTable[record.Project](),
		rewards:     newTable[record.Reward](),
		kudos:       newTable[record.KudosTransaction](),
		redemptions: newTable[record.Redemption](),
		holds:       make(map[string]*hold),
	}
}

// Users returns a snapshot of the users collection.
func (s *Store) Users() Snapshot[record.User] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[record.User]{t: s.users}
}

// Projects returns a snapshot of the projects collection.
func (s *Store) Projects() Snapshot[record.Project] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[record.Project]{t: s.projects}
}

// Rewards returns a snapshot of the rewards collection.
func (s *Store) Rewards() Snapshot[record.Reward] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[record.Reward]{t: s.rewards}
}

// Kudos returns a snapshot of the kudos transactions collection.
func (s *Store) Kudos() Snapshot[record.KudosTransaction] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[record.KudosTransaction]{t: s.kudos}
}

// Redemptions returns a snapshot of the redemptions collection.
func (s *Store) Redemptions() Snapshot[record.Redemption] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot[record.Redemption]{t: s.redemptions}
}

// Tables is a consistent snapshot of every collection taken under one lock.
type Tables struct {
	Users       Snapshot[record.User]
	Projects    Snapshot[record.Project]
	Rewards     Snapshot[record.Reward]
	Kudos       Snapshot[record.KudosTransaction]
	Redemptions Snapshot[record.Redemption]
}

// Version returns the version of collection c within the snapshot.
func (t Tables) Version(c record.Collection) int64 {
	switch c {
	case record.Users:
		return t.Users.Version()
	case record.Projects:
		return t.Projects.Version()
	case record.Rewards:
		return t.Rewards.Version()
	case record.Kudos:
		return t.Kudos.Version()
	case record.Redemptions:
		return t.Redemptions.Version()
	}
	return 0
}

// Snapshot returns every collection as of a single instant, so a reader
// combining collections never straddles a delta.
func (s *Store) Snapshot() Tables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Tables{
		Users:       Snapshot[record.User]{t: s.users},
		Projects:    Snapshot[record.Project]{t: s.projects},
		Rewards:     Snapshot[record.Reward]{t: s.rewards},
		Kudos:       Snapshot[record.KudosTransaction]{t: s.kudos},
		Redemptions: Snapshot[record.Redemption]{t: s.redemptions},
	}
}

// Version returns the current version of a collection.
// Unknown collections report 0.
func (s *Store) Version(c record.Collection) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch c {
	case record.Users:
		return s.users.version
	case record.Projects:
		return s.projects.version
	case record.Rewards:
		return s.rewards.version
	case record.Kudos:
		return s.kudos.version
	case record.Redemptions:
		return s.redemptions.version
	}
	return 0
}

// Apply applies ops atomically: either every op takes effect and each touched
// collection's version is bumped once, or nothing changes.
func (s *Store) Apply(ops ...Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ops)
}

func (s *Store) applyLocked(ops []Op) error {
	tx := &txn{s: s}
	for _, op := range ops {
		if err := op.fn(tx); err != nil {
			return fmt.Errorf("%s: %w", op.name, err)
		}
	}
	tx.publish()
	return nil
}

// ReplaceUsers swaps in a freshly fetched users collection.
//
// Live holds are re-applied in the order they were taken. A hold whose user is
// missing is orphaned; a hold the fresh balance cannot cover is detached.
func (s *Store) ReplaceUsers(users []record.User) (ReplaceReport, error) {
	for _, u := range users {
		if u.KudosBalance < 0 {
			return ReplaceReport{}, fmt.Errorf("replace users: user %d: %w", u.ID, ErrNegativeBalance)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := fill(s.users.version+1, users)
	var report ReplaceReport
	for _, h := range s.holdsBySeq() {
		if h.orphaned {
			continue
		}
		u, ok := next.rows[h.userID]
		if !ok {
			h.orphaned = true
			h.applied = false
			report.Orphaned = append(report.Orphaned, h.token)
			continue
		}
		if u.KudosBalance < h.amount {
			h.applied = false
			report.Detached = append(report.Detached, h.token)
			continue
		}
		u.KudosBalance -= h.amount
		next.rows[h.userID] = u
		h.applied = true
	}
	s.users = next
	return report, nil
}

// ReplaceProjects swaps in a freshly fetched projects collection.
func (s *Store) ReplaceProjects(projects []record.Project) error {
	cloned := make([]record.Project, len(projects))
	for i, p := range projects {
		if err := checkAssignments(p); err != nil {
			return fmt.Errorf("replace projects: %w", err)
		}
		cloned[i] = p.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = fill(s.projects.version+1, cloned)
	return nil
}

// ReplaceRewards swaps in a freshly fetched rewards catalogue.
func (s *Store) ReplaceRewards(rewards []record.Reward) error {
	for _, r := range rewards {
		if r.Cost <= 0 {
			return fmt.Errorf("replace rewards: reward %d cost: %w", r.ID, ErrInvalidAmount)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards = fill(s.rewards.version+1, rewards)
	return nil
}

// ReplaceKudos swaps in a freshly fetched kudos feed.
func (s *Store) ReplaceKudos(kudos []record.KudosTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kudos = fill(s.kudos.version+1, kudos)
}

// Debit is the optimistic write of a balance-affecting flow. It checks and
// debits the balance and registers a hold under token in one step.
func (s *Store) Debit(token string, userID record.ID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.holds[token]; ok {
		return ErrDuplicateHold
	}
	if err := s.applyLocked([]Op{AdjustBalance(userID, -amount)}); err != nil {
		return err
	}
	s.holdSeq++
	s.holds[token] = &hold{
		token:   token,
		userID:  userID,
		amount:  amount,
		seq:     s.holdSeq,
		applied: true,
	}
	return nil
}

// Commit releases the hold under token and applies the confirmation ops.
//
// The debit stays in place: it already matches the server. If the hold was
// orphaned, no ops are applied and ErrOrphaned is returned. If the ops fail
// the hold is still released and the op error is returned.
func (s *Store) Commit(token string, ops ...Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[token]
	if !ok {
		return ErrUnknownHold
	}
	delete(s.holds, token)
	if h.orphaned {
		return ErrOrphaned
	}
	return s.applyLocked(ops)
}

// Rollback releases the hold under token and credits back the debit if it is
// still reflected in the users table. Orphaned holds report ErrOrphaned.
func (s *Store) Rollback(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[token]
	if !ok {
		return ErrUnknownHold
	}
	delete(s.holds, token)
	if h.orphaned {
		return ErrOrphaned
	}
	if !h.applied {
		return nil
	}
	return s.applyLocked([]Op{AdjustBalance(h.userID, h.amount)})
}

// Pending returns the number of live holds.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.holds)
}

// Held returns the total debit currently reflected against a user.
func (s *Store) Held(userID record.ID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, h := range s.holds {
		if h.userID == userID && h.applied {
			total += h.amount
		}
	}
	return total
}

func (s *Store) holdsBySeq() []*hold {
	out := make([]*hold, 0, len(s.holds))
	for _, h := range s.holds {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
