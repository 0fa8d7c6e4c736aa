package views

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/kudosync/internal/badges"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/store"
)

// podium is the size of the dashboard's top slice.
const podium = 3

// Staffing counts a project's assignments by role.
type Staffing struct {
	ProjectID       record.ID `json:"projectId"`
	Developers      int       `json:"developers"`
	ProjectManagers int       `json:"projectManagers"`
	Total           int       `json:"total"`
}

// Standing is a user's computed badge inputs and the badges they earn.
type Standing struct {
	UserID record.ID      `json:"userId"`
	Stats  badges.Stats   `json:"stats"`
	Badges []badges.Badge `json:"badges"`
}

type membership struct {
	assigned   []record.User
	unassigned []record.User
	staffing   Staffing
}

// Engine computes derived views over a store.
//
// Every view is computed lazily on read and cached under the versions of the
// collections it depends on. Reads take one store snapshot so that a view
// combining collections never mixes versions.
//
// Thread-safety: safe for concurrent use.
type Engine struct {
	store *store.Store
	rules badges.RuleSet

	mu          sync.Mutex
	leaderboard memo[[]record.User]
	members     memo[map[record.ID]membership]
	standings   memo[map[record.ID]Standing]
	feed        memo[[]record.KudosTransaction]
	computed    map[View]int
}

// New creates an engine over s evaluating badges with rules.
func New(s *store.Store, rules badges.RuleSet) *Engine {
	return &Engine{
		store:    s,
		rules:    rules,
		computed: make(map[View]int),
	}
}

// Leaderboard returns users ordered by kudos received, highest first.
// Ties are broken by ascending id.
func (e *Engine) Leaderboard() []record.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]record.User(nil), e.leaderboardLocked(e.store.Snapshot())...)
}

// TopN returns the first n leaderboard entries.
func (e *Engine) TopN(n int) []record.User {
	top, _ := e.split(n)
	return top
}

// RestAfter returns the leaderboard entries after the first n.
func (e *Engine) RestAfter(n int) []record.User {
	_, rest := e.split(n)
	return rest
}

// TopThree returns the dashboard podium.
func (e *Engine) TopThree() []record.User { return e.TopN(podium) }

// Rest returns everyone below the podium.
func (e *Engine) Rest() []record.User { return e.RestAfter(podium) }

// Podium returns the podium and the rest from one ordering.
func (e *Engine) Podium() (top, rest []record.User) { return e.split(podium) }

func (e *Engine) split(n int) (top, rest []record.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	board := e.leaderboardLocked(e.store.Snapshot())
	if n < 0 {
		n = 0
	}
	if n > len(board) {
		n = len(board)
	}
	top = append([]record.User{}, board[:n]...)
	rest = append([]record.User{}, board[n:]...)
	return top, rest
}

// Rank returns the user's 1-based leaderboard position, or 0 if unknown.
func (e *Engine) Rank(id record.ID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, u := range e.leaderboardLocked(e.store.Snapshot()) {
		if u.ID == id {
			return i + 1
		}
	}
	return 0
}

func (e *Engine) leaderboardLocked(t store.Tables) []record.User {
	return e.leaderboard.get(stampFor(ViewLeaderboard, t), func() []record.User {
		e.computed[ViewLeaderboard]++
		board := t.Users.All()
		sort.SliceStable(board, func(i, j int) bool {
			if board[i].KudosReceived != board[j].KudosReceived {
				return board[i].KudosReceived > board[j].KudosReceived
			}
			return board[i].ID < board[j].ID
		})
		return board
	})
}

// AssignedEmployees returns the users assigned to a project, by ascending id.
// An unknown project has no members.
func (e *Engine) AssignedEmployees(projectID record.ID) []record.User {
	m := e.membership(projectID)
	return m.assigned
}

// UnassignedEmployees returns the users not assigned to a project, by
// ascending id. Together with AssignedEmployees it partitions all users.
func (e *Engine) UnassignedEmployees(projectID record.ID) []record.User {
	m := e.membership(projectID)
	return m.unassigned
}

// Staffing counts the project's developers and project managers among its
// actual assignments. The assignment role wins over the user's own role.
func (e *Engine) Staffing(projectID record.ID) Staffing {
	return e.membership(projectID).staffing
}

func (e *Engine) membership(projectID record.ID) membership {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.store.Snapshot()
	all := e.members.get(stampFor(ViewMembership, t), func() map[record.ID]membership {
		return make(map[record.ID]membership)
	})
	m, ok := all[projectID]
	if !ok {
		e.computed[ViewMembership]++
		m = partition(t, projectID)
		all[projectID] = m
	}
	return membership{
		assigned:   append([]record.User{}, m.assigned...),
		unassigned: append([]record.User{}, m.unassigned...),
		staffing:   m.staffing,
	}
}

func partition(t store.Tables, projectID record.ID) membership {
	m := membership{staffing: Staffing{ProjectID: projectID}}
	project, _ := t.Projects.Get(projectID)

	users := t.Users.All()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	for _, u := range users {
		a, ok := project.Assignment(u.ID)
		if !ok {
			m.unassigned = append(m.unassigned, u)
			continue
		}
		m.assigned = append(m.assigned, u)
		m.staffing.Total++
		role := a.Role
		if role == "" {
			role = u.Role
		}
		switch role {
		case record.RoleDeveloper:
			m.staffing.Developers++
		case record.RoleProjectManager:
			m.staffing.ProjectManagers++
		}
	}
	return m
}

// Badges returns the badges a user has earned. Unknown users earn none.
func (e *Engine) Badges(userID record.ID) []badges.Badge {
	st, ok := e.Standing(userID)
	if !ok {
		return nil
	}
	return st.Badges
}

// Standing returns a user's badge inputs and earned badges.
func (e *Engine) Standing(userID record.ID) (Standing, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.store.Snapshot()
	all := e.standings.get(stampFor(ViewBadges, t), func() map[record.ID]Standing {
		e.computed[ViewBadges]++
		return e.computeStandings(t)
	})
	st, ok := all[userID]
	if !ok {
		return Standing{}, false
	}
	st.Badges = append([]badges.Badge(nil), st.Badges...)
	return st, true
}

// computeStandings ranks only users who have received kudos, so an empty
// leaderboard awards no rank badges.
func (e *Engine) computeStandings(t store.Tables) map[record.ID]Standing {
	sent := make(map[record.ID]int64)
	for _, k := range t.Kudos.All() {
		sent[k.SenderID] += k.Amount
	}

	users := t.Users.All()
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].KudosReceived != users[j].KudosReceived {
			return users[i].KudosReceived > users[j].KudosReceived
		}
		return users[i].ID < users[j].ID
	})

	out := make(map[record.ID]Standing, len(users))
	for i, u := range users {
		st := badges.Stats{
			Received: u.KudosReceived,
			Sent:     sent[u.ID],
			Streak:   u.StreakCount,
			Balance:  u.KudosBalance,
		}
		if u.KudosReceived > 0 {
			st.Rank = i + 1
		}
		out[u.ID] = Standing{UserID: u.ID, Stats: st, Badges: e.rules.Evaluate(st)}
	}
	return out
}

// Feed returns up to limit kudos transactions, newest first.
// A non-positive limit returns the whole feed.
func (e *Engine) Feed(limit int) []record.KudosTransaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.store.Snapshot()
	feed := e.feed.get(stampFor(ViewFeed, t), func() []record.KudosTransaction {
		e.computed[ViewFeed]++
		all := t.Kudos.All()
		sort.SliceStable(all, func(i, j int) bool {
			if !all[i].Timestamp.Equal(all[j].Timestamp) {
				return all[i].Timestamp.After(all[j].Timestamp)
			}
			return all[i].ID > all[j].ID
		})
		return all
	})
	if limit <= 0 || limit > len(feed) {
		limit = len(feed)
	}
	return append([]record.KudosTransaction{}, feed[:limit]...)
}

// SearchEmployees filters users by a name or id substring and an optional
// role. Matching ignores case and Unicode width. Results are in id order.
func (e *Engine) SearchEmployees(term string, role record.Role) []record.User {
	key := foldKey(term)
	users := e.store.Users().All()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	out := []record.User{}
	for _, u := range users {
		if role != "" && u.Role != role {
			continue
		}
		if key != "" && !strings.Contains(foldKey(u.Name), key) && !strings.Contains(u.ID.String(), key) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func foldKey(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// Stale returns the views whose cached value no longer matches the store,
// including views never computed.
func (e *Engine) Stale() []View {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.store.Snapshot()
	fresh := map[View]bool{
		ViewLeaderboard: e.leaderboard.fresh(stampFor(ViewLeaderboard, t)),
		ViewMembership:  e.members.fresh(stampFor(ViewMembership, t)),
		ViewBadges:      e.standings.fresh(stampFor(ViewBadges, t)),
		ViewFeed:        e.feed.fresh(stampFor(ViewFeed, t)),
	}
	var out []View
	for _, v := range Views() {
		if !fresh[v] {
			out = append(out, v)
		}
	}
	return out
}

// Computations returns how many times a view has been recomputed.
func (e *Engine) Computations(v View) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computed[v]
}
