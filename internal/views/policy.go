package views

import (
	"sort"

	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/store"
)

// View names a cached derived view.
type View string

const (
	ViewLeaderboard View = "leaderboard"
	ViewMembership  View = "membership"
	ViewBadges      View = "badges"
	ViewFeed        View = "feed"
)

// dependencies is the invalidation policy: a view is recomputed exactly when
// the version of one of its source collections moves.
var dependencies = map[View][]record.Collection{
	ViewLeaderboard: {record.Users},
	ViewMembership:  {record.Users, record.Projects},
	ViewBadges:      {record.Users, record.Kudos},
	ViewFeed:        {record.Kudos},
}

// Views lists every cached view in a fixed order.
func Views() []View {
	return []View{ViewLeaderboard, ViewMembership, ViewBadges, ViewFeed}
}

// Dependencies returns the collections a view is derived from.
func Dependencies(v View) []record.Collection {
	return append([]record.Collection(nil), dependencies[v]...)
}

// Affected returns the views a write to collection c invalidates.
func Affected(c record.Collection) []View {
	var out []View
	for v, deps := range dependencies {
		for _, d := range deps {
			if d == c {
				out = append(out, v)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// stamp is a cache key: the versions of a view's dependencies, in
// record.Collections order, with zero for collections the view ignores.
type stamp [5]int64

func stampFor(v View, t store.Tables) stamp {
	var s stamp
	for i, c := range record.Collections() {
		for _, d := range dependencies[v] {
			if d == c {
				s[i] = t.Version(c)
			}
		}
	}
	return s
}

// memo caches one value under one stamp.
type memo[V any] struct {
	valid bool
	key   stamp
	val   V
}

func (m *memo[V]) get(key stamp, compute func() V) V {
	if m.valid && m.key == key {
		return m.val
	}
	m.val = compute()
	m.key = key
	m.valid = true
	return m.val
}

func (m *memo[V]) fresh(key stamp) bool {
	return m.valid && m.key == key
}
