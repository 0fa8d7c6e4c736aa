// Package views derives read-only views from the record store.
//
// Each view is a pure function of a store snapshot, memoized under the
// versions of the collections it reads. A write to a collection invalidates
// exactly the views listed by Affected; nothing is recomputed until the next
// read.
//
// Dependency table:
//
//	leaderboard  users
//	membership   users, projects   (assigned/unassigned partitions, staffing)
//	badges       users, kudos
//	feed         kudos
//
// SearchEmployees is not cached; it is a linear filter over users.
package views
