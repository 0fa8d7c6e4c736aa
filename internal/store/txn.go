package store

import (
	"fmt"

	"github.com/roach88/kudosync/internal/record"
)

// txn stages one delta. Tables are cloned on first write; reads before that go
// to the published table. publish swaps the clones in and bumps versions.
// Must only be used while holding the store's write lock.
type txn struct {
	s *Store

	nextUsers       *table[record.User]
	nextProjects    *table[record.Project]
	nextRewards     *table[record.Reward]
	nextKudos       *table[record.KudosTransaction]
	nextRedemptions *table[record.Redemption]
}

func (tx *txn) users() *table[record.User] {
	if tx.nextUsers != nil {
		return tx.nextUsers
	}
	return tx.s.users
}

func (tx *txn) projects() *table[record.Project] {
	if tx.nextProjects != nil {
		return tx.nextProjects
	}
	return tx.s.projects
}

func (tx *txn) usersW() *table[record.User] {
	if tx.nextUsers == nil {
		tx.nextUsers = tx.s.users.clone()
	}
	return tx.nextUsers
}

func (tx *txn) projectsW() *table[record.Project] {
	if tx.nextProjects == nil {
		tx.nextProjects = tx.s.projects.clone()
	}
	return tx.nextProjects
}

func (tx *txn) rewardsW() *table[record.Reward] {
	if tx.nextRewards == nil {
		tx.nextRewards = tx.s.rewards.clone()
	}
	return tx.nextRewards
}

func (tx *txn) kudosW() *table[record.KudosTransaction] {
	if tx.nextKudos == nil {
		tx.nextKudos = tx.s.kudos.clone()
	}
	return tx.nextKudos
}

func (tx *txn) redemptionsW() *table[record.Redemption] {
	if tx.nextRedemptions == nil {
		tx.nextRedemptions = tx.s.redemptions.clone()
	}
	return tx.nextRedemptions
}

func (tx *txn) adjustBalance(userID record.ID, by int64) error {
	u, ok := tx.users().rows[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if u.KudosBalance+by < 0 {
		return fmt.Errorf("user %d has %d, needs %d: %w", userID, u.KudosBalance, -by, ErrInsufficientBalance)
	}
	u.KudosBalance += by
	tx.usersW().put(u)
	return nil
}

func (tx *txn) publish() {
	if tx.nextUsers != nil {
		tx.nextUsers.version = tx.s.users.version + 1
		tx.s.users = tx.nextUsers
	}
	if tx.nextProjects != nil {
		tx.nextProjects.version = tx.s.projects.version + 1
		tx.s.projects = tx.nextProjects
	}
	if tx.nextRewards != nil {
		tx.nextRewards.version = tx.s.rewards.version + 1
		tx.s.rewards = tx.nextRewards
	}
	if tx.nextKudos != nil {
		tx.nextKudos.version = tx.s.kudos.version + 1
		tx.s.kudos = tx.nextKudos
	}
	if tx.nextRedemptions != nil {
		tx.nextRedemptions.version = tx.s.redemptions.version + 1
		tx.s.redemptions = tx.nextRedemptions
	}
}
