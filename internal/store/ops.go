package store

import (
	"errors"
	"fmt"

	"github.com/roach88/kudosync/internal/record"
)

var (
	// ErrNotFound is returned when an op references a missing record.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientBalance is returned when a debit would take a balance below zero.
	ErrInsufficientBalance = errors.New("insufficient kudos balance")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateAssignment is returned when an employee is assigned twice to one project.
	ErrDuplicateAssignment = errors.New("employee already assigned to project")

	// ErrNotAssigned is returned when removing an assignment that does not exist.
	ErrNotAssigned = errors.New("employee not assigned to project")

	// ErrNegativeBalance is returned when incoming records carry a negative balance.
	ErrNegativeBalance = errors.New("negative kudos balance")
)

// Op is one step of a delta. Ops only take effect through Store.Apply or
// Store.Commit, which apply a whole list atomically.
type Op struct {
	name string
	fn   func(tx *txn) error
}

// String names the op for logs.
func (o Op) String() string { return o.name }

// PutUser inserts or replaces a user.
func PutUser(u record.User) Op {
	return Op{name: "put-user", fn: func(tx *txn) error {
		if u.KudosBalance < 0 {
			return fmt.Errorf("user %d: %w", u.ID, ErrNegativeBalance)
		}
		tx.usersW().put(u)
		return nil
	}}
}

// AdjustBalance adds by (which may be negative) to a user's balance.
func AdjustBalance(userID record.ID, by int64) Op {
	return Op{name: "adjust-balance", fn: func(tx *txn) error {
		return tx.adjustBalance(userID, by)
	}}
}

// SetRole changes a user's role and leaves balances alone.
func SetRole(userID record.ID, role record.Role) Op {
	return Op{name: "set-role", fn: func(tx *txn) error {
		u, ok := tx.users().rows[userID]
		if !ok {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		u.Role = role
		tx.usersW().put(u)
		return nil
	}}
}

// CreditReceived adds a confirmed receipt to a user's received total.
func CreditReceived(userID record.ID, amount int64) Op {
	return Op{name: "credit-received", fn: func(tx *txn) error {
		if amount <= 0 {
			return ErrInvalidAmount
		}
		u, ok := tx.users().rows[userID]
		if !ok {
			return fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		u.KudosReceived += amount
		tx.usersW().put(u)
		return nil
	}}
}

// PutProject inserts or replaces a project.
func PutProject(p record.Project) Op {
	return Op{name: "put-project", fn: func(tx *txn) error {
		if err := checkAssignments(p); err != nil {
			return err
		}
		tx.projectsW().put(p.Clone())
		return nil
	}}
}

// DeleteProject removes a project.
func DeleteProject(id record.ID) Op {
	return Op{name: "delete-project", fn: func(tx *txn) error {
		if !hasRow(tx.projects(), id) {
			return fmt.Errorf("project %d: %w", id, ErrNotFound)
		}
		tx.projectsW().remove(id)
		return nil
	}}
}

// Assign places an employee on a project.
func Assign(projectID record.ID, a record.Assignment) Op {
	return Op{name: "assign", fn: func(tx *txn) error {
		p, ok := tx.projects().rows[projectID]
		if !ok {
			return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
		}
		if !hasRow(tx.users(), a.EmployeeID) {
			return fmt.Errorf("employee %d: %w", a.EmployeeID, ErrNotFound)
		}
		if p.HasMember(a.EmployeeID) {
			return fmt.Errorf("employee %d on project %d: %w", a.EmployeeID, projectID, ErrDuplicateAssignment)
		}
		p = p.Clone()
		p.Assignments = append(p.Assignments, a)
		tx.projectsW().put(p)
		return nil
	}}
}

// Unassign removes an employee from a project.
func Unassign(projectID, employeeID record.ID) Op {
	return Op{name: "unassign", fn: func(tx *txn) error {
		p, ok := tx.projects().rows[projectID]
		if !ok {
			return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
		}
		if !p.HasMember(employeeID) {
			return fmt.Errorf("employee %d on project %d: %w", employeeID, projectID, ErrNotAssigned)
		}
		kept := make([]record.Assignment, 0, len(p.Assignments)-1)
		for _, a := range p.Assignments {
			if a.EmployeeID != employeeID {
				kept = append(kept, a)
			}
		}
		p.Assignments = kept
		tx.projectsW().put(p)
		return nil
	}}
}

// PutReward inserts or replaces a reward.
func PutReward(r record.Reward) Op {
	return Op{name: "put-reward", fn: func(tx *txn) error {
		if r.Cost <= 0 {
			return fmt.Errorf("reward %d cost: %w", r.ID, ErrInvalidAmount)
		}
		tx.rewardsW().put(r)
		return nil
	}}
}

// AppendKudos records a confirmed kudos transaction.
func AppendKudos(k record.KudosTransaction) Op {
	return Op{name: "append-kudos", fn: func(tx *txn) error {
		if k.Amount <= 0 {
			return fmt.Errorf("kudos %d: %w", k.ID, ErrInvalidAmount)
		}
		tx.kudosW().put(k)
		return nil
	}}
}

// AppendRedemption records a confirmed reward redemption.
func AppendRedemption(r record.Redemption) Op {
	return Op{name: "append-redemption", fn: func(tx *txn) error {
		tx.redemptionsW().put(r)
		return nil
	}}
}

func hasRow[T record.Record](t *table[T], id record.ID) bool {
	_, ok := t.rows[id]
	return ok
}

func checkAssignments(p record.Project) error {
	seen := make(map[record.ID]bool, len(p.Assignments))
	for _, a := range p.Assignments {
		if seen[a.EmployeeID] {
			return fmt.Errorf("employee %d on project %d: %w", a.EmployeeID, p.ID, ErrDuplicateAssignment)
		}
		seen[a.EmployeeID] = true
	}
	return nil
}
