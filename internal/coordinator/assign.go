package coordinator

import (
	"errors"
	"fmt"

	"github.com/roach88/kudosync/internal/events"
	"github.com/roach88/kudosync/internal/fault"
	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/store"
)

// The service has no membership endpoint, so assignment changes are local
// deltas. They do not touch balances and need no lane.

// Assign places an employee on a project. An empty role means the
// employee's own role.
func (c *Coordinator) Assign(projectID, employeeID record.ID, role record.Role) error {
	if err := c.checkAssignment(OpAssign, role); err != nil {
		return err
	}
	a := record.Assignment{EmployeeID: employeeID, Role: role}
	return c.applyAssignment(OpAssign, projectID, employeeID, store.Assign(projectID, a))
}

// Unassign removes an employee from a project.
func (c *Coordinator) Unassign(projectID, employeeID record.ID) error {
	if err := c.checkAssignment(OpUnassign, ""); err != nil {
		return err
	}
	return c.applyAssignment(OpUnassign, projectID, employeeID, store.Unassign(projectID, employeeID))
}

// ReassignRole changes the role an employee holds on a project.
func (c *Coordinator) ReassignRole(projectID, employeeID record.ID, role record.Role) error {
	if err := c.checkAssignment(OpReassignRole, role); err != nil {
		return err
	}
	a := record.Assignment{EmployeeID: employeeID, Role: role}
	return c.applyAssignment(OpReassignRole, projectID, employeeID,
		store.Unassign(projectID, employeeID), store.Assign(projectID, a))
}

func (c *Coordinator) checkAssignment(op string, role record.Role) error {
	if !c.session.IsAuthenticated() {
		return c.unauthorized(op, "not signed in")
	}
	if role != "" && !role.Valid() {
		return fault.Validation(op, "unknown role").WithDetail("role", string(role))
	}
	return nil
}

func (c *Coordinator) applyAssignment(op string, projectID, employeeID record.ID, ops ...store.Op) error {
	if err := c.store.Apply(ops...); err != nil {
		kind := fault.KindValidation
		if errors.Is(err, store.ErrNotFound) {
			kind = fault.KindConflict
		}
		return fault.Wrap(kind, op, err)
	}
	c.notifier.Notify(events.Event{
		Kind:    events.AssignmentChanged,
		At:      c.now(),
		Subject: fmt.Sprintf("%d/%d", projectID, employeeID),
	})
	return nil
}
