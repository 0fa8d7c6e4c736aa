package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kudosync/internal/record"
	"github.com/roach88/kudosync/internal/views"
)

func sortByID[T record.Record](rows []T) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].RecordID() < rows[j].RecordID() })
}

// UserResult is printed after a role change.
type UserResult struct {
	record.User
}

func (r UserResult) String() string {
	return fmt.Sprintf("%s (id %d) is now %s\n", r.Name, r.ID, r.Role)
}

// NewRoleCommand creates the role command.
func NewRoleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "role <employee> <role>",
		Short: "Change an employee's role (administrators only)",
		Long: `Change an employee's role. Roles match ignoring case and separators, so
"project-manager" and "Project Manager" are the same role.

Example:
  kudos role 2 "Project Manager"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				role, err := parseRole(args[1])
				if err != nil {
					return err
				}
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				target, err := lookupUser(a, args[0])
				if err != nil {
					return err
				}
				u, err := a.Gateway.UpdateRole(ctx, target.ID, role)
				if err != nil {
					return failed("role change failed", err)
				}
				return out.Success(UserResult{u})
			})
		},
	}
}

// ProjectSummary is one project with its staffing.
type ProjectSummary struct {
	record.Project
	Staffing views.Staffing `json:"staffing"`
}

// ProjectsResult is printed by project subcommands.
type ProjectsResult struct {
	Projects []ProjectSummary `json:"projects"`
}

func (r ProjectsResult) String() string {
	if len(r.Projects) == 0 {
		return "No projects.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-24s %5s %5s %5s\n", "ID", "PROJECT", "DEVS", "PMS", "TOTAL")
	for _, p := range r.Projects {
		fmt.Fprintf(&b, "%-5d %-24s %5d %5d %5d\n",
			p.ID, p.Name, p.Staffing.Developers, p.Staffing.ProjectManagers, p.Staffing.Total)
	}
	return b.String()
}

func projectsResult(a *App, ids ...record.ID) ProjectsResult {
	projects := a.Store.Projects()
	if len(ids) == 0 {
		ids = projects.IDs()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	res := ProjectsResult{Projects: []ProjectSummary{}}
	for _, id := range ids {
		p, ok := projects.Get(id)
		if !ok {
			continue
		}
		res.Projects = append(res.Projects, ProjectSummary{Project: p, Staffing: a.Views.Staffing(id)})
	}
	return res
}

// NewProjectCommand creates the project command and its subcommands.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "List and manage projects",
		Long: `List and manage projects.

create, update and delete are sent to the service. assign, unassign and
reassign change memberships in the local mirror only; the service has no
membership endpoint, so they last until the next sync that reports members.`,
	}

	cmd.AddCommand(newProjectListCommand(rootOpts))
	cmd.AddCommand(newProjectCreateCommand(rootOpts))
	cmd.AddCommand(newProjectUpdateCommand(rootOpts))
	cmd.AddCommand(newProjectDeleteCommand(rootOpts))
	cmd.AddCommand(newProjectAssignCommand(rootOpts))
	cmd.AddCommand(newProjectUnassignCommand(rootOpts))
	cmd.AddCommand(newProjectReassignCommand(rootOpts))

	return cmd
}

func newProjectListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List projects with their staffing",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				return out.Success(projectsResult(a))
			})
		},
	}
}

func newProjectCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a project",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				if _, err := a.signedIn(ctx); err != nil {
					return err
				}
				p, err := a.Gateway.CreateProject(ctx, name, description)
				if err != nil {
					return failed("create failed", err)
				}
				return out.Success(projectsResult(a, p.ID))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "project name (required)")
	cmd.Flags().StringVar(&description, "description", "", "project description")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newProjectUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:           "update <project-id>",
		Short:         "Rename or re-describe a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				id, err := parseID("project", args[0])
				if err != nil {
					return err
				}
				if _, _, err := a.synced(ctx); err != nil {
					return err
				}
				current, ok := a.Store.Projects().Get(id)
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("no project with id %d", id))
				}
				if !cmd.Flags().Changed("name") {
					name = current.Name
				}
				if !cmd.Flags().Changed("description") {
					description = current.Description
				}
				p, err := a.Gateway.UpdateProject(ctx, id, name, description)
				if err != nil {
					return failed("update failed", err)
				}
				return out.Success(projectsResult(a, p.ID))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")

	return cmd
}

func newProjectDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <project-id>",
		Short:         "Delete a project",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				id, err := parseID("project", args[0])
				if err != nil {
					return err
				}
				if _, err := a.signedIn(ctx); err != nil {
					return err
				}
				if err := a.Gateway.DeleteProject(ctx, id); err != nil {
					return failed("delete failed", err)
				}
				if out.Format == "json" {
					return out.Success(map[string]record.ID{"deleted": id})
				}
				return out.Success(fmt.Sprintf("Deleted project %d\n", id))
			})
		},
	}
}

// membershipArgs resolves the <project-id> <employee> positional pair.
func membershipArgs(ctx context.Context, a *App, args []string) (record.ID, record.User, error) {
	pid, err := parseID("project", args[0])
	if err != nil {
		return 0, record.User{}, err
	}
	if _, _, err := a.synced(ctx); err != nil {
		return 0, record.User{}, err
	}
	u, err := lookupUser(a, args[1])
	if err != nil {
		return 0, record.User{}, err
	}
	return pid, u, nil
}

func newProjectAssignCommand(rootOpts *RootOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:           "assign <project-id> <employee>",
		Short:         "Put an employee on a project",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				var r record.Role
				if role != "" {
					var err error
					if r, err = parseRole(role); err != nil {
						return err
					}
				}
				pid, u, err := membershipArgs(ctx, a, args)
				if err != nil {
					return err
				}
				if err := a.Coordinator.Assign(pid, u.ID, r); err != nil {
					return failed("assign failed", err)
				}
				return out.Success(projectsResult(a, pid))
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "role on the project (default: the employee's own role)")

	return cmd
}

func newProjectUnassignCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "unassign <project-id> <employee>",
		Short:         "Take an employee off a project",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				pid, u, err := membershipArgs(ctx, a, args)
				if err != nil {
					return err
				}
				if err := a.Coordinator.Unassign(pid, u.ID); err != nil {
					return failed("unassign failed", err)
				}
				return out.Success(projectsResult(a, pid))
			})
		},
	}
}

func newProjectReassignCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reassign <project-id> <employee> <role>",
		Short:         "Change the role an employee holds on a project",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *App, out *OutputFormatter) error {
				role, err := parseRole(args[2])
				if err != nil {
					return err
				}
				pid, u, err := membershipArgs(ctx, a, args)
				if err != nil {
					return err
				}
				if err := a.Coordinator.ReassignRole(pid, u.ID, role); err != nil {
					return failed("reassign failed", err)
				}
				return out.Success(projectsResult(a, pid))
			})
		},
	}
}
