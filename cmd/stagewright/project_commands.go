package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stagewright/internal/api"
	"stagewright/internal/engine"
	"stagewright/internal/project"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Create, inspect and edit projects",
	}
	projectCmd.AddCommand(newProjectAddCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectStatusCommand(ctx))
	projectCmd.AddCommand(newProjectPriorityCommand(ctx))
	projectCmd.AddCommand(newProjectMetaCommand(ctx))
	projectCmd.AddCommand(newProjectTagsCommand(ctx))
	return projectCmd
}

func newProjectAddCommand(ctx *commandContext) *cobra.Command {
	var org, stage, priority string
	var tags, meta []string

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}
			p := project.Project{
				ID:             args[0],
				Organization:   strings.TrimSpace(org),
				CurrentStageID: strings.TrimSpace(stage),
				Tags:           tags,
				Metadata:       metadata,
			}
			if p.Organization == "" {
				p.Organization = ctx.configValue().Actor.Organization
			}
			if strings.TrimSpace(priority) != "" {
				parsed, ok := project.ParsePriority(priority)
				if !ok {
					return fmt.Errorf("unknown priority %q", priority)
				}
				p.Priority = parsed
			}
			return ctx.withEngine(cmd, func(reqCtx context.Context, eng *engine.Engine) error {
				if p.CurrentStageID != "" && !eng.Graph.Has(p.CurrentStageID) {
					return fmt.Errorf("stage %q is not part of workflow %s", p.CurrentStageID, eng.Graph.ID())
				}
				created, err := eng.Store.CreateProject(reqCtx, p)
				if err != nil {
					return err
				}
				return ctx.printProject(cmd, api.FromProject(created, eng.Graph, ""), "Created project")
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Owning organization (defaults to actor.organization)")
	cmd.Flags().StringVar(&stage, "stage", "", "Starting stage; empty leaves the project before its first stage")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (none, low, normal, high, urgent)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to attach (repeatable)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata entry key=value (repeatable)")
	return cmd
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
				p, err := ops.Describe(reqCtx, args[0])
				if err != nil {
					return err
				}
				return ctx.printProject(cmd, p, "")
			})
		},
	}
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var org, status string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects (reads the store directly)",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := strings.TrimSpace(org)
			if scope == "" && !all {
				scope = ctx.configValue().Actor.Organization
			}
			var want project.Status
			if strings.TrimSpace(status) != "" {
				parsed, ok := project.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				want = parsed
			}
			return ctx.withEngine(cmd, func(reqCtx context.Context, eng *engine.Engine) error {
				projects, err := eng.Store.ListProjects(reqCtx, scope)
				if err != nil {
					return err
				}
				out := make([]api.Project, 0, len(projects))
				for _, p := range projects {
					if want != "" && p.Status != want {
						continue
					}
					out = append(out, api.FromProject(p, eng.Graph, ""))
				}
				sortByPriority(out)
				if ctx.jsonOutput() {
					return writeJSON(cmd, out)
				}
				if len(out) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(projectColumns(), projectRows(out)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "Organization to list (defaults to actor.organization)")
	cmd.Flags().BoolVar(&all, "all", false, "List every organization")
	cmd.Flags().StringVar(&status, "status", "", "Only list projects with this status")
	return cmd
}

func newProjectStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set a project's status (active, on_hold, completed, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := project.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return ctx.editProject(cmd, "Updated status", func(reqCtx context.Context, eng *engine.Engine) (project.Project, error) {
				return eng.Store.UpdateProjectStatus(reqCtx, args[0], status)
			})
		},
	}
}

func newProjectPriorityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <id> <priority>",
		Short: "Set a project's priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, ok := project.ParsePriority(args[1])
			if !ok {
				return fmt.Errorf("unknown priority %q", args[1])
			}
			return ctx.editProject(cmd, "Updated priority", func(reqCtx context.Context, eng *engine.Engine) (project.Project, error) {
				return eng.Store.UpdateProjectPriority(reqCtx, args[0], priority)
			})
		},
	}
}

func newProjectMetaCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <id> <key> [value]",
		Short: "Set or clear a metadata entry",
		Long:  "Set a metadata entry on a project. Omitting the value clears the key.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 3 {
				value = args[2]
			}
			return ctx.editProject(cmd, "Updated metadata", func(reqCtx context.Context, eng *engine.Engine) (project.Project, error) {
				return eng.Store.SetMetadata(reqCtx, args[0], args[1], value)
			})
		},
	}
}

func newProjectTagsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <id> [tag...]",
		Short: "Replace a project's tags; no tags clears them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.editProject(cmd, "Updated tags", func(reqCtx context.Context, eng *engine.Engine) (project.Project, error) {
				return eng.Store.SetTags(reqCtx, args[0], args[1:])
			})
		},
	}
}

func (c *commandContext) editProject(cmd *cobra.Command, verb string, edit func(context.Context, *engine.Engine) (project.Project, error)) error {
	return c.withEngine(cmd, func(reqCtx context.Context, eng *engine.Engine) error {
		p, err := edit(reqCtx, eng)
		if err != nil {
			return err
		}
		return c.printProject(cmd, api.FromProject(p, eng.Graph, ""), verb)
	})
}

func (c *commandContext) printProject(cmd *cobra.Command, p api.Project, heading string) error {
	if c.jsonOutput() {
		return writeJSON(cmd, p)
	}
	out := cmd.OutOrStdout()
	if heading != "" {
		fmt.Fprintf(out, "%s %s\n", heading, p.ID)
	}
	writeProject(out, p)
	return nil
}

func writeProject(out io.Writer, p api.Project) {
	stage := p.CurrentStage
	if stage == "" {
		stage = "(not started)"
	} else if p.StageName != "" {
		stage = fmt.Sprintf("%s (%s)", p.StageName, p.CurrentStage)
	}
	pairs := [][2]string{
		{"Project", p.ID},
		{"Organization", p.Organization},
		{"Stage", stage},
		{"Entered", p.StageEnteredAt},
		{"Status", p.Status},
		{"Priority", p.Priority},
		{"Tags", strings.Join(p.Tags, ", ")},
		{"Version", strconv.FormatInt(p.Version, 10)},
		{"Updated", p.UpdatedAt},
	}
	if p.Phase != "" && p.Phase != "idle" {
		pairs = append(pairs, [2]string{"Transition", p.Phase})
	}
	printLines(out, renderKeyValues(pairs))
	if len(p.Metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	meta := make([][2]string, 0, len(keys))
	for _, k := range keys {
		meta = append(meta, [2]string{k, p.Metadata[k]})
	}
	fmt.Fprintln(out, statusIndent+"Metadata:")
	for _, line := range renderKeyValues(meta) {
		fmt.Fprintln(out, statusIndent+line)
	}
}

func projectColumns() []column {
	return []column{left("ID"), left("Org"), left("Stage"), left("Status"), left("Priority"), wrapped("Tags", 30), left("Updated")}
}

func projectRows(projects []api.Project) [][]string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		stage := p.StageName
		if stage == "" {
			stage = p.CurrentStage
		}
		if stage == "" {
			stage = "-"
		}
		rows = append(rows, []string{p.ID, p.Organization, stage, p.Status, p.Priority, strings.Join(p.Tags, ", "), p.UpdatedAt})
	}
	return rows
}

// sortByPriority orders projects highest priority first, then by id.
func sortByPriority(projects []api.Project) {
	slices.SortStableFunc(projects, func(a, b api.Project) int {
		ra := project.Priority(a.Priority).Rank()
		rb := project.Priority(b.Priority).Rank()
		if ra != rb {
			return rb - ra
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func parseMetadata(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("metadata %q must be key=value", entry)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
