package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stagewright/internal/engine"
	"stagewright/internal/project"
)

func newCollabCommand(ctx *commandContext) *cobra.Command {
	collabCmd := &cobra.Command{
		Use:   "collab",
		Short: "Record the documents, review findings and supplier RFQs prerequisites read",
	}
	collabCmd.AddCommand(newCollabDocumentCommand(ctx))
	collabCmd.AddCommand(newCollabReviewCommand(ctx))
	collabCmd.AddCommand(newCollabRFQCommand(ctx))
	return collabCmd
}

func newCollabDocumentCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "document <project> <kind> [name]",
		Short: "Attach a document (drawing, specification, quote, purchase_order, production_plan, inspection_report)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 3 {
				name = args[2]
			}
			return ctx.withProjectStore(cmd, args[0], func(reqCtx context.Context, eng *engine.Engine) error {
				doc, err := eng.Store.AddDocument(reqCtx, args[0], args[1], name)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, doc)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Attached %s document #%d to %s\n", doc.Kind, doc.ID, args[0])
				return nil
			})
		},
	}
}

func newCollabReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Manage technical review findings",
	}

	reviewCmd.AddCommand(&cobra.Command{
		Use:   "add <project> <summary>",
		Short: "Open a review finding",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary := strings.Join(args[1:], " ")
			return ctx.withProjectStore(cmd, args[0], func(reqCtx context.Context, eng *engine.Engine) error {
				item, err := eng.Store.AddReviewItem(reqCtx, args[0], summary)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, item)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Opened review item #%d on %s\n", item.ID, args[0])
				return nil
			})
		},
	})

	reviewCmd.AddCommand(&cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Close a review finding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid review item id %q", args[0])
			}
			return ctx.withEngine(cmd, func(reqCtx context.Context, eng *engine.Engine) error {
				if err := eng.Store.ResolveReviewItem(reqCtx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved review item #%d\n", id)
				return nil
			})
		},
	})

	reviewCmd.AddCommand(&cobra.Command{
		Use:   "list <project>",
		Short: "List open review findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withProjectStore(cmd, args[0], func(reqCtx context.Context, eng *engine.Engine) error {
				items, err := eng.Store.OpenReviewItems(reqCtx, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintf(out, "%s has no open review items\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{strconv.FormatInt(item.ID, 10), item.Summary, item.CreatedAt.Format("2006-01-02 15:04")})
				}
				fmt.Fprint(out, renderTable([]column{right("#"), wrapped("Summary", 60), left("Opened")}, rows))
				return nil
			})
		},
	})

	return reviewCmd
}

func newCollabRFQCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rfq <project> <supplier> <state>",
		Short: "Record a supplier RFQ state (sent, responded, awarded, declined)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, ok := project.ParseRFQState(args[2])
			if !ok {
				return fmt.Errorf("unknown rfq state %q", args[2])
			}
			return ctx.withProjectStore(cmd, args[0], func(reqCtx context.Context, eng *engine.Engine) error {
				if err := eng.Store.RecordRFQ(reqCtx, args[0], args[1], state); err != nil {
					return err
				}
				summary, err := eng.Store.RFQSummary(reqCtx, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sent, %d responded, %d awarded, %d declined\n",
					args[0], summary.Sent, summary.Responded, summary.Awarded, summary.Declined)
				return nil
			})
		},
	}
}

// withProjectStore opens the engine and confirms the project exists before
// running fn.
func (c *commandContext) withProjectStore(cmd *cobra.Command, id string, fn func(context.Context, *engine.Engine) error) error {
	return c.withEngine(cmd, func(reqCtx context.Context, eng *engine.Engine) error {
		if _, err := eng.Store.ReadProject(reqCtx, id); err != nil {
			return err
		}
		return fn(reqCtx, eng)
	})
}
