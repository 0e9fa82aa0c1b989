package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stagewright/internal/api"
)

func newStagesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the workflow stages and their allowed moves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
				wf, err := ops.Workflow(reqCtx)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, wf)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s)\n", wf.Name, wf.ID)
				fmt.Fprint(out, renderTable(stageColumns(), stageRows(wf.Stages)))
				return nil
			})
		},
	}
}

func stageColumns() []column {
	return []column{
		right("#"),
		left("ID"),
		left("Name"),
		left("Next"),
		wrapped("Prerequisites", 40),
		left("Flags"),
	}
}

func stageRows(stages []api.Stage) [][]string {
	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		var flags []string
		if s.Entry {
			flags = append(flags, "entry")
		}
		if s.Terminal {
			flags = append(flags, "terminal")
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Order),
			s.ID,
			s.Name,
			joinOrDash(s.AllowedNext),
			joinOrDash(s.Prerequisites),
			strings.Join(flags, ","),
		})
	}
	return rows
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}
