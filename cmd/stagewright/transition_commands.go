package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stagewright/internal/api"
)

func newTransitionCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newTransitionCommand(ctx),
		newAdvanceCommand(ctx),
		newValidateCommand(ctx),
		newAvailableCommand(ctx),
		newCanCommand(ctx),
		newHistoryCommand(ctx),
	}
}

func newTransitionCommand(ctx *commandContext) *cobra.Command {
	var reason, bypassReason string
	var bypass bool
	var estimate time.Duration

	cmd := &cobra.Command{
		Use:   "transition <project> <stage>",
		Short: "Move a project to another stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.TransitionRequest{
				Stage:               args[1],
				Reason:              reason,
				BypassValidation:    bypass,
				BypassReason:        bypassReason,
				EstimatedDurationMS: estimate.Milliseconds(),
			}
			return ctx.runTransition(cmd, args[0], req)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the project is moving")
	cmd.Flags().BoolVar(&bypass, "bypass", false, "Skip prerequisite checks (manager or above)")
	cmd.Flags().StringVar(&bypassReason, "bypass-reason", "", "Justification recorded with a bypass")
	cmd.Flags().DurationVar(&estimate, "estimate", 0, "Estimated time in the target stage (e.g. 72h)")
	return cmd
}

func newAdvanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <project>",
		Short: "Move a project to the next stage by order when it qualifies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runTransition(cmd, args[0], api.TransitionRequest{Auto: true})
		},
	}
}

func (c *commandContext) runTransition(cmd *cobra.Command, id string, req api.TransitionRequest) error {
	return c.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
		outcome, err := ops.Transition(reqCtx, id, req)
		if c.jsonOutput() {
			if err != nil {
				return writeFailureJSON(cmd, err, outcome)
			}
			return writeJSON(cmd, outcome)
		}
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)
		if outcome.Result != nil && (err != nil || len(outcome.Result.Warnings) > 0) {
			target := req.Stage
			if target == "" && outcome.Project != nil {
				target = outcome.Project.CurrentStage
			}
			printLines(out, renderResult(stageLabel(target), *outcome.Result, colorize))
		}
		if err != nil {
			if outcome.MutationCommitted {
				fmt.Fprintln(out, renderStatusLine("Stage change", statusWarn, "committed before the failure", colorize))
			}
			return err
		}
		if !outcome.Applied {
			fmt.Fprintf(out, "%s: no transition applied\n", id)
			return nil
		}
		writeOutcome(out, outcome, colorize)
		return nil
	})
}

func writeOutcome(out io.Writer, o api.TransitionOutcome, colorize bool) {
	if o.Project != nil {
		stage := o.Project.CurrentStage
		if o.Project.StageName != "" {
			stage = fmt.Sprintf("%s (%s)", o.Project.StageName, o.Project.CurrentStage)
		}
		from := "-"
		if o.Record != nil && o.Record.FromStage != "" {
			from = o.Record.FromStage
		}
		fmt.Fprintf(out, "%s moved %s -> %s\n", o.Project.ID, from, stage)
	}
	if o.Record != nil {
		detail := fmt.Sprintf("#%d %s", o.Record.Sequence, shortHash(o.Record.Hash))
		if o.Record.Overridden {
			detail += " (validation bypassed)"
		}
		fmt.Fprintln(out, renderStatusLine("History", statusOK, detail, colorize))
	}
	if !o.LedgerRecorded {
		msg := "history entry not recorded"
		if o.LedgerError != nil && o.LedgerError.Message != "" {
			msg = o.LedgerError.Message
		}
		fmt.Fprintln(out, renderStatusLine("History", statusWarn, msg, colorize))
	}
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <project> <stage>",
		Short: "Check whether a project meets a stage's prerequisites",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
				result, err := ops.Validate(reqCtx, args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				printLines(out, renderResult(stageLabel(args[1]), result, shouldColorize(out)))
				return nil
			})
		},
	}
}

func newAvailableCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "available <project>",
		Short: "List the stages a project can move to next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
				available, err := ops.Available(reqCtx, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, available)
				}
				out := cmd.OutOrStdout()
				if len(available.Transitions) == 0 {
					fmt.Fprintf(out, "%s has no outgoing transitions\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(available.Transitions))
				for _, item := range available.Transitions {
					rows = append(rows, []string{
						item.Stage.ID,
						item.Stage.Name,
						verdict(item.Result),
						strings.Join(append(append([]string{}, item.Result.Errors...), item.Result.Warnings...), "; "),
					})
				}
				fmt.Fprint(out, renderTable([]column{left("Stage"), left("Name"), left("Verdict"), wrapped("Notes", 60)}, rows))
				return nil
			})
		},
	}
}

func newCanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "can <project> <stage>",
		Short: "Answer yes or no: could the project move to stage right now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
				answer, err := ops.CanTransition(reqCtx, args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, answer)
				}
				fmt.Fprintln(cmd.OutOrStdout(), yesNo(answer.Allowed))
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "history <project>",
		Short: "Show a project's transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOperations(cmd, func(reqCtx context.Context, ops api.Operations) error {
				history, err := ops.History(reqCtx, args[0], verify)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, history)
				}
				out := cmd.OutOrStdout()
				if len(history.Records) == 0 {
					fmt.Fprintf(out, "%s has no recorded transitions\n", args[0])
				} else {
					fmt.Fprint(out, renderTable(historyColumns(), historyRows(history.Records)))
				}
				if history.Verification != nil {
					writeVerification(out, *history.Verification, shouldColorize(out))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Check the history hash chain")
	return cmd
}

func historyColumns() []column {
	return []column{right("#"), left("When"), left("From"), left("To"), left("Actor"), wrapped("Reason", 40), left("Hash")}
}

func historyRows(records []api.TransitionRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		reason := r.Reason
		if r.Overridden {
			reason = strings.TrimSpace(reason + " [bypass: " + r.BypassReason + "]")
		}
		from := r.FromStage
		if from == "" {
			from = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.Sequence, 10),
			r.Timestamp,
			from,
			r.ToStage,
			r.ActorID,
			reason,
			shortHash(r.Hash),
		})
	}
	return rows
}

func writeVerification(out io.Writer, v api.Verification, colorize bool) {
	if v.Intact {
		fmt.Fprintln(out, renderStatusLine("Hash chain", statusOK, fmt.Sprintf("%d records intact", v.Records), colorize))
		return
	}
	detail := v.Problem
	if v.BrokenAt > 0 {
		detail = fmt.Sprintf("broken at #%d: %s", v.BrokenAt, v.Problem)
	}
	fmt.Fprintln(out, renderStatusLine("Hash chain", statusError, detail, colorize))
}

func verdict(r api.ValidationResult) string {
	switch {
	case !r.Valid:
		return "blocked"
	case len(r.Warnings) > 0:
		return "allowed (warnings)"
	default:
		return "allowed"
	}
}

func stageLabel(stage string) string {
	if strings.TrimSpace(stage) == "" {
		return "next stage"
	}
	return stage
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// writeFailureJSON prints the structured error (and any partial outcome)
// before returning err so scripts still get a non-zero exit.
func writeFailureJSON(cmd *cobra.Command, err error, outcome api.TransitionOutcome) error {
	resp := api.ErrorResponse{Error: api.FromError(err)}
	if outcome.Phase != "" && outcome.Phase != "idle" {
		resp.Outcome = &outcome
	}
	if encodeErr := writeJSON(cmd, resp); encodeErr != nil {
		return encodeErr
	}
	return err
}
