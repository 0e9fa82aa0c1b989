package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"stagewright/internal/api"
	"stagewright/internal/engine"
	"stagewright/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, store and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			var status api.DaemonStatus
			running := false
			if client, err := ctx.apiClient(statusProbeTimeout); err == nil {
				if st, err := client.Status(cmd.Context()); err == nil && st.Running {
					status, running = st, true
				}
			}

			var checks []api.DependencyStatus
			if running {
				checks = status.Dependencies
			} else {
				// No daemon to ask; run the same checks against a local store.
				var pinger preflight.Pinger
				st, _, openErr := engine.OpenStore(cmd.Context(), cfg)
				if openErr == nil {
					defer st.Close()
					pinger = st
				}
				for _, r := range preflight.RunAll(cmd.Context(), cfg, pinger) {
					detail := r.Detail
					if !r.Passed && openErr != nil && r.Name == "Store ("+cfg.Store.Driver+")" {
						detail = openErr.Error()
					}
					checks = append(checks, api.DependencyStatus{Name: r.Name, Available: r.Passed, Detail: detail})
				}
			}

			if ctx.jsonOutput() {
				status.Dependencies = checks
				return writeJSON(cmd, status)
			}

			printLines(stdout, renderSectionHeader("Daemon", colorize))
			writeDaemonSection(stdout, status, running, colorize)
			fmt.Fprintln(stdout)

			printLines(stdout, renderSectionHeader("System Checks", colorize))
			for _, check := range checks {
				kind := statusOK
				if !check.Available {
					kind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}

			if running && len(status.Watches) > 0 {
				fmt.Fprintln(stdout)
				printLines(stdout, renderSectionHeader("Reconciler", colorize))
				rows := make([][]string, 0, len(status.Watches))
				for _, w := range status.Watches {
					rows = append(rows, []string{
						w.Organization,
						strconv.FormatInt(w.Events, 10),
						strconv.FormatInt(w.Refreshes, 10),
						strconv.FormatInt(w.Dropped, 10),
					})
				}
				fmt.Fprint(stdout, renderTable([]column{left("Organization"), right("Events"), right("Refreshes"), right("Debounced")}, rows))
			}
			return nil
		},
	}
}

func writeDaemonSection(out io.Writer, status api.DaemonStatus, running bool, colorize bool) {
	if !running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	store := status.StoreDriver
	if status.DatabasePath != "" {
		store += " " + status.DatabasePath
	}
	fmt.Fprintln(out, renderStatusLine("Store", statusInfo, store, colorize))
	fmt.Fprintln(out, renderStatusLine("Workflow", statusInfo, status.Workflow, colorize))
	fmt.Fprintln(out, renderStatusLine("Cached projects", statusInfo, strconv.Itoa(status.CachedEntries), colorize))
}
