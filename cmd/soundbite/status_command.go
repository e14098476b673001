package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"soundbite/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, episode counts, and quota budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var status api.StatusResponse
			if err := client.get(cmd.Context(), "/api/status", &status); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			return renderStatus(cmd, status)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func renderStatus(cmd *cobra.Command, status api.StatusResponse) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "daemon: running (pid %d)\n", status.PID)
	fmt.Fprintf(out, "store:  %s\n", status.StorePath)

	statuses := make([]string, 0, len(status.Episodes))
	for name := range status.Episodes {
		statuses = append(statuses, name)
	}
	sort.Strings(statuses)
	if !stdoutIsTerminal() {
		for _, name := range statuses {
			fmt.Fprintf(out, "episodes.%s: %d\n", name, status.Episodes[name])
		}
	} else {
		rows := make([][]string, 0, len(statuses))
		for _, name := range statuses {
			rows = append(rows, []string{name, strconv.Itoa(status.Episodes[name])})
		}
		if len(rows) > 0 {
			fmt.Fprintln(out, renderTable([]string{"Status", "Episodes"}, rows, []columnAlignment{alignLeft, alignRight}))
		}
	}

	if len(status.ActiveRuns) > 0 {
		runRows := make([][]string, 0, len(status.ActiveRuns))
		for _, run := range status.ActiveRuns {
			runRows = append(runRows, []string{
				strconv.FormatInt(run.EpisodeID, 10), run.Scope, run.RunID, strconv.Itoa(run.PID),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"Episode", "Scope", "Run", "PID"}, runRows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	}

	if status.Budget != nil {
		b := status.Budget
		fmt.Fprintf(out, "budget: period %s, %d/%d calls used, %d remaining\n",
			b.Period, b.Used, b.Limit, b.Remaining)
	}
	return nil
}
