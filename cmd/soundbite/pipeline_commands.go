package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"soundbite/internal/api"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var (
		force         bool
		fromStage     string
		skipRespond   bool
		targetResults int64
	)
	cmd := &cobra.Command{
		Use:   "start <episode-id>",
		Short: "Start a pipeline run for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{
				"force":          force,
				"from_stage":     fromStage,
				"skip_respond":   skipRespond,
				"target_results": targetResults,
			}
			var run api.RunView
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/pipeline/%d/start", episodeID), body, &run); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s started for episode %d\n", run.ID, episodeID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Re-run every stage, ignoring cached results")
	cmd.Flags().StringVar(&fromStage, "from", "", "Start from this stage instead of the beginning")
	cmd.Flags().BoolVar(&skipRespond, "skip-respond", false, "Skip draft generation")
	cmd.Flags().Int64Var(&targetResults, "target-results", 0, "Desired discovery result count")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <episode-id>",
		Short: "Show pipeline state, tweets, and drafts for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var state api.PipelineStateResponse
			if err := client.get(cmd.Context(), fmt.Sprintf("/api/pipeline/%d", episodeID), &state); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, state)
			}
			return renderPipelineState(cmd, state)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of tables")
	return cmd
}

func renderPipelineState(cmd *cobra.Command, state api.PipelineStateResponse) error {
	out := cmd.OutOrStdout()
	e := state.Episode
	fmt.Fprintf(out, "episode %d: %s [%s, %s]\n", e.ID, e.Title, e.Status, e.Variant)
	if state.Run != nil {
		r := state.Run
		fmt.Fprintf(out, "run %s: %s", r.ID, r.Status)
		if r.Stage != "" {
			fmt.Fprintf(out, " (stage %s, %.0f%%)", r.Stage, r.Progress)
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(out, " - %s", r.ErrorMessage)
		}
		fmt.Fprintln(out)
	}
	for _, re := range state.RunErrors {
		fmt.Fprintf(out, "  attempt %d at %s [%s]: %s\n", re.Attempt, re.Stage, re.Classification, re.Message)
		if re.RecoveryHint != "" {
			fmt.Fprintf(out, "    hint: %s\n", re.RecoveryHint)
		}
	}
	if len(state.Tweets) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(state.Tweets))
	for _, tweet := range state.Tweets {
		rows = append(rows, []string{
			strconv.FormatInt(tweet.ID, 10),
			tweet.ExternalID,
			truncate(tweet.Text, 48),
			fmt.Sprintf("%.2f", tweet.Score),
			tweet.Status,
			strconv.Itoa(len(tweet.Drafts)),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "External", "Text", "Score", "Status", "Drafts"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight}))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newResetStuckCommand(ctx *commandContext) *cobra.Command {
	var olderThan int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Reset episodes stuck in processing with no live worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{"older_than_minutes": olderThan, "dry_run": dryRun}
			var resp struct {
				Episodes []struct {
					EpisodeID int64  `json:"episode_id"`
					Title     string `json:"title"`
					Reset     bool   `json:"reset"`
				} `json:"episodes"`
			}
			if err := client.post(cmd.Context(), "/api/pipeline/reset-stuck", body, &resp); err != nil {
				return err
			}
			if len(resp.Episodes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stuck episodes")
				return nil
			}
			for _, e := range resp.Episodes {
				verb := "reset"
				if !e.Reset {
					verb = "would reset"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s episode %d (%s)\n", verb, e.EpisodeID, e.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThan, "older-than", 0, "Minutes an episode must be stalled (0 uses the configured threshold)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report candidates without changing anything")
	return cmd
}

func newKillCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill <episode-id>",
		Short: "Terminate the live run for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp struct {
				Killed int `json:"killed"`
				Failed []struct {
					PID   int    `json:"pid"`
					Scope string `json:"scope"`
					Error string `json:"error"`
				} `json:"failed"`
			}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/pipeline/%d/kill", episodeID), nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "terminated %d process(es)\n", resp.Killed)
			for _, f := range resp.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "failed to kill pid %d (%s): %s\n", f.PID, f.Scope, f.Error)
			}
			return nil
		},
	}
	return cmd
}

func newEstimateCommand(ctx *commandContext) *cobra.Command {
	var (
		targetResults int64
		keywords      []string
	)
	cmd := &cobra.Command{
		Use:   "estimate <episode-id>",
		Short: "Preview the discovery budget plan without reserving quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]any{"target_results": targetResults}
			if len(keywords) > 0 {
				body["keywords"] = keywords
			}
			var estimate struct {
				Period      string `json:"period"`
				Remaining   int64  `json:"remaining"`
				TotalCalls  int64  `json:"total_calls"`
				Allocations []struct {
					Term    string  `json:"term"`
					Weight  float64 `json:"weight"`
					Granted int64   `json:"granted"`
				} `json:"allocations"`
				NotSearched []string `json:"not_searched"`
			}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/pipeline/%d/estimate", episodeID), body, &estimate); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "period %s: %d calls remaining, %d planned\n",
				estimate.Period, estimate.Remaining, estimate.TotalCalls)
			rows := make([][]string, 0, len(estimate.Allocations))
			for _, a := range estimate.Allocations {
				rows = append(rows, []string{
					a.Term, fmt.Sprintf("%.2f", a.Weight), strconv.FormatInt(a.Granted, 10),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Keyword", "Weight", "Calls"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignRight}))
			if len(estimate.NotSearched) > 0 {
				fmt.Fprintf(out, "not searched under current budget: %v\n", estimate.NotSearched)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&targetResults, "target-results", 0, "Desired discovery result count")
	cmd.Flags().StringArrayVar(&keywords, "keyword", nil, "Plan these terms instead of the episode's stored keywords (repeatable)")
	return cmd
}
