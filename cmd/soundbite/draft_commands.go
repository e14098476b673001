package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"soundbite/internal/api"
)

func newDraftCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Review draft replies",
	}
	cmd.AddCommand(newDraftApproveCommand(ctx))
	cmd.AddCommand(newDraftRejectCommand(ctx))
	cmd.AddCommand(newDraftTrueRejectCommand(ctx))
	cmd.AddCommand(newDraftScheduleCommand(ctx))
	return cmd
}

func parseDraftID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid draft id %q", arg)
	}
	return id, nil
}

func newDraftApproveCommand(ctx *commandContext) *cobra.Command {
	var finalText string
	cmd := &cobra.Command{
		Use:   "approve <draft-id>",
		Short: "Approve a draft for manual posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draftID, err := parseDraftID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var draft api.DraftView
			body := map[string]string{"final_text": finalText}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/drafts/%d/approve", draftID), body, &draft); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "draft %d approved\n", draft.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&finalText, "text", "", "Override the generated reply text")
	return cmd
}

func newDraftRejectCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <draft-id>",
		Short: "Reject a draft; the tweet stays eligible for a fresh draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draftID, err := parseDraftID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var draft api.DraftView
			body := map[string]string{"reason": reason}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/drafts/%d/reject", draftID), body, &draft); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "draft %d rejected\n", draft.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the draft was rejected")
	return cmd
}

func newDraftTrueRejectCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "true-reject <draft-id>",
		Short: "Reject the tweet itself; all its drafts are discarded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draftID, err := parseDraftID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var tweet api.TweetView
			body := map[string]string{"reason": reason}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/drafts/%d/true-reject", draftID), body, &tweet); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tweet %d skipped\n", tweet.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the tweet is a bad target")
	return cmd
}

func newDraftScheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		at        string
		in        time.Duration
		finalText string
	)
	cmd := &cobra.Command{
		Use:   "schedule <draft-id>",
		Short: "Approve a draft and book it for automatic posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			draftID, err := parseDraftID(args[0])
			if err != nil {
				return err
			}
			target := at
			if target == "" {
				if in <= 0 {
					return fmt.Errorf("either --at or --in is required")
				}
				target = time.Now().Add(in).UTC().Format(time.RFC3339)
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]string{"at": target, "final_text": finalText}
			var resp struct {
				IntentID   int64  `json:"intent_id"`
				TargetTime string `json:"target_time"`
			}
			if err := client.post(cmd.Context(), fmt.Sprintf("/api/drafts/%d/schedule", draftID), body, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled for %s (intent %d)\n", resp.TargetTime, resp.IntentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 target time")
	cmd.Flags().DurationVar(&in, "in", 0, "Relative delay, e.g. 2h30m")
	cmd.Flags().StringVar(&finalText, "text", "", "Override the reply text")
	return cmd
}
