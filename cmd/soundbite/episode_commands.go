package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"soundbite/internal/api"
)

func newEpisodeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episode",
		Short: "Manage podcast episodes",
	}
	cmd.AddCommand(newEpisodeListCommand(ctx))
	cmd.AddCommand(newEpisodeAddCommand(ctx))
	cmd.AddCommand(newEpisodeTranscriptCommand(ctx))
	return cmd
}

func newEpisodeListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp struct {
				Episodes []api.EpisodeView `json:"episodes"`
			}
			if err := client.get(cmd.Context(), "/api/episodes", &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Episodes))
			for _, e := range resp.Episodes {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10), e.Title, e.Status, e.Variant,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Status", "Variant"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newEpisodeAddCommand(ctx *commandContext) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var episode api.EpisodeView
			body := map[string]string{"title": args[0], "variant": variant}
			if err := client.post(cmd.Context(), "/api/episodes", body, &episode); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created episode %d (%s)\n", episode.ID, episode.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "Pipeline variant (full or lean)")
	return cmd
}

func newEpisodeTranscriptCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript <episode-id> <file>",
		Short: "Upload an episode transcript",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			file, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open transcript: %w", err)
			}
			defer file.Close()

			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp struct {
				Hash string `json:"hash"`
				Size int64  `json:"size"`
			}
			path := fmt.Sprintf("/api/episodes/%d/transcript", episodeID)
			if err := client.putRaw(cmd.Context(), path, file, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transcript uploaded (%d bytes, %s)\n", resp.Size, resp.Hash)
			return nil
		},
	}
	return cmd
}
