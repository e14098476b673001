package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"soundbite/internal/api"
)

func newKeywordCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyword",
		Short: "Manage discovery keywords per episode",
	}
	cmd.AddCommand(newKeywordListCommand(ctx))
	cmd.AddCommand(newKeywordSetCommand(ctx))
	return cmd
}

func newKeywordListCommand(ctx *commandContext) *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list <episode-id>",
		Short: "List keywords in discovery priority order",
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
			path := fmt.Sprintf("/api/episodes/%d/keywords", episodeID)
			if enabledOnly {
				path += "?enabled=1"
			}
			var resp struct {
				Keywords []api.KeywordView `json:"keywords"`
			}
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			rows := make([][]string, 0, len(resp.Keywords))
			for _, kw := range resp.Keywords {
				enabled := "yes"
				if !kw.Enabled {
					enabled = "no"
				}
				rows = append(rows, []string{
					kw.Term, fmt.Sprintf("%.2f", kw.Weight), enabled, strconv.Itoa(kw.Position),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Term", "Weight", "Enabled", "Position"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show enabled keywords")
	return cmd
}

func newKeywordSetCommand(ctx *commandContext) *cobra.Command {
	var (
		weight   float64
		disabled bool
		position int
	)
	cmd := &cobra.Command{
		Use:   "set <episode-id> <term>",
		Short: "Create or update a keyword",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid episode id %q", args[0])
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			enabled := !disabled
			body := map[string]any{
				"term":     args[1],
				"weight":   weight,
				"enabled":  enabled,
				"position": position,
			}
			path := fmt.Sprintf("/api/episodes/%d/keywords", episodeID)
			if err := client.put(cmd.Context(), path, body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "keyword %q saved\n", args[1])
			return nil
		},
	}
	cmd.Flags().Float64Var(&weight, "weight", 0.5, "Priority weight in [0,1]")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Exclude from discovery")
	cmd.Flags().IntVar(&position, "position", 0, "Tie-break position")
	return cmd
}
