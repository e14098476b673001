package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"soundbite/internal/api"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var (
		resourceType string
		resourceID   string
		action       string
		limit        int
		jsonOut      bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit trail entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			query := url.Values{}
			if resourceType != "" {
				query.Set("resource_type", resourceType)
			}
			if resourceID != "" {
				query.Set("resource_id", resourceID)
			}
			if action != "" {
				query.Set("action", action)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/audit"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			var resp struct {
				Entries []api.AuditView `json:"entries"`
			}
			if err := client.get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Entries))
			for _, entry := range resp.Entries {
				rows = append(rows, []string{
					entry.CreatedAt, entry.Action, entry.ResourceType, entry.ResourceID,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Time", "Action", "Resource", "ID"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().StringVar(&resourceType, "resource-type", "", "Filter by resource type")
	cmd.Flags().StringVar(&resourceID, "resource-id", "", "Filter by resource id")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (default 200)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}
