package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp struct {
				Sent    bool   `json:"sent"`
				Message string `json:"message"`
			}
			if err := client.post(cmd.Context(), "/api/notify/test", nil, &resp); err != nil {
				return err
			}
			switch {
			case resp.Message != "":
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			case resp.Sent:
				fmt.Fprintln(cmd.OutOrStdout(), "test notification sent")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "notification not sent")
			}
			return nil
		},
	}
}
