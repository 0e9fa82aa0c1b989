package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Ask the daemon to send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient(ctx.requestTimeout())
			if err != nil {
				return err
			}
			result, err := client.TestNotification(ctx.requestContext(cmd))
			if err != nil {
				return wrapAPIError(err, ctx.configValue())
			}
			switch {
			case result.Message != "":
				fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			case result.Sent:
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
			}
			return nil
		},
	}
}
