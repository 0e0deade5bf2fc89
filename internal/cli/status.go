package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/gotune/pkg/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the progress of the server's run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/status")
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			var data struct {
				model.Status
				Run *model.Run `json:"run"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), &data.Status, data.Run)
			return nil
		},
	}
}
