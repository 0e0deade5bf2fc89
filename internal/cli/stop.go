package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/gotune/pkg/model"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <trial_id>",
		Short: "Stop a trial; its next report is answered with STOP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put("/api/v1/trials/"+args[0]+"/stop", nil)
			if err != nil {
				return fmt.Errorf("stop trial: %w", err)
			}
			var t model.Trial
			if err := resp.decode(&t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trial %s: %s\n", t.ID, t.State)
			return nil
		},
	}
}
