package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Ask the server to save a checkpoint now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/checkpoint", nil)
			if err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			var data struct {
				RunID   string    `json:"run_id"`
				SavedAt time.Time `json:"saved_at"`
			}
			if err := resp.decode(&data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint saved for %s at %s\n", data.RunID, data.SavedAt.Format(time.RFC3339))
			return nil
		},
	}
}
