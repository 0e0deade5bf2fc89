package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/me/gotune/pkg/model"
)

func newListCmd() *cobra.Command {
	var state string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			resp, err := client.Get("/api/v1/trials?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list trials: %w", err)
			}
			var trials []*model.Trial
			if err := resp.decode(&trials); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(trials) == 0 {
				fmt.Fprintln(out, "No trials found.")
				return nil
			}
			printTrialTable(out, trials)
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(trials), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only trials in this state (PENDING, RUNNING, PAUSED, STOPPED, COMPLETED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of trials")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of trials to skip")
	return cmd
}
