package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/gotune/pkg/model"
)

func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/runs")
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			var runs []*model.Run
			if err := resp.decode(&runs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}
			fmt.Fprintf(out, "%-14s  %-24s  %-16s  %-8s  %s\n", "ID", "NAME", "METRIC", "SAMPLES", "CREATED")
			fmt.Fprintf(out, "%-14s  %-24s  %-16s  %-8s  %s\n", "--", "----", "------", "-------", "-------")
			for _, r := range runs {
				fmt.Fprintf(out, "%-14s  %-24s  %-16s  %-8d  %s\n",
					r.ID, r.Name, r.Metric+" ("+string(r.Mode)+")", r.NumSamples, humanize.Time(r.CreatedAt))
			}
			return nil
		},
	}
}
