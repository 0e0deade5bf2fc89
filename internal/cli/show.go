package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/gotune/pkg/model"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <trial_id>",
		Short: "Show a trial with its observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/trials/" + args[0])
			if err != nil {
				return fmt.Errorf("get trial: %w", err)
			}
			var t model.Trial
			if err := resp.decode(&t); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Trial: %s\n", t.ID)
			fmt.Fprintf(out, "  State:    %s\n", t.State)
			fmt.Fprintf(out, "  Bracket:  %d (rung %d)\n", t.Bracket, t.Rung)
			fmt.Fprintf(out, "  Resource: %d\n", t.Resource)
			if t.LastDecision != "" {
				fmt.Fprintf(out, "  Decision: %s\n", t.LastDecision)
			}
			if t.ErrorCode != "" {
				fmt.Fprintf(out, "  Error:    %s: %s\n", t.ErrorCode, t.ErrorMessage)
			}
			fmt.Fprintf(out, "  Started:  %s\n", ago(t.StartedAt))
			if t.CompletedAt != nil {
				fmt.Fprintf(out, "  Ended:    %s\n", ago(t.CompletedAt))
			}
			fmt.Fprintln(out, "  Config:")
			for _, k := range t.Config.Keys() {
				fmt.Fprintf(out, "    %s = %s\n", k, t.Config[k])
			}
			if len(t.Observations) > 0 {
				fmt.Fprintln(out, "  Observations:")
				for _, o := range t.Observations {
					fmt.Fprintf(out, "    resource %-6d %s\n", o.Resource, formatMetric(o.Metric))
				}
			}
			return nil
		},
	}
}
