package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/gotune/internal/asha"
	"github.com/me/gotune/internal/config"
)

func newValidateCmd() *cobra.Command {
	var preview int

	cmd := &cobra.Command{
		Use:   "validate <experiment.yaml>",
		Short: "Check an experiment file and print its brackets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.Load(args[0])
			if err != nil {
				return err
			}
			brackets, err := asha.NewBrackets(exp.Ladder(), exp.NumSamples)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ladder := exp.Ladder()
			fmt.Fprintf(out, "Experiment: %s\n", exp.Name)
			fmt.Fprintf(out, "  Metric:    %s (%s)\n", exp.Metric, exp.Mode)
			fmt.Fprintf(out, "  Samples:   %d (%s sampler, seed %d), %d concurrent\n",
				exp.NumSamples, exp.Sampler, exp.Seed, exp.MaxConcurrent)
			mode := "async"
			if !ladder.Async {
				mode = "sync"
			}
			fmt.Fprintf(out, "  Halving:   %s, reduction factor %g\n", mode, ladder.ReductionFactor)
			fmt.Fprintf(out, "  Trainable: %s\n", exp.Trainable.Kind)
			for _, b := range brackets {
				ms := make([]string, 0, len(b.Rungs))
				for _, m := range b.Milestones() {
					ms = append(ms, fmt.Sprint(m))
				}
				fmt.Fprintf(out, "  Bracket %d: %d trials, rungs %s\n", b.ID, b.Quota, strings.Join(ms, " > "))
			}
			fmt.Fprintf(out, "  Space:     %d parameters\n", len(exp.Space.Params))
			for _, p := range exp.Space.Params {
				fmt.Fprintf(out, "    %-16s %s %s\n", p.Name, p.Type, p.Distribution)
			}

			if preview > 0 {
				smp, err := exp.NewSampler()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "  Preview:")
				for i := 0; i < preview && i < exp.NumSamples; i++ {
					cfg, err := smp.Sample(i)
					if err != nil {
						fmt.Fprintf(out, "    #%d: %v\n", i, err)
						break
					}
					fmt.Fprintf(out, "    #%d: %s\n", i, formatConfig(cfg))
				}
			}
			fmt.Fprintln(out, "OK")
			return nil
		},
	}

	cmd.Flags().IntVar(&preview, "preview", 0, "Print the first N sampled configurations")
	return cmd
}
