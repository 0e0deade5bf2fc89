package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/gotune/internal/config"
	"github.com/me/gotune/internal/executor"
	"github.com/me/gotune/internal/session"
)

func newRunCmd() *cobra.Command {
	var opts session.Options
	var parallel int
	var workDir string
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "run <experiment.yaml>",
		Short: "Run an experiment in this process",
		Long: `Runs the scheduler and the trainable of an experiment in one process
until the sample budget is used up.

With --store the scheduler state is checkpointed to a SQLite file or a
redis:// URL; an interrupted run continues with --resume --run-id <id>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if parallel == 0 {
				parallel = exp.MaxConcurrent
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := session.Open(ctx, exp, opts, logger)
			if err != nil {
				return err
			}
			s.Start(ctx)
			defer s.Close()

			trainable, err := exp.NewTrainable(workDir, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: %s, %d samples, %s trainable, %d parallel\n",
				s.Run.ID, exp.Name, exp.NumSamples, trainable.Name(), parallel)

			start := time.Now()
			r := executor.NewRunner(s.Controller, trainable, executor.RunnerConfig{Parallel: parallel, Poll: poll}, logger)
			runErr := r.Run(ctx)
			interrupted := runErr != nil && ctx.Err() != nil

			sum, err := s.Controller.Summary(context.WithoutCancel(ctx))
			if err != nil {
				return errors.Join(runErr, err)
			}
			st := r.Stats()
			fmt.Fprintln(out)
			printStatus(out, sum, s.Run)
			fmt.Fprintf(out, "  Work:     %d new, %d resumed, %s reports, %d failed in %s\n",
				st.Trials, st.Resumed, humanize.Comma(st.Reports), st.Failed,
				time.Since(start).Round(time.Millisecond))

			if interrupted {
				fmt.Fprintln(out, "\nInterrupted.")
				if s.Store != nil {
					fmt.Fprintf(out, "Continue with: gotune run %s --store %s --resume --run-id %s\n",
						args[0], opts.Store, s.Run.ID)
				}
				return nil
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "", "Checkpoint store: SQLite path or redis:// URL")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "Run id (generated when empty)")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "Continue the run from its latest checkpoint")
	cmd.Flags().DurationVar(&opts.CheckpointInterval, "checkpoint-interval", 30*time.Second, "Checkpoint interval")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Trials trained at once (default: max_concurrent)")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Working directory for command trainables")
	cmd.Flags().DurationVar(&poll, "poll", 50*time.Millisecond, "Wait between requests while the scheduler has no work")

	return cmd
}
