package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deixis/suiterun/internal/run"
)

func newRunCmd(opts *globalOpts) *cobra.Command {
	var jsonOutput bool
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "run <suite>",
		Short: "Run a suite in the foreground and print its final status",
		Long: `Start a suite, poll it until it finishes and print the final status.

An interrupt cancels the run and waits for the cancellation to be recorded.
The exit code is 0 only if the run completed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			reg, release := e.newRegistry()
			defer release()

			id, err := reg.Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			if poll <= 0 {
				poll = 200 * time.Millisecond
			}
			ticker := time.NewTicker(poll)
			defer ticker.Stop()

			var st run.Status
			for {
				st, err = reg.Status(id)
				if err != nil {
					return err
				}
				if st.Done() {
					break
				}
				select {
				case <-ticker.C:
				case <-sig:
					e.log.Info().Str("run_id", id).Msg("interrupted, cancelling run")
					if err := reg.Cancel(id); err != nil {
						return err
					}
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := reg.Close(ctx); err != nil {
				e.log.Warn().Err(err).Msg("runs still active at exit")
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(st); err != nil {
					return err
				}
			} else {
				fmt.Fprint(out, formatStatus(&st))
			}

			if st.Status != run.Completed {
				return exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the final status as JSON")
	cmd.Flags().DurationVar(&poll, "poll", 200*time.Millisecond, "status polling interval")
	return cmd
}
