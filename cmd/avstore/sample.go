package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/devrev/avcorr/internal/errors"
	"github.com/devrev/avcorr/internal/queue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSampleCommand(load func() (*app, error)) *cobra.Command {
	var (
		n        int
		push     bool
		keysOnly bool
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw correspondence example sets",
		Long: `Prints one JSON object per example set keyed by class. With --push the sets
are drawn key-only and pushed onto the Redis sample queue instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.sampleOptions()
			opts.MaxNumSamples = n
			opts.KeysOnly = keysOnly || push

			var q *queue.RedisSampleQueue
			if push {
				if q, err = a.newQueue(); err != nil {
					return err
				}
				defer q.Close()
			}

			sampler, err := a.sel.SampleAVCorrespondenceExamples(opts)
			if err != nil {
				return err
			}

			start := time.Now()
			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				set, err := sampler.Next(cmd.Context())
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				if q != nil {
					if _, err := q.Push(cmd.Context(), set); err != nil {
						return err
					}
					continue
				}
				if err := enc.Encode(set); err != nil {
					return err
				}
			}

			a.logger.Info("Sampling finished",
				zap.Int("sets", sampler.Emitted()),
				zap.Bool("pushed", push),
				zap.Duration("duration", time.Since(start)))
			if q != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "pushed %d example sets to %s\n", sampler.Emitted(), q.Key())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 10, "number of example sets to draw (0 for unbounded)")
	cmd.Flags().BoolVar(&push, "push", false, "push key-only sets onto the Redis sample queue")
	cmd.Flags().BoolVar(&keysOnly, "keys-only", false, "skip fetching frame and audio payloads")
	return cmd
}

func newPopCommand(load func() (*app, error)) *cobra.Command {
	var (
		n       int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pop",
		Short: "Pop serialized samples off the Redis sample queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := a.newQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			for i := 0; n <= 0 || i < n; i++ {
				s, err := q.Pop(cmd.Context(), timeout)
				if n <= 0 && errors.IsNotFound(err) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.Raw)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "num", "n", 1, "number of samples to pop (0 pops until the queue stays empty)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a sample")
	return cmd
}
