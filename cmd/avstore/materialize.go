package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/devrev/avcorr/internal/metadata"
	"github.com/devrev/avcorr/internal/selection"
	"github.com/spf13/cobra"
)

func newMaterializeCommand(load func() (*app, error)) *cobra.Command {
	var (
		table     string
		prefix    string
		n         int
		tagLength int
	)
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Sample fetched examples into a shuffled example table",
		Long: `Draws example sets with their payloads and stores every example in the
tfexample family of a second table under a random key, so that a prefix scan
reads them back in shuffled order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			dst, err := a.client.OpenTable(cmd.Context(), table, []string{metadata.FamilyTFExample})
			if err != nil {
				return err
			}
			if prefix == "" {
				prefix = a.cfg.Store.Prefix
			}
			examples, err := selection.NewExampleSelection(dst, prefix,
				rand.New(rand.NewSource(time.Now().UnixNano())), a.metrics, a.logger)
			if err != nil {
				return err
			}

			opts := a.sampleOptions()
			sampler, err := a.sel.SampleAVCorrespondenceExamples(opts)
			if err != nil {
				return err
			}

			loadOpts := selection.DefaultLoadOptions()
			loadOpts.MaxNumExamples = n
			if tagLength > 0 {
				loadOpts.PrefixTagLength = tagLength
			}
			written, err := examples.LoadFromSource(cmd.Context(), selection.NewSamplerSource(sampler), loadOpts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d examples to %s under prefix %s\n", written, table, prefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "av_examples", "destination table")
	cmd.Flags().StringVar(&prefix, "prefix", "", "destination row key prefix (defaults to the source prefix)")
	cmd.Flags().IntVarP(&n, "num", "n", 1000, "number of examples to write")
	cmd.Flags().IntVar(&tagLength, "tag-length", 0, "random letters appended to the prefix")
	return cmd
}
