package main

import (
	"encoding/json"
	"sort"

	"github.com/spf13/cobra"
)

func newShardsCommand(load func() (*app, error)) *cobra.Command {
	var (
		numShards      int
		showUnfinished bool
	)
	cmd := &cobra.Command{
		Use:   "shards",
		Short: "Print shard metadata as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			shards, err := a.sel.Metadata().LookupShardMetadata(cmd.Context(), numShards, !showUnfinished)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(shards))
			for k := range shards {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, k := range keys {
				if err := enc.Encode(shards[k]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&numShards, "num-shards", 0, "only consider shards below this id (0 for all)")
	cmd.Flags().BoolVar(&showUnfinished, "all", false, "include shards that are still being written")
	return cmd
}
