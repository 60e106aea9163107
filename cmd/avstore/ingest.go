package main

import (
	"fmt"

	"github.com/devrev/avcorr/internal/selection"
	"github.com/devrev/avcorr/internal/util/workerpool"
	"github.com/devrev/avcorr/internal/video"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIngestCommand(load func() (*app, error)) *cobra.Command {
	var (
		shardID   int
		numShards int
	)
	cmd := &cobra.Command{
		Use:   "ingest <video-dir>...",
		Short: "Write video directories as one shard",
		Long: `Each directory holds the frames of one video as numbered image files and
its audio track as raw uint8 samples in audio.u8. Videos are numbered by
their position on the command line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			w := a.cfg.Write
			opts := video.LoadOptions{Width: w.FrameWidth, Height: w.FrameHeight, Greyscale: w.Greyscale}
			sources := make([]selection.VideoSource, len(args))
			for i, dir := range args {
				sources[i] = selection.NewDirectorySource(dir, opts)
			}

			pool := workerpool.NewWorkerPool(&workerpool.Config{
				Name:       "ingest",
				MaxWorkers: w.IngestWorkers,
				Logger:     a.logger,
			})
			defer func() {
				if err := pool.Stop(w.ShutdownTimeout); err != nil {
					a.logger.Warn("Ingest pool did not stop cleanly", zap.Error(err))
				}
			}()

			meta, err := a.sel.WriteShard(cmd.Context(), pool, shardID, numShards, sources)
			if err != nil {
				return fmt.Errorf("shard %d: %w", shardID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shard %d/%d finished with %d videos\n",
				meta.ShardID(), meta.NumShards(), meta.NumVideos())
			return nil
		},
	}
	cmd.Flags().IntVar(&shardID, "shard", 0, "shard id to write")
	cmd.Flags().IntVar(&numShards, "num-shards", 1, "total number of shards in the dataset")
	return cmd
}
