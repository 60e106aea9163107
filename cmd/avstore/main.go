// Command avstore ingests audio/video data into a wide-column table and
// samples audio/video correspondence examples from it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "avstore",
		Short:         "Store raw audio/video and sample correspondence examples",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"),
		"path to the YAML configuration file")

	load := func() (*app, error) {
		return newApp(root.Context(), configPath)
	}
	root.AddCommand(
		newIngestCommand(load),
		newShardsCommand(load),
		newSampleCommand(load),
		newPopCommand(load),
		newMaterializeCommand(load),
		newServeCommand(load),
	)
	return root
}
