package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mia",
	Short: "Membership inference attacks on graph neural networks",
	Long: `mia trains target GNNs on randomised splits of a graph dataset and
measures how well membership inference attacks (basic-shadow, confidence,
offline LiRA, offline RMIA) separate training nodes from unseen nodes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
}
