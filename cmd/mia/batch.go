package main

import (
	"github.com/spf13/cobra"

	"github.com/gilchrisn/graph-mia/pkg/config"
)

var (
	batchFile     string
	batchDataDir  string
	batchSaveDir  string
	batchLogLevel string
	batchSeed     uint64
	batchWorkers  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every experiment of a batch file",
	Long: `Run every experiment of a YAML batch file, a mapping from entry label to
configuration keys. All entries run with batch_size=32, early_stopping=true,
optimizer=Adam and experiments=10, and their statistics and best ROC curves
are written to combined files in the results directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		base := map[string]any{
			"datadir":   batchDataDir,
			"savedir":   batchSaveDir,
			"log_level": batchLogLevel,
			"seed":      batchSeed,
			"workers":   batchWorkers,
		}
		exps, err := config.LoadBatch(batchFile, base)
		if err != nil {
			return err
		}
		logger := config.NewLogger(batchLogLevel)
		logger.Info().Str("file", batchFile).Int("experiments", len(exps)).Msg("Batch loaded")

		return execute(cmd.Context(), exps, batchSaveDir, logger)
	},
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchFile, "file", "f", "config.yaml", "batch file")
	f.StringVar(&batchDataDir, "datadir", "./data", "dataset directory")
	f.StringVar(&batchSaveDir, "savedir", "./results", "results directory")
	f.StringVar(&batchLogLevel, "log-level", "info", "log level")
	f.Uint64Var(&batchSeed, "seed", 0, "base random seed")
	f.IntVar(&batchWorkers, "workers", 1, "concurrent shadow model trainers")
}
