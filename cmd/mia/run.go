package main

import (
	"github.com/spf13/cobra"

	"github.com/gilchrisn/graph-mia/pkg/config"
)

var (
	runConfig     = config.New()
	runConfigFile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one experiment",
	Long: `Run one experiment configured from defaults, an optional config file,
MIA_* environment variables and flags (in increasing precedence).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runConfigFile != "" {
			if err := runConfig.LoadFromFile(runConfigFile); err != nil {
				return err
			}
		}
		if err := runConfig.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		exp, err := runConfig.Experiment()
		if err != nil {
			return err
		}
		logger := runConfig.CreateLogger()
		logger.Debug().Msg("Configuration:\n" + runConfig.String())

		return execute(cmd.Context(), []config.Experiment{exp}, exp.SaveDir, logger)
	},
}

func init() {
	runConfig.AddFlags(runCmd.Flags())
	runCmd.Flags().StringVar(&runConfigFile, "config", "", "configuration file (yaml, json or toml)")
}
