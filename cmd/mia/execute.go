package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/graph-mia/pkg/config"
	"github.com/gilchrisn/graph-mia/pkg/dataset"
	"github.com/gilchrisn/graph-mia/pkg/experiment"
	"github.com/gilchrisn/graph-mia/pkg/metrics"
	"github.com/gilchrisn/graph-mia/pkg/report"
)

// execute runs the experiments in order and writes statistics.csv, rocs.csv,
// repetitions.jsonl and metrics.prom to savedir. Nothing but the tracker
// file is written if an experiment fails.
func execute(ctx context.Context, exps []config.Experiment, savedir string, logger zerolog.Logger) error {
	if err := os.MkdirAll(savedir, 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}

	reg := metrics.NewRegistry()
	tracker, err := report.NewTracker(filepath.Join(savedir, report.RepetitionsFile))
	if err != nil {
		return err
	}
	defer tracker.Close()

	records := make([]report.Record, 0, len(exps))
	rocs := make([]report.ROC, 0, len(exps))
	for _, e := range exps {
		data, err := dataset.Load(e.Dataset, e.DataDir, dataset.Options{
			Seed:      e.Seed,
			Synthetic: e.Synthetic,
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		runner := experiment.NewRunner(e, data,
			experiment.WithLogger(logger),
			experiment.WithMetrics(reg),
			experiment.WithTracker(tracker),
		)
		summary, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		ev := logger.Info().Str("experiment", summary.Name)
		for _, s := range summary.Stats {
			ev = ev.Float64(s.Key, s.Value)
		}
		ev.Msg("Statistics")

		records = append(records, summary.Record())
		rocs = append(rocs, summary.ROC())
	}

	if err := report.WriteStatistics(filepath.Join(savedir, report.StatisticsFile), records); err != nil {
		return err
	}
	if err := report.WriteROCs(filepath.Join(savedir, report.ROCsFile), rocs); err != nil {
		return err
	}
	if err := reg.WriteTextfile(filepath.Join(savedir, report.MetricsFile)); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	logger.Info().
		Str("savedir", savedir).
		Str("run_id", tracker.RunID()).
		Msg("Results written")
	return nil
}
