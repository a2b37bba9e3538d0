package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/graph-mia/pkg/config"
	"github.com/gilchrisn/graph-mia/pkg/report"
)

func TestExecuteWritesResults(t *testing.T) {
	dir := t.TempDir()
	c := config.New()
	c.Set("attack", "confidence")
	c.Set("dataset", "synthetic")
	c.Set("synthetic.nodes", 90)
	c.Set("synthetic.features", 8)
	c.Set("epochs_target", 5)
	c.Set("hidden_dim_target", 8)
	c.Set("experiments", 2)
	c.Set("savedir", dir)
	exp, err := c.Experiment()
	require.NoError(t, err)

	require.NoError(t, execute(context.Background(), []config.Experiment{exp}, dir, zerolog.Nop()))

	for _, name := range []string{report.StatisticsFile, report.ROCsFile, report.RepetitionsFile, report.MetricsFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}

func TestExecuteRejectsUnknownDataset(t *testing.T) {
	dir := t.TempDir()
	exp, err := config.New().Experiment()
	require.NoError(t, err)
	exp.Dataset = "pubmed"

	assert.Error(t, execute(context.Background(), []config.Experiment{exp}, dir, zerolog.Nop()))
	_, err = os.Stat(filepath.Join(dir, report.StatisticsFile))
	assert.True(t, os.IsNotExist(err))
}
