package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/graph-mia/pkg/scoring"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteStatistics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", StatisticsFile)
	err := WriteStatistics(path, []Record{
		{Name: "a", Stats: []Stat{{"auroc", 0.75}, {"accuracy", 0.5}}},
		{Name: "b", Stats: []Stat{{"auroc_mean", 0.6}, {"auroc_stdev", 0.1}}},
	})
	require.NoError(t, err)

	rows := readCSV(t, path)
	assert.Equal(t, [][]string{
		{"name", "auroc", "accuracy", "auroc_mean", "auroc_stdev"},
		{"a", "0.75", "0.5", "", ""},
		{"b", "", "", "0.6", "0.1"},
	}, rows)
}

func TestWriteROCs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ROCsFile)
	err := WriteROCs(path, []ROC{
		{Name: "short", Curve: scoring.Curve{FPR: []float64{0, 1}, TPR: []float64{0, 1}}},
		{Name: "long", Curve: scoring.Curve{FPR: []float64{0, 0.5, 1}, TPR: []float64{0, 0.75, 1}}},
	})
	require.NoError(t, err)

	rows := readCSV(t, path)
	assert.Equal(t, [][]string{
		{"short_fpr", "short_tpr", "long_fpr", "long_tpr"},
		{"0", "0", "0", "0"},
		{"1", "1", "0.5", "0.75"},
		{"", "", "1", "1"},
	}, rows)
}

func TestTracker(t *testing.T) {
	path := filepath.Join(t.TempDir(), RepetitionsFile)
	tr, err := NewTracker(path)
	require.NoError(t, err)
	_, err = uuid.Parse(tr.RunID())
	require.NoError(t, err)

	require.NoError(t, tr.LogRepetition("exp", "lira", 0, map[string]float64{"auroc": 0.7}, 1500*time.Millisecond))
	require.NoError(t, tr.LogRepetition("exp", "lira", 1, map[string]float64{"auroc": 0.8}, time.Second))
	require.NoError(t, tr.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []RepetitionEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev RepetitionEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, tr.RunID(), events[0].RunID)
	assert.Equal(t, 1, events[1].Repetition)
	assert.Equal(t, int64(1500), events[0].DurationMS)
	assert.Equal(t, 0.8, events[1].Metrics["auroc"])
}

func TestNilTracker(t *testing.T) {
	var tr *Tracker
	assert.NoError(t, tr.LogRepetition("exp", "lira", 0, nil, 0))
	assert.NoError(t, tr.Close())
	assert.Empty(t, tr.RunID())
}
