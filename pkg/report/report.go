// Package report persists experiment results: aggregated statistics and ROC
// curves as CSV, and per-repetition events as JSON lines.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gilchrisn/graph-mia/pkg/scoring"
)

// File names inside a results directory.
const (
	StatisticsFile  = "statistics.csv"
	ROCsFile        = "rocs.csv"
	RepetitionsFile = "repetitions.jsonl"
	MetricsFile     = "metrics.prom"
)

// Stat is one aggregated metric.
type Stat struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Record is one row of statistics.csv.
type Record struct {
	Name  string
	Stats []Stat
}

// ROC is a named curve for rocs.csv.
type ROC struct {
	Name  string
	Curve scoring.Curve
}

// WriteStatistics writes one row per record. Columns are "name" followed by
// every stat key in order of first appearance; missing values stay empty.
func WriteStatistics(path string, records []Record) error {
	var keys []string
	seen := make(map[string]bool)
	for _, r := range records {
		for _, s := range r.Stats {
			if !seen[s.Key] {
				seen[s.Key] = true
				keys = append(keys, s.Key)
			}
		}
	}

	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, append([]string{"name"}, keys...))
	for _, r := range records {
		values := make(map[string]float64, len(r.Stats))
		for _, s := range r.Stats {
			values[s.Key] = s.Value
		}
		row := make([]string, len(keys)+1)
		row[0] = r.Name
		for i, k := range keys {
			if v, ok := values[k]; ok {
				row[i+1] = formatFloat(v)
			}
		}
		rows = append(rows, row)
	}
	return writeCSV(path, rows)
}

// WriteROCs writes the curves side by side as {name}_fpr and {name}_tpr
// columns, padding shorter curves with empty cells.
func WriteROCs(path string, rocs []ROC) error {
	header := make([]string, 0, 2*len(rocs))
	length := 0
	for _, r := range rocs {
		header = append(header, r.Name+"_fpr", r.Name+"_tpr")
		length = max(length, len(r.Curve.FPR))
	}

	rows := make([][]string, 0, length+1)
	rows = append(rows, header)
	for i := 0; i < length; i++ {
		row := make([]string, 0, len(header))
		for _, r := range rocs {
			if i < len(r.Curve.FPR) {
				row = append(row, formatFloat(r.Curve.FPR[i]), formatFloat(r.Curve.TPR[i]))
			} else {
				row = append(row, "", "")
			}
		}
		rows = append(rows, row)
	}
	return writeCSV(path, rows)
}

func writeCSV(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
