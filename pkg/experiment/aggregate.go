package experiment

import (
	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/graph-mia/pkg/attack"
	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/report"
)

// Aggregate reduces the values of one metric across repetitions. Without
// stdev it reports the mean under key itself; with stdev it reports
// key_mean and the sample standard deviation key_stdev, which needs at least
// two values.
func Aggregate(key string, values []float64, withStdev bool) ([]report.Stat, error) {
	if len(values) == 0 {
		return nil, errs.ErrInsufficientRepetitions
	}
	if !withStdev {
		return []report.Stat{{Key: key, Value: stat.Mean(values, nil)}}, nil
	}
	if len(values) < 2 {
		return nil, errs.ErrInsufficientRepetitions
	}
	mean, std := stat.MeanStdDev(values, nil)
	return []report.Stat{
		{Key: key + "_mean", Value: mean},
		{Key: key + "_stdev", Value: std},
	}, nil
}

// Summarise aggregates the metrics of finished repetitions: raw values for a
// single repetition, mean and stdev otherwise. The ROC curve of the
// repetition with the highest AUROC is kept.
func Summarise(name string, kind attack.Kind, reps []*attack.Metrics) (*Summary, error) {
	if len(reps) == 0 {
		return nil, errs.ErrInsufficientRepetitions
	}

	withStdev := len(reps) > 1
	var stats []report.Stat
	for _, key := range attack.MetricKeys {
		values := make([]float64, len(reps))
		for i, m := range reps {
			values[i] = m.Values()[key]
		}
		s, err := Aggregate(key, values, withStdev)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s...)
	}

	best := 0
	for i, m := range reps {
		if m.AUROC > reps[best].AUROC {
			best = i
		}
	}

	return &Summary{
		Name:           name,
		Attack:         kind,
		Stats:          stats,
		BestRepetition: best,
		BestROC:        reps[best].ROC,
		Repetitions:    reps,
	}, nil
}
