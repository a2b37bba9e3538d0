// Package trainer fits nn models: full-batch masked training on graphs and
// mini-batch training on tabular attack data, both with optional early
// stopping on validation loss.
package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
	"github.com/gilchrisn/graph-mia/pkg/graph"
	"github.com/gilchrisn/graph-mia/pkg/nn"
)

// Config controls a training run. The criterion is accuracy and the loss is
// softmax cross-entropy.
type Config struct {
	Device        string
	Epochs        int
	EarlyStopping bool
	Patience      int
	LR            float64
	WeightDecay   float64
	Optimizer     string
	BatchSize     int
}

// Validate checks the configuration before any parameter is touched.
func (c Config) Validate() error {
	if d := strings.ToLower(c.Device); d != "" && d != "cpu" {
		return errs.Configf("unsupported device %q (cpu)", c.Device)
	}
	if c.Epochs < 1 {
		return errs.Configf("epochs must be >= 1, got %d", c.Epochs)
	}
	if c.EarlyStopping && c.Patience < 1 {
		return errs.Configf("patience must be >= 1 with early stopping, got %d", c.Patience)
	}
	return nil
}

// History holds per-epoch losses and accuracies.
type History struct {
	TrainLoss  []float64     `json:"train_loss"`
	ValidLoss  []float64     `json:"valid_loss"`
	TrainScore []float64     `json:"train_score"`
	ValidScore []float64     `json:"valid_score"`
	BestEpoch  int           `json:"best_epoch"`
	Stopped    bool          `json:"stopped_early"`
	Duration   time.Duration `json:"duration"`
}

// Epochs returns the number of completed epochs.
func (h *History) Epochs() int {
	return len(h.TrainLoss)
}

// TrainGraph trains model on the nodes of g's train mask and monitors the
// valid mask. With early stopping, the parameters of the epoch with the
// lowest validation loss are restored at the end.
func TrainGraph(ctx context.Context, model nn.Trainable, g *graph.Graph, cfg Config, logger zerolog.Logger) (*History, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	trainRows := graph.MaskedNodes(g.TrainMask)
	if len(trainRows) == 0 {
		return nil, errs.Integrityf("graph %q has no training nodes", g.Name)
	}
	validRows := graph.MaskedNodes(g.ValidMask)
	if len(validRows) == 0 {
		validRows = trainRows
	}

	opt, err := nn.NewOptimizer(cfg.Optimizer, cfg.LR, cfg.WeightDecay)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stopper := newEarlyStopper(cfg, model)
	history := &History{}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		model.ZeroGrad()
		loss, grad := nn.CrossEntropy(model.Forward(g, true), g.Labels, trainRows)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, fmt.Errorf("%w: %s loss is %v at epoch %d", errs.ErrTrainingFailure, model.Name(), loss, epoch)
		}
		model.Backward(grad)
		opt.Step(model.Params())

		logits := model.Forward(g, false)
		validLoss, _ := nn.CrossEntropy(logits, g.Labels, validRows)
		history.TrainLoss = append(history.TrainLoss, loss)
		history.ValidLoss = append(history.ValidLoss, validLoss)
		history.TrainScore = append(history.TrainScore, accuracy(logits, g.Labels, trainRows))
		history.ValidScore = append(history.ValidScore, accuracy(logits, g.Labels, validRows))

		logger.Debug().
			Int("epoch", epoch).
			Float64("train_loss", loss).
			Float64("valid_loss", validLoss).
			Msg("Epoch completed")

		if stopper.observe(epoch, validLoss) {
			history.Stopped = true
			break
		}
	}

	history.BestEpoch = stopper.finish()
	history.Duration = time.Since(start)

	logger.Debug().
		Str("model", model.Name()).
		Int("epochs", history.Epochs()).
		Int("best_epoch", history.BestEpoch).
		Dur("duration", history.Duration).
		Msg("Training completed")

	return history, nil
}

// TrainTabular trains model on rows of x in shuffled mini-batches. The model
// is run without a graph, so it must not contain propagation layers.
func TrainTabular(ctx context.Context, model nn.Trainable, x *mat.Dense, labels []int, trainRows, validRows []int, cfg Config, rng *rand.Rand, logger zerolog.Logger) (*History, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r, _ := x.Dims(); r != len(labels) {
		return nil, errs.Integrityf("%d rows for %d labels", r, len(labels))
	}
	if len(trainRows) == 0 {
		return nil, errs.Integrityf("no training rows")
	}
	if len(validRows) == 0 {
		validRows = trainRows
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 || batchSize > len(trainRows) {
		batchSize = len(trainRows)
	}

	opt, err := nn.NewOptimizer(cfg.Optimizer, cfg.LR, cfg.WeightDecay)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stopper := newEarlyStopper(cfg, model)
	history := &History{}
	order := append([]int(nil), trainRows...)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		epochLoss, batches := 0.0, 0
		for lo := 0; lo < len(order); lo += batchSize {
			hi := min(lo+batchSize, len(order))
			bx, by := gatherRows(x, labels, order[lo:hi])

			model.ZeroGrad()
			loss, grad := nn.CrossEntropy(model.ForwardMatrix(bx, nil, true), by, allRows(hi-lo))
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return nil, fmt.Errorf("%w: %s loss is %v at epoch %d", errs.ErrTrainingFailure, model.Name(), loss, epoch)
			}
			model.Backward(grad)
			opt.Step(model.Params())
			epochLoss += loss
			batches++
		}

		logits := model.ForwardMatrix(x, nil, false)
		validLoss, _ := nn.CrossEntropy(logits, labels, validRows)
		history.TrainLoss = append(history.TrainLoss, epochLoss/float64(batches))
		history.ValidLoss = append(history.ValidLoss, validLoss)
		history.TrainScore = append(history.TrainScore, accuracy(logits, labels, trainRows))
		history.ValidScore = append(history.ValidScore, accuracy(logits, labels, validRows))

		if stopper.observe(epoch, validLoss) {
			history.Stopped = true
			break
		}
	}

	history.BestEpoch = stopper.finish()
	history.Duration = time.Since(start)

	logger.Debug().
		Str("model", model.Name()).
		Int("epochs", history.Epochs()).
		Float64("valid_score", history.ValidScore[len(history.ValidScore)-1]).
		Msg("Tabular training completed")

	return history, nil
}

// Accuracy returns the fraction of masked nodes whose predicted class
// matches their label. An empty mask yields 0.
func Accuracy(model nn.Model, g *graph.Graph, mask []bool) float64 {
	rows := graph.MaskedNodes(mask)
	if len(rows) == 0 {
		return 0
	}
	return accuracy(model.Forward(g, false), g.Labels, rows)
}

func accuracy(logits mat.Matrix, labels []int, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	pred := nn.Argmax(logits)
	correct := 0
	for _, i := range rows {
		if pred[i] == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(rows))
}

func gatherRows(x *mat.Dense, labels []int, rows []int) (*mat.Dense, []int) {
	_, c := x.Dims()
	bx := mat.NewDense(len(rows), c, nil)
	by := make([]int, len(rows))
	for i, r := range rows {
		bx.SetRow(i, x.RawRowView(r))
		by[i] = labels[r]
	}
	return bx, by
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// earlyStopper tracks the best validation loss and snapshots parameters.
type earlyStopper struct {
	enabled  bool
	patience int
	params   []*nn.Param

	best      float64
	bestEpoch int
	snapshot  []*mat.Dense
}

func newEarlyStopper(cfg Config, model nn.Trainable) *earlyStopper {
	return &earlyStopper{
		enabled:  cfg.EarlyStopping,
		patience: cfg.Patience,
		params:   model.Params(),
		best:     math.Inf(1),
	}
}

// observe records an epoch and reports whether training should stop.
func (s *earlyStopper) observe(epoch int, validLoss float64) bool {
	if validLoss < s.best {
		s.best = validLoss
		s.bestEpoch = epoch
		if s.enabled {
			s.snapshot = nn.SaveParams(s.params)
		}
		return false
	}
	return s.enabled && epoch-s.bestEpoch >= s.patience
}

// finish restores the best parameters when early stopping is on.
func (s *earlyStopper) finish() int {
	if s.enabled && s.snapshot != nil {
		nn.LoadParams(s.params, s.snapshot)
	}
	return s.bestEpoch
}
