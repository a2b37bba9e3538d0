package scoring

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/graph-mia/pkg/errs"
)

// Curve is a ROC curve ordered by decreasing threshold, from (0,0) to (1,1).
type Curve struct {
	FPR        []float64 `json:"fpr"`
	TPR        []float64 `json:"tpr"`
	Thresholds []float64 `json:"-"`
}

// Evaluation summarises a binary member/non-member classifier.
type Evaluation struct {
	AUROC     float64 `json:"auroc"`
	Accuracy  float64 `json:"accuracy"`
	F1        float64 `json:"f1_score"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	ROC       Curve   `json:"roc"`
}

// Evaluate scores a membership classifier. AUROC and the ROC curve use every
// distinct score as a cutoff; the threshold metrics predict "member" for
// score >= threshold. labels[i] is true for members.
func Evaluate(scores []float64, labels []bool, threshold float64) (*Evaluation, error) {
	if len(scores) != len(labels) {
		return nil, errs.Integrityf("%d scores for %d labels", len(scores), len(labels))
	}
	if len(scores) == 0 {
		return nil, errs.Integrityf("no scores to evaluate")
	}
	positives := 0
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, errs.Degeneracyf("score %d is %v", i, s)
		}
		if labels[i] {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return nil, errs.ErrDegenerateLabelSet
	}

	curve := rocCurve(scores, labels)
	eval := &Evaluation{
		AUROC: integrate.Trapezoidal(curve.FPR, curve.TPR),
		ROC:   curve,
	}
	eval.Accuracy, eval.Precision, eval.Recall, eval.F1 = thresholdMetrics(scores, labels, threshold)
	return eval, nil
}

func rocCurve(scores []float64, labels []bool) Curve {
	y := append([]float64(nil), scores...)
	classes := append([]bool(nil), labels...)
	stat.SortWeightedLabeled(y, classes, nil)

	tpr, fpr, thresh := stat.ROC(nil, y, classes, nil)

	if len(fpr) == 0 || fpr[0] != 0 || tpr[0] != 0 {
		fpr = append([]float64{0}, fpr...)
		tpr = append([]float64{0}, tpr...)
		thresh = append([]float64{math.Inf(1)}, thresh...)
	}
	if last := len(fpr) - 1; fpr[last] != 1 || tpr[last] != 1 {
		fpr = append(fpr, 1)
		tpr = append(tpr, 1)
		thresh = append(thresh, math.Inf(-1))
	}
	return Curve{FPR: fpr, TPR: tpr, Thresholds: thresh}
}

func thresholdMetrics(scores []float64, labels []bool, threshold float64) (accuracy, precision, recall, f1 float64) {
	var tp, fp, tn, fn float64
	for i, s := range scores {
		predicted := s >= threshold
		switch {
		case predicted && labels[i]:
			tp++
		case predicted && !labels[i]:
			fp++
		case !predicted && labels[i]:
			fn++
		default:
			tn++
		}
	}

	accuracy = (tp + tn) / float64(len(scores))
	if tp+fp > 0 {
		precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		recall = tp / (tp + fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return accuracy, precision, recall, f1
}
