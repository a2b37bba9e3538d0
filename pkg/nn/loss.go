package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Softmax returns the row-wise softmax of logits.
func Softmax(logits mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(logits)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		softmaxRow(out.RawRowView(i))
	}
	return out
}

func softmaxRow(row []float64) {
	m := floats.Max(row)
	sum := 0.0
	for j, v := range row {
		row[j] = math.Exp(v - m)
		sum += row[j]
	}
	floats.Scale(1/sum, row)
}

// CrossEntropy returns the mean softmax cross-entropy of logits over rows
// and its gradient with respect to logits. Rows outside the set receive a
// zero gradient.
func CrossEntropy(logits *mat.Dense, labels []int, rows []int) (float64, *mat.Dense) {
	probs := Softmax(logits)
	r, c := probs.Dims()
	grad := mat.NewDense(r, c, nil)
	if len(rows) == 0 {
		return 0, grad
	}

	inv := 1 / float64(len(rows))
	loss := 0.0
	for _, i := range rows {
		p := probs.RawRowView(i)
		y := labels[i]
		loss -= math.Log(math.Max(p[y], 1e-12))

		g := grad.RawRowView(i)
		copy(g, p)
		g[y] -= 1
		floats.Scale(inv, g)
	}
	return loss * inv, grad
}

// Argmax returns the index of the largest value in every row.
func Argmax(m mat.Matrix) []int {
	r, c := m.Dims()
	out := make([]int, r)
	for i := 0; i < r; i++ {
		best := m.At(i, 0)
		for j := 1; j < c; j++ {
			if v := m.At(i, j); v > best {
				best = v
				out[i] = j
			}
		}
	}
	return out
}
