// Package train fits a model.Classifier with mini-batch Adam on a
// cross-entropy objective and monitors held-out accuracy while it runs.
package train

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accident.classifier/internal/model"
)

// ErrNonFiniteLoss means a batch produced a NaN or infinite loss or
// gradient. The batch's update is not applied.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// ErrNonFiniteInput means a train or test window holds a NaN or infinite
// value. Training does not start.
var ErrNonFiniteInput = errors.New("non-finite input window")

// CrossEntropy returns -log softmax(logits)[label] and its gradient with
// respect to the logits, softmax(logits) - onehot(label).
func CrossEntropy(logits []float64, label int) (float64, []float64) {
	lse := floats.LogSumExp(logits)
	grad := make([]float64, len(logits))
	for k, v := range logits {
		grad[k] = math.Exp(v - lse)
	}
	grad[label] -= 1
	return lse - logits[label], grad
}

// BatchGradient computes the mean cross-entropy of the batch and stores its
// gradient in grads, which is zeroed first.
func BatchGradient(c *model.Classifier, windows []*mat.Dense, labels []int, grads *model.Params) (float64, error) {
	if len(windows) == 0 || len(windows) != len(labels) {
		return 0, fmt.Errorf("batch has %d windows and %d labels", len(windows), len(labels))
	}
	grads.Zero()
	scale := 1 / float64(len(windows))
	var total float64
	for i, w := range windows {
		logits, tr, err := c.ForwardTrace(w)
		if err != nil {
			return 0, fmt.Errorf("window %d: %w", i, err)
		}
		if labels[i] < 0 || labels[i] >= c.NumClasses {
			return 0, fmt.Errorf("window %d: label %d outside [0, %d)", i, labels[i], c.NumClasses)
		}
		loss, d := CrossEntropy(logits.RawVector().Data, labels[i])
		total += loss
		floats.Scale(scale, d)
		c.Backward(tr, mat.NewVecDense(len(d), d), grads)
	}
	return total * scale, nil
}

// Accuracy is the fraction of predictions equal to the true labels.
func Accuracy(pred, truth []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	correct := 0
	for i := range truth {
		if pred[i] == truth[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth))
}
