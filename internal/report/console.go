// Package report renders training progress and results: console lines, a
// PNG curve plot and an interactive HTML chart.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/banshee-data/accident.classifier/internal/train"
)

// Console writes human-readable progress lines.
type Console struct {
	w io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Evaluation prints one periodic evaluation. It matches train.Loop's
// OnEvaluate callback signature.
func (c *Console) Evaluation(p train.EvalPoint) {
	fmt.Fprintf(c.w, "Epoch: %d | step: %d | train loss: %.4f | test accuracy: %.2f\n",
		p.Epoch, p.Step, p.Loss, p.Accuracy)
}

// Summary is the end-of-run report.
type Summary struct {
	RunID         string
	MaxAccuracy   float64 // best periodic evaluation
	FinalAccuracy float64 // held-out accuracy of the final parameters
	Predicted     []string
	Truth         []string
	Elapsed       time.Duration
	Cancelled     bool
}

// Summary prints the end-of-run report.
func (c *Console) Summary(s Summary) {
	if s.Cancelled {
		fmt.Fprintln(c.w, "Training cancelled; results cover completed steps only")
	}
	fmt.Fprintf(c.w, "Max accuracy: %.4f\n", s.MaxAccuracy)
	fmt.Fprintf(c.w, "Final held-out accuracy: %.4f\n", s.FinalAccuracy)
	if len(s.Predicted) > 0 {
		fmt.Fprintf(c.w, "[%s] predicted labels\n", strings.Join(s.Predicted, " "))
		fmt.Fprintf(c.w, "[%s] true labels\n", strings.Join(s.Truth, " "))
	}
	if s.RunID != "" {
		fmt.Fprintf(c.w, "Run: %s\n", s.RunID)
	}
	fmt.Fprintf(c.w, "Total time cost: %s\n", s.Elapsed.Round(time.Millisecond))
}
