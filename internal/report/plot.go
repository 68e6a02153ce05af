package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/accident.classifier/internal/train"
)

var (
	accuracyColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	maxColor      = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	lossColor     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// SaveTrainingPlot writes a PNG with test accuracy, running max accuracy
// and training loss against the optimizer step of each evaluation.
func SaveTrainingPlot(path string, history []train.EvalPoint) error {
	if len(history) == 0 {
		return fmt.Errorf("no evaluations to plot")
	}

	acc := make(plotter.XYs, len(history))
	best := make(plotter.XYs, len(history))
	loss := make(plotter.XYs, len(history))
	for i, p := range history {
		x := float64(p.GlobalStep)
		acc[i] = plotter.XY{X: x, Y: p.Accuracy}
		best[i] = plotter.XY{X: x, Y: p.MaxAccuracy}
		loss[i] = plotter.XY{X: x, Y: p.Loss}
	}

	p := plot.New()
	p.Title.Text = "Training progress"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Accuracy / loss"

	for _, s := range []struct {
		label string
		pts   plotter.XYs
		color color.Color
	}{
		{"test accuracy", acc, accuracyColor},
		{"max accuracy", best, maxColor},
		{"train loss", loss, lossColor},
	} {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
