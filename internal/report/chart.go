package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/accident.classifier/internal/train"
)

// RenderTrainingChart writes an HTML page with a line chart of the
// evaluation history.
func RenderTrainingChart(w io.Writer, subtitle string, history []train.EvalPoint) error {
	steps := make([]int, len(history))
	acc := make([]opts.LineData, len(history))
	best := make([]opts.LineData, len(history))
	loss := make([]opts.LineData, len(history))
	for i, p := range history {
		steps[i] = p.GlobalStep
		acc[i] = opts.LineData{Value: p.Accuracy}
		best[i] = opts.LineData{Value: p.MaxAccuracy}
		loss[i] = opts.LineData{Value: p.Loss}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Accident classifier training", Width: "1000px", Height: "560px"}),
		charts.WithTitleOpts(opts.Title{Title: "Training progress", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Step", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Accuracy / loss"}),
	)
	line.SetXAxis(steps).
		AddSeries("test accuracy", acc).
		AddSeries("max accuracy", best).
		AddSeries("train loss", loss)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteTrainingChart renders the chart to path.
func WriteTrainingChart(path, subtitle string, history []train.EvalPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chart file: %w", err)
	}
	if err := RenderTrainingChart(f, subtitle, history); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
