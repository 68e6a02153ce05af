package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accident.classifier/internal/config"
	"github.com/banshee-data/accident.classifier/internal/dataset"
	"github.com/banshee-data/accident.classifier/internal/model"
	"github.com/banshee-data/accident.classifier/internal/monitoring"
	"github.com/banshee-data/accident.classifier/internal/report"
	"github.com/banshee-data/accident.classifier/internal/store"
	"github.com/banshee-data/accident.classifier/internal/tableio"
	"github.com/banshee-data/accident.classifier/internal/timeutil"
	"github.com/banshee-data/accident.classifier/internal/train"
)

// TrainOptions are the optional collaborators of Train.
type TrainOptions struct {
	Runs    *store.RunStore // records the run when set
	Console io.Writer       // receives progress and summary lines when set
	Clock   timeutil.Clock  // defaults to the wall clock
}

// TrainResult is everything a training run produced.
type TrainResult struct {
	RunID          string
	Classes        []string
	TrainWindows   int
	TestWindows    int
	Result         *train.Result
	FinalAccuracy  float64
	Predicted      []string
	Truth          []string
	CheckpointPath string
	PlotPath       string
	ChartPath      string
	Elapsed        time.Duration
}

// run carries the per-call state of Train so failures are recorded once.
type run struct {
	cfg   *config.ExperimentConfig
	opts  TrainOptions
	res   *TrainResult
	start time.Time
}

// Train loads the prepared tables, splits, normalises, trains and evaluates
// a classifier, then writes the checkpoint and reports. A cancelled ctx
// stops training between batch steps; the partial model is still
// checkpointed and the run is recorded as cancelled, and the returned error
// wraps ctx's error.
func Train(ctx context.Context, cfg *config.ExperimentConfig, opts TrainOptions) (*TrainResult, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	r := &run{cfg: cfg, opts: opts, res: &TrainResult{}, start: opts.Clock.Now()}

	if opts.Runs != nil {
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("store: encode config: %w", err)
		}
		sr := &store.Run{ConfigJSON: cfgJSON}
		if err := opts.Runs.CreateRun(sr); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		r.res.RunID = sr.RunID
	} else {
		r.res.RunID = uuid.New().String()
	}

	res, err := r.execute(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.finish(store.Outcome{Status: store.RunFailed, Err: err})
		return nil, err
	}
	return res, err
}

func (r *run) execute(ctx context.Context) (*TrainResult, error) {
	cfg := r.cfg

	ft, err := tableio.ReadFeaturesFile(cfg.DatasetPath())
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	labels, err := tableio.ReadLabelsFile(cfg.LabelPath())
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	windows, err := dataset.FromTable(ft.Rows, labels, cfg.TimeLength)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}

	enc := dataset.FitLabelEncoder(labels)
	y, err := enc.Encode(labels)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	r.res.Classes = enc.Classes
	numClasses := len(enc.Classes)
	if cfg.NumClasses > 0 {
		if cfg.NumClasses < numClasses {
			return nil, fmt.Errorf("model: num_classes %d is less than the %d labels present", cfg.NumClasses, numClasses)
		}
		numClasses = cfg.NumClasses
	}

	split, err := dataset.StratifiedSplit(y, cfg.TestFraction, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	r.res.TrainWindows, r.res.TestWindows = len(split.Train), len(split.Test)
	if r.opts.Runs != nil {
		if err := r.opts.Runs.SetWindowCounts(r.res.RunID, len(split.Train), len(split.Test)); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	scaler, err := fitScaler(cfg.ScalerFit, ft.Rows, windows, split.Train)
	if err != nil {
		return nil, fmt.Errorf("normalise: %w", err)
	}
	scaled, err := scaler.TransformAll(windows)
	if err != nil {
		return nil, fmt.Errorf("normalise: %w", err)
	}

	clf, err := model.NewClassifier(cfg.FeatureCount, cfg.HiddenSize, numClasses, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if err := clf.CheckWindow(scaled[0]); err != nil {
		return nil, fmt.Errorf("model: feature_count %d vs table columns %v: %w", cfg.FeatureCount, ft.Columns, err)
	}

	data := train.Data{}
	for _, i := range split.Train {
		data.TrainX, data.TrainY = append(data.TrainX, scaled[i]), append(data.TrainY, y[i])
	}
	for _, i := range split.Test {
		data.TestX, data.TestY = append(data.TestX, scaled[i]), append(data.TestY, y[i])
	}

	loop, err := train.NewLoop(clf, train.Config{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		EvalEvery:    cfg.EvalEvery,
		LearningRate: cfg.LearningRate,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	var console *report.Console
	if r.opts.Console != nil {
		console = report.NewConsole(r.opts.Console)
		loop.OnEvaluate(console.Evaluation)
	}

	result, runErr := loop.Run(ctx, data)
	if runErr != nil && (result == nil || !result.Cancelled) {
		return nil, fmt.Errorf("train: %w", runErr)
	}
	r.res.Result = result

	// final held-out report, separate from the periodic monitoring above
	pred, err := clf.Predict(data.TestX)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	r.res.FinalAccuracy = train.Accuracy(pred, data.TestY)
	n := min(cfg.ReportSamples, len(pred))
	r.res.Predicted = enc.Decode(pred[:n])
	r.res.Truth = enc.Decode(data.TestY[:n])

	cp := model.NewCheckpoint(clf, cfg.TimeLength, enc.Classes, ft.Columns, scaler)
	cp.Meta = map[string]interface{}{"run_id": r.res.RunID, "epochs_completed": result.EpochsCompleted}
	r.res.CheckpointPath = filepath.Join(cfg.OutputDir, "checkpoints", r.res.RunID+".json")
	if err := cp.Save(r.res.CheckpointPath); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	if len(result.History) > 0 {
		dir := filepath.Join(cfg.ReportDir, r.res.RunID)
		r.res.PlotPath = filepath.Join(dir, "accuracy.png")
		r.res.ChartPath = filepath.Join(dir, "training.html")
		if err := report.SaveTrainingPlot(r.res.PlotPath, result.History); err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		if err := report.WriteTrainingChart(r.res.ChartPath, "run "+r.res.RunID, result.History); err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
	}

	if r.opts.Runs != nil {
		evals := make([]store.Evaluation, len(result.History))
		for i, p := range result.History {
			evals[i] = store.Evaluation{Seq: i, Epoch: p.Epoch, Step: p.Step, Loss: p.Loss, Accuracy: p.Accuracy}
		}
		if err := r.opts.Runs.RecordEvaluations(r.res.RunID, evals); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	status := store.RunCompleted
	if result.Cancelled {
		status = store.RunCancelled
	}
	r.finish(store.Outcome{
		Status:         status,
		MaxAccuracy:    result.MaxAccuracy,
		FinalAccuracy:  r.res.FinalAccuracy,
		CheckpointPath: r.res.CheckpointPath,
		Err:            runErr,
	})

	if console != nil {
		console.Summary(report.Summary{
			RunID:         r.res.RunID,
			MaxAccuracy:   result.MaxAccuracy,
			FinalAccuracy: r.res.FinalAccuracy,
			Predicted:     r.res.Predicted,
			Truth:         r.res.Truth,
			Elapsed:       r.res.Elapsed,
			Cancelled:     result.Cancelled,
		})
	}
	if runErr != nil {
		return r.res, fmt.Errorf("train: %w", runErr)
	}
	return r.res, nil
}

// finish stamps the elapsed time and records the outcome in the store.
func (r *run) finish(out store.Outcome) {
	r.res.Elapsed = r.opts.Clock.Since(r.start)
	if r.opts.Runs == nil {
		return
	}
	if err := r.opts.Runs.FinishRun(r.res.RunID, out); err != nil {
		monitoring.Stagef("store", "failed to finish run %s: %v", r.res.RunID, err)
	}
}

// fitScaler fits min-max bounds on the training windows, or on the whole
// feature table in the legacy mode.
func fitScaler(mode string, table *mat.Dense, windows []*mat.Dense, trainIdx []int) (*dataset.MinMaxScaler, error) {
	switch mode {
	case config.ScalerFitAll:
		return dataset.FitMinMax(table)
	case config.ScalerFitTrain:
		parts := make([]*mat.Dense, len(trainIdx))
		for i, idx := range trainIdx {
			parts[i] = windows[idx]
		}
		return dataset.FitMinMax(parts...)
	}
	return nil, fmt.Errorf("unknown scaler fit mode %q", mode)
}
