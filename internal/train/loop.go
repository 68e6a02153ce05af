package train

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accident.classifier/internal/model"
	"github.com/banshee-data/accident.classifier/internal/monitoring"
)

// State is the training loop's position in its lifecycle.
type State string

const (
	StateIdle         State = "idle"          // Constructed, not started
	StateEpochRunning State = "epoch_running" // Between batches of an epoch
	StateBatchStep    State = "batch_step"    // Computing and applying one update
	StateEvaluating   State = "evaluating"    // Forward pass over the test split
	StateDone         State = "done"          // Finished, cancelled or failed
)

// Config controls a training run.
type Config struct {
	Epochs       int
	BatchSize    int // 0 trains on the whole training split as one batch
	EvalEvery    int // evaluate when the within-epoch step index is a multiple
	LearningRate float64
	Seed         uint64 // batch shuffling
}

// Data is a train/test split of windows and encoded labels.
type Data struct {
	TrainX []*mat.Dense
	TrainY []int
	TestX  []*mat.Dense
	TestY  []int
}

// EvalPoint is one periodic evaluation.
type EvalPoint struct {
	Epoch       int     `json:"epoch"`
	Step        int     `json:"step"`        // batch index within the epoch
	GlobalStep  int     `json:"global_step"` // optimizer updates applied so far
	Loss        float64 `json:"loss"`        // loss of the batch just applied
	Accuracy    float64 `json:"accuracy"`
	MaxAccuracy float64 `json:"max_accuracy"` // running maximum including this point
}

// Result summarises a run. It is returned alongside cancellation errors so
// the caller can keep what was learned so far.
type Result struct {
	History         []EvalPoint
	MaxAccuracy     float64
	EpochsCompleted int
	Steps           int
	Cancelled       bool
}

// Loop trains one classifier. Only the loop's optimizer writes the
// classifier's parameters, and every update is applied whole.
type Loop struct {
	cfg    Config
	model  *model.Classifier
	opt    *Adam
	grads  *model.Params
	rng    *rand.Rand
	state  State
	onEval func(EvalPoint)
}

// NewLoop validates cfg and prepares a loop for c.
func NewLoop(c *model.Classifier, cfg Config) (*Loop, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be >= 0, got %d", cfg.BatchSize)
	}
	if cfg.EvalEvery <= 0 {
		return nil, fmt.Errorf("eval interval must be positive, got %d", cfg.EvalEvery)
	}
	if !(cfg.LearningRate > 0) {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	return &Loop{
		cfg:   cfg,
		model: c,
		opt:   NewAdam(cfg.LearningRate),
		grads: c.NewGrads(),
		rng:   rand.New(rand.NewPCG(cfg.Seed, 0xba7c)),
		state: StateIdle,
	}, nil
}

// OnEvaluate registers a callback invoked after every evaluation.
func (l *Loop) OnEvaluate(f func(EvalPoint)) { l.onEval = f }

// State returns the current lifecycle state.
func (l *Loop) State() State { return l.state }

func (l *Loop) validate(d Data) error {
	if len(d.TrainX) == 0 || len(d.TestX) == 0 {
		return fmt.Errorf("need non-empty train and test splits, have %d and %d windows", len(d.TrainX), len(d.TestX))
	}
	if len(d.TrainX) != len(d.TrainY) || len(d.TestX) != len(d.TestY) {
		return fmt.Errorf("window and label counts differ: train %d/%d, test %d/%d",
			len(d.TrainX), len(d.TrainY), len(d.TestX), len(d.TestY))
	}
	for i, w := range d.TrainX {
		if err := l.checkWindow(w); err != nil {
			return fmt.Errorf("train window %d: %w", i, err)
		}
	}
	for i, w := range d.TestX {
		if err := l.checkWindow(w); err != nil {
			return fmt.Errorf("test window %d: %w", i, err)
		}
	}
	return nil
}

func (l *Loop) checkWindow(w *mat.Dense) error {
	if err := l.model.CheckWindow(w); err != nil {
		return err
	}
	r, c := w.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := w.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: step %d feature %d is %g", ErrNonFiniteInput, i, j, v)
			}
		}
	}
	return nil
}

// Run trains for the configured number of epochs. Cancelling ctx stops the
// run between batch steps; the partial Result is returned with ctx's error.
func (l *Loop) Run(ctx context.Context, d Data) (*Result, error) {
	if l.state != StateIdle {
		return nil, fmt.Errorf("training loop already used (state %s)", l.state)
	}
	defer func() { l.state = StateDone }()
	if err := l.validate(d); err != nil {
		return nil, err
	}

	batch := l.cfg.BatchSize
	if batch == 0 || batch > len(d.TrainX) {
		batch = len(d.TrainX)
	}
	monitoring.Stagef("train", "%d train windows, %d test windows, batch %d, %d epochs",
		len(d.TrainX), len(d.TestX), batch, l.cfg.Epochs)

	res := &Result{MaxAccuracy: math.Inf(-1)}
	bx := make([]*mat.Dense, 0, batch)
	by := make([]int, 0, batch)

	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		l.state = StateEpochRunning
		order := l.rng.Perm(len(d.TrainX))
		for step, start := 0, 0; start < len(order); step, start = step+1, start+batch {
			if err := ctx.Err(); err != nil {
				res.Cancelled = true
				l.finish(res)
				return res, err
			}

			l.state = StateBatchStep
			bx, by = bx[:0], by[:0]
			for _, idx := range order[start:min(start+batch, len(order))] {
				bx = append(bx, d.TrainX[idx])
				by = append(by, d.TrainY[idx])
			}
			loss, err := BatchGradient(l.model, bx, by, l.grads)
			if err != nil {
				return nil, fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) || !l.grads.Finite() {
				return nil, fmt.Errorf("%w: epoch %d step %d loss %g", ErrNonFiniteLoss, epoch, step, loss)
			}
			if err := l.opt.Step(l.model.Params(), l.grads); err != nil {
				return nil, fmt.Errorf("epoch %d step %d: %w", epoch, step, err)
			}
			res.Steps++

			if step%l.cfg.EvalEvery == 0 {
				l.state = StateEvaluating
				acc, err := l.Evaluate(d.TestX, d.TestY)
				if err != nil {
					return nil, fmt.Errorf("epoch %d step %d evaluation: %w", epoch, step, err)
				}
				res.MaxAccuracy = max(res.MaxAccuracy, acc)
				p := EvalPoint{Epoch: epoch, Step: step, GlobalStep: res.Steps, Loss: loss, Accuracy: acc, MaxAccuracy: res.MaxAccuracy}
				res.History = append(res.History, p)
				if l.onEval != nil {
					l.onEval(p)
				}
			}
			l.state = StateEpochRunning
		}
		res.EpochsCompleted++
	}
	l.finish(res)
	return res, nil
}

func (l *Loop) finish(res *Result) {
	if len(res.History) == 0 {
		res.MaxAccuracy = 0
	}
}

// Evaluate returns the accuracy of the current parameters on the given
// windows without changing them.
func (l *Loop) Evaluate(windows []*mat.Dense, labels []int) (float64, error) {
	pred, err := l.model.Predict(windows)
	if err != nil {
		return 0, err
	}
	return Accuracy(pred, labels), nil
}
