package train

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accident.classifier/internal/model"
	"github.com/banshee-data/accident.classifier/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

// toyData builds windows whose single-feature level identifies the class.
func toyData(rng *rand.Rand, perClass, classes, steps int) ([]*mat.Dense, []int) {
	var xs []*mat.Dense
	var ys []int
	for c := 0; c < classes; c++ {
		level := float64(c) / float64(classes-1)
		for n := 0; n < perClass; n++ {
			w := mat.NewDense(steps, 1, nil)
			for t := 0; t < steps; t++ {
				w.Set(t, 0, level+0.05*(rng.Float64()-0.5))
			}
			xs = append(xs, w)
			ys = append(ys, c)
		}
	}
	return xs, ys
}

func snapshot(c *model.Classifier) map[string][]float64 {
	return model.NewCheckpoint(c, 0, nil, nil, nil).Parameters
}

func TestCrossEntropy(t *testing.T) {
	loss, grad := CrossEntropy([]float64{0, 0, 0}, 1)
	assert.InDelta(t, math.Log(3), loss, 1e-12)
	assert.InDeltaSlice(t, []float64{1.0 / 3, -2.0 / 3, 1.0 / 3}, grad, 1e-12)

	// large logits stay finite
	loss, grad = CrossEntropy([]float64{1000, 0}, 0)
	assert.InDelta(t, 0, loss, 1e-12)
	assert.False(t, math.IsNaN(grad[0]))
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.75, Accuracy([]int{1, 0, 2, 2}, []int{1, 0, 2, 1}))
	assert.Equal(t, 0.0, Accuracy(nil, nil))
}

func TestAdam_FirstStepMovesByLearningRate(t *testing.T) {
	c, err := model.NewClassifier(2, 2, 2, 1)
	require.NoError(t, err)
	c.Params().Zero()
	grads := c.NewGrads()
	for _, n := range grads.Named() {
		for i := range n.Data {
			n.Data[i] = 2
		}
	}

	opt := NewAdam(0.01)
	require.NoError(t, opt.Step(c.Params(), grads))
	assert.Equal(t, 1, opt.Steps())
	for _, n := range c.Params().Named() {
		for _, v := range n.Data {
			assert.InDelta(t, -0.01, v, 1e-8)
		}
	}
}

func TestBatchGradient_MatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c, err := model.NewClassifier(1, 3, 3, 4)
	require.NoError(t, err)
	xs, ys := toyData(rng, 2, 3, 4)

	grads := c.NewGrads()
	_, err = BatchGradient(c, xs, ys, grads)
	require.NoError(t, err)

	lossAt := func() float64 {
		l, err := BatchGradient(c, xs, ys, c.NewGrads())
		require.NoError(t, err)
		return l
	}
	const eps = 1e-6
	analytic := grads.Named()
	for pi, n := range c.Params().Named() {
		for i := range n.Data {
			orig := n.Data[i]
			n.Data[i] = orig + eps
			plus := lossAt()
			n.Data[i] = orig - eps
			minus := lossAt()
			n.Data[i] = orig
			assert.InDelta(t, (plus-minus)/(2*eps), analytic[pi].Data[i], 1e-6, "%s[%d]", n.Name, i)
		}
	}
}

func TestBatchGradient_BadLabel(t *testing.T) {
	c, err := model.NewClassifier(1, 2, 2, 1)
	require.NoError(t, err)
	_, err = BatchGradient(c, []*mat.Dense{mat.NewDense(3, 1, nil)}, []int{2}, c.NewGrads())
	assert.Error(t, err)
}

func TestNewLoop_InvalidConfig(t *testing.T) {
	c, err := model.NewClassifier(1, 2, 2, 1)
	require.NoError(t, err)
	for _, cfg := range []Config{
		{Epochs: 0, EvalEvery: 1, LearningRate: 0.01},
		{Epochs: 1, EvalEvery: 0, LearningRate: 0.01},
		{Epochs: 1, EvalEvery: 1, LearningRate: 0},
		{Epochs: 1, EvalEvery: 1, LearningRate: 0.01, BatchSize: -1},
	} {
		_, err := NewLoop(c, cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestLoop_OneEpochFullBatch(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))
	xs, ys := toyData(rng, 5, 2, 4)
	c, err := model.NewClassifier(1, 4, 2, 6)
	require.NoError(t, err)

	loop, err := NewLoop(c, Config{Epochs: 1, EvalEvery: 10, LearningRate: 0.01, Seed: 6})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, loop.State())

	res, err := loop.Run(context.Background(), Data{TrainX: xs[:8], TrainY: ys[:8], TestX: xs[8:], TestY: ys[8:]})
	require.NoError(t, err)
	assert.Equal(t, StateDone, loop.State())
	require.Len(t, res.History, 1)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 1, res.EpochsCompleted)
	acc := res.History[0].Accuracy
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)
	assert.Equal(t, acc, res.MaxAccuracy)

	_, err = loop.Run(context.Background(), Data{})
	assert.Error(t, err, "a loop runs once")
}

func TestLoop_LearnsAndTracksRunningMax(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 9))
	xs, ys := toyData(rng, 12, 2, 5)
	split := Data{}
	for i := range xs {
		if i%4 == 0 {
			split.TestX, split.TestY = append(split.TestX, xs[i]), append(split.TestY, ys[i])
		} else {
			split.TrainX, split.TrainY = append(split.TrainX, xs[i]), append(split.TrainY, ys[i])
		}
	}
	c, err := model.NewClassifier(1, 6, 2, 3)
	require.NoError(t, err)
	loop, err := NewLoop(c, Config{Epochs: 80, EvalEvery: 1, LearningRate: 0.02, Seed: 1})
	require.NoError(t, err)

	var seen []EvalPoint
	loop.OnEvaluate(func(p EvalPoint) { seen = append(seen, p) })
	res, err := loop.Run(context.Background(), split)
	require.NoError(t, err)

	require.Len(t, res.History, 80)
	assert.Equal(t, res.History, seen)
	assert.Less(t, res.History[79].Loss, res.History[0].Loss)

	best := math.Inf(-1)
	for i, p := range res.History {
		best = math.Max(best, p.Accuracy)
		assert.Equal(t, best, p.MaxAccuracy, "point %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, p.MaxAccuracy, res.History[i-1].MaxAccuracy)
		}
	}
	assert.Equal(t, best, res.MaxAccuracy)
}

func TestLoop_EvalCadenceWithinEpoch(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	xs, ys := toyData(rng, 4, 2, 3)
	c, err := model.NewClassifier(1, 2, 2, 1)
	require.NoError(t, err)
	// 5 train windows with batch 1 is steps 0..4; every 2nd gives 0, 2, 4
	loop, err := NewLoop(c, Config{Epochs: 2, BatchSize: 1, EvalEvery: 2, LearningRate: 0.01, Seed: 3})
	require.NoError(t, err)

	res, err := loop.Run(context.Background(), Data{TrainX: xs[:5], TrainY: ys[:5], TestX: xs[5:], TestY: ys[5:]})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Steps)
	var steps []int
	for _, p := range res.History {
		steps = append(steps, p.Step)
	}
	assert.Equal(t, []int{0, 2, 4, 0, 2, 4}, steps)
}

func TestLoop_CancelBetweenBatches(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	xs, ys := toyData(rng, 4, 2, 3)
	c, err := model.NewClassifier(1, 2, 2, 1)
	require.NoError(t, err)
	loop, err := NewLoop(c, Config{Epochs: 50, EvalEvery: 1, LearningRate: 0.01})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var afterFirst map[string][]float64
	loop.OnEvaluate(func(EvalPoint) {
		afterFirst = snapshot(c)
		cancel()
	})

	res, err := loop.Run(ctx, Data{TrainX: xs[:6], TrainY: ys[:6], TestX: xs[6:], TestY: ys[6:]})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Steps)
	assert.Len(t, res.History, 1)
	assert.Equal(t, afterFirst, snapshot(c), "no update after cancellation")
	assert.Equal(t, StateDone, loop.State())
}

func TestLoop_NonFiniteLossLeavesParameters(t *testing.T) {
	c, err := model.NewClassifier(1, 2, 2, 1)
	require.NoError(t, err)
	c.Params().OutW.Set(0, 0, math.Inf(1))
	before := snapshot(c)
	loop, err := NewLoop(c, Config{Epochs: 1, EvalEvery: 1, LearningRate: 0.01})
	require.NoError(t, err)

	a := mat.NewDense(3, 1, []float64{0, 0.5, 1})
	b := mat.NewDense(3, 1, []float64{0, 0, 1})
	_, err = loop.Run(context.Background(), Data{
		TrainX: []*mat.Dense{a, b}, TrainY: []int{0, 1},
		TestX: []*mat.Dense{b}, TestY: []int{1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNonFiniteLoss))
	assert.Equal(t, before, snapshot(c))
}

func TestLoop_RejectsNonFiniteWindows(t *testing.T) {
	good := mat.NewDense(3, 1, []float64{0, 0, 1})
	for _, tt := range []struct {
		name string
		data func(bad *mat.Dense) Data
		want string
	}{
		{"test window", func(bad *mat.Dense) Data {
			return Data{TrainX: []*mat.Dense{good, good}, TrainY: []int{0, 1}, TestX: []*mat.Dense{bad}, TestY: []int{0}}
		}, "test window 0"},
		{"train window", func(bad *mat.Dense) Data {
			return Data{TrainX: []*mat.Dense{good, bad}, TrainY: []int{0, 1}, TestX: []*mat.Dense{good}, TestY: []int{0}}
		}, "train window 1"},
	} {
		for _, v := range []float64{math.NaN(), math.Inf(-1)} {
			t.Run(tt.name, func(t *testing.T) {
				c, err := model.NewClassifier(1, 2, 2, 1)
				require.NoError(t, err)
				before := snapshot(c)
				loop, err := NewLoop(c, Config{Epochs: 1, EvalEvery: 1, LearningRate: 0.01})
				require.NoError(t, err)

				bad := mat.NewDense(3, 1, []float64{0, v, 1})
				res, err := loop.Run(context.Background(), tt.data(bad))
				require.Error(t, err)
				assert.Nil(t, res)
				assert.True(t, errors.Is(err, ErrNonFiniteInput), "got %v", err)
				assert.Contains(t, err.Error(), tt.want)
				assert.Equal(t, before, snapshot(c))
			})
		}
	}
}

func TestLoop_ShapeMismatchBeforeTraining(t *testing.T) {
	c, err := model.NewClassifier(2, 2, 2, 1)
	require.NoError(t, err)
	loop, err := NewLoop(c, Config{Epochs: 1, EvalEvery: 1, LearningRate: 0.01})
	require.NoError(t, err)

	w := mat.NewDense(3, 3, nil)
	_, err = loop.Run(context.Background(), Data{
		TrainX: []*mat.Dense{w, w}, TrainY: []int{0, 1},
		TestX: []*mat.Dense{w}, TestY: []int{1},
	})
	assert.True(t, errors.Is(err, model.ErrShapeMismatch))
}
