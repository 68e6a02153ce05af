package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accident.classifier/internal/rawlog"
)

// seqTable returns a rows x cols table whose cell (i, j) is i*cols+j.
func seqTable(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(i)
	}
	return mat.NewDense(rows, cols, data)
}

func TestSecondStamp(t *testing.T) {
	assert.Equal(t, "00:00:00", SecondStamp(0))
	assert.Equal(t, "00:00:07", SecondStamp(7))
	assert.Equal(t, "00:00:49", SecondStamp(49))
	assert.Equal(t, "00:01:05", SecondStamp(65))
	assert.Equal(t, "01:00:00", SecondStamp(3600))
}

func TestAlignSeconds_SingletonIsIdentity(t *testing.T) {
	tbl := &rawlog.Table{Columns: []string{"P", "T"}}
	for s := 0; s < 5; s++ {
		tbl.Times = append(tbl.Times, SecondStamp(s))
		tbl.Values = append(tbl.Values, []float64{float64(s) * 1.5, float64(100 - s)})
	}

	out, err := AlignSeconds(tbl, 5, MissingFail)
	require.NoError(t, err)
	for s := 0; s < 5; s++ {
		assert.Equal(t, tbl.Values[s], out.RawRowView(s), "second %d", s)
	}
}

func TestAlignSeconds_AveragesDuplicates(t *testing.T) {
	tbl := &rawlog.Table{
		Columns: []string{"P"},
		Times:   []string{"00:00:00.1", "00:00:00.6", "2020/01/01 00:00:01", "00:00:01.5", "00:00:01.9", "00:00:02"},
		Values:  [][]float64{{1}, {3}, {10}, {20}, {30}, {7}},
	}
	out, err := AlignSeconds(tbl, 3, MissingFail)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 20, 7}, mat.Col(nil, 0, out))
}

func TestAlignSeconds_RejectsNonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		tbl := &rawlog.Table{
			Columns: []string{"P", "T"},
			Times:   []string{"00:00:00.0", "00:00:00.5", "00:00:01"},
			Values:  [][]float64{{1, 2}, {3, bad}, {5, 6}},
		}
		for _, policy := range []MissingPolicy{MissingFail, MissingCarryForward, MissingZero} {
			_, err := AlignSeconds(tbl, 2, policy)
			require.Error(t, err, "%v %s", bad, policy)
			assert.True(t, errors.Is(err, ErrDataAlignment), "got %v", err)
			assert.Contains(t, err.Error(), "second 00:00:00 column T")
		}
	}
}

func TestAlignSeconds_MissingPolicies(t *testing.T) {
	tbl := &rawlog.Table{
		Columns: []string{"P", "T"},
		Times:   []string{"00:00:00", "00:00:02"},
		Values:  [][]float64{{1, 2}, {5, 6}},
	}

	_, err := AlignSeconds(tbl, 3, MissingFail)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataAlignment))
	assert.Contains(t, err.Error(), "00:00:01")

	out, err := AlignSeconds(tbl, 3, MissingCarryForward)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, out.RawRowView(1))

	out, err = AlignSeconds(tbl, 3, MissingZero)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, out.RawRowView(1))
	assert.Equal(t, []float64{5, 6}, out.RawRowView(2))

	// the first second has nothing to carry
	late := &rawlog.Table{Columns: []string{"P"}, Times: []string{"00:00:01"}, Values: [][]float64{{1}}}
	_, err = AlignSeconds(late, 2, MissingCarryForward)
	assert.True(t, errors.Is(err, ErrDataAlignment))
}

func TestParseMissingPolicy(t *testing.T) {
	p, err := ParseMissingPolicy("carry_forward")
	require.NoError(t, err)
	assert.Equal(t, MissingCarryForward, p)

	_, err = ParseMissingPolicy("mean")
	assert.Error(t, err)
}

func TestParseLabelMode(t *testing.T) {
	m, err := ParseLabelMode("counts")
	require.NoError(t, err)
	assert.Equal(t, LabelByCount, m)

	m, err = ParseLabelMode("category")
	require.NoError(t, err)
	assert.Equal(t, LabelFromCategory, m)

	_, err = ParseLabelMode("positional")
	assert.Error(t, err)
}

func TestBuildWindows(t *testing.T) {
	tests := []struct {
		rows, cols, length int
		wantWindows        int
	}{
		{200, 4, 20, 10},
		{205, 4, 20, 10},
		{19, 3, 20, 0},
		{20, 1, 20, 1},
		{7, 2, 1, 7},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%dx%d/L%d", tc.rows, tc.cols, tc.length), func(t *testing.T) {
			table := seqTable(tc.rows, tc.cols)
			windows, err := BuildWindows(table, tc.length)
			require.NoError(t, err)
			require.Len(t, windows, tc.wantWindows)
			for k, w := range windows {
				r, c := w.Dims()
				require.Equal(t, tc.length, r)
				require.Equal(t, tc.cols, c)
				for i := 0; i < tc.length; i++ {
					assert.Equal(t, table.RawRowView(k*tc.length+i), w.RawRowView(i))
				}
			}
		})
	}

	_, err := BuildWindows(seqTable(4, 1), 0)
	assert.Error(t, err)
}

func TestBuildWindows_CopiesRows(t *testing.T) {
	table := seqTable(4, 2)
	windows, err := BuildWindows(table, 2)
	require.NoError(t, err)
	windows[0].Set(0, 0, -1)
	assert.Equal(t, 0.0, table.At(0, 0))
}

func TestMinMaxScaler_FullTableBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	table := mat.NewDense(200, 4, nil)
	table.Apply(func(_, _ int, _ float64) float64 { return rng.Float64() * 100 }, table)

	s, err := FitMinMax(table)
	require.NoError(t, err)
	scaled, err := s.Transform(table)
	require.NoError(t, err)

	for j := 0; j < 4; j++ {
		col := mat.Col(nil, j, scaled)
		assert.Equal(t, 0.0, floats.Min(col))
		assert.InDelta(t, 1.0, floats.Max(col), 1e-12)
	}
}

func TestMinMaxScaler_ConstantColumnAndShape(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{5, 1, 5, 2, 5, 3})
	s, err := FitMinMax(m)
	require.NoError(t, err)

	out, err := s.Transform(m)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, mat.Col(nil, 0, out))
	assert.Equal(t, []float64{0, 0.5, 1}, mat.Col(nil, 1, out))

	_, err = s.Transform(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}

func TestMinMaxScaler_FitAcrossParts(t *testing.T) {
	a := mat.NewDense(2, 1, []float64{3, 4})
	b := mat.NewDense(2, 1, []float64{-1, 9})
	s, err := FitMinMax(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1}, s.Min)
	assert.Equal(t, []float64{9}, s.Max)

	// values beyond the fitted range are not clipped
	out, err := s.Transform(mat.NewDense(1, 1, []float64{19}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.At(0, 0))
}

func TestLabelsByCount(t *testing.T) {
	labels, err := LabelsByCount([]LabelCount{{"1", 5}, {"2", 3}, {"3", 2}}, 10)
	require.NoError(t, err)
	want := []string{"1", "1", "1", "1", "1", "2", "2", "2", "3", "3"}
	if diff := cmp.Diff(want, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	_, err = LabelsByCount([]LabelCount{{"1", 5}, {"2", 3}}, 10)
	assert.True(t, errors.Is(err, ErrLabelCountMismatch))
}

func TestLabelEncoder(t *testing.T) {
	enc := FitLabelEncoder([]string{"SGTR", "LOCA", "NORM", "LOCA", "MSLB"})
	assert.Equal(t, []string{"LOCA", "MSLB", "NORM", "SGTR"}, enc.Classes)

	ids, err := enc.Encode([]string{"NORM", "LOCA", "SGTR"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0, 3}, ids)
	assert.Equal(t, []string{"NORM", "LOCA", "SGTR"}, enc.Decode(ids))

	_, err = enc.Encode([]string{"XXX"})
	assert.Error(t, err)
}

func TestAssemble_LabelFromCategory(t *testing.T) {
	blocks := []CategoryBlock{
		{Category: "LOCA", Rows: seqTable(45, 2)}, // 2 windows, 5 rows dropped
		{Category: "MSLB", Rows: seqTable(20, 2)},
	}
	a, err := Assemble(blocks, 20, LabelFromCategory, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"LOCA", "LOCA", "MSLB"}, a.Labels)
	assert.Equal(t, []int{2, 1}, a.PerCategory)
	rows, _ := a.Table.Dims()
	assert.Equal(t, 60, rows)

	again, err := FromTable(a.Table, a.Labels, 20)
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.True(t, mat.Equal(a.Windows[2], again[2]))
}

func TestAssemble_LabelByCount(t *testing.T) {
	blocks := []CategoryBlock{{Category: "all", Rows: seqTable(200, 4)}}
	counts := []LabelCount{{"1", 5}, {"2", 3}, {"3", 2}}

	a, err := Assemble(blocks, 20, LabelByCount, counts)
	require.NoError(t, err)
	assert.Len(t, a.Windows, 10)
	assert.Equal(t, "2", a.Labels[5])

	_, err = Assemble(blocks, 20, LabelByCount, counts[:2])
	assert.True(t, errors.Is(err, ErrLabelCountMismatch))
}

func TestFromTable_Mismatch(t *testing.T) {
	_, err := FromTable(seqTable(100, 2), []string{"a", "b"}, 20)
	assert.True(t, errors.Is(err, ErrLabelCountMismatch))
}

func classCounts(labels []int, idx []int) map[int]int {
	out := map[int]int{}
	for _, i := range idx {
		out[labels[i]]++
	}
	return out
}

func TestStratifiedSplit_Scenario(t *testing.T) {
	// ten windows labelled 5/3/2
	labels := []int{0, 0, 0, 0, 0, 1, 1, 1, 2, 2}
	s, err := StratifiedSplit(labels, 0.2, 6)
	require.NoError(t, err)

	assert.Len(t, s.Test, 2)
	assert.Len(t, s.Train, 8)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, classCounts(labels, s.Test))

	all := append(append([]int(nil), s.Train...), s.Test...)
	seen := map[int]bool{}
	for _, i := range all {
		assert.False(t, seen[i], "index %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 10)
}

func TestStratifiedSplit_Reproducible(t *testing.T) {
	labels := make([]int, 100)
	for i := range labels {
		labels[i] = i % 4
	}
	a, err := StratifiedSplit(labels, 0.2, 6)
	require.NoError(t, err)
	b, err := StratifiedSplit(labels, 0.2, 6)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed gave different splits (-a +b):\n%s", diff)
	}

	c, err := StratifiedSplit(labels, 0.2, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a.Test, c.Test)
}

func TestStratifiedSplit_Proportions(t *testing.T) {
	var labels []int
	for class, n := range []int{100, 100, 100, 5} {
		for i := 0; i < n; i++ {
			labels = append(labels, class)
		}
	}
	s, err := StratifiedSplit(labels, 0.2, 6)
	require.NoError(t, err)

	testCounts := classCounts(labels, s.Test)
	total := classCounts(labels, append(s.Train, s.Test...))
	for class, n := range total {
		exact := float64(n) * float64(len(s.Test)) / float64(len(labels))
		assert.InDelta(t, exact, float64(testCounts[class]), 1.0, "class %d", class)
	}
}

func TestStratifiedSplit_TooFewSamples(t *testing.T) {
	_, err := StratifiedSplit([]int{0, 0, 0, 1}, 0.25, 6)
	assert.True(t, errors.Is(err, ErrStratification))

	_, err = StratifiedSplit([]int{0, 1}, 0.5, 6)
	assert.True(t, errors.Is(err, ErrStratification))
}
