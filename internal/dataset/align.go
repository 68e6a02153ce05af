package dataset

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/accident.classifier/internal/rawlog"
)

// MissingPolicy decides what an aligned second holds when no raw reading
// falls inside it.
type MissingPolicy string

const (
	// MissingFail aborts alignment with ErrDataAlignment.
	MissingFail MissingPolicy = "fail"
	// MissingCarryForward repeats the previous second. The first second
	// cannot be carried and still fails.
	MissingCarryForward MissingPolicy = "carry_forward"
	// MissingZero fills every sensor with 0.
	MissingZero MissingPolicy = "zero"
)

// ParseMissingPolicy validates a policy name from configuration.
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch p := MissingPolicy(s); p {
	case MissingFail, MissingCarryForward, MissingZero:
		return p, nil
	}
	return "", fmt.Errorf("unknown missing-second policy %q", s)
}

// SecondStamp formats a second offset the way the simulator prints it,
// zero padded: 7 -> "00:00:07", 65 -> "00:01:05".
func SecondStamp(second int) string {
	return fmt.Sprintf("%02d:%02d:%02d", second/3600, (second/60)%60, second%60)
}

// AlignSeconds collapses the readings of one run into one averaged row per
// second for seconds 0..seconds-1. A reading belongs to second s when its
// time text contains SecondStamp(s) anywhere, so sub-second suffixes and
// date prefixes still match. Row s of the result is SecondSample s.
func AlignSeconds(tbl *rawlog.Table, seconds int, policy MissingPolicy) (*mat.Dense, error) {
	if seconds <= 0 {
		return nil, fmt.Errorf("seconds must be positive, got %d", seconds)
	}
	features := len(tbl.Columns)
	if features == 0 {
		return nil, fmt.Errorf("run has no sensor columns")
	}

	out := mat.NewDense(seconds, features, nil)
	column := make([]float64, 0, 8)
	for s := 0; s < seconds; s++ {
		stamp := SecondStamp(s)

		var matched []int
		for i, ts := range tbl.Times {
			if strings.Contains(ts, stamp) {
				matched = append(matched, i)
			}
		}

		if len(matched) == 0 {
			switch {
			case policy == MissingZero:
				continue // rows start zeroed
			case policy == MissingCarryForward && s > 0:
				out.SetRow(s, out.RawRowView(s-1))
				continue
			}
			return nil, fmt.Errorf("%w: no reading for second %s (policy %s)", ErrDataAlignment, stamp, policy)
		}

		for j := 0; j < features; j++ {
			column = column[:0]
			for _, i := range matched {
				column = append(column, tbl.Values[i][j])
			}
			m := stat.Mean(column, nil)
			if math.IsNaN(m) || math.IsInf(m, 0) {
				return nil, fmt.Errorf("%w: second %s column %s averages to %g", ErrDataAlignment, stamp, tbl.Columns[j], m)
			}
			out.Set(s, j, m)
		}
	}
	return out, nil
}
