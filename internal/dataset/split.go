package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Split holds window indices of the train and test partitions.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions sample indices so every class keeps its share
// of the test partition within one sample of rounding. The test partition
// has ceil(testFraction*n) samples. Per-class test counts are the floor of
// the proportional share, with leftover slots going to the classes with the
// largest remainders (lowest class first on ties). The same seed and labels
// always produce the same partition.
func StratifiedSplit(labels []int, testFraction float64, seed uint64) (Split, error) {
	n := len(labels)
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("%w: test fraction %g outside (0, 1)", ErrStratification, testFraction)
	}
	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest == 0 || nTest >= n {
		return Split{}, fmt.Errorf("%w: %d samples cannot be split with test fraction %g", ErrStratification, n, testFraction)
	}

	byClass := make(map[int][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	classes := make([]int, 0, len(byClass))
	for c, idx := range byClass {
		if len(idx) < 2 {
			return Split{}, fmt.Errorf("%w: class %d has %d sample, need at least 2", ErrStratification, c, len(idx))
		}
		classes = append(classes, c)
	}
	sort.Ints(classes)

	alloc := allocateTest(classes, byClass, n, nTest)

	rng := rand.New(rand.NewPCG(seed, seed))
	var s Split
	for _, c := range classes {
		idx := append([]int(nil), byClass[c]...)
		if alloc[c] >= len(idx) {
			return Split{}, fmt.Errorf("%w: class %d would place all %d samples in the test partition", ErrStratification, c, len(idx))
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		s.Test = append(s.Test, idx[:alloc[c]]...)
		s.Train = append(s.Train, idx[alloc[c]:]...)
	}
	rng.Shuffle(len(s.Train), func(i, j int) { s.Train[i], s.Train[j] = s.Train[j], s.Train[i] })
	rng.Shuffle(len(s.Test), func(i, j int) { s.Test[i], s.Test[j] = s.Test[j], s.Test[i] })
	return s, nil
}

func allocateTest(classes []int, byClass map[int][]int, n, nTest int) map[int]int {
	type share struct {
		class int
		rem   float64
	}
	alloc := make(map[int]int, len(classes))
	shares := make([]share, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(len(byClass[c])) * float64(nTest) / float64(n)
		whole := int(math.Floor(exact))
		alloc[c] = whole
		assigned += whole
		shares = append(shares, share{class: c, rem: exact - float64(whole)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].rem > shares[j].rem })
	for i := 0; assigned < nTest; i = (i + 1) % len(shares) {
		alloc[shares[i].class]++
		assigned++
	}
	return alloc
}
