// Package rawlog reads the per-sensor text logs exported by the plant
// simulator: it orders and pairs the files of one accident category, merges
// each pair into a single run log and parses a run log into a Table.
package rawlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrUnpairedFile is returned when a category directory holds an odd number
// of sensor logs, so one file has no partner to merge with.
var ErrUnpairedFile = errors.New("unpaired sensor log")

var firstNumber = regexp.MustCompile(`\d+`)

// Pair is the two sensor logs that together make up one simulated run.
type Pair struct {
	First  string
	Second string
}

// Discover lists the regular, non-hidden files in dir ordered by the first
// integer in their names. Names without a number sort after numbered ones.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read raw dir %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files = append(files, entry.Name())
	}
	SortByNumber(files)

	paths := make([]string, len(files))
	for i, name := range files {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// SortByNumber orders names by their first embedded integer, then by name.
func SortByNumber(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ni, oki := RunNumber(names[i])
		nj, okj := RunNumber(names[j])
		switch {
		case oki && okj && ni != nj:
			return ni < nj
		case oki != okj:
			return oki
		}
		return names[i] < names[j]
	})
}

// RunNumber returns the first integer embedded in the base name of path.
func RunNumber(path string) (int, bool) {
	m := firstNumber.FindString(filepath.Base(path))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Pairs groups consecutive files into merge pairs.
func Pairs(files []string) ([]Pair, error) {
	if len(files)%2 != 0 {
		return nil, fmt.Errorf("%w: %d files, last is %s", ErrUnpairedFile, len(files), filepath.Base(files[len(files)-1]))
	}
	pairs := make([]Pair, 0, len(files)/2)
	for i := 0; i < len(files); i += 2 {
		pairs = append(pairs, Pair{First: files[i], Second: files[i+1]})
	}
	return pairs, nil
}

// MergedName is the file name of the i-th (0-based) merged run of a category,
// e.g. "1LOCA.txt".
func MergedName(i int, category string) string {
	return strconv.Itoa(i+1) + category + ".txt"
}
