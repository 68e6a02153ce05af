package rawlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrSchemaMismatch is returned when the non-blank columns of a run log do
// not line up with the configured sensor schema.
var ErrSchemaMismatch = errors.New("column count does not match sensor schema")

// ErrNonFinite is returned when a sensor value parses as NaN or an infinity.
var ErrNonFinite = errors.New("non-finite sensor value")

// ParseOptions controls how a merged run log is read.
type ParseOptions struct {
	// Schema names every column that survives blank-column removal; the
	// first entry is the time column.
	Schema []string
	// Drop lists schema columns removed after renaming (e.g. the duplicate
	// time column of the second sensor log).
	Drop []string
	// HeaderOffset is the number of lines skipped before the header line.
	HeaderOffset int
}

// Table is one run log in chronological order: a free-text time column and
// numeric sensor columns.
type Table struct {
	Times   []string
	Columns []string
	Values  [][]float64 // len(Times) rows of len(Columns) values
}

// Rows returns the number of readings.
func (t *Table) Rows() int { return len(t.Times) }

// ParseFile opens path and parses it with ParseTable.
func ParseFile(path string, opts ParseOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tbl, err := ParseTable(f, opts)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tbl, nil
}

// ParseTable reads a merged run log. The file is stored newest first; the
// returned table is reversed into chronological order. Rows with more fields
// than the header are skipped, shorter rows are padded with blanks, and any
// column holding a blank value is dropped before the schema is applied.
func ParseTable(r io.Reader, opts ParseOptions) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for i := 0; i < opts.HeaderOffset; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("file ended inside the %d-line header offset", opts.HeaderOffset)
		}
	}
	if !sc.Scan() {
		return nil, fmt.Errorf("missing header line")
	}
	width := len(splitFields(sc.Text()))

	var raw [][]string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := splitFields(line)
		if len(fields) > width {
			continue
		}
		for len(fields) < width {
			fields = append(fields, "")
		}
		raw = append(raw, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	keep := nonBlankColumns(raw, width)
	if len(keep) != len(opts.Schema) {
		return nil, fmt.Errorf("%w: %d non-blank columns, schema has %d", ErrSchemaMismatch, len(keep), len(opts.Schema))
	}

	drop := make(map[string]bool, len(opts.Drop))
	for _, name := range opts.Drop {
		drop[name] = true
	}
	if drop[opts.Schema[0]] {
		return nil, fmt.Errorf("cannot drop time column %q", opts.Schema[0])
	}

	tbl := &Table{}
	var srcIdx []int
	for i, name := range opts.Schema[1:] {
		if drop[name] {
			continue
		}
		tbl.Columns = append(tbl.Columns, name)
		srcIdx = append(srcIdx, keep[i+1])
	}

	tbl.Times = make([]string, len(raw))
	tbl.Values = make([][]float64, len(raw))
	for i, fields := range raw {
		// stored newest first
		dst := len(raw) - 1 - i
		tbl.Times[dst] = strings.TrimSpace(fields[keep[0]])
		row := make([]float64, len(srcIdx))
		for j, src := range srcIdx {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[src]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i+1, tbl.Columns[j], err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d column %s: %w: %q", i+1, tbl.Columns[j], ErrNonFinite, fields[src])
			}
			row[j] = v
		}
		tbl.Values[dst] = row
	}
	return tbl, nil
}

func splitFields(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	return strings.Fields(line)
}

func nonBlankColumns(rows [][]string, width int) []int {
	keep := make([]int, 0, width)
	for c := 0; c < width; c++ {
		blank := len(rows) == 0
		for _, fields := range rows {
			if strings.TrimSpace(fields[c]) == "" {
				blank = true
				break
			}
		}
		if !blank {
			keep = append(keep, c)
		}
	}
	return keep
}
