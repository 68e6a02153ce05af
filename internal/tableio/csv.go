// Package tableio reads and writes the intermediate files passed from the
// prepare stage to the train stage: the flat feature table and the label
// column. Both are CSV with a leading unnamed index column.
package tableio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// LabelColumn is the header of the label column in a label file.
const LabelColumn = "0"

// FeatureTable is a feature matrix with its column names.
type FeatureTable struct {
	Columns []string
	Rows    *mat.Dense
}

// WriteFeatures writes the table with a header of column names and a
// leading row index column.
func WriteFeatures(w io.Writer, t FeatureTable) error {
	rows, cols := t.Rows.Dims()
	if cols != len(t.Columns) {
		return fmt.Errorf("feature table has %d columns but %d names", cols, len(t.Columns))
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{""}, t.Columns...)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	record := make([]string, cols+1)
	for i := 0; i < rows; i++ {
		record[0] = strconv.Itoa(i)
		for j, v := range t.Rows.RawRowView(i) {
			record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFeatures parses a feature table written by WriteFeatures. The first
// column is the row index and is discarded.
func ReadFeatures(r io.Reader) (FeatureTable, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return FeatureTable{}, fmt.Errorf("feature table is empty")
		}
		return FeatureTable{}, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return FeatureTable{}, fmt.Errorf("feature table header has %d fields, want index plus at least one feature", len(header))
	}
	columns := append([]string(nil), header[1:]...)

	var data []float64
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return FeatureTable{}, fmt.Errorf("line %d: %w", line, err)
		}
		for j, field := range record[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return FeatureTable{}, fmt.Errorf("line %d column %s: invalid value %q", line, columns[j], field)
			}
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return FeatureTable{}, fmt.Errorf("feature table has no rows")
	}
	return FeatureTable{Columns: columns, Rows: mat.NewDense(len(data)/len(columns), len(columns), data)}, nil
}

// WriteLabels writes one label per row under the LabelColumn header.
func WriteLabels(w io.Writer, labels []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"", LabelColumn}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, l := range labels {
		if err := cw.Write([]string{strconv.Itoa(i), l}); err != nil {
			return fmt.Errorf("failed to write label %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadLabels returns the values of the LabelColumn column. Other columns,
// including the index, are ignored.
func ReadLabels(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("label file is empty")
	}
	col := -1
	for i, h := range records[0] {
		if h == LabelColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("label file has no %q column", LabelColumn)
	}
	labels := make([]string, 0, len(records)-1)
	for _, record := range records[1:] {
		labels = append(labels, record[col])
	}
	return labels, nil
}

// WriteFeaturesFile writes the table to path, creating parent directories.
func WriteFeaturesFile(path string, t FeatureTable) error {
	return writeFile(path, func(w io.Writer) error { return WriteFeatures(w, t) })
}

// ReadFeaturesFile reads a feature table from path.
func ReadFeaturesFile(path string) (FeatureTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return FeatureTable{}, fmt.Errorf("failed to open feature table: %w", err)
	}
	defer f.Close()
	t, err := ReadFeatures(f)
	if err != nil {
		return FeatureTable{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteLabelsFile writes labels to path, creating parent directories.
func WriteLabelsFile(path string, labels []string) error {
	return writeFile(path, func(w io.Writer) error { return WriteLabels(w, labels) })
}

// ReadLabelsFile reads labels from path.
func ReadLabelsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close()
	labels, err := ReadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return labels, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
