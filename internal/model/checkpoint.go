package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/accident.classifier/internal/dataset"
)

// Checkpoint is the persisted form of a trained classifier together with
// the preprocessing needed to apply it to new windows.
type Checkpoint struct {
	InputSize  int                    `json:"input_size"`
	HiddenSize int                    `json:"hidden_size"`
	NumClasses int                    `json:"num_classes"`
	WindowLen  int                    `json:"window_length"`
	Classes    []string               `json:"classes"`
	Features   []string               `json:"features,omitempty"`
	Scaler     *dataset.MinMaxScaler  `json:"scaler,omitempty"`
	Parameters map[string][]float64   `json:"parameters"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// NewCheckpoint snapshots the classifier's current parameters.
func NewCheckpoint(c *Classifier, windowLen int, classes, features []string, scaler *dataset.MinMaxScaler) *Checkpoint {
	cp := &Checkpoint{
		InputSize:  c.InputSize,
		HiddenSize: c.HiddenSize,
		NumClasses: c.NumClasses,
		WindowLen:  windowLen,
		Classes:    classes,
		Features:   features,
		Scaler:     scaler,
		Parameters: make(map[string][]float64),
	}
	for _, n := range c.params.Named() {
		cp.Parameters[n.Name] = append([]float64(nil), n.Data...)
	}
	return cp
}

// Classifier rebuilds the classifier. Every parameter must be present with
// the length implied by the sizes.
func (cp *Checkpoint) Classifier() (*Classifier, error) {
	// num_classes may reserve outputs for labels absent from training
	if len(cp.Classes) > cp.NumClasses {
		return nil, fmt.Errorf("checkpoint lists %d classes for a %d-class model", len(cp.Classes), cp.NumClasses)
	}
	if cp.Scaler != nil && cp.Scaler.Features() != cp.InputSize {
		return nil, fmt.Errorf("%w: scaler has %d features, model expects %d", ErrShapeMismatch, cp.Scaler.Features(), cp.InputSize)
	}
	c, err := NewClassifier(cp.InputSize, cp.HiddenSize, cp.NumClasses, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid checkpoint sizes: %w", err)
	}
	for _, n := range c.params.Named() {
		src, ok := cp.Parameters[n.Name]
		if !ok {
			return nil, fmt.Errorf("checkpoint is missing parameter %s", n.Name)
		}
		if len(src) != len(n.Data) {
			return nil, fmt.Errorf("%w: parameter %s has %d values, want %d", ErrShapeMismatch, n.Name, len(src), len(n.Data))
		}
		copy(n.Data, src)
	}
	return c, nil
}

// Save writes the checkpoint as indented JSON, creating parent directories.
func (cp *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by Save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}
