package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/accident.classifier/internal/dataset"
)

// DefaultConfigPath is the path to the canonical experiment defaults file.
const DefaultConfigPath = "config/experiment.defaults.json"

// Scaler fit modes.
const (
	ScalerFitTrain = "train"
	ScalerFitAll   = "all" // legacy: fit on train+test before windowing
)

// CategoryCount is one entry of the ordered label -> window count mapping
// used by the legacy counts label mode.
type CategoryCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ExperimentConfig holds every path, window length, count and
// hyperparameter of one experiment. It is passed explicitly to each stage.
type ExperimentConfig struct {
	// Paths
	RawDataDir string `json:"raw_data_dir"`
	WorkDir    string `json:"work_dir"`
	OutputDir  string `json:"output_dir"`
	DBPath     string `json:"db_path"`
	ReportDir  string `json:"report_dir"`

	// Raw log layout
	Categories   []string `json:"categories"`
	SensorSchema []string `json:"sensor_schema"`
	DropColumns  []string `json:"drop_columns"`
	HeaderOffset int      `json:"header_offset"`

	// Preprocessing
	TimeLength          int             `json:"time_length"`
	SpanSeconds         int             `json:"span_seconds,omitempty"` // 0 = time_length
	InterpolationNumber int             `json:"interpolation_number"`
	MissingSeconds      string          `json:"missing_seconds"`
	LabelMode           string          `json:"label_mode"`
	CategoryCounts      []CategoryCount `json:"category_counts,omitempty"`
	LoadWorkers         int             `json:"load_workers"`

	// Model
	FeatureCount int `json:"feature_count"`
	HiddenSize   int `json:"hidden_size"`
	NumClasses   int `json:"num_classes,omitempty"` // 0 = number of distinct labels

	// Training
	TestFraction  float64 `json:"test_fraction"`
	Seed          uint64  `json:"seed"`
	BatchSize     int     `json:"batch_size"` // 0 = whole training split
	Epochs        int     `json:"epochs"`
	EvalEvery     int     `json:"eval_every"`
	LearningRate  float64 `json:"learning_rate"`
	ScalerFit     string  `json:"scaler_fit"`
	ReportSamples int     `json:"report_samples"`
}

// DefaultExperimentConfig returns the built-in defaults. They mirror
// config/experiment.defaults.json.
func DefaultExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{
		RawDataDir: "raw_data",
		WorkDir:    "Pre_data",
		OutputDir:  "processed_data",
		DBPath:     "experiments.db",
		ReportDir:  "reports",

		Categories: []string{"LOCA", "MSLB", "SGTR", "NORM"},
		SensorSchema: []string{
			"Time1", "RegulatorPressure", "RegulatorWaterLevel", "UpFlow",
			"SG1FeedwaterFlow", "SG1OutletPressure", "SG1SteamFlow", "Time2",
			"MainSteamPipePressure", "ContainmentPressure", "ContainmentTemperature",
			"ContainmentRadioactivity", "SumpWaterLevel", "AverageCoolantTemperature",
		},
		DropColumns:  []string{"Time2"},
		HeaderOffset: 1,

		TimeLength:          20,
		InterpolationNumber: 3,
		MissingSeconds:      string(dataset.MissingFail),
		LabelMode:           string(dataset.LabelFromCategory),
		LoadWorkers:         4,

		FeatureCount: 12,
		HiddenSize:   20,

		TestFraction:  0.2,
		Seed:          6,
		BatchSize:     0,
		Epochs:        100,
		EvalEvery:     10,
		LearningRate:  0.01,
		ScalerFit:     ScalerFitTrain,
		ReportSamples: 20,
	}
}

// LoadExperimentConfig loads an ExperimentConfig from a JSON file.
// Fields omitted from the file keep their default values.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultExperimentConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Intended for test setup.
func MustLoadDefaultConfig() *ExperimentConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadExperimentConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *ExperimentConfig) Validate() error {
	if c.TimeLength <= 0 {
		return fmt.Errorf("time_length must be positive, got %d", c.TimeLength)
	}
	if c.SpanSeconds < 0 {
		return fmt.Errorf("span_seconds must be non-negative, got %d", c.SpanSeconds)
	}
	if c.HeaderOffset < 0 {
		return fmt.Errorf("header_offset must be non-negative, got %d", c.HeaderOffset)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories must not be empty")
	}
	seen := make(map[string]bool, len(c.Categories))
	for _, cat := range c.Categories {
		if cat == "" {
			return fmt.Errorf("categories must not contain empty names")
		}
		if seen[cat] {
			return fmt.Errorf("duplicate category %q", cat)
		}
		seen[cat] = true
	}
	if len(c.SensorSchema) < 2 {
		return fmt.Errorf("sensor_schema needs a time column and at least one sensor, got %d columns", len(c.SensorSchema))
	}

	if _, err := dataset.ParseMissingPolicy(c.MissingSeconds); err != nil {
		return fmt.Errorf("invalid missing_seconds: %w", err)
	}

	mode, err := dataset.ParseLabelMode(c.LabelMode)
	if err != nil {
		return fmt.Errorf("invalid label_mode: %w", err)
	}
	if mode == dataset.LabelByCount {
		if len(c.CategoryCounts) == 0 {
			return fmt.Errorf("label_mode %q requires category_counts", mode)
		}
		for _, cc := range c.CategoryCounts {
			if cc.Label == "" {
				return fmt.Errorf("category_counts entries need a label")
			}
			if cc.Count < 0 {
				return fmt.Errorf("category_counts[%s] must be non-negative, got %d", cc.Label, cc.Count)
			}
		}
	}

	switch c.ScalerFit {
	case ScalerFitTrain, ScalerFitAll:
	default:
		return fmt.Errorf("invalid scaler_fit %q", c.ScalerFit)
	}

	if c.FeatureCount <= 0 {
		return fmt.Errorf("feature_count is required and must be positive, got %d", c.FeatureCount)
	}
	if c.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	}
	if c.NumClasses < 0 {
		return fmt.Errorf("num_classes must be non-negative, got %d", c.NumClasses)
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		return fmt.Errorf("test_fraction must be between 0 and 1, got %f", c.TestFraction)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative, got %d", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.EvalEvery <= 0 {
		return fmt.Errorf("eval_every must be positive, got %d", c.EvalEvery)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %f", c.LearningRate)
	}
	if c.ReportSamples < 0 {
		return fmt.Errorf("report_samples must be non-negative, got %d", c.ReportSamples)
	}
	if c.LoadWorkers < 0 {
		return fmt.Errorf("load_workers must be non-negative, got %d", c.LoadWorkers)
	}
	return nil
}

// GetSpanSeconds returns the number of aligned seconds per raw run.
func (c *ExperimentConfig) GetSpanSeconds() int {
	if c.SpanSeconds == 0 {
		return c.TimeLength
	}
	return c.SpanSeconds
}

// GetLoadWorkers returns the raw-file parsing concurrency.
func (c *ExperimentConfig) GetLoadWorkers() int {
	if c.LoadWorkers == 0 {
		return 1
	}
	return c.LoadWorkers
}

// DatasetPath returns the feature table CSV path for this time length and
// interpolation run.
func (c *ExperimentConfig) DatasetPath() string {
	return filepath.Join(c.OutputDir, "total_dataset"+c.runTag()+".csv")
}

// LabelPath returns the label CSV path matching DatasetPath.
func (c *ExperimentConfig) LabelPath() string {
	return filepath.Join(c.OutputDir, "total_labelset"+c.runTag()+".csv")
}

func (c *ExperimentConfig) runTag() string {
	return strconv.Itoa(c.TimeLength) + strconv.Itoa(c.InterpolationNumber)
}

// FeatureColumns returns the sensor columns that survive preprocessing:
// the schema without the time column and the dropped columns.
func (c *ExperimentConfig) FeatureColumns() []string {
	drop := make(map[string]bool, len(c.DropColumns))
	for _, d := range c.DropColumns {
		drop[d] = true
	}
	var cols []string
	for i, name := range c.SensorSchema {
		if i == 0 || drop[name] {
			continue
		}
		cols = append(cols, name)
	}
	return cols
}
