// Package pipeline wires the stages of an experiment together. Prepare
// turns raw simulator logs into the feature and label tables; Train fits
// and evaluates a classifier on them. Both take the configuration
// explicitly and keep no state between calls.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/accident.classifier/internal/config"
	"github.com/banshee-data/accident.classifier/internal/dataset"
	"github.com/banshee-data/accident.classifier/internal/monitoring"
	"github.com/banshee-data/accident.classifier/internal/rawlog"
	"github.com/banshee-data/accident.classifier/internal/security"
	"github.com/banshee-data/accident.classifier/internal/tableio"
)

// CategorySummary describes what one category contributed to the dataset.
type CategorySummary struct {
	Category string
	Runs     int
	Rows     int
	Windows  int
}

// PrepareResult describes the tables written by Prepare.
type PrepareResult struct {
	Columns     []string
	Rows        int
	Windows     int
	Categories  []CategorySummary
	DatasetPath string
	LabelPath   string
}

// Prepare reads every category's raw logs, aligns each run to one row per
// second, windows and labels the result and writes the feature and label
// tables. Raw files are never modified; merged run logs are written under
// <work_dir>/<category>/, which is recreated on every call.
func Prepare(ctx context.Context, cfg *config.ExperimentConfig) (*PrepareResult, error) {
	policy, err := dataset.ParseMissingPolicy(cfg.MissingSeconds)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}

	var blocks []dataset.CategoryBlock
	res := &PrepareResult{}
	for _, category := range cfg.Categories {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("prepare: %w", err)
		}
		rows, runs, err := prepareCategory(ctx, cfg, category, policy)
		if err != nil {
			return nil, fmt.Errorf("prepare: category %s: %w", category, err)
		}
		r, _ := rows.Dims()
		monitoring.Stagef("prepare", "category %s: %d runs, %d aligned rows", category, runs, r)
		blocks = append(blocks, dataset.CategoryBlock{Category: category, Rows: rows})
		res.Categories = append(res.Categories, CategorySummary{Category: category, Runs: runs, Rows: r})
	}

	mode, err := dataset.ParseLabelMode(cfg.LabelMode)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	counts := make([]dataset.LabelCount, len(cfg.CategoryCounts))
	for i, cc := range cfg.CategoryCounts {
		counts[i] = dataset.LabelCount{Label: cc.Label, Count: cc.Count}
	}
	a, err := dataset.Assemble(blocks, cfg.TimeLength, mode, counts)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	for i, n := range a.PerCategory {
		res.Categories[i].Windows = n
	}

	res.Columns = cfg.FeatureColumns()
	res.Rows, _ = a.Table.Dims()
	res.Windows = len(a.Windows)
	res.DatasetPath = cfg.DatasetPath()
	res.LabelPath = cfg.LabelPath()

	if err := tableio.WriteFeaturesFile(res.DatasetPath, tableio.FeatureTable{Columns: res.Columns, Rows: a.Table}); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	if err := tableio.WriteLabelsFile(res.LabelPath, a.Labels); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	monitoring.Stagef("prepare", "wrote %d rows (%d windows) to %s", res.Rows, res.Windows, res.DatasetPath)
	return res, nil
}

// prepareCategory merges, parses and aligns every run of one category and
// stacks the aligned runs in run order.
func prepareCategory(ctx context.Context, cfg *config.ExperimentConfig, category string, policy dataset.MissingPolicy) (*mat.Dense, int, error) {
	files, err := rawlog.Discover(filepath.Join(cfg.RawDataDir, category))
	if err != nil {
		return nil, 0, err
	}
	pairs, err := rawlog.Pairs(files)
	if err != nil {
		return nil, 0, err
	}
	if len(pairs) == 0 {
		return nil, 0, fmt.Errorf("no raw logs found")
	}

	workDir := filepath.Join(cfg.WorkDir, category)
	if err := security.ValidateChildDir(workDir, cfg.WorkDir); err != nil {
		return nil, 0, err
	}
	if err := os.RemoveAll(workDir); err != nil {
		return nil, 0, fmt.Errorf("clear work dir: %w", err)
	}
	merged := make([]string, len(pairs))
	for i, p := range pairs {
		merged[i] = filepath.Join(workDir, rawlog.MergedName(i, category))
		if err := rawlog.MergePairFiles(p, merged[i]); err != nil {
			return nil, 0, err
		}
	}

	opts := rawlog.ParseOptions{
		Schema:       cfg.SensorSchema,
		Drop:         cfg.DropColumns,
		HeaderOffset: cfg.HeaderOffset,
	}
	span := cfg.GetSpanSeconds()
	aligned := make([]*mat.Dense, len(merged))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.GetLoadWorkers())
	for i, path := range merged {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tbl, err := rawlog.ParseFile(path, opts)
			if err != nil {
				return err
			}
			rows, err := dataset.AlignSeconds(tbl, span, policy)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			aligned[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	stacked, err := dataset.StackRows(aligned)
	if err != nil {
		return nil, 0, err
	}
	return stacked, len(aligned), nil
}
