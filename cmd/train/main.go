// Command train fits and evaluates the accident classifier on the tables
// written by the prepare command and records the run in the experiment
// database.
//
//	train [flags]                 run one experiment
//	train migrate <cmd> [args]    manage the experiment database schema
//	train runs [-n N]             list recent runs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/banshee-data/accident.classifier/internal/config"
	"github.com/banshee-data/accident.classifier/internal/pipeline"
	"github.com/banshee-data/accident.classifier/internal/store"
	"github.com/banshee-data/accident.classifier/internal/version"
)

var (
	configPath  = flag.String("config", "", "experiment config JSON (default: $ACCIDENT_CONFIG, then built-in defaults)")
	dbPath      = flag.String("db", "", "experiment database (default: $ACCIDENT_DB, then db_path from the config)")
	epochs      = flag.Int("epochs", 0, "override epochs")
	seed        = flag.Int64("seed", -1, "override seed")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", xerrors.New(err)))
	os.Exit(1)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("train"))
		return
	}
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := config.Resolve(*configPath, config.EnvConfigPath, "")

	// store commands only need the database path
	switch flag.Arg(0) {
	case "migrate", "runs":
		path, err := config.ResolveDBPath(*dbPath, cfgPath)
		if err != nil {
			fatal(logger, "config", err)
		}
		if flag.Arg(0) == "migrate" {
			err = store.RunMigrateCommand(flag.Args()[1:], path, os.Stdin, os.Stdout)
		} else {
			err = listRuns(path, flag.Args()[1:])
		}
		if err != nil {
			fatal(logger, flag.Arg(0), err)
		}
		return
	case "":
	default:
		fatal(logger, "usage", fmt.Errorf("unknown command %q (want migrate or runs)", flag.Arg(0)))
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal(logger, "config", err)
	}
	if *epochs > 0 {
		cfg.Epochs = *epochs
	}
	if *seed >= 0 {
		cfg.Seed = uint64(*seed)
	}
	if err := cfg.Validate(); err != nil {
		fatal(logger, "config", err)
	}
	cfg.DBPath = config.Resolve(*dbPath, config.EnvDBPath, cfg.DBPath)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal(logger, "store", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Train(ctx, cfg, pipeline.TrainOptions{
		Runs:    store.NewRunStore(db, nil),
		Console: os.Stdout,
	})
	if errors.Is(err, context.Canceled) && res != nil {
		logger.Warn("training interrupted", slog.String("run_id", res.RunID), slog.String("checkpoint", res.CheckpointPath))
		db.Close()
		os.Exit(130)
	}
	if err != nil {
		db.Close()
		fatal(logger, "train failed", err)
	}
	fmt.Printf("checkpoint: %s\n", res.CheckpointPath)
	if res.PlotPath != "" {
		fmt.Printf("reports:    %s, %s\n", res.PlotPath, res.ChartPath)
	}
}

func listRuns(path string, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	n := fs.Int("n", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := store.NewRunStore(db, nil).ListRuns(*n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tTRAIN/TEST\tMAX ACC\tFINAL ACC\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%.4f\t%.4f\t%s\n",
			r.RunID, time.Unix(0, r.StartedAt).Format(time.DateTime), r.Status,
			r.TrainWindows, r.TestWindows, r.MaxAccuracy, r.FinalAccuracy,
			time.Duration(r.DurationMS)*time.Millisecond)
	}
	return tw.Flush()
}
