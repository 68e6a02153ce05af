// Command prepare turns the raw simulator logs of every accident category
// into the feature and label tables read by the train command.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/banshee-data/accident.classifier/internal/config"
	"github.com/banshee-data/accident.classifier/internal/pipeline"
	"github.com/banshee-data/accident.classifier/internal/version"
)

var (
	configPath  = flag.String("config", "", "experiment config JSON (default: $ACCIDENT_CONFIG, then built-in defaults)")
	rawDir      = flag.String("raw", "", "override raw_data_dir")
	timeLength  = flag.Int("time-length", 0, "override time_length")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", xerrors.New(err)))
	os.Exit(1)
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("prepare"))
		return
	}
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(config.Resolve(*configPath, config.EnvConfigPath, ""))
	if err != nil {
		fatal(logger, "config", err)
	}
	if *rawDir != "" {
		cfg.RawDataDir = *rawDir
	}
	if *timeLength > 0 {
		cfg.TimeLength = *timeLength
	}
	if err := cfg.Validate(); err != nil {
		fatal(logger, "config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Prepare(ctx, cfg)
	if err != nil {
		fatal(logger, "prepare failed", err)
	}
	for _, c := range res.Categories {
		fmt.Printf("%-6s %3d runs %6d rows %5d windows\n", c.Category, c.Runs, c.Rows, c.Windows)
	}
	fmt.Printf("wrote %d rows (%d windows of %d, columns %v)\n", res.Rows, res.Windows, cfg.TimeLength, res.Columns)
	fmt.Printf("  features: %s\n  labels:   %s\n", res.DatasetPath, res.LabelPath)
}
