package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"siamese-iris/internal/config"
	"siamese-iris/internal/logging"
	"siamese-iris/internal/trainer"
)

type args struct {
	Config        string   `arg:"--config" help:"path to YAML config (defaults apply when empty)"`
	DatasetDir    *string  `arg:"--dataset-dir" help:"dataset directory or .tar archive laid out as <class>/<image>"`
	BatchSize     *int     `arg:"--batch-size" help:"input batch size for training (default 64)"`
	TestBatchSize *int     `arg:"--test-batch-size" help:"input batch size for testing (default 1000)"`
	Epochs        *int     `arg:"--epochs" help:"number of epochs to train (default 14)"`
	LR            *float64 `arg:"--lr" help:"learning rate (default 1.0)"`
	Gamma         *float64 `arg:"--gamma" help:"learning rate step gamma (default 0.7)"`
	Optimizer     *string  `arg:"--optimizer" help:"adadelta or sgd (default adadelta)"`
	NoCUDA        *bool    `arg:"--no-cuda" help:"disables CUDA training"`
	NoMPS         *bool    `arg:"--no-mps" help:"disables macOS GPU training"`
	DryRun        *bool    `arg:"--dry-run" help:"quickly check a single pass"`
	Seed          *int64   `arg:"--seed" help:"random seed (default 42)"`
	LogInterval   *int     `arg:"--log-interval" help:"how many batches to wait before logging training status (default 10)"`
	SaveModel     *bool    `arg:"--save-model" help:"save the trained model"`
	ModelPath     *string  `arg:"--model-path" help:"checkpoint written by --save-model (default siamese_network.ckpt)"`
	Resume        *string  `arg:"--resume" help:"checkpoint to continue training from"`
	NumWorkers    *int     `arg:"--num-workers" help:"image decoding and batch loading goroutines (default 4)"`
	ImageSize     *int     `arg:"--image-size" help:"images are resized to NxN (default 128)"`
	TrainFraction *float64 `arg:"--train-fraction" help:"share of every class used for training (default 0.6)"`
	Width         *int     `arg:"--width" help:"channel width of the first backbone stage (default 64)"`
	RunDB         *string  `arg:"--run-db" help:"SQLite file recording run history"`
	PlotPath      *string  `arg:"--plot-path" help:"write loss and accuracy curves to this image"`
	LogLevel      *string  `arg:"--log-level" help:"debug, info, warn or error (default info)"`
}

func (args) Description() string {
	return "Trains a Siamese network that scores whether two iris images belong to the same eye."
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := config.Load(a.Config)
	if err != nil {
		fatal(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal(err)
	}
	cfg.ApplyOverrides(config.Overrides{
		DatasetDir:    a.DatasetDir,
		BatchSize:     a.BatchSize,
		TestBatchSize: a.TestBatchSize,
		Epochs:        a.Epochs,
		LR:            a.LR,
		Gamma:         a.Gamma,
		Optimizer:     a.Optimizer,
		NoCUDA:        a.NoCUDA,
		NoMPS:         a.NoMPS,
		DryRun:        a.DryRun,
		Seed:          a.Seed,
		LogInterval:   a.LogInterval,
		SaveModel:     a.SaveModel,
		ModelPath:     a.ModelPath,
		Resume:        a.Resume,
		NumWorkers:    a.NumWorkers,
		ImageSize:     a.ImageSize,
		TrainFraction: a.TrainFraction,
		Width:         a.Width,
		RunDB:         a.RunDB,
		PlotPath:      a.PlotPath,
		LogLevel:      a.LogLevel,
	})
	if err := cfg.Validate(); err != nil {
		fatal(errors.Wrap(err, "invalid config"))
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fatal(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := trainer.Run(ctx, runConfig(cfg), log); err != nil {
		log.Errorw("training failed", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func runConfig(cfg *config.Config) trainer.RunConfig {
	return trainer.RunConfig{
		DatasetDir:    cfg.DatasetDir,
		BatchSize:     cfg.BatchSize,
		TestBatchSize: cfg.TestBatchSize,
		Epochs:        cfg.Epochs,
		LR:            cfg.LR,
		Gamma:         cfg.Gamma,
		Optimizer:     cfg.Optimizer,
		NoCUDA:        cfg.NoCUDA,
		NoMPS:         cfg.NoMPS,
		DryRun:        cfg.DryRun,
		Seed:          cfg.Seed,
		LogInterval:   cfg.LogInterval,
		SaveModel:     cfg.SaveModel,
		ModelPath:     cfg.ModelPath,
		Resume:        cfg.Resume,
		NumWorkers:    cfg.NumWorkers,
		ImageSize:     cfg.ImageSize,
		TrainFraction: cfg.TrainFraction,
		Width:         cfg.Width,
		Shuffle:       cfg.Shuffle,
		RunDB:         cfg.RunDB,
		PlotPath:      cfg.PlotPath,
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "siamese-train:", err)
	os.Exit(1)
}
