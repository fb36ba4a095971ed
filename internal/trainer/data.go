package trainer

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"siamese-iris/internal/dataset"
)

// Data holds the pair datasets of one run.
type Data struct {
	Train   *dataset.PairDataset
	Test    *dataset.PairDataset
	Classes int
}

// PrepareData discovers the images under cfg.DatasetDir, splits them per
// class with cfg.TrainFraction and decodes both halves.
func PrepareData(ctx context.Context, cfg RunConfig, log *zap.SugaredLogger) (*Data, error) {
	records, err := dataset.DiscoverSource(ctx, cfg.DatasetDir)
	if err != nil {
		return nil, err
	}
	labels := dataset.Labels(records)
	classes := dataset.CountClasses(labels)

	trainIdx, testIdx, err := dataset.StratifiedSplit(labels, cfg.TrainFraction, cfg.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "split dataset")
	}
	log.Infow("dataset discovered",
		"source", cfg.DatasetDir,
		"images", len(records),
		"classes", classes,
		"train_images", len(trainIdx),
		"test_images", len(testIdx),
	)

	trainImages, err := dataset.LoadImages(ctx, dataset.Select(records, trainIdx), cfg.ImageSize, cfg.ImageSize, cfg.NumWorkers)
	if err != nil {
		return nil, errors.Wrap(err, "train split")
	}
	testImages, err := dataset.LoadImages(ctx, dataset.Select(records, testIdx), cfg.ImageSize, cfg.ImageSize, cfg.NumWorkers)
	if err != nil {
		return nil, errors.Wrap(err, "test split")
	}

	train, err := dataset.NewPairDataset(trainImages)
	if err != nil {
		return nil, errors.Wrap(err, "train pairs")
	}
	test, err := dataset.NewPairDataset(testImages)
	if err != nil {
		return nil, errors.Wrap(err, "test pairs")
	}
	return &Data{Train: train, Test: test, Classes: classes}, nil
}
