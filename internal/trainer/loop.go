package trainer

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"siamese-iris/internal/checkpoint"
	"siamese-iris/internal/dataset"
	"siamese-iris/internal/device"
	"siamese-iris/internal/metrics"
	"siamese-iris/internal/model"
	"siamese-iris/internal/nn"
	"siamese-iris/internal/optim"
	"siamese-iris/internal/report"
	"siamese-iris/internal/runlog"
)

// evalChunk bounds how many pairs go through the network at once during
// evaluation. Batch norm uses running statistics there, so chunking does not
// change the result.
const evalChunk = 64

// testSeedOffset separates the test pair stream from the train stream.
const testSeedOffset = 1_000_003

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	DatasetDir    string
	BatchSize     int
	TestBatchSize int
	Epochs        int
	LR            float64
	Gamma         float64
	Optimizer     string
	NoCUDA        bool
	NoMPS         bool
	DryRun        bool
	Seed          int64
	LogInterval   int
	SaveModel     bool
	ModelPath     string
	Resume        string
	NumWorkers    int
	ImageSize     int
	TrainFraction float64
	Width         int
	Shuffle       bool
	RunDB         string
	PlotPath      string
}

func (c *RunConfig) validate() error {
	if c.BatchSize <= 0 || c.TestBatchSize <= 0 {
		return errors.New("trainer: batch sizes must be > 0")
	}
	if c.Epochs <= 0 {
		return errors.New("trainer: epochs must be > 0")
	}
	if c.LogInterval <= 0 {
		c.LogInterval = 10
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	return nil
}

// Run executes the training workload: prepare data, build or resume the
// network, then train, evaluate and decay the learning rate once per epoch.
func Run(ctx context.Context, cfg RunConfig, log *zap.SugaredLogger) (metrics.History, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dev := device.Select(cfg.NoCUDA, cfg.NoMPS)
	if dev.Fallback() {
		log.Infow("no accelerator backend in this build, using the CPU", "requested", dev.Requested)
	}
	log.Infow("device selected", "device", dev.Name, "workers", dev.Workers, "cpu", dev.CPU.Brand, "avx2", dev.CPU.Has("AVX2"))

	data, err := PrepareData(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Infow("pairs ready", "classes", data.Classes, "train_pairs", data.Train.Len(), "test_pairs", data.Test.Len())

	net := model.NewSiamese(model.Config{Width: cfg.Width, ImageSize: cfg.ImageSize, Seed: cfg.Seed})
	startEpoch := 1
	if cfg.Resume != "" {
		st, err := checkpoint.Load(cfg.Resume)
		if err != nil {
			return nil, errors.Wrap(err, "resume")
		}
		if err := net.Restore(st); err != nil {
			return nil, errors.Wrap(err, "resume")
		}
		if st.Meta.ImageSize != cfg.ImageSize {
			log.Warnw("checkpoint was trained on a different image size",
				"checkpoint", st.Meta.ImageSize, "configured", cfg.ImageSize)
		}
		startEpoch = st.Meta.Epoch + 1
		log.Infow("resumed from checkpoint", "path", cfg.Resume, "epoch", st.Meta.Epoch)
	}
	paramCount := nn.CountParams(net.Params())
	log.Infow("model built", "width", cfg.Width, "params", humanize.Comma(int64(paramCount)))

	opt, err := optim.New(cfg.Optimizer, net.Params(), cfg.LR)
	if err != nil {
		return nil, err
	}
	sched := optim.NewStepLR(opt, 1, cfg.Gamma)
	sched.Seek(startEpoch - 1)

	var (
		store *runlog.Store
		runID string
	)
	if cfg.RunDB != "" {
		store, err = runlog.Open(ctx, cfg.RunDB)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		runID, err = store.StartRun(ctx, runlog.RunInfo{
			DatasetDir: cfg.DatasetDir,
			Device:     dev.Name,
			Config:     cfg,
			TrainPairs: data.Train.Len(),
			TestPairs:  data.Test.Len(),
			ParamCount: paramCount,
		})
		if err != nil {
			return nil, err
		}
		log.Infow("run recorded", "run_id", runID, "db", cfg.RunDB)
	}

	history, runErr := runEpochs(ctx, cfg, log, net, opt, sched, data, startEpoch, store, runID)

	var ckptPath string
	if runErr == nil && cfg.SaveModel {
		ckptPath = cfg.ModelPath
		size, err := checkpoint.Save(ckptPath, net.State(startEpoch-1+len(history)))
		if err != nil {
			runErr = err
			ckptPath = ""
		} else {
			log.Infow("model saved", "path", ckptPath, "size", humanize.Bytes(uint64(size)))
		}
	}
	if runErr == nil && cfg.PlotPath != "" && len(history) > 0 {
		if err := report.SaveCurves(cfg.PlotPath, "siamese iris", report.CurvesFromHistory(history)); err != nil {
			runErr = err
		} else {
			log.Infow("loss curve written", "path", cfg.PlotPath)
		}
	}

	if store != nil {
		status := runlog.StatusCompleted
		switch {
		case ctx.Err() != nil:
			status = runlog.StatusCancelled
		case runErr != nil:
			status = runlog.StatusFailed
		}
		// The run context may already be cancelled; the final status must still land.
		if err := store.FinishRun(context.Background(), runID, status, ckptPath); err != nil {
			log.Warnw("could not finish run record", "run_id", runID, "error", err)
		}
	}
	if best, ok := history.Best(); ok {
		log.Infow("training finished",
			"epochs", len(history),
			"best_epoch", best.Epoch,
			"best_accuracy", best.Accuracy(),
			"recent_mean_accuracy", history.MeanAccuracy(3),
		)
	}
	return history, runErr
}

func runEpochs(
	ctx context.Context,
	cfg RunConfig,
	log *zap.SugaredLogger,
	net model.Model,
	opt optim.Optimizer,
	sched *optim.StepLR,
	data *Data,
	startEpoch int,
	store *runlog.Store,
	runID string,
) (metrics.History, error) {
	var history metrics.History
	for epoch := startEpoch; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		lr := opt.LR()
		trainLoss, err := TrainEpoch(ctx, net, opt, data.Train, epoch, cfg, log)
		if err != nil {
			return history, err
		}
		eval, err := Evaluate(ctx, net, data.Test, epoch, cfg, log)
		if err != nil {
			return history, err
		}
		sched.Step()

		result := metrics.Epoch{
			Epoch:     epoch,
			LR:        lr,
			TrainLoss: trainLoss,
			TestLoss:  eval.Loss,
			Correct:   eval.Correct,
			Total:     eval.Total,
			Duration:  time.Since(start),
		}
		history = append(history, result)
		log.Debugw("epoch done",
			"epoch", epoch,
			"schedule_step", sched.Epoch(),
			"lr", lr,
			"next_lr", opt.LR(),
			"elapsed", result.Duration,
		)
		if store != nil {
			if err := store.RecordEpoch(ctx, runID, result); err != nil {
				return history, err
			}
		}
	}
	return history, nil
}

// TrainEpoch runs one pass over ds and returns the mean batch loss. A progress
// line is logged every cfg.LogInterval batches; with cfg.DryRun the epoch ends
// after the first one.
func TrainEpoch(
	ctx context.Context,
	net model.Model,
	opt optim.Optimizer,
	ds *dataset.PairDataset,
	epoch int,
	cfg RunConfig,
	log *zap.SugaredLogger,
) (float64, error) {
	loaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs, err := dataset.StartLoader(loaderCtx, dataset.LoaderOptions{
		Dataset:    ds,
		BatchSize:  cfg.BatchSize,
		Epoch:      epoch,
		Seed:       cfg.Seed,
		NumWorkers: cfg.NumWorkers,
		Shuffle:    cfg.Shuffle,
	})
	if err != nil {
		return 0, err
	}

	numBatches := dataset.NumBatches(ds.Len(), cfg.BatchSize)
	var (
		window    metrics.Window
		lossSum   float64
		processed int
	)
	waitStart := time.Now()
	for batchIdx := 0; ; batchIdx++ {
		batch, ok := <-batches
		if !ok {
			break
		}
		dataTime := time.Since(waitStart)

		computeStart := time.Now()
		opt.ZeroGrad()
		probs := net.Forward(batch.First, batch.Second, true)
		loss, grad := nn.BCELoss(probs, batch.Targets)
		net.Backward(grad)
		opt.Step()
		window.Record(batch.Size(), dataTime, time.Since(computeStart), loss)
		lossSum += loss
		processed++

		if batchIdx%cfg.LogInterval == 0 {
			log.Infof("Train Epoch: %d [%d/%d (%.0f%%)]\tLoss: %.6f",
				epoch, batchIdx*cfg.BatchSize, ds.Len(), 100*float64(batchIdx)/float64(numBatches), loss)
			snap := window.Snapshot()
			log.Debugw("throughput",
				"pairs_per_sec", snap.PairsPerSec,
				"data_ms", snap.AvgDataMS,
				"compute_ms", snap.AvgComputeMS,
				"mean_loss", snap.MeanLoss,
				"median_loss", snap.MedianLoss,
			)
			if cfg.DryRun {
				break
			}
		}
		waitStart = time.Now()
	}
	cancel()
	log.Debugw("epoch pairs", "epoch", epoch, "pairs", window.Total(), "batches", processed)

	if err := <-errs; err != nil {
		return 0, errors.Wrapf(err, "epoch %d", epoch)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if processed == 0 {
		return 0, nil
	}
	return lossSum / float64(processed), nil
}

// EvalResult is the outcome of one evaluation pass.
type EvalResult struct {
	Loss    float64
	Correct int
	Total   int
}

// Accuracy is Correct/Total.
func (r EvalResult) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Evaluate scores freshly drawn pairs of ds without touching parameters. The
// reported loss is the sum of per-batch mean losses divided by the number of
// pairs; a pair counts as correct when (prob > 0.5) matches its target.
func Evaluate(
	ctx context.Context,
	net model.Model,
	ds *dataset.PairDataset,
	epoch int,
	cfg RunConfig,
	log *zap.SugaredLogger,
) (EvalResult, error) {
	loaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches, errs, err := dataset.StartLoader(loaderCtx, dataset.LoaderOptions{
		Dataset:    ds,
		BatchSize:  cfg.TestBatchSize,
		Epoch:      epoch,
		Seed:       cfg.Seed + testSeedOffset,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return EvalResult{}, err
	}

	var res EvalResult
	for batch := range batches {
		probs := predict(net, batch)
		loss, _ := nn.BCELoss(probs, batch.Targets)
		res.Loss += loss
		for i, p := range probs {
			if model.Same(p) == (batch.Targets[i] == 1) {
				res.Correct++
			}
		}
		res.Total += batch.Size()
	}
	if err := <-errs; err != nil {
		return EvalResult{}, errors.Wrapf(err, "evaluate epoch %d", epoch)
	}
	if err := ctx.Err(); err != nil {
		return EvalResult{}, err
	}
	res.Loss /= float64(ds.Len())

	log.Infof("Test set: Average loss: %.4f, Accuracy: %d/%d (%.0f%%)",
		res.Loss, res.Correct, res.Total, 100*res.Accuracy())
	return res, nil
}

// predict runs the network in evaluation mode, evalChunk pairs at a time.
func predict(net model.Model, batch dataset.Batch) []float64 {
	n := batch.Size()
	probs := make([]float64, 0, n)
	for lo := 0; lo < n; lo += evalChunk {
		hi := lo + evalChunk
		if hi > n {
			hi = n
		}
		first := slicePairs(batch.First, lo, hi)
		second := slicePairs(batch.Second, lo, hi)
		probs = append(probs, net.Forward(first, second, false)...)
	}
	return probs
}

// slicePairs returns samples [lo, hi) of t as a tensor sharing t's data.
func slicePairs(t *nn.Tensor, lo, hi int) *nn.Tensor {
	stride := len(t.Data) / t.Batch()
	shape := append([]int{hi - lo}, t.Shape[1:]...)
	return nn.FromData(t.Data[lo*stride:hi*stride], shape...)
}
