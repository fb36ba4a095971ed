package dataset

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"siamese-iris/internal/nn"
)

// Batch is a minibatch of pairs. First and Second are [n, 1, H, W].
type Batch struct {
	First   *nn.Tensor
	Second  *nn.Tensor
	Targets []float64
}

// Size is the number of pairs in the batch.
func (b Batch) Size() int {
	return len(b.Targets)
}

// LoaderOptions configures one epoch of batches.
type LoaderOptions struct {
	Dataset    *PairDataset
	BatchSize  int
	Epoch      int
	Seed       int64
	NumWorkers int
	Shuffle    bool
}

// NumBatches is the number of batches needed to cover n items.
func NumBatches(n, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return (n + batchSize - 1) / batchSize
}

// StartLoader builds one epoch of batches on NumWorkers goroutines and
// delivers them in order. Every batch draws from its own generator seeded by
// (Seed, Epoch, batch number), so the stream does not depend on NumWorkers.
// The batch channel closes after the last batch, on error, or when ctx ends.
func StartLoader(parent context.Context, opts LoaderOptions) (<-chan Batch, <-chan error, error) {
	if opts.Dataset == nil || opts.Dataset.Len() == 0 {
		return nil, nil, errors.New("loader: empty dataset")
	}
	if opts.BatchSize <= 0 {
		return nil, nil, errors.New("loader: batch size must be > 0")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan batchJob, opts.NumWorkers)
	results := make(chan batchResult, opts.NumWorkers)
	out := make(chan Batch, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobs, epochOrder(opts), opts.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, opts, jobs, results)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		runAggregator(ctx, results, out, errCh)
	}()

	return out, errCh, nil
}

type batchJob struct {
	id      int
	indices []int
}

type batchResult struct {
	id    int
	batch Batch
	err   error
}

func epochOrder(opts LoaderOptions) []int {
	order := make([]int, opts.Dataset.Len())
	for i := range order {
		order[i] = i
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(batchSeed(opts.Seed, opts.Epoch, -1)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

func produceJobs(ctx context.Context, jobs chan<- batchJob, order []int, batchSize int) {
	defer close(jobs)
	for id := 0; id*batchSize < len(order); id++ {
		end := (id + 1) * batchSize
		if end > len(order) {
			end = len(order)
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- batchJob{id: id, indices: order[id*batchSize : end]}:
		}
	}
}

func worker(ctx context.Context, opts LoaderOptions, jobs <-chan batchJob, results chan<- batchResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			rng := rand.New(rand.NewSource(batchSeed(opts.Seed, opts.Epoch, job.id)))
			batch, err := buildBatch(opts.Dataset, job.indices, rng)
			select {
			case <-ctx.Done():
				return
			case results <- batchResult{id: job.id, batch: batch, err: err}:
			}
		}
	}
}

// runAggregator re-orders worker results by batch id.
func runAggregator(ctx context.Context, results <-chan batchResult, out chan<- Batch, errCh chan<- error) {
	pending := make(map[int]batchResult)
	next := 0
	for {
		if res, ok := pending[next]; ok {
			delete(pending, next)
			if res.err != nil {
				errCh <- res.err
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- res.batch:
			}
			next++
			continue
		}

		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			pending[res.id] = res
		}
	}
}

func buildBatch(ds *PairDataset, indices []int, rng *rand.Rand) (Batch, error) {
	n := len(indices)
	pairs := make([]Pair, n)
	for i, idx := range indices {
		pairs[i] = ds.Get(idx, rng)
	}

	h, w := pairs[0].First.Height, pairs[0].First.Width
	b := Batch{
		First:   nn.New(n, 1, h, w),
		Second:  nn.New(n, 1, h, w),
		Targets: make([]float64, n),
	}
	for i, p := range pairs {
		for _, img := range []*Image{p.First, p.Second} {
			if img.Height != h || img.Width != w {
				return Batch{}, errors.Errorf("image %s is %dx%d, batch expects %dx%d", img.Path, img.Height, img.Width, h, w)
			}
		}
		copy(b.First.Sample(i), p.First.Pixels)
		copy(b.Second.Sample(i), p.Second.Pixels)
		b.Targets[i] = p.Target
	}
	return b, nil
}

// batchSeed mixes the run seed, epoch and batch number (splitmix64 finaliser).
func batchSeed(seed int64, epoch, batch int) int64 {
	z := uint64(seed) + uint64(epoch)*0x9E3779B97F4A7C15 + uint64(batch)*0xBF58476D1CE4E5B9
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}
