package nn

import (
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// workerCount bounds the number of goroutines used to process n items.
func workerCount(n int) int {
	w := runtime.GOMAXPROCS(0)
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

// parallelFor calls f(worker, i) for every i in [0, n) on the given number of
// workers. Items are handed out through a shared counter; worker is in
// [0, workers) and may be used to index per-worker scratch space.
func parallelFor(n, workers int, f func(worker, i int)) {
	if workers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			f(0, i)
		}
		return
	}

	next := atomic.NewInt64(-1)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(worker int) {
			defer wg.Done()
			for {
				i := int(next.Inc())
				if i >= n {
					return
				}
				f(worker, i)
			}
		}(w)
	}
	wg.Wait()
}
