// Package parallel runs independent index-addressed tasks on a bounded number of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// For calls fn(i) for every i in [0, n) using at most workers goroutines.
// workers < 1 means runtime.NumCPU(). fn must only write to state owned by index i.
func For(n, workers int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup

	// Create a semaphore channel to limit concurrent goroutines
	sem := make(chan struct{}, workers)

	for i := 0; i < n; i++ {
		sem <- struct{}{}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}

	wg.Wait()
}

// ForErr is like For but collects the first error returned by fn.
// All tasks still run to completion.
func ForErr(n, workers int, fn func(i int) error) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	For(n, workers, func(i int) {
		if err := fn(i); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	return firstErr
}
