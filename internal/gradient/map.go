package gradient

import (
	"context"
	"runtime"
	"sync"
)

// MapLeadingAxis applies fn independently for every index of a leading axis
// of size n, dispatching across goroutines. There must be no cross-index
// data dependency in fn; results must be written by index so that scheduling
// order cannot influence them.
//
// The call is all-or-nothing: if any index fails, the error for the lowest
// failing index is returned and the caller must discard all partial results.
// Context cancellation is checked before each index is started.
func MapLeadingAxis(ctx context.Context, n int, fn func(i int) error) error {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	errs := make([]error, n)
	indices := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indices {
				errs[i] = fn(i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case indices <- i:
		}
	}
	close(indices)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
