package concurrent

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers returns max(1, NumCPU-1), leaving one core to the caller's loop.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

// Chunks splits [0, n) into at most workers contiguous ranges and runs action
// on each range in its own goroutine. It waits for all goroutines and returns
// the first error. A panic inside action is returned as an error.
func Chunks(ctx context.Context, n, workers int, action func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if workers > n {
		workers = n
	}

	size := (n + workers - 1) / workers
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		group.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("chunk [%d,%d): panic: %v", lo, hi, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			return action(gctx, lo, hi)
		})
	}

	return group.Wait()
}

// Go runs fn in a new goroutine and delivers its error, or a recovered panic,
// on the returned channel, which is then closed.
func Go(fn func() error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				ch <- fmt.Errorf("panic: %v", r)
			}
		}()
		ch <- fn()
	}()
	return ch
}
