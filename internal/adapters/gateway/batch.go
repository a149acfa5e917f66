package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 200 * time.Millisecond
)

// BatchOptions controls BatchedFetch grouping and pacing.
type BatchOptions struct {
	Size  int
	Delay time.Duration
}

// DefaultBatchOptions returns groups of 5 with 200ms between groups.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Size: DefaultBatchSize, Delay: DefaultBatchDelay}
}

// BatchedFetch runs fn over items in fixed-size concurrent groups and sleeps
// between groups. Every member of a group runs to completion regardless of its
// siblings; their errors are joined and returned for diagnostics only. The
// context is checked between groups.
func BatchedFetch[T any](ctx context.Context, items []T, fn func(context.Context, T) error, opts BatchOptions) error {
	if opts.Size <= 0 {
		opts.Size = DefaultBatchSize
	}

	errs := make([]error, len(items))
	for start := 0; start < len(items); start += opts.Size {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+opts.Size, len(items))
		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("batch item %d panicked: %v", i, r)
					}
					errs[i] = err
				}()
				return fn(ctx, items[i])
			})
		}
		// errors are kept per item in errs
		_ = g.Wait()

		if end < len(items) {
			if err := sleep(ctx, opts.Delay); err != nil {
				return err
			}
		}
	}
	return errors.Join(errs...)
}
