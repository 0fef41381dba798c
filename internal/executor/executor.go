// Package executor provides the pluggable batch-dispatch abstraction:
// a SingleThread executor that runs batches one at a time, and a
// WorkerPool executor that runs up to N batches concurrently while
// preserving per-batch write ordering and merging Change Lists safely.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/pipelake/internal/changelist"
	"github.com/malbeclabs/pipelake/internal/frame"
)

// BatchFunc processes one batch end to end — fetch inputs, transform, store
// outputs, advance transform meta — and returns the Change List entries it
// produced. A BatchFunc must itself guarantee that output writes happen
// before its transform-meta write, so that ordering holds regardless of
// which Executor runs it.
type BatchFunc func(ctx context.Context, batch *frame.Frame) (*changelist.ChangeList, error)

// Executor dispatches a stream of batches to a BatchFunc and merges their
// resulting Change Lists.
type Executor interface {
	RunBatches(ctx context.Context, batches <-chan *frame.Frame, fn BatchFunc) (*changelist.ChangeList, error)
}

// SingleThread runs batches one at a time, in the order they arrive. This
// is the default scheduling model (single-threaded-cooperative by
// default").
type SingleThread struct{}

func (SingleThread) RunBatches(ctx context.Context, batches <-chan *frame.Frame, fn BatchFunc) (*changelist.ChangeList, error) {
	merged := changelist.New()
	for batch := range batches {
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}
		cl, err := fn(ctx, batch)
		if err != nil {
			return merged, err
		}
		merged.Extend(cl)
	}
	return merged, nil
}

// WorkerPool runs up to Concurrency batches at once using a bounded
// errgroup, optionally throttled by a rate.Limiter. Change Lists from
// concurrent batches are merged under a mutex as they complete — a
// commutative, associative union, so completion order does not matter.
type WorkerPool struct {
	Concurrency int
	Limiter     *rate.Limiter
}

func (w WorkerPool) RunBatches(ctx context.Context, batches <-chan *frame.Frame, fn BatchFunc) (*changelist.ChangeList, error) {
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	merged := changelist.New()

	for batch := range batches {
		batch := batch
		g.Go(func() error {
			if w.Limiter != nil {
				if err := w.Limiter.Wait(gctx); err != nil {
					return err
				}
			}
			cl, err := fn(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			merged.Extend(cl)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return merged, err
	}
	return merged, nil
}
