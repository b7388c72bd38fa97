// Package ioworker provides the process-wide I/O worker pool referenced by
// spec.md §9 ("Global executor / singleton worker pool"). Every blocking
// disk operation performed by the directory watcher (listing) and the file
// tailer (open/seek/read) is submitted here instead of running on the
// caller's goroutine, so the event-driven components never block on disk.
package ioworker

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool is a fixed-concurrency executor for blocking I/O work. It is safe
// for concurrent use and is intended to be constructed once per process and
// shared by every directory watcher and tailer.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a Pool that admits at most workers concurrently-running
// tasks. workers must be honored before the watch/tail pipeline starts, per
// spec.md §9. A workers value <= 0 is treated as 1.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Result is the outcome of a task submitted to the pool.
type Result[T any] struct {
	Value T
	Err   error
}

// Submit runs fn on a pool-owned goroutine once a slot is available and
// delivers its result on the returned channel, which is always sent to
// exactly once and then closed. If ctx is cancelled before a slot opens,
// the task never runs and the returned channel carries ctx.Err().
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		var zero T
		out <- Result[T]{Value: zero, Err: fmt.Errorf("ioworker: acquire: %w", err)}
		close(out)
		return out
	}

	go func() {
		defer p.sem.Release(1)
		defer close(out)
		v, err := fn()
		out <- Result[T]{Value: v, Err: err}
	}()

	return out
}

// Do runs fn on the pool and blocks until it completes or ctx is done,
// whichever happens first.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	ch := Submit(ctx, p, fn)
	select {
	case res := <-ch:
		return res.Value, res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
