package ioworker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tripwire/filetail/internal/ioworker"
)

func TestDo_ReturnsValue(t *testing.T) {
	pool := ioworker.New(2)
	ctx := context.Background()

	got, err := ioworker.Do(ctx, pool, func() (int, error) { return 42, nil })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 {
		t.Errorf("Do returned %d, want 42", got)
	}
}

func TestDo_PropagatesError(t *testing.T) {
	pool := ioworker.New(2)
	ctx := context.Background()
	wantErr := errors.New("boom")

	_, err := ioworker.Do(ctx, pool, func() (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("Do error = %v, want %v", err, wantErr)
	}
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	const workers = 2
	pool := ioworker.New(workers)
	ctx := context.Background()

	var inFlight int32
	var maxObserved int32

	resultChs := make([]<-chan ioworker.Result[int], 0, 6)
	for i := 0; i < 6; i++ {
		resultChs = append(resultChs, ioworker.Submit(ctx, pool, func() (int, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return 0, nil
		}))
	}

	for _, ch := range resultChs {
		<-ch
	}

	if maxObserved > workers {
		t.Errorf("observed %d tasks in flight concurrently, want <= %d", maxObserved, workers)
	}
}

func TestDo_RespectsCancellation(t *testing.T) {
	pool := ioworker.New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancelled before Do ever acquires a slot

	_, err := ioworker.Do(ctx, pool, func() (int, error) { return 1, nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do error = %v, want context.Canceled", err)
	}
}
