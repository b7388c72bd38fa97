//go:build linux

package indexer_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripwire/filetail/internal/indexer"
	"github.com/tripwire/filetail/internal/ioworker"
	"github.com/tripwire/filetail/internal/notify"
)

func indexerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 10}))
}

func waitForState(t *testing.T, ag *indexer.Agent, path string, timeout time.Duration, ready func(*indexer.FileState) bool) *indexer.FileState {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := ag.State(path); st != nil && ready(st) {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state for %q never satisfied the condition within %v", path, timeout)
	return nil
}

func TestAgent_SeedFileIndexesWords(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(seed, []byte("hello world\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	handle, err := notify.Start(indexerTestLogger())
	if err != nil {
		t.Fatalf("notify.Start: %v", err)
	}
	defer handle.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := ioworker.New(2)
	ag := indexer.New(indexerTestLogger(), pool, indexer.FilterConfig{})

	go ag.Run(ctx, handle, dir) //nolint:errcheck // surfaced via State below

	st := waitForState(t, ag, seed, 2*time.Second, func(fs *indexer.FileState) bool { return fs.EOF() })

	if st.IsBinary() {
		t.Fatal("expected the seed file to not be classified as binary")
	}
	if !st.Contains([]byte("hello")) || !st.Contains([]byte("world")) {
		t.Errorf("expected filter to contain both %q and %q", "hello", "world")
	}
	if st.Contains([]byte("zzzznotpresent")) {
		t.Error("filter unexpectedly contains a word never inserted")
	}
}

func TestAgent_BinaryLatchStopsProcessing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "b.bin")
	// 0xC3 is a 2-byte UTF-8 lead with no valid continuation byte after it.
	if err := os.WriteFile(target, []byte{'x', 0xC3, 0x28, 'y', ' '}, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	handle, err := notify.Start(indexerTestLogger())
	if err != nil {
		t.Fatalf("notify.Start: %v", err)
	}
	defer handle.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := ioworker.New(2)
	ag := indexer.New(indexerTestLogger(), pool, indexer.FilterConfig{})

	go ag.Run(ctx, handle, dir) //nolint:errcheck

	st := waitForState(t, ag, target, 2*time.Second, func(fs *indexer.FileState) bool { return fs.IsBinary() })

	if !st.IsBinary() {
		t.Fatal("expected IsBinary to latch true for invalid UTF-8 content")
	}
}

func TestAgent_RemoveDropsFileState(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "d.txt")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	handle, err := notify.Start(indexerTestLogger())
	if err != nil {
		t.Fatalf("notify.Start: %v", err)
	}
	defer handle.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := ioworker.New(2)
	ag := indexer.New(indexerTestLogger(), pool, indexer.FilterConfig{})

	go ag.Run(ctx, handle, dir) //nolint:errcheck

	waitForState(t, ag, target, 2*time.Second, func(fs *indexer.FileState) bool { return fs.EOF() })

	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ag.State(target) == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("FileState for the removed file was never dropped")
}
