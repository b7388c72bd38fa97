package tailer_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripwire/filetail/internal/ioworker"
	"github.com/tripwire/filetail/internal/tailer"
)

func tailerTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 10}))
}

func waitChunk(t *testing.T, ch <-chan tailer.Chunk, timeout time.Duration) (tailer.Chunk, bool) {
	t.Helper()
	select {
	case c, ok := <-ch:
		return c, ok
	case <-time.After(timeout):
		return tailer.Chunk{}, false
	}
}

func TestNew_SeedsFromExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx := context.Background()
	pool := ioworker.New(2)
	signal := make(chan struct{})

	tl := tailer.New(ctx, pool, tailerTestLogger(), path, tailer.Plain, tailer.Config{}, signal)

	chunk, ok := waitChunk(t, tl.Chunks(), 2*time.Second)
	if !ok {
		t.Fatal("no chunk received for the seed read")
	}
	if chunk.Offset != 0 || string(chunk.Data) != "hello world\n" || !chunk.EOF {
		t.Errorf("chunk = %+v, want {offset:0 data:%q eof:true}", chunk, "hello world\n")
	}

	close(signal)
}

func TestNew_AppendAfterEOFProducesNewChunk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(path, []byte("foo"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx := context.Background()
	pool := ioworker.New(2)
	signal := make(chan struct{}, 1)

	cfg := tailer.Config{MinReadInterval: 10 * time.Millisecond}
	tl := tailer.New(ctx, pool, tailerTestLogger(), path, tailer.Plain, cfg, signal)
	defer close(signal)

	first, ok := waitChunk(t, tl.Chunks(), 2*time.Second)
	if !ok || string(first.Data) != "foo" || first.Offset != 0 {
		t.Fatalf("first chunk = %+v, ok=%v, want offset 0 data \"foo\"", first, ok)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString(" bar"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	select {
	case signal <- struct{}{}:
	default:
	}

	second, ok := waitChunk(t, tl.Chunks(), 2*time.Second)
	if !ok {
		t.Fatal("no chunk received for the append")
	}
	if second.Offset != uint64(len("foo")) || string(second.Data) != " bar" {
		t.Errorf("second chunk = %+v, want {offset:3 data:\" bar\"}", second)
	}
}

func TestNew_TerminatesOnSignalClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx := context.Background()
	pool := ioworker.New(2)
	signal := make(chan struct{})

	tl := tailer.New(ctx, pool, tailerTestLogger(), path, tailer.Plain, tailer.Config{}, signal)

	if _, ok := waitChunk(t, tl.Chunks(), 2*time.Second); !ok {
		t.Fatal("no seed chunk received")
	}

	close(signal)

	select {
	case _, ok := <-tl.Chunks():
		if ok {
			t.Error("expected Chunks to be closed after signal closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Chunks channel was not closed shortly after signal closed")
	}
}
