// Package tailer implements the File Tailer of spec.md §4.4: for one
// regular file, a lazily produced, strictly offset-ordered sequence of
// FileChunks covering every byte written to the file from construction
// onward. It is grounded on original_source/src/watch/fs/file.rs's
// PlainFileWatcher/ReadFileContent pair, restated as a goroutine driven
// by time.Timer instead of a polled future, and on the I/O-offload idiom
// already established in internal/dirwatch.
package tailer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/tripwire/filetail/internal/ioworker"
)

// Chunk is spec.md §3's FileChunk.
type Chunk struct {
	Offset uint64
	Data   []byte
	EOF    bool
}

// Kind tags which concrete decoder a Tailer uses to interpret a file's
// bytes. Only Plain is implemented; Gzip and TarGzip are named here, per
// original_source/src/watch/fs/file.rs's FileWatcher enum, as the seam a
// future compressed-log decoder would occupy, matching spec.md §9's note
// that decompression is out of scope for this iteration.
type Kind int

const (
	Plain Kind = iota
	Gzip
	TarGzip
)

// Config controls read sizing and pacing. Zero values are replaced with
// the spec.md §4.4 defaults by New.
type Config struct {
	ReadBufferSize  int
	MinReadInterval time.Duration
}

const (
	DefaultReadBufferSize  = 1024 * 1024
	DefaultMinReadInterval = 60 * time.Second
)

// Tailer streams one file's content. Only Kind == Plain is implemented;
// constructing any other Kind panics, since no decoder exists for it yet.
type Tailer struct {
	path   string
	kind   Kind
	cfg    Config
	pool   *ioworker.Pool
	logger *slog.Logger

	chunks chan Chunk
}

// New constructs a Tailer for path and starts it immediately: it seeds
// from existing content with a zero-delay read, then waits on signal for
// more, per spec.md §4.4. signal is closed by the caller (the file-system
// watcher) to terminate the stream; New does not block on path existing.
func New(ctx context.Context, pool *ioworker.Pool, logger *slog.Logger, path string, kind Kind, cfg Config, signal <-chan struct{}) *Tailer {
	if kind != Plain {
		panic(fmt.Sprintf("tailer: unimplemented kind %d", kind))
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MinReadInterval <= 0 {
		cfg.MinReadInterval = DefaultMinReadInterval
	}

	t := &Tailer{
		path:   path,
		kind:   kind,
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		chunks: make(chan Chunk, 16),
	}

	go t.run(ctx, signal)

	return t
}

// Chunks returns the channel on which this file's chunks are delivered.
// It is closed when signal closes or ctx is cancelled.
func (t *Tailer) Chunks() <-chan Chunk { return t.chunks }

// run mirrors original_source's PlainFileWatcher/ReadFileContent pair: an
// outer loop that waits for a coalesced FileUpdated signal and then honours
// the inter-read cooldown before reading, wrapping an inner loop that
// drains the backlog with zero delay while eof remains false.
func (t *Tailer) run(ctx context.Context, signal <-chan struct{}) {
	defer close(t.chunks)

	var position uint64

	for first := true; ; first = false {
		if !first {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
			}
			if !t.sleepCooldown(ctx, signal) {
				return
			}
		}

		for {
			chunk, err := t.readOnce(ctx, position)
			if err != nil {
				t.logger.Warn("tailer: read failed", slog.String("path", t.path), slog.Any("error", err))
				break
			}

			if len(chunk.Data) > 0 {
				position += uint64(len(chunk.Data))
				select {
				case t.chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}

			if chunk.EOF {
				break
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				// Coalesced: another update arrived while draining the
				// backlog; it changes nothing, the next read already
				// covers everything written so far.
			default:
			}
		}
	}
}

// sleepCooldown waits out MIN_READ_CONTENT_INTERVAL before a signal-
// triggered read, per spec.md §4.4. Further signals received during the
// wait are coalesced away; only cancellation or signal-channel closure
// interrupts it early.
func (t *Tailer) sleepCooldown(ctx context.Context, signal <-chan struct{}) bool {
	timer := time.NewTimer(t.cfg.MinReadInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case _, ok := <-signal:
			if !ok {
				return false
			}
		}
	}
}

// readOnce performs one bounded read at offset, entirely on the I/O
// worker pool, trimming any trailing incomplete UTF-8 sequence per
// spec.md §4.4.
func (t *Tailer) readOnce(ctx context.Context, offset uint64) (Chunk, error) {
	buf := make([]byte, t.cfg.ReadBufferSize)

	type readResult struct {
		n   int
		eof bool
	}

	res, err := ioworker.Do(ctx, t.pool, func() (readResult, error) {
		f, err := os.Open(t.path)
		if err != nil {
			return readResult{}, err
		}
		defer f.Close()

		if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
			return readResult{}, err
		}

		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return readResult{}, err
		}
		return readResult{n: n, eof: n < len(buf)}, nil
	})
	if err != nil {
		return Chunk{}, err
	}

	data := trimIncompleteUTF8(buf[:res.n])
	return Chunk{Offset: offset, Data: data, EOF: res.eof}, nil
}

// trimIncompleteUTF8 drops trailing bytes of an incomplete multi-byte
// UTF-8 sequence off the end of data, per spec.md §4.4: walk backward
// over continuation bytes (top two bits "10"), then drop the lead byte
// that began them if it did not have enough continuation bytes following
// it, or stop if the boundary byte is already a complete single-byte
// (top bit 0) or lead byte (top two bits 11) character.
func trimIncompleteUTF8(data []byte) []byte {
	n := len(data)
	if n == 0 {
		return data
	}

	// Walk backward past every trailing continuation byte (top two bits
	// "10"); i-1 then indexes the byte that began the final rune in this
	// buffer — a single ASCII byte, a multi-byte lead byte, or (if i==0)
	// there is no lead byte in this buffer at all.
	i := n
	cont := 0
	for i > 0 && data[i-1]&0xC0 == 0x80 {
		i--
		cont++
	}
	if i == 0 {
		// Every byte in this buffer is a continuation byte with no lead
		// byte preceding them; none of it is a complete rune.
		return data[:0]
	}

	lead := data[i-1]
	if lead&0x80 == 0x00 {
		// A single-byte ASCII character is always complete by itself;
		// any continuation bytes stranded after it (which well-formed
		// input never produces, since a continuation byte always
		// follows a multi-byte lead, not an ASCII byte) are orphans,
		// not part of it, and are dropped on their own.
		return data[:i]
	}

	var want int
	switch {
	case lead&0xE0 == 0xC0:
		want = 2
	case lead&0xF0 == 0xE0:
		want = 3
	case lead&0xF8 == 0xF0:
		want = 4
	default:
		// The boundary byte (0xF8-0xFF) is not a valid UTF-8 lead byte,
		// so the trailing run it begins cannot be completed either way.
		return data[:i-1]
	}
	if cont+1 == want {
		return data
	}
	return data[:i-1]
}
