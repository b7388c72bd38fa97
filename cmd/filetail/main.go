// Command filetail is the recursive file-tailing and word-indexing agent
// of SPEC_FULL.md. It exposes two subcommands: "watch", which prints raw
// content chunks as they are discovered, and "agent", which runs the full
// tailing-and-indexing pipeline. Structure follows
// cmd/agent/main.go's config-load/logger-construct/signal-wait/graceful-
// shutdown shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tripwire/filetail/internal/config"
	"github.com/tripwire/filetail/internal/fswatch"
	"github.com/tripwire/filetail/internal/indexer"
	"github.com/tripwire/filetail/internal/ioworker"
	"github.com/tripwire/filetail/internal/notify"
	"github.com/tripwire/filetail/internal/tailer"
)

// levelCritical extends slog's level scale with the "critical" severity
// spec.md §6 names alongside debug/info/warning/error.
const levelCritical = slog.Level(12)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: filetail <watch|agent> <DIR> [flags]")
		os.Exit(2)
	}

	subcommand := os.Args[1]
	dir := os.Args[2]

	fs := flag.NewFlagSet(subcommand, flag.ExitOnError)
	configPath := fs.String("config", "", "path to an optional YAML configuration file")
	logLevel := fs.String("log-level", "", "log level: debug, info, warning, error, critical (overrides config)")
	fs.Parse(os.Args[3:]) //nolint:errcheck // flag.ExitOnError already handles failures

	cfg, err := config.LoadConfig(*configPath, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filetail: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	handle, err := notify.Start(logger)
	if err != nil {
		logger.Error("failed to start notification service", slog.Any("error", err))
		os.Exit(1)
	}
	defer handle.Stop()

	pool := ioworker.New(cfg.WorkerCount)

	switch subcommand {
	case "watch":
		err = runWatch(ctx, handle, pool, logger, cfg)
	case "agent":
		err = runAgent(ctx, handle, pool, logger, cfg)
	default:
		fmt.Fprintf(os.Stderr, "filetail: unknown subcommand %q (want watch or agent)\n", subcommand)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("filetail exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("filetail exited cleanly")
}

// runWatch implements the "watch <DIR>" contract of spec.md §6: print each
// discovered file's contiguous content chunks, one log line per chunk.
func runWatch(ctx context.Context, handle *notify.Handle, pool *ioworker.Pool, logger *slog.Logger, cfg *config.Config) error {
	fsw := fswatch.New(ctx, handle, pool, logger)
	defer fsw.Close()

	if err := fsw.Watch(cfg.Root); err != nil {
		return err
	}

	tailerCfg := tailer.Config{ReadBufferSize: cfg.ReadBufferSize, MinReadInterval: cfg.MinReadInterval}

	for {
		select {
		case <-ctx.Done():
			return nil
		case wf, ok := <-fsw.Files():
			if !ok {
				return nil
			}
			go watchFile(ctx, pool, logger, wf, tailerCfg)
		}
	}
}

func watchFile(ctx context.Context, pool *ioworker.Pool, logger *slog.Logger, wf *fswatch.WatchedFile, cfg tailer.Config) {
	t := tailer.New(ctx, pool, logger, wf.Path, tailer.Plain, cfg, wf.Signal)
	for chunk := range t.Chunks() {
		fmt.Fprintf(os.Stderr, "%s position=%d bytes=%d eof=%t\n", wf.Path, chunk.Offset, len(chunk.Data), chunk.EOF)
	}
}

// runAgent implements the "agent <DIR>" contract of spec.md §6: run the
// full tailing-and-indexing pipeline, logging a filter-updated line on
// every chunk processed (indexer.Agent.handleChunk already emits the
// "Cuckoo filter updated" line spec.md §6 specifies).
func runAgent(ctx context.Context, handle *notify.Handle, pool *ioworker.Pool, logger *slog.Logger, cfg *config.Config) error {
	indexer.SeedGlobalRand(cfg.FilterSeed)

	ag := indexer.New(logger, pool, indexer.FilterConfig{
		InitialCapacity:   cfg.FilterInitialCapacity,
		FalsePositiveRate: cfg.FilterFalsePositiveRate,
		Seed:              cfg.FilterSeed,
		MaxWordLength:     cfg.MaxWordLength,
	})

	return ag.Run(ctx, handle, cfg.Root)
}

// newLogger constructs a *slog.Logger writing JSON-structured records to
// stderr at the requested minimum level, matching the teacher's
// cmd/agent/main.go newLogger.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	case "critical":
		l = levelCritical
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
