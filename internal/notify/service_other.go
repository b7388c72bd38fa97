//go:build !linux

package notify

import (
	"context"
	"log/slog"

	"github.com/tripwire/filetail/internal/ferrors"
)

// Service, Handle, and Subscription are declared on every platform so the
// package builds everywhere; only the linux build tag provides a working
// implementation, matching spec.md §6 ("Linux inotify-like semantics").
type Service struct{}

// Start always fails on non-Linux platforms: the recursive watch/tail
// engine depends on inotify semantics spec.md §6 declares as the kernel
// interface this module targets.
func Start(_ *slog.Logger) (*Handle, error) {
	return nil, ferrors.Other("notify: unsupported platform (linux only)", nil)
}

// Handle is declared for cross-platform compilation only; see Start.
type Handle struct{}

func (h *Handle) Watch(_ context.Context, _ string, _ EventMask) (*Subscription, error) {
	return nil, ferrors.Other("notify: unsupported platform (linux only)", nil)
}

func (h *Handle) Stop() {}

// Subscription is declared for cross-platform compilation only; see Start.
type Subscription struct{}

func (sub *Subscription) Events() <-chan Event { return nil }
func (sub *Subscription) Close()               {}

func JoinPath(dir, name string) string {
	if name == "" {
		return dir
	}
	return dir + "/" + name
}
