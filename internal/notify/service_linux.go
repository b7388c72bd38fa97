//go:build linux

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tripwire/filetail/internal/ferrors"
)

// pollCommandInterval is the poll(2) timeout, in milliseconds, used to bound
// each iteration of the service's event loop so that pending Watch/unwatch
// commands are serviced even while no kernel event has arrived (spec.md
// §4.1 "Thread model and suspension").
const pollCommandInterval = 10

// rawEventBufSize is sized for many events: each inotify_event is
// unix.SizeofInotifyEvent (16 bytes) plus up to NAME_MAX+1 (256) bytes for
// the name field.
const rawEventBufSize = 4096 * (unix.SizeofInotifyEvent + 256)

// Service owns the single kernel inotify instance for the process. It is
// created by Start and driven by a dedicated goroutine; all access to its
// internal tables happens on that goroutine, so no locks are needed there.
type Service struct {
	logger *slog.Logger

	fd    int
	pipeR int
	pipeW int

	commands chan command

	mu       sync.Mutex // guards nextWD only; commands are serialized in run()
	nextWD   WatchDescriptor
	watches  map[WatchDescriptor]*watchEntry
	rawIndex map[int][]WatchDescriptor // raw kernel wd -> logical subscriptions

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

type watchEntry struct {
	rawWD int
	mask  EventMask
	subCh chan Event
}

type command struct {
	kind    commandKind
	path    string
	mask    EventMask
	wd      WatchDescriptor
	replyCh chan addResult
}

type commandKind int

const (
	cmdAdd commandKind = iota
	cmdRemove
)

type addResult struct {
	wd     WatchDescriptor
	subCh  chan Event
	err    error
}

// Start initialises the kernel inotify instance and launches the service's
// dedicated goroutine, returning a Handle once it is ready to accept
// Watch calls. It fails with ferrors.ErrOther if the kernel call is
// rejected (resource exhaustion, permission).
func Start(logger *slog.Logger) (*Handle, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, ferrors.Other("notify: inotify_init1", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, ferrors.Other("notify: pipe2", err)
	}

	s := &Service{
		logger:   logger,
		fd:       fd,
		pipeR:    pipeFds[0],
		pipeW:    pipeFds[1],
		commands: make(chan command, 64),
		watches:  make(map[WatchDescriptor]*watchEntry),
		rawIndex: make(map[int][]WatchDescriptor),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	go s.run()

	return &Handle{svc: s}, nil
}

// Stop releases the kernel instance and terminates the service goroutine.
// It blocks until the goroutine has exited and is idempotent.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		unix.Write(s.pipeW, []byte{0}) //nolint:errcheck
		<-s.done
		unix.Close(s.pipeW)
		unix.Close(s.pipeR)
		unix.Close(s.fd)
	})
}

// run is the service's dedicated goroutine. It alternates between draining
// kernel events and servicing pending commands, per spec.md §4.1.
func (s *Service) run() {
	defer close(s.done)

	buf := make([]byte, rawEventBufSize)
	pollFds := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.pipeR), Events: unix.POLLIN},
	}

	for {
		select {
		case <-s.stopped:
			s.closeAllSubscriptions()
			return
		default:
		}

		n, err := unix.Poll(pollFds, pollCommandInterval)
		if err != nil && err != unix.EINTR {
			s.logger.Warn("notify: poll error", slog.Any("error", err))
			s.drainCommands()
			continue
		}

		if pollFds[1].Revents&unix.POLLIN != 0 {
			s.closeAllSubscriptions()
			return
		}

		if n > 0 && pollFds[0].Revents&unix.POLLIN != 0 {
			nread, err := unix.Read(s.fd, buf)
			if err != nil && err != unix.EAGAIN {
				s.logger.Warn("notify: read error", slog.Any("error", err))
			} else if nread > 0 {
				s.parseAndDispatch(buf[:nread])
			}
		}

		s.drainCommands()
	}
}

// drainCommands services every command currently queued, without blocking.
func (s *Service) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			s.handleCommand(cmd)
		default:
			return
		}
	}
}

func (s *Service) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdAdd:
		wd, subCh, err := s.addWatch(cmd.path, cmd.mask)
		cmd.replyCh <- addResult{wd: wd, subCh: subCh, err: err}
		close(cmd.replyCh)
	case cmdRemove:
		s.removeWatch(cmd.wd)
	}
}

// addWatch registers (or joins) a kernel watch for path with the union of
// mask and any mask already active for that raw descriptor, per spec.md
// §4.1 "Why additive-only is internally required".
func (s *Service) addWatch(path string, mask EventMask) (WatchDescriptor, chan Event, error) {
	rawWD, err := unix.InotifyAddWatch(s.fd, path, uint32(mask)|unix.IN_MASK_ADD)
	if err != nil {
		return 0, nil, ferrors.Other(fmt.Sprintf("notify: inotify_add_watch %q", path), err)
	}

	s.mu.Lock()
	s.nextWD++
	wd := s.nextWD
	s.mu.Unlock()

	entry := &watchEntry{rawWD: rawWD, mask: mask, subCh: make(chan Event, 1024)}
	s.watches[wd] = entry
	s.rawIndex[rawWD] = append(s.rawIndex[rawWD], wd)

	return wd, entry.subCh, nil
}

// removeWatch drops the subscription table entry for wd and, if it was the
// last subscription on its raw descriptor, releases the kernel watch.
// Failures are silent (best-effort), per spec.md §4.1.
func (s *Service) removeWatch(wd WatchDescriptor) {
	entry, ok := s.watches[wd]
	if !ok {
		return
	}
	delete(s.watches, wd)
	close(entry.subCh)

	siblings := s.rawIndex[entry.rawWD]
	for i, sib := range siblings {
		if sib == wd {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(s.rawIndex, entry.rawWD)
		unix.InotifyRmWatch(s.fd, uint32(entry.rawWD)) //nolint:errcheck
	} else {
		s.rawIndex[entry.rawWD] = siblings
	}
}

func (s *Service) closeAllSubscriptions() {
	for wd := range s.watches {
		s.removeWatch(wd)
	}
}

// parseAndDispatch extracts each raw inotify_event from buf and fans it out
// to every subscription registered on its raw watch descriptor, masking
// each event down to the bits that subscription requested. An empty
// intersection suppresses delivery for that subscription entirely.
func (s *Service) parseAndDispatch(buf []byte) {
	const hdr = unix.SizeofInotifyEvent
	for offset := 0; offset+hdr <= len(buf); {
		ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += hdr

		var name string
		if ev.Len > 0 {
			if offset+int(ev.Len) > len(buf) {
				break
			}
			name = strings.TrimRight(string(buf[offset:offset+int(ev.Len)]), "\x00")
			offset += int(ev.Len)
		}

		s.dispatch(int(ev.Wd), EventMask(ev.Mask), ev.Cookie, name)
	}
}

func (s *Service) dispatch(rawWD int, mask EventMask, cookie uint32, name string) {
	if mask&QOverflow != 0 {
		s.logger.Warn("notify: kernel event queue overflowed; some events may be lost")
		return
	}

	for _, wd := range s.rawIndex[rawWD] {
		entry := s.watches[wd]
		if mask&(entry.mask|Ignored) == 0 {
			continue
		}
		masked := mask & (entry.mask | IsDir | Ignored | QOverflow)
		select {
		case entry.subCh <- Event{Mask: masked, Cookie: cookie, Name: name}:
		default:
			s.logger.Warn("notify: subscription channel full, dropping event",
				slog.Uint64("wd", uint64(wd)))
		}
	}

	if mask&Ignored != 0 {
		// The kernel has released this raw watch; close every subscription
		// on it so their Events channels end after the Ignored event.
		for _, wd := range append([]WatchDescriptor(nil), s.rawIndex[rawWD]...) {
			s.removeWatch(wd)
		}
	}
}

// Handle is a cloneable control handle for the Notification Service.
type Handle struct {
	svc *Service
}

// Watch asynchronously registers a watch for path with the given mask and
// returns a Subscription once the kernel call completes. It fails with
// ferrors.ErrInvalidInput if mask requests an unsupported bit (spec.md
// §4.1), or ferrors.ErrOther if the kernel call itself fails.
func (h *Handle) Watch(ctx context.Context, path string, mask EventMask) (*Subscription, error) {
	if err := validateMask(mask); err != nil {
		return nil, err
	}

	replyCh := make(chan addResult, 1)
	select {
	case h.svc.commands <- command{kind: cmdAdd, path: path, mask: mask, replyCh: replyCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-replyCh:
		if res.err != nil {
			return nil, res.err
		}
		return &Subscription{svc: h.svc, wd: res.wd, events: res.subCh}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop tears down the underlying Notification Service.
func (h *Handle) Stop() { h.svc.Stop() }

// Subscription is a logical watch: the (raw kernel descriptor, requested
// mask, outgoing event channel) tuple of spec.md §3. Events delivers only
// events whose mask bits intersect the mask requested in Watch.
type Subscription struct {
	svc    *Service
	wd     WatchDescriptor
	events <-chan Event

	closeOnce sync.Once
}

// Events returns the channel on which this subscription's events arrive.
// It is closed when the subscription is closed or the kernel invalidates
// the watch (an Ignored event is delivered just before closure).
func (sub *Subscription) Events() <-chan Event { return sub.events }

// Close releases this subscription. If it was the last subscription on its
// raw kernel descriptor, the kernel watch itself is released. Close is
// idempotent.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		select {
		case sub.svc.commands <- command{kind: cmdRemove, wd: sub.wd}:
		default:
			// Command queue full or service stopped; best-effort only,
			// per spec.md §4.1.
		}
	})
}

// JoinPath joins dir and name the way the kernel names an event's subject:
// the watched directory's absolute path plus the event's bare entry name.
func JoinPath(dir, name string) string {
	if name == "" {
		return dir
	}
	return filepath.Join(dir, name)
}
