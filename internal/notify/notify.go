// Package notify implements the Notification Service of spec.md §4.1: a
// singleton bridge to the kernel's recursive file-system notification
// facility (Linux inotify) that multiplexes raw kernel watch descriptors to
// any number of logical subscribers, each with its own requested event
// mask. It is the leaf of the pipeline described in spec.md §2.
package notify

import (
	"fmt"

	"github.com/tripwire/filetail/internal/ferrors"
)

// EventMask is a set of bit flags selecting which file-system events a
// watch should deliver. Values are numerically identical to the Linux
// inotify_event mask bits (the kernel ABI never changes these), declared
// as plain constants here so this file compiles on every platform; only
// service_linux.go depends on golang.org/x/sys/unix.
type EventMask uint32

// Event mask bits, named after their inotify counterpart.
const (
	Access      EventMask = 0x1
	Modify      EventMask = 0x2
	Attrib      EventMask = 0x4
	CloseWrite  EventMask = 0x8
	CloseNowrite EventMask = 0x10
	Open        EventMask = 0x20
	MovedFrom   EventMask = 0x40
	MovedTo     EventMask = 0x80
	Create      EventMask = 0x100
	Delete      EventMask = 0x200
	DeleteSelf  EventMask = 0x400
	MoveSelf    EventMask = 0x800

	Unmount    EventMask = 0x2000
	QOverflow  EventMask = 0x4000
	Ignored    EventMask = 0x8000

	OnlyDir    EventMask = 0x01000000
	DontFollow EventMask = 0x02000000
	ExclUnlink EventMask = 0x04000000
	MaskAdd    EventMask = 0x20000000
	IsDir      EventMask = 0x40000000
	OneShot    EventMask = 0x80000000

	// Move is the union inotify calls IN_MOVE: both halves of a rename.
	Move = MovedFrom | MovedTo
)

// unsupportedMask is the set of bits no subscriber may request. Honouring
// any of them per-subscriber would break the service's invariant that one
// raw kernel watch is shared, with a single unioned mask, across every
// logical subscription on that path: DontFollow/OnlyDir/ExclUnlink alter
// what the kernel itself reports for the underlying inode (not just what is
// delivered to one subscriber), MaskAdd is managed internally by the
// service, and OneShot would silently break other subscribers sharing the
// same raw descriptor.
const unsupportedMask = DontFollow | ExclUnlink | MaskAdd | OneShot | OnlyDir

// Contains reports whether m has every bit of other set.
func (m EventMask) Contains(other EventMask) bool { return m&other == other }

// Intersects reports whether m and other share any bit.
func (m EventMask) Intersects(other EventMask) bool { return m&other != 0 }

func (m EventMask) String() string {
	return fmt.Sprintf("0x%x", uint32(m))
}

// Event is a single kernel notification delivered to a Subscription, masked
// down to the bits that subscription requested.
type Event struct {
	Mask   EventMask
	Cookie uint32
	// Name is the base name of the affected entry when the event concerns
	// a directory's child (e.g. CREATE, DELETE). Empty for self-targeted
	// events such as DeleteSelf.
	Name string
}

// WatchDescriptor opaquely identifies one logical subscription. It is
// minted monotonically by the service and is process-unique; it is
// distinct from the raw kernel watch descriptor, which may be shared by
// several WatchDescriptors on the same path.
type WatchDescriptor uint64

// validateMask returns ferrors.ErrInvalidInput if mask requests any bit the
// service cannot honour per-subscriber.
func validateMask(mask EventMask) error {
	if bad := mask & unsupportedMask; bad != 0 {
		return ferrors.InvalidInput(fmt.Sprintf("notify: unsupported mask bits requested: %s", bad), nil)
	}
	return nil
}
