// Package region creates and attaches the shared memory backing a
// dataplane channel. Two strategies are tried in order: huge-page-backed
// shared memory first, POSIX named shared memory as a fallback. On Linux
// the backing tries to pin itself resident with mlock; a failed mlock is
// logged and the region stays unpinned, and other platforms do not pin.
// The backing records whether this handle created it so Destroy knows
// whether to unlink a filesystem path.
package region

import (
	"errors"
	"fmt"
)

// ErrCreateFailed is returned when neither the huge-page nor the POSIX
// shm strategy could create a region of the requested size.
var ErrCreateFailed = errors.New("region: failed to create backing region")

// ErrNotFound is returned by Open when no region by that name exists
// under either namespace.
var ErrNotFound = errors.New("region: no region found by that name")

// Backing is a mapped shared-memory region plus enough bookkeeping to tear
// it down cleanly. A Backing is owned exclusively by the process-local
// handle that created or attached it; the underlying bytes are jointly
// observed by engine and application.
type Backing interface {
	// Bytes returns this process's mapping of the region.
	Bytes() []byte

	// FD returns the backing file descriptor, for handoff to a driver
	// collaborator or a peer process.
	FD() int

	// HugePage reports which strategy produced this backing.
	HugePage() bool

	// Destroy unmaps, closes, and — if this handle created a POSIX-named
	// or hugetlbfs-named region — unlinks the filesystem path. Idempotent:
	// calling Destroy twice is a no-op, and a Destroy never unlinks a
	// region it did not itself create (an attached handle never unlinks).
	Destroy() error
}

const (
	hugePageDir = "/dev/hugepages"
	shmDir      = "/dev/shm"
	namePrefix  = "dpchan."
)

func hugePagePath(name string) string { return fmt.Sprintf("%s/%s%s", hugePageDir, namePrefix, name) }
func shmPath(name string) string      { return fmt.Sprintf("%s/%s%s", shmDir, namePrefix, name) }
