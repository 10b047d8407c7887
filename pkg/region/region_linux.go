//go:build linux

package region

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

type backing struct {
	fd       int
	mem      []byte // the process-visible view, possibly shorter than rawMem
	rawMem   []byte // the full mmap'd range; Destroy must unmap exactly this
	hugePage bool
	path     string // named path backing the region; unlinked by Destroy only if created
	created  bool   // true only if this handle created the region (vs. attached)
	destroyed bool
}

func (b *backing) Bytes() []byte   { return b.mem }
func (b *backing) FD() int         { return b.fd }
func (b *backing) HugePage() bool  { return b.hugePage }

func (b *backing) Destroy() error {
	if b.destroyed {
		return nil
	}
	b.destroyed = true

	var firstErr error
	if len(b.rawMem) > 0 {
		if err := unix.Munmap(b.rawMem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("region: munmap: %w", err)
		}
		b.rawMem = nil
		b.mem = nil
	}
	if b.fd >= 0 {
		if err := unix.Close(b.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("region: close: %w", err)
		}
		b.fd = -1
	}
	if b.created && b.path != "" {
		if err := unix.Unlink(b.path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("region: unlink %s: %w", b.path, err)
		}
	}
	return firstErr
}

// Create tries the huge-page strategy first (when requested and the
// hugetlbfs mount is usable), then falls back to POSIX named shared
// memory. On any failure it cleans up partial state and returns
// ErrCreateFailed wrapping the underlying cause.
func Create(name string, size uint64, hugePage bool) (Backing, error) {
	if hugePage {
		if b, err := createHugePage(name, size); err == nil {
			return b, nil
		} else {
			slog.Warn("region: huge-page creation failed, falling back to POSIX shm", "name", name, "err", err)
		}
	}
	b, err := createShm(name, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	return b, nil
}

// Open attaches an existing region by name, preferring the huge-page path
// if present, falling back to the POSIX shm path.
func Open(name string) (Backing, error) {
	if b, err := openHugePage(name); err == nil {
		return b, nil
	}
	if b, err := openShm(name); err == nil {
		return b, nil
	}
	return nil, ErrNotFound
}

const pageSize = 4096
const hugePageSize = 2 << 20

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

func createHugePage(name string, size uint64) (Backing, error) {
	aligned := roundUp(size, hugePageSize)
	path := hugePagePath(name)

	if err := os.MkdirAll(hugePageDir, 0755); err != nil {
		return nil, fmt.Errorf("hugetlbfs mount unusable: %w", err)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open hugetlbfs file: %w", err)
	}

	b := &backing{fd: fd, hugePage: true, path: path, created: true}
	if err := unix.Ftruncate(fd, int64(aligned)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE|unix.MAP_HUGETLB)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap hugetlb: %w", err)
	}
	b.rawMem = mem
	b.mem = mem[:size]

	if err := unix.Mlock(mem); err != nil {
		slog.Warn("region: mlock failed, region will not be pinned resident", "name", name, "err", err)
	}

	return b, nil
}

func openHugePage(name string) (Backing, error) {
	path := hugePagePath(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	size := uint64(st.Size())
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap hugetlb attach: %w", err)
	}
	return &backing{fd: fd, mem: mem, rawMem: mem, hugePage: true, path: path, created: false}, nil
}

func createShm(name string, size uint64) (Backing, error) {
	aligned := roundUp(size, pageSize)
	path := shmPath(name)

	if err := os.MkdirAll(shmDir, 0777); err != nil {
		return nil, fmt.Errorf("shm dir unusable: %w", err)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm_open: %w", err)
	}

	b := &backing{fd: fd, hugePage: false, path: path, created: true}
	if err := unix.Ftruncate(fd, int64(aligned)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap shm: %w", err)
	}
	b.rawMem = mem
	b.mem = mem[:size]

	if err := unix.Mlock(mem); err != nil {
		slog.Warn("region: mlock failed, region will not be pinned resident", "name", name, "err", err)
	}

	return b, nil
}

func openShm(name string) (Backing, error) {
	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	size := uint64(st.Size())
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap shm attach: %w", err)
	}
	return &backing{fd: fd, mem: mem, rawMem: mem, hugePage: false, path: path, created: false}, nil
}
