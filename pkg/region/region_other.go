//go:build !linux

package region

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// This build carries the POSIX-shm strategy only. Huge pages and
// MAP_POPULATE/MAP_HUGETLB are Linux-specific; non-arch portability across
// hosts is out of scope, so callers requesting hugePage here simply get the
// shm fallback every time.

type backing struct {
	fd       int
	mem      []byte
	rawMem   []byte
	path     string
	created  bool
	destroyed bool
}

func (b *backing) Bytes() []byte  { return b.mem }
func (b *backing) FD() int        { return b.fd }
func (b *backing) HugePage() bool { return false }

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

// Create always uses POSIX named shared memory on this platform, regardless
// of the hugePage request.
func Create(name string, size uint64, hugePage bool) (Backing, error) {
	b, err := createShm(name, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	return b, nil
}

// Open attaches an existing POSIX-shm-backed region by name.
func Open(name string) (Backing, error) {
	b, err := openShm(name)
	if err != nil {
		return nil, ErrNotFound
	}
	return b, nil
}

const pageSize = 4096

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
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

	b := &backing{fd: fd, path: path, created: true}
	if err := unix.Ftruncate(fd, int64(aligned)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, int(aligned), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap shm: %w", err)
	}
	b.rawMem = mem
	b.mem = mem[:size]

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
	return &backing{fd: fd, mem: mem, rawMem: mem, path: path, created: false}, nil
}
