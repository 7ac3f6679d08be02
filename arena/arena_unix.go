//go:build unix

package arena

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Reserve maps size bytes of anonymous, writable memory outside the Go heap.
func Reserve(size int) (*Arena, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid arena size: %d", size)
	}

	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "reserving %d bytes", size)
	}

	return &Arena{buf: buf, mapped: true}, nil
}

// Release unmaps the range. The arena and every address inside it are invalid
// afterward.
func (a *Arena) Release() error {
	if !a.mapped {
		a.buf = nil
		return nil
	}

	buf := a.buf
	a.buf = nil
	a.mapped = false
	return unix.Munmap(buf)
}
