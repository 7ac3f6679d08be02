//go:build !unix

package arena

import "github.com/pkg/errors"

// Reserve allocates size bytes on the Go heap. Heap objects do not move once
// allocated, so handing the range to an allocator is safe as long as the Arena
// itself is kept alive until Release.
func Reserve(size int) (*Arena, error) {
	if size < 1 {
		return nil, errors.Errorf("invalid arena size: %d", size)
	}

	return &Arena{buf: make([]byte, size)}, nil
}

// Release drops the range. The arena and every address inside it are invalid
// afterward.
func (a *Arena) Release() error {
	a.buf = nil
	return nil
}
