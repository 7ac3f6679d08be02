package kmem

import "github.com/pkg/errors"

// ErrOutOfMemory is returned when an allocator has no free range large enough to
// satisfy a request. Allocators never retry and never log; recovery policy (register
// more memory and retry, or fail the higher-level request) belongs to the caller.
var ErrOutOfMemory = errors.New("out of memory")

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")
