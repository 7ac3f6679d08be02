package arena_test

import (
	"testing"

	"github.com/oskit/kmem/arena"
	"github.com/stretchr/testify/require"
)

func TestReserve(t *testing.T) {
	mem, err := arena.Reserve(1 << 16)
	require.NoError(t, err)

	require.NotZero(t, mem.Base())
	require.Equal(t, 1<<16, mem.Size())
	require.Zero(t, mem.Base()%8)

	require.NoError(t, mem.Release())
}

func TestReserveInvalidSize(t *testing.T) {
	_, err := arena.Reserve(0)
	require.Error(t, err)

	_, err = arena.Reserve(-1)
	require.Error(t, err)
}
