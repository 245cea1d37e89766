package blockmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/bitmap"
	"github.com/bitsfs-go/bitsfs/blockmap"
)

func newMap(t *testing.T, totalUnits uint) *blockmap.Map {
	t.Helper()
	return blockmap.New(bitmap.New(totalUnits))
}

func TestGetBlockDirectSlotsFillFromZero(t *testing.T) {
	m := newMap(t, 4096)
	var iData [bitsfs.TotalSlots]uint32

	result, err := m.GetBlock(&iData, 2, true)
	require.NoError(t, err)
	require.True(t, result.Allocated)
	require.Equal(t, uint32(3), result.ContiguousCount)
	require.NotZero(t, iData[0])
	require.NotZero(t, iData[1])
	require.NotZero(t, iData[2])
	require.Equal(t, iData[2], result.Block)

	again, err := m.GetBlock(&iData, 2, true)
	require.NoError(t, err)
	require.False(t, again.Allocated)
	require.Equal(t, result.Block, again.Block)
}

func TestGetBlockWithoutCreateReportsMissingSlot(t *testing.T) {
	m := newMap(t, 4096)
	var iData [bitsfs.TotalSlots]uint32

	_, err := m.GetBlock(&iData, 2, false)
	require.ErrorIs(t, err, bitsfs.ErrIO)

	result, err := m.GetBlock(&iData, 2, true)
	require.NoError(t, err)

	again, err := m.GetBlock(&iData, 2, false)
	require.NoError(t, err)
	require.False(t, again.Allocated)
	require.Equal(t, result.Block, again.Block)
}

func TestGetBlockIndirectOffsetFormula(t *testing.T) {
	m := newMap(t, 1<<20)
	var iData [bitsfs.TotalSlots]uint32

	result, err := m.GetBlock(&iData, bitsfs.DirectSlots, true)
	require.NoError(t, err)
	require.True(t, result.Allocated)
	// Logical block 12 is the first indirect block; per the on-disk
	// mapping it lands one block into the first indirect run, not at the
	// run's base address.
	require.Equal(t, iData[bitsfs.DirectSlots]+1, result.Block)
}

func TestGetBlockIndirectRunIsContiguous(t *testing.T) {
	m := newMap(t, 1<<20)
	var iData [bitsfs.TotalSlots]uint32

	first, err := m.GetBlock(&iData, bitsfs.DirectSlots, true)
	require.NoError(t, err)

	second, err := m.GetBlock(&iData, bitsfs.DirectSlots+1, true)
	require.NoError(t, err)
	require.False(t, second.Allocated, "still within the already-allocated run")
	require.Equal(t, first.Block+1, second.Block)
}

func TestGetBlockRejectsBeyondMaxFileBlocks(t *testing.T) {
	m := newMap(t, 1<<20)
	var iData [bitsfs.TotalSlots]uint32

	_, err := m.GetBlock(&iData, bitsfs.MaxFileBlocks, true)
	require.ErrorIs(t, err, bitsfs.ErrFileTooLarge)
}

func TestGetBlockRejectsNegativeIndex(t *testing.T) {
	m := newMap(t, 64)
	var iData [bitsfs.TotalSlots]uint32
	_, err := m.GetBlock(&iData, -1, true)
	require.ErrorIs(t, err, bitsfs.ErrInvalidArgument)
}

func TestTruncateAllFreesEveryAllocatedSlot(t *testing.T) {
	allocator := bitmap.New(1 << 20)
	m := blockmap.New(allocator)
	var iData [bitsfs.TotalSlots]uint32

	_, err := m.GetBlock(&iData, bitsfs.MaxFileBlocks-1, true)
	require.NoError(t, err)

	freeBefore := allocator.FreeCount()
	require.NoError(t, m.TruncateAll(&iData))
	require.Greater(t, allocator.FreeCount(), freeBefore)

	// Every unit the map had touched should now be free again: allocating
	// the whole map from scratch a second time must succeed identically.
	var again [bitsfs.TotalSlots]uint32
	_, err = m.GetBlock(&again, bitsfs.MaxFileBlocks-1, true)
	require.NoError(t, err)
}

func TestTruncateAllOnEmptyMapIsNoop(t *testing.T) {
	m := newMap(t, 64)
	var iData [bitsfs.TotalSlots]uint32
	require.NoError(t, m.TruncateAll(&iData))
}
