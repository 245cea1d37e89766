package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/core"
	"github.com/bitsfs-go/bitsfs/format"
	"github.com/bitsfs-go/bitsfs/internal/diskotest"
)

// testTotalBlocks sizes test images well above bitsfs.MinImageBlocks: the
// minimum leaves exactly one free data block, which the root directory's own
// "."/".." page already consumes, so any test that creates a second file or
// directory needs real headroom in the data region.
const testTotalBlocks = 2048

func newMountedFS(t *testing.T, totalBlocks uint32) *core.FileSystem {
	t.Helper()
	dev := diskotest.NewBlankImage(int64(totalBlocks))
	require.NoError(t, format.Format(dev, format.Options{TotalBlocks: totalBlocks}))

	fs, err := core.Mount(dev)
	require.NoError(t, err)
	return fs
}

func TestMountPrimesRootBits(t *testing.T) {
	fs := newMountedFS(t, testTotalBlocks)
	require.True(t, fs.InodeBitmap.IsSet(bitsfs.RootInode-1))
	require.True(t, fs.Blocks.IsSet(0))
}

func TestMountIsIdempotent(t *testing.T) {
	dev := diskotest.NewBlankImage(int64(testTotalBlocks))
	require.NoError(t, format.Format(dev, format.Options{TotalBlocks: testTotalBlocks}))

	fs1, err := core.Mount(dev)
	require.NoError(t, err)
	require.NoError(t, fs1.Unmount())

	fs2, err := core.Mount(dev)
	require.NoError(t, err)
	require.True(t, fs2.InodeBitmap.IsSet(bitsfs.RootInode-1))
	require.True(t, fs2.Blocks.IsSet(0))
}

func TestUnmountPersistsSuperblockCounters(t *testing.T) {
	dev := diskotest.NewBlankImage(int64(testTotalBlocks))
	require.NoError(t, format.Format(dev, format.Options{TotalBlocks: testTotalBlocks}))

	fs, err := core.Mount(dev)
	require.NoError(t, err)
	fs.Super.AdjustFreeInodes(-5)
	require.NoError(t, fs.Unmount())

	reloaded, err := bitsfs.Load(dev)
	require.NoError(t, err)
	require.Equal(t, fs.Super.FreeInodes, reloaded.FreeInodes)
}

func TestNewInodeDetectsLiveIndexCollision(t *testing.T) {
	fs := newMountedFS(t, testTotalBlocks)

	root, err := fs.ReadInode(bitsfs.RootInode)
	require.NoError(t, err)

	ino, err := fs.NewInode(root, bitsfs.DefaultFileMode, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, ino)
	require.NoError(t, fs.WriteInode(ino))

	// Force the inode bitmap to reissue the same bit without the usual
	// evict-first step, to simulate a desynchronized bitmap/index.
	require.NoError(t, fs.InodeBitmap.Free(uint(ino.Number-1)))
	_, err = fs.NewInode(root, bitsfs.DefaultFileMode, 0, 0)
	require.ErrorIs(t, err, bitsfs.ErrIO)
}

func TestEvictInodeFreesBlocksAndBitmapBit(t *testing.T) {
	fs := newMountedFS(t, testTotalBlocks)

	root, err := fs.ReadInode(bitsfs.RootInode)
	require.NoError(t, err)

	ino, err := fs.Create(root, "evict-me", bitsfs.DefaultFileMode, 0, 0)
	require.NoError(t, err)

	_, err = fs.WriteData(ino, 0, []byte("some file contents"))
	require.NoError(t, err)

	freeBlocksBefore := fs.Blocks.FreeCount()
	require.NoError(t, fs.EvictInode(ino, 12345))
	require.Greater(t, fs.Blocks.FreeCount(), freeBlocksBefore)
	require.False(t, fs.InodeBitmap.IsSet(uint(ino.Number-1)))
}
