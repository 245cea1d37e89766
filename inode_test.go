package bitsfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
)

func TestInodeStoreWriteReadRoundTrip(t *testing.T) {
	dev := newDevice(t, 64)
	store := bitsfs.NewInodeStore(dev)

	ino := bitsfs.NewInode(bitsfs.RootInode, bitsfs.DefaultDirectoryMode, 0, 0)
	ino.Links = 2
	ino.Size = bitsfs.BlockSize
	ino.IData[0] = bitsfs.DataBlockStart

	require.NoError(t, store.Write(ino))

	loaded, err := store.Read(bitsfs.RootInode)
	require.NoError(t, err)
	require.Equal(t, ino.Mode, loaded.Mode)
	require.Equal(t, ino.Links, loaded.Links)
	require.Equal(t, ino.Size, loaded.Size)
	require.Equal(t, ino.IData, loaded.IData)
	require.True(t, loaded.IsDir())
}

func TestInodeStoreRejectsInvalidNumbers(t *testing.T) {
	dev := newDevice(t, 64)
	store := bitsfs.NewInodeStore(dev)

	_, err := store.Read(0)
	require.ErrorIs(t, err, bitsfs.ErrInvalidInode)

	_, err = store.Read(bitsfs.BadBlocksInode)
	require.ErrorIs(t, err, bitsfs.ErrInvalidInode)
}

func TestInodeIsFree(t *testing.T) {
	ino := &bitsfs.Inode{}
	require.True(t, ino.IsFree())

	ino.Mode = bitsfs.DefaultFileMode
	ino.Links = 1
	require.False(t, ino.IsFree())

	ino.Links = 0
	ino.Dtime = 1
	require.True(t, ino.IsFree())
}

func TestInodeWriteClearsNewState(t *testing.T) {
	dev := newDevice(t, 64)
	store := bitsfs.NewInodeStore(dev)

	ino := bitsfs.NewInode(bitsfs.RootInode, bitsfs.DefaultFileMode, 0, 0)
	require.NotZero(t, ino.State&bitsfs.StateNew)

	require.NoError(t, store.Write(ino))
	require.Zero(t, ino.State&bitsfs.StateNew)
}
