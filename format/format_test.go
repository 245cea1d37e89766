package format_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/format"
	"github.com/bitsfs-go/bitsfs/internal/diskotest"
)

func TestFormatRejectsTooSmallDevice(t *testing.T) {
	dev := diskotest.NewBlankImage(bitsfs.MinImageBlocks - 1)
	err := format.Format(dev, format.Options{TotalBlocks: bitsfs.MinImageBlocks - 1})
	require.ErrorIs(t, err, bitsfs.ErrInvalidArgument)
}

func TestFormatWritesValidSuperblockAndRoot(t *testing.T) {
	total := uint32(bitsfs.MinImageBlocks)
	dev := diskotest.NewBlankImage(int64(total))
	require.NoError(t, format.Format(dev, format.Options{TotalBlocks: total}))

	sb, err := bitsfs.Load(dev)
	require.NoError(t, err)
	require.Equal(t, uint16(bitsfs.SuperblockMagic), sb.Magic)
	require.Equal(t, total, sb.BlockCount)
	require.Equal(t, uint32(bitsfs.InodeCount), sb.InodeCount)

	store := bitsfs.NewInodeStore(dev)
	root, err := store.Read(bitsfs.RootInode)
	require.NoError(t, err)
	require.True(t, root.IsDir())
	require.Equal(t, uint16(2), root.Links)
	require.Equal(t, uint32(bitsfs.BlockSize), root.Size)
	require.Equal(t, uint32(bitsfs.DataBlockStart), root.IData[0])

	buf := make([]byte, dev.BlockSize())
	require.NoError(t, dev.ReadBlock(bitsfs.DataBlockStart, buf))

	dot, err := bitsfs.DecodeDirentSlot(buf[0:bitsfs.DirentSize])
	require.NoError(t, err)
	require.Equal(t, bitsfs.RootInode, int(dot.Inode))
	require.Equal(t, ".", dot.NameString())

	dotdot, err := bitsfs.DecodeDirentSlot(buf[bitsfs.DirentSize : 2*bitsfs.DirentSize])
	require.NoError(t, err)
	require.Equal(t, bitsfs.RootInode, int(dotdot.Inode))
	require.Equal(t, "..", dotdot.NameString())
}

func TestFormatZeroesBitmapsAndInodeTable(t *testing.T) {
	total := uint32(bitsfs.MinImageBlocks)
	dev := diskotest.NewBlankImage(int64(total))

	// Poison the region format is supposed to zero before formatting.
	poison := make([]byte, dev.BlockSize())
	for i := range poison {
		poison[i] = 0xFF
	}
	require.NoError(t, dev.WriteBlock(bitsfs.BlockBitmapStart, poison))
	require.NoError(t, dev.WriteBlock(bitsfs.InodeTableStart+5, poison))

	require.NoError(t, format.Format(dev, format.Options{TotalBlocks: total}))

	buf := make([]byte, dev.BlockSize())
	require.NoError(t, dev.ReadBlock(bitsfs.BlockBitmapStart, buf))
	for _, b := range buf {
		require.Zero(t, b)
	}

	require.NoError(t, dev.ReadBlock(bitsfs.InodeTableStart+5, buf))
	for _, b := range buf {
		require.Zero(t, b)
	}
}
