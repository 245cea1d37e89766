package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/bitmap"
	"github.com/bitsfs-go/bitsfs/internal/diskotest"
)

func TestLoadStoreDeviceRoundTrip(t *testing.T) {
	dev := diskotest.NewBlankImage(16)

	a := bitmap.New(uint(bitsfs.BlockBitmapBlocks) * bitsfs.BlockSize * 8)
	require.NoError(t, a.Set(0, true))
	require.NoError(t, a.Set(5000, true))

	require.NoError(t, bitmap.StoreToDevice(dev, bitsfs.BlockBitmapStart, bitsfs.BlockBitmapBlocks, a))

	loaded, err := bitmap.LoadFromDevice(dev, bitsfs.BlockBitmapStart, bitsfs.BlockBitmapBlocks, a.Total())
	require.NoError(t, err)
	require.True(t, loaded.IsSet(0))
	require.True(t, loaded.IsSet(5000))
	require.False(t, loaded.IsSet(1))
}

func TestStoreToDeviceZeroPadsShortBitmap(t *testing.T) {
	dev := diskotest.NewBlankImage(4)

	a := bitmap.New(8)
	require.NoError(t, a.Set(0, true))

	require.NoError(t, bitmap.StoreToDevice(dev, 2, 1, a))

	buf := make([]byte, dev.BlockSize())
	require.NoError(t, dev.ReadBlock(2, buf))
	require.Equal(t, byte(1), buf[0])
	for _, b := range buf[1:] {
		require.Zero(t, b)
	}
}
