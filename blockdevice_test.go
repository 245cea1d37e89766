package bitsfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitsfs-go/bitsfs"
)

func TestFileBlockDeviceReadWriteRoundTrip(t *testing.T) {
	dev := newDevice(t, 8)

	buf := make([]byte, dev.BlockSize())
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	require.NoError(t, dev.WriteBlock(3, buf))

	out := make([]byte, dev.BlockSize())
	require.NoError(t, dev.ReadBlock(3, out))
	require.Equal(t, buf, out)
}

func TestFileBlockDeviceRejectsOutOfRangeBlock(t *testing.T) {
	dev := newDevice(t, 8)
	buf := make([]byte, dev.BlockSize())

	require.ErrorIs(t, dev.ReadBlock(-1, buf), bitsfs.ErrIO)
	require.ErrorIs(t, dev.ReadBlock(8, buf), bitsfs.ErrIO)
	require.ErrorIs(t, dev.WriteBlock(100, buf), bitsfs.ErrIO)
}

func TestFileBlockDeviceRejectsWrongSizedBuffer(t *testing.T) {
	dev := newDevice(t, 8)
	require.ErrorIs(t, dev.ReadBlock(0, make([]byte, 10)), bitsfs.ErrIO)
	require.ErrorIs(t, dev.WriteBlock(0, make([]byte, 10)), bitsfs.ErrIO)
}
