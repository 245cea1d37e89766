// Package diskotest builds in-memory block devices for tests, backed by
// bytesextra.NewReadWriteSeeker over a plain byte slice.
package diskotest

import (
	"github.com/xaionaro-go/bytesextra"

	"github.com/bitsfs-go/bitsfs"
)

// NewBlankImage allocates a zero-filled in-memory device of totalBlocks
// blocks, ready to be passed to format.Format.
func NewBlankImage(totalBlocks int64) *bitsfs.FileBlockDevice {
	data := make([]byte, totalBlocks*bitsfs.BlockSize)
	stream := bytesextra.NewReadWriteSeeker(data)
	return bitsfs.NewFileBlockDevice(stream, bitsfs.BlockSize, totalBlocks)
}

// NewImageFromBytes wraps an existing byte slice (e.g. a fixture loaded from
// disk) as a block device with the given block size.
func NewImageFromBytes(data []byte, blockSize int) *bitsfs.FileBlockDevice {
	stream := bytesextra.NewReadWriteSeeker(data)
	totalBlocks := int64(len(data)) / int64(blockSize)
	return bitsfs.NewFileBlockDevice(stream, blockSize, totalBlocks)
}
