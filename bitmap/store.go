package bitmap

import (
	"github.com/bitsfs-go/bitsfs"
)

// LoadFromDevice reads numBlocks consecutive blocks starting at startBlock
// and builds an Allocator tracking totalUnits bits from them. Used for both
// the four-block free-block bitmap and the one-block free-inode bitmap.
func LoadFromDevice(dev bitsfs.BlockDevice, startBlock int64, numBlocks int, totalUnits uint) (*Allocator, error) {
	data := make([]byte, 0, numBlocks*dev.BlockSize())
	buf := make([]byte, dev.BlockSize())
	for i := 0; i < numBlocks; i++ {
		if err := dev.ReadBlock(startBlock+int64(i), buf); err != nil {
			return nil, err
		}
		data = append(data, buf...)
	}
	return Load(data, totalUnits), nil
}

// StoreToDevice writes the allocator's bitmap bytes back out across
// numBlocks consecutive blocks starting at startBlock, zero-padding the last
// block if the bitmap is shorter than numBlocks*BlockSize.
func StoreToDevice(dev bitsfs.BlockDevice, startBlock int64, numBlocks int, a *Allocator) error {
	data := a.Bytes()
	blockSize := dev.BlockSize()

	for i := 0; i < numBlocks; i++ {
		buf := make([]byte, blockSize)
		start := i * blockSize
		if start < len(data) {
			end := start + blockSize
			if end > len(data) {
				end = len(data)
			}
			copy(buf, data[start:end])
		}
		if err := dev.WriteBlock(startBlock+int64(i), buf); err != nil {
			return err
		}
	}
	return nil
}
