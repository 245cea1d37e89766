package bitsfs

import (
	"fmt"
	"io"
)

// BlockDevice is the collaborator BitsFS reads and writes fixed-size blocks
// through. Mount/unmount, page cache, and write-back scheduling are the host
// VFS's job; BlockDevice only needs to move whole blocks synchronously.
type BlockDevice interface {
	// BlockSize returns the size, in bytes, of one block on this device.
	BlockSize() int
	// BlockCount returns the total number of blocks on the device.
	BlockCount() int64
	// ReadBlock fills buf (which must be exactly BlockSize() bytes) with the
	// contents of the given block.
	ReadBlock(block int64, buf []byte) error
	// WriteBlock writes buf (which must be exactly BlockSize() bytes) to the
	// given block.
	WriteBlock(block int64, buf []byte) error
}

// FileBlockDevice adapts a seekable stream -- typically an *os.File, or in
// tests a byte slice wrapped by bytesextra.NewReadWriteSeeker -- into a
// BlockDevice with a fixed block size.
type FileBlockDevice struct {
	stream    io.ReadWriteSeeker
	blockSize int
	count     int64
}

// NewFileBlockDevice wraps stream as a BlockDevice with the given block size
// and block count. It performs no I/O itself.
func NewFileBlockDevice(stream io.ReadWriteSeeker, blockSize int, count int64) *FileBlockDevice {
	return &FileBlockDevice{stream: stream, blockSize: blockSize, count: count}
}

func (d *FileBlockDevice) BlockSize() int   { return d.blockSize }
func (d *FileBlockDevice) BlockCount() int64 { return d.count }

func (d *FileBlockDevice) checkBounds(block int64, dataLen int) error {
	if block < 0 || block >= d.count {
		return fmt.Errorf("invalid block number %d: not in range [0, %d)", block, d.count)
	}
	if dataLen != d.blockSize {
		return fmt.Errorf("buffer must be exactly %d bytes, got %d", d.blockSize, dataLen)
	}
	return nil
}

func (d *FileBlockDevice) seekToBlock(block int64) error {
	_, err := d.stream.Seek(block*int64(d.blockSize), io.SeekStart)
	return err
}

// ReadBlock implements BlockDevice.
func (d *FileBlockDevice) ReadBlock(block int64, buf []byte) error {
	if err := d.checkBounds(block, len(buf)); err != nil {
		return ErrIO.Wrap(err)
	}
	if err := d.seekToBlock(block); err != nil {
		return ErrIO.Wrap(err)
	}
	n, err := io.ReadFull(d.stream, buf)
	if err != nil || n != len(buf) {
		return ErrIO.WithMessage("short read of block %d: %d of %d bytes", block, n, len(buf))
	}
	return nil
}

// WriteBlock implements BlockDevice.
func (d *FileBlockDevice) WriteBlock(block int64, buf []byte) error {
	if err := d.checkBounds(block, len(buf)); err != nil {
		return ErrIO.Wrap(err)
	}
	if err := d.seekToBlock(block); err != nil {
		return ErrIO.Wrap(err)
	}
	n, err := d.stream.Write(buf)
	if err != nil || n != len(buf) {
		return ErrIO.WithMessage("short write of block %d: %d of %d bytes", block, n, len(buf))
	}
	return nil
}
