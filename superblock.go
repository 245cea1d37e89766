package bitsfs

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"
)

// Superblock is the in-memory form of the on-disk BitsFS superblock. Its
// free-space counters are authoritative in memory and are flushed to disk by
// Store.
type Superblock struct {
	mu sync.Mutex

	InodeCount      uint32
	BlockCount      uint32
	FreeInodes      uint32
	FreeBlocks      uint32
	BlockBitmapBlk  uint32
	InodeBitmapBlk  uint32
	InodeTableBlk   uint32
	DataBlk         uint32
	BlockSizeField  uint32
	FirstInode      uint32
	InodeSizeField  uint32
	MountTime       uint32
	WriteTime       uint32
	Magic           uint16
	State           uint16
	CreatorOS       uint32
	Name            [8]byte
	DirectoryCount  uint32
}

// rawSuperblock is the exact 4 KiB on-disk layout, little-endian.
type rawSuperblock struct {
	InodeCount     uint32
	BlockCount     uint32
	FreeInodes     uint32
	FreeBlocks     uint32
	BlockBitmapBlk uint32
	InodeBitmapBlk uint32
	InodeTableBlk  uint32
	DataBlk        uint32
	BlockSizeField uint32
	FirstInode     uint32
	InodeSizeField uint32
	MountTime      uint32
	WriteTime      uint32
	Magic          uint16
	State          uint16
	CreatorOS      uint32
	Name           [8]byte
	DirectoryCount uint32
	Reserved       [BlockSize - 72]byte
}

// NewSuperblock builds the superblock a freshly formatted image should
// carry, given the total block count and inode count.
func NewSuperblock(totalBlocks, inodeCount uint32) *Superblock {
	now := uint32(time.Now().Unix())
	return &Superblock{
		InodeCount:     inodeCount,
		BlockCount:     totalBlocks,
		FreeInodes:     inodeCount - 1, // root is allocated on first mount
		FreeBlocks:     totalBlocks - DataBlockStart - 1,
		BlockBitmapBlk: BlockBitmapStart,
		InodeBitmapBlk: InodeBitmapNum,
		InodeTableBlk:  InodeTableStart,
		DataBlk:        DataBlockStart,
		BlockSizeField: BlockSize,
		FirstInode:     RootInode,
		InodeSizeField: InodeSize,
		MountTime:      now,
		WriteTime:      now,
		Magic:          SuperblockMagic,
		State:          StateClean,
		Name:           [8]byte{'b', 'i', 't', 's', 'f', 's'},
	}
}

// Load reads and validates the superblock from block 1 of dev. It fails with
// ErrCorrupted if the magic number doesn't match.
func Load(dev BlockDevice) (*Superblock, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(SuperblockNum, buf); err != nil {
		return nil, err
	}

	var raw rawSuperblock
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, ErrIO.Wrap(err)
	}

	if raw.Magic != SuperblockMagic {
		return nil, ErrCorrupted.WithMessage(
			"bad magic number: want 0x%04X, got 0x%04X", SuperblockMagic, raw.Magic)
	}

	sb := &Superblock{
		InodeCount:     raw.InodeCount,
		BlockCount:     raw.BlockCount,
		FreeInodes:     raw.FreeInodes,
		FreeBlocks:     raw.FreeBlocks,
		BlockBitmapBlk: raw.BlockBitmapBlk,
		InodeBitmapBlk: raw.InodeBitmapBlk,
		InodeTableBlk:  raw.InodeTableBlk,
		DataBlk:        raw.DataBlk,
		BlockSizeField: raw.BlockSizeField,
		FirstInode:     raw.FirstInode,
		InodeSizeField: raw.InodeSizeField,
		MountTime:      raw.MountTime,
		WriteTime:      raw.WriteTime,
		Magic:          raw.Magic,
		State:          raw.State,
		CreatorOS:      raw.CreatorOS,
		Name:           raw.Name,
		DirectoryCount: raw.DirectoryCount,
	}
	return sb, nil
}

// Store serializes the superblock back to block 1 of dev.
func (sb *Superblock) Store(dev BlockDevice) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	raw := rawSuperblock{
		InodeCount:     sb.InodeCount,
		BlockCount:     sb.BlockCount,
		FreeInodes:     sb.FreeInodes,
		FreeBlocks:     sb.FreeBlocks,
		BlockBitmapBlk: sb.BlockBitmapBlk,
		InodeBitmapBlk: sb.InodeBitmapBlk,
		InodeTableBlk:  sb.InodeTableBlk,
		DataBlk:        sb.DataBlk,
		BlockSizeField: sb.BlockSizeField,
		FirstInode:     sb.FirstInode,
		InodeSizeField: sb.InodeSizeField,
		MountTime:      sb.MountTime,
		WriteTime:      uint32(time.Now().Unix()),
		Magic:          sb.Magic,
		State:          sb.State,
		CreatorOS:      sb.CreatorOS,
		Name:           sb.Name,
		DirectoryCount: sb.DirectoryCount,
	}
	sb.WriteTime = raw.WriteTime

	var w bytes.Buffer
	if err := binary.Write(&w, binary.LittleEndian, &raw); err != nil {
		return ErrIO.Wrap(err)
	}
	buf := make([]byte, dev.BlockSize())
	copy(buf, w.Bytes())
	return dev.WriteBlock(SuperblockNum, buf)
}

// AdjustFreeBlocks atomically adds delta (which may be negative) to the
// free-block counter.
func (sb *Superblock) AdjustFreeBlocks(delta int32) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.FreeBlocks = uint32(int64(sb.FreeBlocks) + int64(delta))
}

// AdjustFreeInodes atomically adds delta to the free-inode counter.
func (sb *Superblock) AdjustFreeInodes(delta int32) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.FreeInodes = uint32(int64(sb.FreeInodes) + int64(delta))
}

// AdjustDirectoryCount atomically adds delta to the directory counter.
func (sb *Superblock) AdjustDirectoryCount(delta int32) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.DirectoryCount = uint32(int64(sb.DirectoryCount) + int64(delta))
}
