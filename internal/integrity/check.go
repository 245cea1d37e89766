// Package integrity implements a read-only consistency checker for a BitsFS
// image: bitmap/link-count agreement, block-ownership overlap, and basic
// directory structure, without attempting any repair. It aggregates every
// violation found with github.com/hashicorp/go-multierror, the same way
// core.Rename aggregates unwind errors.
package integrity

import (
	"github.com/hashicorp/go-multierror"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/core"
)

// Check walks every inode and directory reachable from fs's bitmaps and
// inode table, returning a *multierror.Error listing every invariant
// violation found (nil if the image is consistent).
func Check(fs *core.FileSystem) error {
	var result *multierror.Error

	blockOwner := make(map[uint32]uint32) // physical block -> owning inode

	for n := uint32(bitsfs.RootInode); n <= fs.Super.InodeCount; n++ {
		ino, err := fs.Inodes.Read(n)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		bitSet := fs.InodeBitmap.IsSet(uint(n - 1))
		inUse := ino.Links > 0

		if bitSet != inUse {
			result = multierror.Append(result, bitsfs.ErrCorrupted.WithMessage(
				"inode %d: bitmap bit is %v but links=%d", n, bitSet, ino.Links))
		}

		if !inUse {
			continue
		}

		for i := 0; i < bitsfs.DirectSlots; i++ {
			if ino.IData[i] == 0 {
				continue
			}
			checkBlockOwnership(&result, blockOwner, ino.IData[i], n)
		}
		for i := bitsfs.DirectSlots; i < bitsfs.TotalSlots; i++ {
			if ino.IData[i] == 0 {
				continue
			}
			for k := uint32(0); k < bitsfs.IndirectRunLength; k++ {
				checkBlockOwnership(&result, blockOwner, ino.IData[i]+k, n)
			}
		}

		if ino.IsDir() {
			checkDirectory(&result, fs, ino)
		}
	}

	for b := uint32(0); b < uint32(fs.Super.BlockCount)-bitsfs.DataBlockStart; b++ {
		bitSet := fs.Blocks.IsSet(uint(b))
		_, owned := blockOwner[b+bitsfs.DataBlockStart]
		if bitSet != owned {
			result = multierror.Append(result, bitsfs.ErrCorrupted.WithMessage(
				"block %d: bitmap bit is %v but owned=%v", b+bitsfs.DataBlockStart, bitSet, owned))
		}
	}

	return result.ErrorOrNil()
}

func checkBlockOwnership(result **multierror.Error, owner map[uint32]uint32, block, ino uint32) {
	if prev, exists := owner[block]; exists {
		*result = multierror.Append(*result, bitsfs.ErrCorrupted.WithMessage(
			"block %d is claimed by both inode %d and inode %d", block, prev, ino))
		return
	}
	owner[block] = ino
}

func checkDirectory(result **multierror.Error, fs *core.FileSystem, ino *bitsfs.Inode) {
	if ino.Size%bitsfs.BlockSize != 0 {
		*result = multierror.Append(*result, bitsfs.ErrCorrupted.WithMessage(
			"directory inode %d has size %d, not a multiple of %d", ino.Number, ino.Size, bitsfs.BlockSize))
		return
	}
	if ino.Size == 0 {
		return
	}

	if ino.IData[0] == 0 {
		*result = multierror.Append(*result, bitsfs.ErrCorrupted.WithMessage(
			"directory inode %d has non-zero size but no first data block", ino.Number))
		return
	}

	buf := make([]byte, fs.Device.BlockSize())
	if err := fs.Device.ReadBlock(int64(ino.IData[0]), buf); err != nil {
		*result = multierror.Append(*result, err)
		return
	}

	dot, err := bitsfs.DecodeDirentSlot(buf[0:bitsfs.DirentSize])
	if err != nil {
		*result = multierror.Append(*result, err)
		return
	}
	if dot.NameString() != "." || dot.Inode != ino.Number {
		*result = multierror.Append(*result, bitsfs.ErrCorrupted.WithMessage(
			"directory inode %d: slot 0 is not '.' pointing at itself", ino.Number))
	}

	dotdot, err := bitsfs.DecodeDirentSlot(buf[bitsfs.DirentSize : 2*bitsfs.DirentSize])
	if err != nil {
		*result = multierror.Append(*result, err)
		return
	}
	if dotdot.NameString() != ".." {
		*result = multierror.Append(*result, bitsfs.ErrCorrupted.WithMessage(
			"directory inode %d: slot 1 is not '..'", ino.Number))
	}
}
