// Package format implements the BitsFS image formatter, using
// github.com/noxer/bytewriter to assemble the root directory's data block in
// memory before handing it to the BlockDevice.
package format

import (
	"time"

	"github.com/noxer/bytewriter"

	"github.com/bitsfs-go/bitsfs"
)

// Options configures a Format call. Geometry is resolved by the caller (see
// cmd/mkfsbitsfs for CSV-driven presets); Format itself only needs the final
// block count.
type Options struct {
	// TotalBlocks is the device's size in BlockSize-byte blocks.
	TotalBlocks uint32
}

// Format writes a fresh BitsFS image to dev: superblock, zeroed bitmaps and
// inode table, root inode, and the root directory's "."/".." data block.
func Format(dev bitsfs.BlockDevice, opts Options) error {
	if opts.TotalBlocks < bitsfs.MinImageBlocks {
		return bitsfs.ErrInvalidArgument.WithMessage(
			"device has %d blocks, minimum image size is %d blocks",
			opts.TotalBlocks, bitsfs.MinImageBlocks)
	}

	sb := bitsfs.NewSuperblock(opts.TotalBlocks, bitsfs.InodeCount)
	if err := sb.Store(dev); err != nil {
		return err
	}

	zero := make([]byte, dev.BlockSize())
	for b := int64(bitsfs.BlockBitmapStart); b < bitsfs.BlockBitmapStart+bitsfs.BlockBitmapBlocks; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return err
		}
	}
	if err := dev.WriteBlock(bitsfs.InodeBitmapNum, zero); err != nil {
		return err
	}
	for b := int64(bitsfs.InodeTableStart); b < bitsfs.InodeTableStart+bitsfs.InodeTableBlocks; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return err
		}
	}

	if err := writeRootInode(dev); err != nil {
		return err
	}
	if err := writeRootDataBlock(dev); err != nil {
		return err
	}

	return nil
}

func writeRootInode(dev bitsfs.BlockDevice) error {
	store := bitsfs.NewInodeStore(dev)

	now := uint32(time.Now().Unix())
	root := &bitsfs.Inode{
		Number: bitsfs.RootInode,
		Mode:   bitsfs.DefaultDirectoryMode,
		Links:  2,
		Size:   bitsfs.BlockSize,
		Blocks: 1,
		Atime:  now,
		Ctime:  now,
		Mtime:  now,
	}
	root.IData[0] = bitsfs.DataBlockStart

	return store.Write(root)
}

func writeRootDataBlock(dev bitsfs.BlockDevice) error {
	buf := make([]byte, dev.BlockSize())
	w := bytewriter.New(buf)

	dot, err := bitsfs.NewDirentSlot(bitsfs.RootInode, ".", bitsfs.FileTypeDirectory)
	if err != nil {
		return err
	}
	dotdot, err := bitsfs.NewDirentSlot(bitsfs.RootInode, "..", bitsfs.FileTypeDirectory)
	if err != nil {
		return err
	}

	if _, err := w.Write(bitsfs.EncodeDirentSlot(dot)); err != nil {
		return bitsfs.ErrIO.Wrap(err)
	}
	if _, err := w.Write(bitsfs.EncodeDirentSlot(dotdot)); err != nil {
		return bitsfs.ErrIO.Wrap(err)
	}

	return dev.WriteBlock(bitsfs.DataBlockStart, buf)
}
