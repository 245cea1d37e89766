// Package core composes the superblock, bitmap allocators, inode store,
// block map, and directory-page cache into the mount-time filesystem
// instance and the operations built on top of it: mount/unmount, inode
// lifecycle management, and the page cache each open directory uses.
package core

import (
	"sync"

	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/bitmap"
	"github.com/bitsfs-go/bitsfs/blockmap"
	"github.com/bitsfs-go/bitsfs/pagecache"
)

// FileSystem is a mounted BitsFS instance.
type FileSystem struct {
	Device bitsfs.BlockDevice
	Super  *bitsfs.Superblock
	Inodes *bitsfs.InodeStore
	Blocks *bitmap.Allocator
	InodeBitmap *bitmap.Allocator
	BlockMap *blockmap.Map

	inodeMu sync.Mutex
	// liveInodes is the in-memory inode index; it detects bitmap/index
	// desynchronization on new-inode collisions.
	liveInodes map[uint32]*bitsfs.Inode

	pageMu sync.Mutex
	// pages caches one pagecache.Cache per open directory inode, keyed by
	// inode number, so repeated lookups in the same directory reuse loaded
	// pages instead of re-fetching them from the device.
	pages map[uint32]*pagecache.Cache
}

// Mount loads the superblock and bitmaps from dev and primes the root
// inode/block bitmap bits. Priming is unconditional and idempotent, so it is
// safe to call on every mount regardless of whether a previous mount already
// ran it.
func Mount(dev bitsfs.BlockDevice) (*FileSystem, error) {
	sb, err := bitsfs.Load(dev)
	if err != nil {
		return nil, err
	}

	blocks, err := bitmap.LoadFromDevice(dev, bitsfs.BlockBitmapStart, bitsfs.BlockBitmapBlocks, uint(sb.BlockCount)-bitsfs.DataBlockStart)
	if err != nil {
		return nil, err
	}
	inodeBitmap, err := bitmap.LoadFromDevice(dev, bitsfs.InodeBitmapNum, 1, uint(sb.InodeCount))
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		Device:      dev,
		Super:       sb,
		Inodes:      bitsfs.NewInodeStore(dev),
		Blocks:      blocks,
		InodeBitmap: inodeBitmap,
		BlockMap:    blockmap.New(blocks),
		liveInodes:  make(map[uint32]*bitsfs.Inode),
		pages:       make(map[uint32]*pagecache.Cache),
	}

	if err := fs.InodeBitmap.Set(bitsfs.RootInode-1, true); err != nil {
		return nil, err
	}
	if err := fs.Blocks.Set(0, true); err != nil {
		return nil, err
	}

	return fs, nil
}

// Unmount flushes the superblock's in-memory counters and both bitmaps back
// to disk. Directory/page caches are discarded; dirty pages were already
// flushed synchronously as they were written.
func (fs *FileSystem) Unmount() error {
	if err := bitmap.StoreToDevice(fs.Device, bitsfs.BlockBitmapStart, bitsfs.BlockBitmapBlocks, fs.Blocks); err != nil {
		return err
	}
	if err := bitmap.StoreToDevice(fs.Device, bitsfs.InodeBitmapNum, 1, fs.InodeBitmap); err != nil {
		return err
	}
	return fs.Super.Store(fs.Device)
}

// ReadInode loads an inode, preferring the in-memory index over the device.
func (fs *FileSystem) ReadInode(number uint32) (*bitsfs.Inode, error) {
	fs.inodeMu.Lock()
	if ino, ok := fs.liveInodes[number]; ok {
		fs.inodeMu.Unlock()
		return ino, nil
	}
	fs.inodeMu.Unlock()

	ino, err := fs.Inodes.Read(number)
	if err != nil {
		return nil, err
	}

	fs.inodeMu.Lock()
	fs.liveInodes[number] = ino
	fs.inodeMu.Unlock()
	return ino, nil
}

// WriteInode persists ino and keeps it in the in-memory index.
func (fs *FileSystem) WriteInode(ino *bitsfs.Inode) error {
	if err := fs.Inodes.Write(ino); err != nil {
		return err
	}
	fs.inodeMu.Lock()
	fs.liveInodes[ino.Number] = ino
	fs.inodeMu.Unlock()
	return nil
}

// EvictInode carries out the "unlinked -> evicted -> free" transition: it
// sets dtime, writes the inode back, truncates all its blocks, and clears
// its bitmap bit.
func (fs *FileSystem) EvictInode(ino *bitsfs.Inode, now uint32) error {
	ino.Dtime = now
	if err := fs.WriteInode(ino); err != nil {
		return err
	}
	if err := fs.BlockMap.TruncateAll(&ino.IData); err != nil {
		return err
	}
	ino.IData = [bitsfs.TotalSlots]uint32{}
	ino.Size = 0
	ino.Blocks = 0
	if err := fs.WriteInode(ino); err != nil {
		return err
	}

	if ino.IsDir() {
		fs.Super.AdjustDirectoryCount(-1)
	}
	fs.Super.AdjustFreeInodes(1)

	if err := fs.InodeBitmap.Free(uint(ino.Number - 1)); err != nil {
		return err
	}

	fs.inodeMu.Lock()
	delete(fs.liveInodes, ino.Number)
	fs.inodeMu.Unlock()

	fs.pageMu.Lock()
	delete(fs.pages, ino.Number)
	fs.pageMu.Unlock()

	return nil
}

// NewInode allocates a free inode bit and builds its in-memory state.
func (fs *FileSystem) NewInode(parent *bitsfs.Inode, mode uint16, uid, gid uint16) (*bitsfs.Inode, error) {
	bit, err := fs.InodeBitmap.AllocFrom(bitsfs.RootInode - 1)
	if err != nil {
		return nil, err
	}
	number := uint32(bit) + 1

	fs.inodeMu.Lock()
	if _, collision := fs.liveInodes[number]; collision {
		fs.inodeMu.Unlock()
		return nil, bitsfs.ErrIO.WithMessage(
			"inode %d already present in the live index: bitmap/index desynchronized", number)
	}
	fs.inodeMu.Unlock()

	ino := bitsfs.NewInode(number, mode, uid, gid)

	fs.Super.AdjustFreeInodes(-1)
	if bitsfs.FileTypeFromMode(uint32(mode)) == bitsfs.FileTypeDirectory {
		fs.Super.AdjustDirectoryCount(1)
	}

	fs.inodeMu.Lock()
	fs.liveInodes[number] = ino
	fs.inodeMu.Unlock()

	return ino, nil
}

// discardInode reverses NewInode: it frees any blocks already allocated to
// ino, reverses the free-inode/directory-count adjustments NewInode made,
// clears ino's bitmap bit, and drops it from the live-inode and page-cache
// indexes. Callers use this to unwind a partially constructed inode when a
// later step (appending its directory entry, initializing its first page)
// fails after NewInode already succeeded.
func (fs *FileSystem) discardInode(ino *bitsfs.Inode) error {
	if err := fs.BlockMap.TruncateAll(&ino.IData); err != nil {
		return err
	}
	ino.IData = [bitsfs.TotalSlots]uint32{}

	if ino.IsDir() {
		fs.Super.AdjustDirectoryCount(-1)
	}
	fs.Super.AdjustFreeInodes(1)

	if err := fs.InodeBitmap.Free(uint(ino.Number - 1)); err != nil {
		return err
	}

	fs.inodeMu.Lock()
	delete(fs.liveInodes, ino.Number)
	fs.inodeMu.Unlock()

	fs.pageMu.Lock()
	delete(fs.pages, ino.Number)
	fs.pageMu.Unlock()

	return nil
}

// pagesFor returns (creating if necessary) the page cache backing ino's
// directory data.
func (fs *FileSystem) pagesFor(ino *bitsfs.Inode) *pagecache.Cache {
	fs.pageMu.Lock()
	defer fs.pageMu.Unlock()

	if c, ok := fs.pages[ino.Number]; ok {
		return c
	}

	totalPages := int64(bitsfs.MaxFileBlocks)
	fetch := func(pageIdx int64, buf []byte) error {
		result, err := fs.BlockMap.GetBlock(&ino.IData, int(pageIdx), true)
		if err != nil {
			return err
		}
		return fs.Device.ReadBlock(int64(result.Block), buf)
	}
	flush := func(pageIdx int64, buf []byte) error {
		result, err := fs.BlockMap.GetBlock(&ino.IData, int(pageIdx), true)
		if err != nil {
			return err
		}
		if err := fs.Device.WriteBlock(int64(result.Block), buf); err != nil {
			return err
		}
		if result.Allocated {
			if err := fs.WriteInode(ino); err != nil {
				return err
			}
		}
		return nil
	}

	c := pagecache.New(bitsfs.BlockSize, totalPages, fetch, flush)
	fs.pages[ino.Number] = c
	return c
}
