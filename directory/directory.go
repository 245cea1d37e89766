// Package directory implements directory-page scanning over the page cache
// collaborator: find-by-name, append, delete, emptiness check, ".." lookup,
// and initializing a freshly created directory's first page.
package directory

import (
	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/pagecache"
)

const slotsPerPage = bitsfs.BlockSize / bitsfs.DirentSize

// Dir operates on one directory inode's contents through its page cache.
type Dir struct {
	Pages *pagecache.Cache
	// Size is the directory's current byte length (inode.Size); the caller
	// keeps this in sync and passes the up-to-date value in, since Dir does
	// not own the inode record.
	Size uint32
	// StartHint is the advisory page index to begin FindByName's scan from
	// (inode.i_dir_start_lookup); callers persist the updated value back
	// onto the inode after a successful find.
	StartHint uint32
}

func pageCount(size uint32) int64 {
	if size == 0 {
		return 0
	}
	return (int64(size) + bitsfs.BlockSize - 1) / bitsfs.BlockSize
}

// lastByte returns the byte offset, within page pageIdx, up to which slots
// may start -- min(page_size, dir.size - page_idx*page_size).
func lastByte(size uint32, pageIdx int64) int {
	remaining := int64(size) - pageIdx*bitsfs.BlockSize
	if remaining > bitsfs.BlockSize {
		remaining = bitsfs.BlockSize
	}
	return int(remaining)
}

// Found describes a located directory slot.
type Found struct {
	Page   int64
	Offset int
	Slot   *bitsfs.DirentSlot
}

// FindByName scans this directory's pages for a live slot named name,
// starting from StartHint and wrapping around.
func (d *Dir) FindByName(name string) (*Found, error) {
	npages := pageCount(d.Size)
	if npages == 0 {
		return nil, bitsfs.ErrNotFound.WithMessage("directory is empty")
	}

	start := int64(d.StartHint) % npages

	for i := int64(0); i < npages; i++ {
		pageIdx := (start + i) % npages

		buf, err := d.Pages.PrepareChunk(pageIdx)
		if err != nil {
			return nil, err
		}

		found, err := scanPageForName(buf, lastByte(d.Size, pageIdx), name)
		d.Pages.ReleaseChunk(pageIdx)
		if err != nil {
			return nil, err
		}
		if found != nil {
			d.StartHint = uint32(pageIdx)
			return &Found{Page: pageIdx, Offset: found.offset, Slot: found.slot}, nil
		}
	}

	return nil, bitsfs.ErrNotFound.WithMessage("no entry named %q", name)
}

type slotHit struct {
	offset int
	slot   *bitsfs.DirentSlot
}

// scanPageForName walks slots left to right up to limit-DirentSize,
// stopping at a zero rec_len (end-of-directory marker within this page).
func scanPageForName(buf []byte, limit int, name string) (*slotHit, error) {
	for offset := 0; offset+bitsfs.DirentSize <= limit; offset += bitsfs.DirentSize {
		slot, err := bitsfs.DecodeDirentSlot(buf[offset : offset+bitsfs.DirentSize])
		if err != nil {
			return nil, err
		}
		if slot.IsEndOfDirectory() {
			return nil, nil
		}
		if slot.Inode != 0 && slot.NameString() == name {
			return &slotHit{offset: offset, slot: slot}, nil
		}
	}
	return nil, nil
}

// AppendResult reports where a new slot landed and whether it extended the
// directory past its previous size.
type AppendResult struct {
	Page          int64
	Offset        int
	NewSize       uint32
	SizeExtended  bool
}

// Append writes a new live slot for (inode, name, fileType), scanning pages
// 0..=npages for room. It returns ErrExists if name is already present.
func (d *Dir) Append(inode uint32, name string, fileType uint8) (*AppendResult, error) {
	newSlot, err := bitsfs.NewDirentSlot(inode, name, fileType)
	if err != nil {
		return nil, err
	}

	npages := pageCount(d.Size)
	if npages == 0 {
		npages = 1
	}

	for pageIdx := int64(0); pageIdx <= npages; pageIdx++ {
		buf, err := d.Pages.PrepareChunk(pageIdx)
		if err != nil {
			return nil, err
		}

		limit := lastByte(d.Size, pageIdx)

		offset := 0
		landed := -1
		for ; offset+bitsfs.DirentSize <= bitsfs.BlockSize; offset += bitsfs.DirentSize {
			if offset >= limit {
				landed = offset
				break
			}
			slot, err := bitsfs.DecodeDirentSlot(buf[offset : offset+bitsfs.DirentSize])
			if err != nil {
				d.Pages.ReleaseChunk(pageIdx)
				return nil, err
			}
			if slot.IsEndOfDirectory() {
				landed = offset
				break
			}
			if slot.Inode != 0 && slot.NameString() == name {
				d.Pages.ReleaseChunk(pageIdx)
				return nil, bitsfs.ErrExists.WithMessage("entry named %q already exists", name)
			}
		}

		if landed < 0 {
			// Page is full of live slots with no end marker inside it;
			// move on to the next page.
			d.Pages.ReleaseChunk(pageIdx)
			continue
		}

		copy(buf[landed:landed+bitsfs.DirentSize], bitsfs.EncodeDirentSlot(newSlot))
		if err := d.Pages.CommitChunk(pageIdx); err != nil {
			return nil, err
		}

		// Directory sizes are always a whole number of pages, so a slot that
		// lands on a new page extends the size to that page's end.
		result := &AppendResult{Page: pageIdx, Offset: landed, NewSize: d.Size}
		endOfPage := uint32((pageIdx + 1) * bitsfs.BlockSize)
		if endOfPage > d.Size {
			result.NewSize = endOfPage
			result.SizeExtended = true
		}
		return result, nil
	}

	return nil, bitsfs.ErrNoSpace.WithMessage("no room to append a directory entry")
}

// Delete rewrites the slot at (page, offset) with inode = 0, leaving rec_len
// unchanged so later scans still see it as "in use but nameless".
func (d *Dir) Delete(page int64, offset int) error {
	buf, err := d.Pages.PrepareChunk(page)
	if err != nil {
		return err
	}

	slot, err := bitsfs.DecodeDirentSlot(buf[offset : offset+bitsfs.DirentSize])
	if err != nil {
		d.Pages.ReleaseChunk(page)
		return err
	}
	slot.Inode = 0
	copy(buf[offset:offset+bitsfs.DirentSize], bitsfs.EncodeDirentSlot(slot))
	return d.Pages.CommitChunk(page)
}

// IsEmpty reports whether this directory contains only "." and ".." entries.
func (d *Dir) IsEmpty(selfInode uint32) (bool, error) {
	npages := pageCount(d.Size)
	for pageIdx := int64(0); pageIdx < npages; pageIdx++ {
		buf, err := d.Pages.PrepareChunk(pageIdx)
		if err != nil {
			return false, err
		}

		limit := lastByte(d.Size, pageIdx)
		for offset := 0; offset+bitsfs.DirentSize <= limit; offset += bitsfs.DirentSize {
			slot, err := bitsfs.DecodeDirentSlot(buf[offset : offset+bitsfs.DirentSize])
			if err != nil {
				d.Pages.ReleaseChunk(pageIdx)
				return false, err
			}
			if slot.Inode == 0 {
				continue
			}
			name := slot.NameString()
			if name == "." && slot.Inode == selfInode {
				continue
			}
			if name == ".." {
				continue
			}
			d.Pages.ReleaseChunk(pageIdx)
			return false, nil
		}
		d.Pages.ReleaseChunk(pageIdx)
	}
	return true, nil
}

// DotDot reads page 0's second fixed slot (byte offset 64), the ".." entry.
func (d *Dir) DotDot() (*Found, error) {
	buf, err := d.Pages.PrepareChunk(0)
	if err != nil {
		return nil, err
	}
	defer d.Pages.ReleaseChunk(0)

	slot, err := bitsfs.DecodeDirentSlot(buf[bitsfs.DirentSize : 2*bitsfs.DirentSize])
	if err != nil {
		return nil, err
	}
	return &Found{Page: 0, Offset: bitsfs.DirentSize, Slot: slot}, nil
}

// MakeEmpty initializes a freshly allocated directory's first page with "."
// and ".." slots, returning the new directory's size.
func MakeEmpty(pages *pagecache.Cache, selfInode, parentInode uint32) (uint32, error) {
	dot, err := bitsfs.NewDirentSlot(selfInode, ".", bitsfs.FileTypeDirectory)
	if err != nil {
		return 0, err
	}
	dotdot, err := bitsfs.NewDirentSlot(parentInode, "..", bitsfs.FileTypeDirectory)
	if err != nil {
		return 0, err
	}

	buf, err := pages.PrepareChunk(0)
	if err != nil {
		return 0, err
	}
	copy(buf[0:bitsfs.DirentSize], bitsfs.EncodeDirentSlot(dot))
	copy(buf[bitsfs.DirentSize:2*bitsfs.DirentSize], bitsfs.EncodeDirentSlot(dotdot))
	if err := pages.CommitChunk(0); err != nil {
		return 0, err
	}
	return bitsfs.BlockSize, nil
}
