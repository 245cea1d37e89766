// Package bitmap implements the fixed-size free-space bitmaps used for both
// the block bitmap and the inode bitmap: single-unit allocation,
// contiguous-run allocation (for the indirect block map's 1024-block runs),
// and bulk load/flush against a BitsFS BlockDevice.
package bitmap

import (
	"fmt"
	"sync"

	gobitmap "github.com/boljen/go-bitmap"

	"github.com/bitsfs-go/bitsfs"
)

// Allocator tracks the allocation state of a fixed number of units (blocks or
// inodes) backed by a go-bitmap.Bitmap. It is safe for concurrent use; the
// underlying bitmap library is not, so every access goes through mu.
type Allocator struct {
	mu    sync.Mutex
	bits  gobitmap.Bitmap
	total uint
}

// New creates an Allocator for totalUnits units, all initially free.
func New(totalUnits uint) *Allocator {
	return &Allocator{
		bits:  gobitmap.New(int(totalUnits)),
		total: totalUnits,
	}
}

// Load creates an Allocator whose bits are taken verbatim from data (as
// loaded from the on-disk bitmap blocks).
func Load(data []byte, totalUnits uint) *Allocator {
	return &Allocator{
		bits:  gobitmap.Bitmap(data),
		total: totalUnits,
	}
}

// Bytes returns the raw bitmap bytes, suitable for writing back to the
// on-disk bitmap blocks.
func (a *Allocator) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return []byte(a.bits)
}

// Total returns the number of units this allocator tracks.
func (a *Allocator) Total() uint {
	return a.total
}

// IsSet reports whether unit i is currently allocated.
func (a *Allocator) IsSet(i uint) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bits.Get(int(i))
}

// Set marks unit i allocated or free directly, bypassing the first-fit
// search. Used when replaying an existing on-disk layout (e.g. marking the
// root inode and the root directory's data block as allocated at mount
// time).
func (a *Allocator) Set(i uint, allocated bool) error {
	if i >= a.total {
		return bitsfs.ErrInvalidArgument.WithMessage(
			"unit %d not in range [0, %d)", i, a.total)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bits.Set(int(i), allocated)
	return nil
}

// Alloc finds the first free unit, marks it allocated, and returns its
// index.
func (a *Allocator) Alloc() (uint, error) {
	return a.AllocFrom(0)
}

// AllocFrom finds the first free unit at or after start, marks it
// allocated, and returns its index. Used by the inode allocator, which
// must never hand out bit 0 (the reserved bad-blocks inode) even though
// nothing else in the bitmap marks that bit permanently busy.
func (a *Allocator) AllocFrom(start uint) (uint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := start; i < a.total; i++ {
		if !a.bits.Get(int(i)) {
			a.bits.Set(int(i), true)
			return i, nil
		}
	}
	return 0, bitsfs.ErrNoSpace.WithMessage("no free unit among %d starting at %d", a.total, start)
}

// Free releases a previously allocated unit. Freeing an already-free unit is
// an error: it usually means a double-free bug upstream.
func (a *Allocator) Free(i uint) error {
	if i >= a.total {
		return bitsfs.ErrInvalidArgument.WithMessage(
			"unit %d not in range [0, %d)", i, a.total)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.bits.Get(int(i)) {
		return bitsfs.ErrInvalidArgument.WithMessage("unit %d is already free", i)
	}
	a.bits.Set(int(i), false)
	return nil
}

func (a *Allocator) findRun(count uint) (uint, error) {
	runStart := uint(0)
	runLen := uint(0)

	for i := uint(0); i < a.total; i++ {
		if a.bits.Get(int(i)) {
			runLen = 0
			continue
		}
		if runLen == 0 {
			runStart = i
		}
		runLen++
		if runLen == count {
			return runStart, nil
		}
	}
	return 0, bitsfs.ErrNoSpace.WithMessage(
		"no contiguous run of %d free units among %d", count, a.total)
}

// AllocRun finds and allocates the first contiguous run of count free units
// (first-fit), returning the index of its first unit. Used by the indirect
// block map to carve out a new 1024-block run in one allocation.
func (a *Allocator) AllocRun(count uint) (uint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start, err := a.findRun(count)
	if err != nil {
		return 0, err
	}
	for i := uint(0); i < count; i++ {
		a.bits.Set(int(start+i), true)
	}
	return start, nil
}

// FreeRun releases count consecutive units starting at start.
func (a *Allocator) FreeRun(start, count uint) error {
	if start+count > a.total {
		return bitsfs.ErrInvalidArgument.WithMessage(
			"run [%d, %d) exceeds %d total units", start, start+count, a.total)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i := uint(0); i < count; i++ {
		a.bits.Set(int(start+i), false)
	}
	return nil
}

// FreeCount returns how many units are currently unallocated.
func (a *Allocator) FreeCount() uint {
	a.mu.Lock()
	defer a.mu.Unlock()

	free := uint(0)
	for i := uint(0); i < a.total; i++ {
		if !a.bits.Get(int(i)) {
			free++
		}
	}
	return free
}

// String implements fmt.Stringer for debugging/log output.
func (a *Allocator) String() string {
	return fmt.Sprintf("Allocator{total=%d, free=%d}", a.total, a.FreeCount())
}
