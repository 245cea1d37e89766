// Package blockmap implements the hybrid direct/indirect logical-to-physical
// block translation held in an inode's i_data[16] array, using
// bitmap.Allocator for the underlying free-block bitmap.
package blockmap

import (
	"github.com/bitsfs-go/bitsfs"
	"github.com/bitsfs-go/bitsfs/bitmap"
)

// Map translates an inode's logical block indices to physical block numbers
// against a shared free-block bitmap.
type Map struct {
	Blocks *bitmap.Allocator
}

// New builds a Map over the given block allocator.
func New(blocks *bitmap.Allocator) *Map {
	return &Map{Blocks: blocks}
}

func physicalFromBit(bit uint) uint32 {
	return uint32(bit) + bitsfs.DataBlockStart
}

func bitFromPhysical(block uint32) uint {
	return uint(block) - bitsfs.DataBlockStart
}

// Result describes the outcome of GetBlock.
type Result struct {
	// Block is the physical block number iblock maps to.
	Block uint32
	// ContiguousCount is the mapped-extent length reported to the caller:
	// iblock+1 for a direct slot, IndirectRunLength for an indirect slot.
	// It does not guarantee that that many blocks starting at Block are
	// physically consecutive or already allocated.
	ContiguousCount uint32
	// Allocated is true iff this call allocated at least one new block.
	Allocated bool
}

// ensureDirect makes sure every direct slot 0..=upTo has a valid block,
// allocating any zero slot it finds when create is true. upTo must be <
// DirectSlots. With create false, a zero slot is reported as ErrIO instead of
// being allocated.
func (m *Map) ensureDirect(iData *[bitsfs.TotalSlots]uint32, upTo int, create bool) (bool, error) {
	allocated := false
	for i := 0; i <= upTo; i++ {
		if iData[i] != 0 {
			continue
		}
		if !create {
			return allocated, bitsfs.ErrIO.WithMessage("direct slot %d has no block and create is false", i)
		}
		bit, err := m.Blocks.Alloc()
		if err != nil {
			return allocated, err
		}
		iData[i] = physicalFromBit(bit)
		allocated = true
	}
	return allocated, nil
}

// GetBlock maps logical block iblock to a physical block. create controls
// whether zero slots encountered along the way are allocated or reported as
// missing; either way every direct slot from 0 up to the target is checked,
// not just the requested one, because the direct region must stay dense for
// existing readers.
func (m *Map) GetBlock(iData *[bitsfs.TotalSlots]uint32, iblock int, create bool) (Result, error) {
	if iblock < 0 {
		return Result{}, bitsfs.ErrInvalidArgument.WithMessage("negative logical block %d", iblock)
	}

	if iblock < bitsfs.DirectSlots {
		allocated, err := m.ensureDirect(iData, iblock, create)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Block:           iData[iblock],
			ContiguousCount: uint32(iblock + 1),
			Allocated:       allocated,
		}, nil
	}

	off := iblock + 1 - bitsfs.DirectSlots
	slot := bitsfs.DirectSlots - 1 + ceilDiv(off, bitsfs.IndirectRunLength)
	offsetWithin := off % bitsfs.IndirectRunLength

	if slot >= bitsfs.TotalSlots {
		return Result{}, bitsfs.ErrFileTooLarge.WithMessage(
			"logical block %d exceeds the maximum addressable block %d", iblock, bitsfs.MaxFileBlocks-1)
	}

	allocatedAny, err := m.ensureDirect(iData, bitsfs.DirectSlots-1, create)
	if err != nil {
		return Result{}, err
	}

	for s := bitsfs.DirectSlots; s <= slot; s++ {
		if iData[s] != 0 {
			continue
		}
		if !create {
			return Result{}, bitsfs.ErrIO.WithMessage("indirect slot %d has no block and create is false", s)
		}
		bit, err := m.Blocks.AllocRun(bitsfs.IndirectRunLength)
		if err != nil {
			return Result{}, err
		}
		iData[s] = physicalFromBit(bit)
		allocatedAny = true
	}

	return Result{
		Block:           iData[slot] + uint32(offsetWithin),
		ContiguousCount: bitsfs.IndirectRunLength,
		Allocated:       allocatedAny,
	}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// TruncateAll clears every block allocated to iData, releasing each direct
// slot's single block and each indirect slot's 1024-block run back to the
// bitmap. It does not zero iData itself; the caller does that after this
// returns, along with resetting the inode's size.
func (m *Map) TruncateAll(iData *[bitsfs.TotalSlots]uint32) error {
	for i := 0; i < bitsfs.DirectSlots; i++ {
		if iData[i] == 0 {
			continue
		}
		if err := m.Blocks.Free(bitFromPhysical(iData[i])); err != nil {
			return err
		}
	}

	for i := bitsfs.DirectSlots; i < bitsfs.TotalSlots; i++ {
		if iData[i] == 0 {
			continue
		}
		if err := m.Blocks.FreeRun(bitFromPhysical(iData[i]), bitsfs.IndirectRunLength); err != nil {
			return err
		}
	}
	return nil
}
