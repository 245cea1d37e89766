package bitsfs

import (
	"bytes"
	"encoding/binary"
)

// DirentSlot is the in-memory form of one fixed 64-byte directory entry
// record.
type DirentSlot struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     [DirentNameMax]byte
}

// rawDirentSlot is the exact on-disk layout, little-endian.
type rawDirentSlot struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     [DirentNameMax]byte
}

// IsFree reports whether the slot holds no live entry.
func (d *DirentSlot) IsFree() bool {
	return d.Inode == 0
}

// IsEndOfDirectory reports the end-of-scan marker: a slot whose rec_len is
// zero terminates the page's slot sequence even though every live slot has
// rec_len == DirentSize.
func (d *DirentSlot) IsEndOfDirectory() bool {
	return d.RecLen == 0
}

// NameString returns the slot's name as a Go string.
func (d *DirentSlot) NameString() string {
	return string(d.Name[:d.NameLen])
}

// NewDirentSlot builds a live slot for the given inode/name/type.
func NewDirentSlot(inode uint32, name string, fileType uint8) (*DirentSlot, error) {
	if len(name) > DirentNameMax {
		return nil, ErrNameTooLong.WithMessage("name %q is %d bytes, max is %d", name, len(name), DirentNameMax)
	}
	slot := &DirentSlot{
		Inode:    inode,
		RecLen:   DirentSize,
		NameLen:  uint8(len(name)),
		FileType: fileType,
	}
	copy(slot.Name[:], name)
	return slot, nil
}

func direntFromRaw(raw rawDirentSlot) *DirentSlot {
	return &DirentSlot{
		Inode:    raw.Inode,
		RecLen:   raw.RecLen,
		NameLen:  raw.NameLen,
		FileType: raw.FileType,
		Name:     raw.Name,
	}
}

func (d *DirentSlot) toRaw() rawDirentSlot {
	return rawDirentSlot{
		Inode:    d.Inode,
		RecLen:   d.RecLen,
		NameLen:  d.NameLen,
		FileType: d.FileType,
		Name:     d.Name,
	}
}

// DecodeDirentSlot parses one DirentSize-byte record from buf.
func DecodeDirentSlot(buf []byte) (*DirentSlot, error) {
	if len(buf) != DirentSize {
		return nil, ErrCorrupted.WithMessage("directory slot buffer is %d bytes, want %d", len(buf), DirentSize)
	}
	var raw rawDirentSlot
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, ErrIO.Wrap(err)
	}
	return direntFromRaw(raw), nil
}

// EncodeDirentSlot serializes d into a DirentSize-byte buffer.
func EncodeDirentSlot(d *DirentSlot) []byte {
	raw := d.toRaw()
	var out bytes.Buffer
	_ = binary.Write(&out, binary.LittleEndian, &raw)
	return out.Bytes()
}
