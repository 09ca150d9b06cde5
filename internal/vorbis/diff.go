package vorbis

import (
	"bytes"
	"encoding/binary"
)

// Write is a span of bytes to write at Offset, relative to the payload start
type Write struct {
	Offset int64
	Data   []byte
}

// Patch turns one serialized payload into another with the fewest writes
// that keep every leading unchanged entry in place. FirstChanged is the
// index of the first entry whose bytes or position change.
type Patch struct {
	Writes       []Write
	OldLength    int64
	NewLength    int64
	FirstChanged int
}

// Empty reports whether the patch writes nothing
func (p Patch) Empty() bool {
	return len(p.Writes) == 0 && p.OldLength == p.NewLength
}

// Bytes is the total number of bytes the patch writes
func (p Patch) Bytes() int64 {
	var n int64
	for _, w := range p.Writes {
		n += int64(len(w.Data))
	}
	return n
}

// Apply returns old with the patch applied
func (p Patch) Apply(old []byte) []byte {
	out := make([]byte, p.NewLength)
	copy(out, old)
	for _, w := range p.Writes {
		copy(out[w.Offset:], w.Data)
	}
	return out
}

// Diff computes the patch from old to updated: the count field when the
// number of entries changed, plus the tail starting at the first entry that
// differs. A changed vendor string rewrites the whole payload.
func Diff(old, updated *Block) Patch {
	newBytes := Serialize(updated)
	patch := Patch{
		OldLength: int64(old.EncodedSize()),
		NewLength: int64(len(newBytes)),
	}

	if old.Vendor != updated.Vendor {
		patch.Writes = []Write{{Offset: 0, Data: newBytes}}
		return patch
	}

	countOffset := int64(LengthSize + len(updated.Vendor))
	if len(old.Entries) != len(updated.Entries) {
		count := binary.LittleEndian.AppendUint32(nil, uint32(len(updated.Entries)))
		patch.Writes = append(patch.Writes, Write{Offset: countOffset, Data: count})
	}

	first := 0
	tailOffset := countOffset + LengthSize
	for first < len(old.Entries) && first < len(updated.Entries) &&
		bytes.Equal(old.Entries[first].Raw(), updated.Entries[first].Raw()) {
		tailOffset += int64(LengthSize + len(updated.Entries[first].Raw()))
		first++
	}
	patch.FirstChanged = first

	if tail := newBytes[tailOffset:]; len(tail) > 0 {
		patch.Writes = append(patch.Writes, Write{Offset: tailOffset, Data: tail})
	}
	return patch
}
