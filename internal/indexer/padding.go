package indexer

import (
	"musicmaid/internal/flac"
)

// Mode is how a comment block rewrite is carried out
type Mode string

const (
	ModeInPlace     Mode = "in_place"
	ModeCopyOnWrite Mode = "copy_on_write"
)

// Plan is a strategy's decision for one rewrite. For in-place plans that
// touch padding, Padding is the absorbing block and PaddingSize its new
// payload size; DropPadding removes the block entirely.
type Plan struct {
	Mode        Mode
	Padding     *flac.Block
	PaddingSize int64
	DropPadding bool
}

// PaddingStrategy decides whether a comment block of newSize bytes can be
// written over comment without moving audio data
type PaddingStrategy interface {
	Plan(layout *flac.Layout, comment flac.Block, newSize int64) Plan
}

// AdjacentPadding absorbs growth or shrinkage in the padding block that
// directly follows the comment block. A padding block consumed exactly,
// header included, is dropped.
type AdjacentPadding struct{}

// Plan implements PaddingStrategy
func (AdjacentPadding) Plan(layout *flac.Layout, comment flac.Block, newSize int64) Plan {
	if newSize > flac.MaxBlockSize {
		return Plan{Mode: ModeCopyOnWrite}
	}

	delta := newSize - comment.Size
	if delta == 0 {
		return Plan{Mode: ModeInPlace}
	}

	padding, ok := layout.PaddingAfter(comment)
	if !ok {
		return Plan{Mode: ModeCopyOnWrite}
	}

	remaining := padding.Size - delta
	switch {
	case remaining >= 0 && remaining <= flac.MaxBlockSize:
		return Plan{Mode: ModeInPlace, Padding: &padding, PaddingSize: remaining}
	case remaining == -flac.HeaderSize:
		return Plan{Mode: ModeInPlace, Padding: &padding, DropPadding: true}
	default:
		return Plan{Mode: ModeCopyOnWrite}
	}
}

// AlwaysRewrite never writes in place. Every edit produces a fresh file
// with newly sized padding.
type AlwaysRewrite struct{}

// Plan implements PaddingStrategy
func (AlwaysRewrite) Plan(*flac.Layout, flac.Block, int64) Plan {
	return Plan{Mode: ModeCopyOnWrite}
}

// PacketPlanner is implemented by strategies that also decide rewrites of
// Ogg comment packets. A packet can only be written in place over the pages
// of the old one; resizable reports whether a zero tail may absorb a
// shrinking packet.
type PacketPlanner interface {
	PlanPacket(oldSize, newSize int64, resizable bool) Mode
}

// PlanPacket implements PacketPlanner
func (AdjacentPadding) PlanPacket(oldSize, newSize int64, resizable bool) Mode {
	if newSize == oldSize || (resizable && newSize < oldSize) {
		return ModeInPlace
	}
	return ModeCopyOnWrite
}

// PlanPacket implements PacketPlanner
func (AlwaysRewrite) PlanPacket(int64, int64, bool) Mode {
	return ModeCopyOnWrite
}

// PlanPacket asks s for an Ogg packet plan, falling back to AdjacentPadding
// for strategies that only plan FLAC blocks
func PlanPacket(s PaddingStrategy, oldSize, newSize int64, resizable bool) Mode {
	if p, ok := s.(PacketPlanner); ok {
		return p.PlanPacket(oldSize, newSize, resizable)
	}
	return AdjacentPadding{}.PlanPacket(oldSize, newSize, resizable)
}
