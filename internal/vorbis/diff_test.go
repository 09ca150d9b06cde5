package vorbis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_Unchanged(t *testing.T) {
	old := parseFixture(t, "A=1", "B=2")
	patch := Diff(old, old.Clone())

	assert.True(t, patch.Empty())
	assert.Equal(t, 2, patch.FirstChanged)
	assert.Zero(t, patch.Bytes())
}

func TestDiff_SameLengthEdit(t *testing.T) {
	old := parseFixture(t, "A=1", "B=2", "C=3")
	updated := old.Clone()
	require.NoError(t, updated.Set("B", "9"))

	patch := Diff(old, updated)

	assert.Equal(t, 1, patch.FirstChanged)
	require.Len(t, patch.Writes, 1)
	assert.Equal(t, old.Entries[1].FilePtr-old.FilePtr, patch.Writes[0].Offset)
	assert.Equal(t, Serialize(updated), patch.Apply(Serialize(old)))
}

func TestDiff_AddPatchesCount(t *testing.T) {
	old := parseFixture(t, "A=1", "B=2")
	updated := old.Clone()
	require.NoError(t, updated.Add("C", "3"))

	patch := Diff(old, updated)

	require.Len(t, patch.Writes, 2)
	assert.Equal(t, old.CommentAmountPtr-old.FilePtr, patch.Writes[0].Offset)
	assert.Equal(t, []byte{3, 0, 0, 0}, patch.Writes[0].Data)
	assert.Equal(t, 2, patch.FirstChanged)
	assert.Equal(t, int64(4+len("C=3")), int64(len(patch.Writes[1].Data)))
	assert.Equal(t, Serialize(updated), patch.Apply(Serialize(old)))
}

func TestDiff_RemoveShrinks(t *testing.T) {
	old := parseFixture(t, "A=1", "B=2", "C=3")
	updated := old.Clone()
	updated.Remove("B")

	patch := Diff(old, updated)

	assert.Equal(t, patch.OldLength-int64(4+len("B=2")), patch.NewLength)
	assert.Equal(t, 1, patch.FirstChanged)
	assert.Equal(t, Serialize(updated), patch.Apply(Serialize(old)))
}

func TestDiff_RemoveLastWritesOnlyCount(t *testing.T) {
	old := parseFixture(t, "A=1", "B=2")
	updated := old.Clone()
	updated.Remove("B")

	patch := Diff(old, updated)

	require.Len(t, patch.Writes, 1)
	assert.Equal(t, []byte{1, 0, 0, 0}, patch.Writes[0].Data)
	assert.Equal(t, Serialize(updated), patch.Apply(Serialize(old)))
}

func TestDiff_VendorChangeRewritesAll(t *testing.T) {
	old := parseFixture(t, "A=1")
	updated := old.Clone()
	updated.Vendor = "other"

	patch := Diff(old, updated)

	require.Len(t, patch.Writes, 1)
	assert.Equal(t, int64(0), patch.Writes[0].Offset)
	assert.Equal(t, Serialize(updated), patch.Apply(Serialize(old)))
}
