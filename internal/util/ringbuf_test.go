package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferFillsAndOverwrites(t *testing.T) {
	r := NewRingBuffer[int](3)
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Snapshot())

	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{1, 2}, r.Snapshot())

	r.Push(3)
	r.Push(4)
	r.Push(5)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot(), "oldest elements are overwritten first")
}

func TestRingBufferSnapshotIsCopy(t *testing.T) {
	r := NewRingBuffer[int](2)
	r.Push(1)
	snap := r.Snapshot()
	snap[0] = 99
	assert.Equal(t, []int{1}, r.Snapshot())
}
