package logring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEvictsOldest(t *testing.T) {
	r := New(3)
	for i := 1; i <= 4; i++ {
		r.Add("stdout", fmt.Sprintf("R%d", i))
	}

	require.Equal(t, 3, r.Len())
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "R2", snap[0].Message)
	assert.Equal(t, "R3", snap[1].Message)
	assert.Equal(t, "R4", snap[2].Message)
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := New(5)
	for i := 0; i < 100; i++ {
		r.Add("stderr", fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, 5, r.Len())
	assert.Equal(t, 5, r.Cap())

	snap := r.Snapshot()
	assert.Equal(t, "line 95", snap[0].Message)
	assert.Equal(t, "line 99", snap[4].Message)
}

func TestRingTail(t *testing.T) {
	r := New(10)
	for i := 0; i < 6; i++ {
		r.Add("info", fmt.Sprintf("m%d", i))
	}

	tail := r.Tail(2)
	require.Len(t, tail, 2)
	assert.Equal(t, "m4", tail[0].Message)
	assert.Equal(t, "m5", tail[1].Message)

	// Asking for more than stored returns everything.
	all := r.Tail(100)
	assert.Len(t, all, 6)

	assert.Nil(t, r.Tail(0))
}

func TestRingDefaultCapacity(t *testing.T) {
	r := New(0)
	assert.Equal(t, DefaultCapacity, r.Cap())
}

func TestRingReset(t *testing.T) {
	r := New(4)
	r.Add("stdout", "a")
	r.Add("stdout", "b")
	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestRingPartialFillOrder(t *testing.T) {
	r := New(8)
	r.Add("stdout", "first")
	r.Add("stdout", "second")
	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "first", snap[0].Message)
	assert.Equal(t, "second", snap[1].Message)
	assert.False(t, snap[0].Timestamp.IsZero())
}
