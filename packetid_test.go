package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIDAllocatorSkipsZero(t *testing.T) {
	a := newPacketIDAllocator()
	id, ok := a.allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(1), id)
}

func TestPacketIDAllocatorWrapsAroundSkippingZero(t *testing.T) {
	a := newPacketIDAllocator()
	a.next = 0xffff
	first, ok := a.allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(0xffff), first)
	second, ok := a.allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(1), second, "must skip the reserved zero identifier on wraparound")
}

func TestPacketIDAllocatorReleaseFreesID(t *testing.T) {
	a := newPacketIDAllocator()
	id, _ := a.allocate()
	a.release(id)
	again, ok := a.allocate()
	require.True(t, ok)
	// The allocator is a rolling counter, not a free list, so a released id
	// is only reused once the counter wraps back around to it.
	assert.NotEqual(t, id, again)
	assert.Len(t, a.used, 1)
}

func TestPacketIDAllocatorExhaustion(t *testing.T) {
	a := newPacketIDAllocator()
	for i := 0; i < 0xffff; i++ {
		_, ok := a.allocate()
		require.True(t, ok)
	}
	_, ok := a.allocate()
	assert.False(t, ok)
}
