package kernel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHeapBase Addr = 0x00100000

func newTestHeap(t *testing.T, size uint32) *Heap {
	t.Helper()
	h, err := NewHeap(testHeapBase, size)
	require.NoError(t, err)
	return h
}

// requireHeapInvariants checks that blocks tile the arena exactly and that no
// two neighbouring blocks are both free.
func requireHeapInvariants(t *testing.T, h *Heap) {
	t.Helper()

	var total uint64
	expected := h.Base()
	blocks := h.Blocks()
	for i, b := range blocks {
		require.Equal(t, expected, b.Header, "block %d is not contiguous", i)
		total += uint64(b.Size) + HeaderSize
		expected = b.Header + HeaderSize + Addr(b.Size)
		if i > 0 {
			require.False(t, b.Free && blocks[i-1].Free, "blocks %d and %d are both free", i-1, i)
		}
	}
	require.Equal(t, uint64(h.Size()), total, "block sizes plus headers must equal the arena")
}

func TestNewHeap(t *testing.T) {
	t.Run("SingleFreeBlock", func(t *testing.T) {
		h := newTestHeap(t, 0x20000)
		blocks := h.Blocks()
		require.Len(t, blocks, 1)
		assert.True(t, blocks[0].Free)
		assert.Equal(t, uint32(0x20000-HeaderSize), blocks[0].Size)
	})

	t.Run("RejectsNullBase", func(t *testing.T) {
		_, err := NewHeap(NullAddr, 1024)
		assert.Error(t, err)
	})

	t.Run("RejectsTinyArena", func(t *testing.T) {
		_, err := NewHeap(testHeapBase, HeaderSize)
		assert.Error(t, err)
	})

	t.Run("RejectsAddressOverflow", func(t *testing.T) {
		_, err := NewHeap(0xFFFFFF00, 0x1000)
		assert.Error(t, err)
	})
}

func TestHeap_Allocate(t *testing.T) {
	t.Run("AlignsAndSplits", func(t *testing.T) {
		h := newTestHeap(t, 1024)

		a := h.Allocate(5)
		require.Equal(t, testHeapBase+HeaderSize, a)

		blocks := h.Blocks()
		require.Len(t, blocks, 2)
		assert.Equal(t, uint32(8), blocks[0].Size)
		assert.False(t, blocks[0].Free)
		assert.True(t, blocks[1].Free)
		assert.Equal(t, uint32(1024-2*HeaderSize-8), blocks[1].Size)

		b := h.Allocate(16)
		assert.Equal(t, a+8+HeaderSize, b)
		requireHeapInvariants(t, h)
	})

	t.Run("NoSplitBelowSlack", func(t *testing.T) {
		// usable 52 bytes: a 40 byte request leaves 12, less than header+slack
		h := newTestHeap(t, 64)

		a := h.Allocate(40)
		require.NotEqual(t, NullAddr, a)

		blocks := h.Blocks()
		require.Len(t, blocks, 1)
		assert.Equal(t, uint32(52), blocks[0].Size)
		assert.False(t, blocks[0].Free)
	})

	t.Run("SplitsAtExactThreshold", func(t *testing.T) {
		// usable 52 bytes: 36 + header + slack == 52
		h := newTestHeap(t, 64)

		require.NotEqual(t, NullAddr, h.Allocate(36))
		blocks := h.Blocks()
		require.Len(t, blocks, 2)
		assert.Equal(t, uint32(4), blocks[1].Size)
	})

	t.Run("FirstFit", func(t *testing.T) {
		h := newTestHeap(t, 4096)
		a := h.Allocate(256)
		b := h.Allocate(64)
		c := h.Allocate(256)
		_ = h.Allocate(64)
		require.NotContains(t, []Addr{a, b, c}, NullAddr)

		h.Release(a)
		h.Release(c)

		// both holes fit; the lower one wins
		assert.Equal(t, a, h.Allocate(100))
	})

	t.Run("Exhaustion", func(t *testing.T) {
		h := newTestHeap(t, 256)
		assert.Equal(t, NullAddr, h.Allocate(512))
		assert.Equal(t, NullAddr, h.Allocate(^uint32(0)))

		a := h.Allocate(256 - HeaderSize)
		require.NotEqual(t, NullAddr, a)
		assert.Equal(t, NullAddr, h.Allocate(1))
	})
}

func TestHeap_Release(t *testing.T) {
	t.Run("NullIsNoop", func(t *testing.T) {
		h := newTestHeap(t, 1024)
		h.Release(NullAddr)
		assert.Len(t, h.Blocks(), 1)
	})

	t.Run("ForwardCoalesce", func(t *testing.T) {
		h := newTestHeap(t, 1024)
		a := h.Allocate(64)
		b := h.Allocate(64)
		_ = h.Allocate(64)

		h.Release(b)
		h.Release(a)

		blocks := h.Blocks()
		require.Len(t, blocks, 3)
		assert.True(t, blocks[0].Free)
		assert.Equal(t, uint32(64+HeaderSize+64), blocks[0].Size)
		requireHeapInvariants(t, h)
	})

	t.Run("BackwardCoalesce", func(t *testing.T) {
		h := newTestHeap(t, 1024)
		a := h.Allocate(64)
		b := h.Allocate(64)
		_ = h.Allocate(64)

		h.Release(a)
		h.Release(b)

		blocks := h.Blocks()
		require.Len(t, blocks, 3)
		assert.True(t, blocks[0].Free)
		assert.Equal(t, uint32(64+HeaderSize+64), blocks[0].Size)
		requireHeapInvariants(t, h)
	})

	t.Run("BothDirections", func(t *testing.T) {
		h := newTestHeap(t, 1024)
		a := h.Allocate(64)
		b := h.Allocate(64)
		c := h.Allocate(64)
		_ = h.Allocate(64)

		h.Release(a)
		h.Release(c)
		h.Release(b)

		blocks := h.Blocks()
		require.Len(t, blocks, 3)
		assert.Equal(t, uint32(3*64+2*HeaderSize), blocks[0].Size)
		requireHeapInvariants(t, h)
	})
}

func TestHeap_CoalescingScenario(t *testing.T) {
	h := newTestHeap(t, 128*1024)

	a := h.Allocate(64)
	b := h.Allocate(64)
	c := h.Allocate(64)
	require.NotContains(t, []Addr{a, b, c}, NullAddr)

	h.Release(b)
	h.Release(a)

	big := h.Allocate(128)
	require.NotEqual(t, NullAddr, big)
	assert.Equal(t, a, big, "the merged A+B block should satisfy the request")

	h.Release(big)
	h.Release(c)

	blocks := h.Blocks()
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Free)
	assert.Equal(t, uint32(128*1024-HeaderSize), blocks[0].Size)
}

func TestHeap_RandomizedConservation(t *testing.T) {
	const arena = 64 * 1024
	h := newTestHeap(t, arena)
	rng := rand.New(rand.NewSource(42))

	var live []Addr
	for i := 0; i < 5000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			h.Release(live[idx])
			live = append(live[:idx], live[idx+1:]...)
		} else if a := h.Allocate(uint32(rng.Intn(700))); a != NullAddr {
			live = append(live, a)
		}
		requireHeapInvariants(t, h)
	}

	rng.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	for _, a := range live {
		h.Release(a)
		requireHeapInvariants(t, h)
	}

	blocks := h.Blocks()
	require.Len(t, blocks, 1)
	assert.True(t, blocks[0].Free)
	assert.Equal(t, uint32(arena-HeaderSize), blocks[0].Size)
}

func TestHeap_BytesAndStats(t *testing.T) {
	h := newTestHeap(t, 1024)
	a := h.Allocate(16)
	require.NotEqual(t, NullAddr, a)

	buf := h.Bytes(a, 16)
	require.Len(t, buf, 16)
	for i := range buf {
		buf[i] = 0xAA
	}
	// header of the following block must be untouched
	requireHeapInvariants(t, h)

	assert.Nil(t, h.Bytes(testHeapBase-1, 1))
	assert.Nil(t, h.Bytes(a, 2048))

	stats := h.Stats()
	assert.Equal(t, 2, stats.Blocks)
	assert.Equal(t, 1, stats.FreeBlocks)
	assert.Equal(t, uint32(16), stats.UsedBytes)
	assert.Equal(t, uint32(1024-2*HeaderSize-16), stats.FreeBytes)
	assert.Equal(t, stats.FreeBytes, stats.LargestFree)
}
