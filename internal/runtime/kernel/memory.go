// Package kernel provides the resource-management core of the kacchi kernel:
// heap and stack allocation, the process table, the scheduler and message IPC.
// Every table is owned by an explicit object; there is no package-level state.
package kernel

import (
	"encoding/binary"
	"math"

	kerrors "github.com/kacchi-os/kacchi/internal/errors"
)

// Addr is an address in the simulated machine
type Addr uint32

// NullAddr is the null address; allocators return it on failure.
const NullAddr Addr = 0

// Heap layout constants
const (
	// HeaderSize is the in-band size of a block header:
	// size (4) + free flag (1) + padding (3) + next (4).
	HeaderSize = 12

	// Alignment of every allocation size
	Alignment = 4

	// splitSlack is the smallest payload worth carving out as a new free block.
	splitSlack = 4

	offSize = 0
	offFree = 4
	offNext = 8
)

// ============================================================================
// Heap allocator
// ============================================================================

// Heap is a first-fit allocator over a fixed arena. Blocks tile the arena in
// address order and are chained through the next field of their headers.
// The list invariant after every Release is that no two neighbouring blocks
// are both free.
type Heap struct {
	base  Addr
	arena []byte
	head  Addr
}

// BlockInfo describes one block of the heap
type BlockInfo struct {
	Header Addr
	Size   uint32
	Free   bool
}

// HeapStats summarizes heap usage
type HeapStats struct {
	ArenaSize   uint32
	Blocks      int
	FreeBlocks  int
	FreeBytes   uint32
	UsedBytes   uint32
	LargestFree uint32
}

// NewHeap initializes a heap spanning [base, base+size) as one free block.
func NewHeap(base Addr, size uint32) (*Heap, error) {
	if base == NullAddr {
		return nil, kerrors.InvalidAddress(uint64(base), "heap arena base")
	}
	if size < HeaderSize+Alignment {
		return nil, kerrors.InvalidSize(uint64(size), "heap arena")
	}
	if uint64(base)+uint64(size) > math.MaxUint32 {
		return nil, kerrors.InvalidSize(uint64(size), "heap arena beyond 32-bit address space")
	}

	h := &Heap{
		base:  base,
		arena: make([]byte, size),
		head:  base,
	}
	h.writeHeader(base, size-HeaderSize, true, NullAddr)

	return h, nil
}

// Allocate returns the payload address of a block of at least size bytes, or
// NullAddr when no free block is large enough.
func (h *Heap) Allocate(size uint32) Addr {
	if size > uint32(len(h.arena)) {
		return NullAddr
	}
	asize := alignUp(size)

	for cur := h.head; cur != NullAddr; cur = h.next(cur) {
		if !h.isFree(cur) || h.size(cur) < asize {
			continue
		}

		if h.size(cur) >= asize+HeaderSize+splitSlack {
			split := cur + HeaderSize + Addr(asize)
			h.writeHeader(split, h.size(cur)-asize-HeaderSize, true, h.next(cur))
			h.setNext(cur, split)
			h.setSize(cur, asize)
		}

		h.setFree(cur, false)
		return cur + HeaderSize
	}

	return NullAddr
}

// Release returns a block to the heap and merges it with free neighbours.
// Releasing NullAddr is a no-op. Releasing an address twice, or one that
// Allocate did not return, is undefined.
func (h *Heap) Release(addr Addr) {
	if addr == NullAddr {
		return
	}

	block := addr - HeaderSize
	h.setFree(block, true)

	if next := h.next(block); next != NullAddr && h.isFree(next) {
		h.setSize(block, h.size(block)+HeaderSize+h.size(next))
		h.setNext(block, h.next(next))
	}

	// The list is singly linked, so the predecessor is found from the head.
	prev := NullAddr
	for cur := h.head; cur != NullAddr && cur != block; cur = h.next(cur) {
		prev = cur
	}

	if prev != NullAddr && h.isFree(prev) {
		h.setSize(prev, h.size(prev)+HeaderSize+h.size(block))
		h.setNext(prev, h.next(block))
	}
}

// Bytes returns the n payload bytes starting at addr, or nil if the range is
// outside the arena.
func (h *Heap) Bytes(addr Addr, n uint32) []byte {
	if addr < h.base {
		return nil
	}
	off := uint64(addr - h.base)
	if off+uint64(n) > uint64(len(h.arena)) {
		return nil
	}
	return h.arena[off : off+uint64(n)]
}

// Base returns the arena start address
func (h *Heap) Base() Addr { return h.base }

// Size returns the arena size in bytes
func (h *Heap) Size() uint32 { return uint32(len(h.arena)) }

// Blocks walks the block list in address order.
func (h *Heap) Blocks() []BlockInfo {
	var blocks []BlockInfo
	for cur := h.head; cur != NullAddr; cur = h.next(cur) {
		blocks = append(blocks, BlockInfo{Header: cur, Size: h.size(cur), Free: h.isFree(cur)})
	}
	return blocks
}

// Stats returns heap usage counters
func (h *Heap) Stats() HeapStats {
	stats := HeapStats{ArenaSize: uint32(len(h.arena))}
	for _, b := range h.Blocks() {
		stats.Blocks++
		if b.Free {
			stats.FreeBlocks++
			stats.FreeBytes += b.Size
			if b.Size > stats.LargestFree {
				stats.LargestFree = b.Size
			}
		} else {
			stats.UsedBytes += b.Size
		}
	}
	return stats
}

// ============================================================================
// Header encoding
// ============================================================================

func (h *Heap) off(a Addr) uint32 {
	return uint32(a - h.base)
}

func (h *Heap) writeHeader(a Addr, size uint32, free bool, next Addr) {
	h.setSize(a, size)
	h.setFree(a, free)
	h.arena[h.off(a)+offFree+1] = 0
	h.arena[h.off(a)+offFree+2] = 0
	h.arena[h.off(a)+offFree+3] = 0
	h.setNext(a, next)
}

func (h *Heap) size(a Addr) uint32 {
	return binary.LittleEndian.Uint32(h.arena[h.off(a)+offSize:])
}

func (h *Heap) setSize(a Addr, size uint32) {
	binary.LittleEndian.PutUint32(h.arena[h.off(a)+offSize:], size)
}

func (h *Heap) isFree(a Addr) bool {
	return h.arena[h.off(a)+offFree] != 0
}

func (h *Heap) setFree(a Addr, free bool) {
	var v byte
	if free {
		v = 1
	}
	h.arena[h.off(a)+offFree] = v
}

func (h *Heap) next(a Addr) Addr {
	return Addr(binary.LittleEndian.Uint32(h.arena[h.off(a)+offNext:]))
}

func (h *Heap) setNext(a Addr, next Addr) {
	binary.LittleEndian.PutUint32(h.arena[h.off(a)+offNext:], uint32(next))
}

func alignUp(size uint32) uint32 {
	return (size + Alignment - 1) &^ (Alignment - 1)
}
