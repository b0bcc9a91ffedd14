package kernel

import (
	kerrors "github.com/kacchi-os/kacchi/internal/errors"
)

// StackPool hands out fixed-size stack slots. Stacks grow downward, so the
// handle of a slot is its top address: the first address past its end.
type StackPool struct {
	base     Addr
	slotSize uint32
	mem      []byte
	used     []bool
}

// NewStackPool creates a pool of slots stacks of slotSize bytes laid out
// contiguously from base.
func NewStackPool(base Addr, slots int, slotSize uint32) (*StackPool, error) {
	if base == NullAddr {
		return nil, kerrors.InvalidAddress(uint64(base), "stack region base")
	}
	if slots <= 0 {
		return nil, kerrors.InvalidSize(uint64(slots), "stack slot count")
	}
	if slotSize == 0 || slotSize%Alignment != 0 {
		return nil, kerrors.InvalidSize(uint64(slotSize), "stack slot size")
	}
	total := uint64(slots) * uint64(slotSize)
	if uint64(base)+total > 1<<32-1 {
		return nil, kerrors.InvalidSize(total, "stack region beyond 32-bit address space")
	}

	return &StackPool{
		base:     base,
		slotSize: slotSize,
		mem:      make([]byte, total),
		used:     make([]bool, slots),
	}, nil
}

// Allocate claims the first unused slot and returns its top address, or
// NullAddr when every slot is in use.
func (sp *StackPool) Allocate() Addr {
	for i, inUse := range sp.used {
		if !inUse {
			sp.used[i] = true
			return sp.top(i)
		}
	}
	return NullAddr
}

// Release frees the slot whose top address is top. Unknown addresses are
// ignored.
func (sp *StackPool) Release(top Addr) {
	for i := range sp.used {
		if sp.top(i) == top {
			sp.used[i] = false
			return
		}
	}
}

// Region returns the memory of the slot whose top address is top, or nil.
func (sp *StackPool) Region(top Addr) []byte {
	for i := range sp.used {
		if sp.top(i) == top {
			start := uint32(i) * sp.slotSize
			return sp.mem[start : start+sp.slotSize]
		}
	}
	return nil
}

// InUse returns the number of claimed slots
func (sp *StackPool) InUse() int {
	n := 0
	for _, inUse := range sp.used {
		if inUse {
			n++
		}
	}
	return n
}

// Capacity returns the number of slots
func (sp *StackPool) Capacity() int { return len(sp.used) }

// SlotSize returns the size of each slot in bytes
func (sp *StackPool) SlotSize() uint32 { return sp.slotSize }

func (sp *StackPool) top(i int) Addr {
	return sp.base + Addr(uint32(i+1)*sp.slotSize)
}
