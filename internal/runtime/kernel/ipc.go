package kernel

import (
	kerrors "github.com/kacchi-os/kacchi/internal/errors"
)

// ============================================================================
// Message passing
// ============================================================================

// DefaultQueueCapacity is the number of messages each queue holds
const DefaultQueueCapacity = 8

// MessageBus holds one bounded FIFO of integer messages per pid in
// [0, slots). It does not consult the process table: a queue exists for every
// pid in range whether or not that process is alive. Send and Receive never
// block.
type MessageBus struct {
	queues   [][]int32
	counts   []int
	capacity int
}

// NewMessageBus creates slots empty queues of capacity messages each.
func NewMessageBus(slots, capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	mb := &MessageBus{
		queues:   make([][]int32, slots),
		counts:   make([]int, slots),
		capacity: capacity,
	}
	for i := range mb.queues {
		mb.queues[i] = make([]int32, capacity)
	}
	return mb
}

// Reset empties every queue
func (mb *MessageBus) Reset() {
	for i := range mb.counts {
		mb.counts[i] = 0
	}
}

// Send appends msg to the queue of pid.
func (mb *MessageBus) Send(pid PID, msg int32) error {
	if !mb.valid(pid) {
		return mb.badPID(pid)
	}
	if mb.counts[pid] >= mb.capacity {
		return ErrQueueFull
	}

	mb.queues[pid][mb.counts[pid]] = msg
	mb.counts[pid]++
	return nil
}

// Receive removes and returns the oldest message for pid. An empty queue is
// reported as ErrQueueEmpty immediately.
func (mb *MessageBus) Receive(pid PID) (int32, error) {
	if !mb.valid(pid) {
		return 0, mb.badPID(pid)
	}
	if mb.counts[pid] == 0 {
		return 0, ErrQueueEmpty
	}

	q := mb.queues[pid]
	msg := q[0]
	copy(q, q[1:mb.counts[pid]])
	mb.counts[pid]--

	return msg, nil
}

// Len returns the number of queued messages for pid, or 0 when out of range.
func (mb *MessageBus) Len(pid PID) int {
	if !mb.valid(pid) {
		return 0
	}
	return mb.counts[pid]
}

// Capacity returns the per-queue capacity
func (mb *MessageBus) Capacity() int { return mb.capacity }

// Slots returns the number of queues
func (mb *MessageBus) Slots() int { return len(mb.queues) }

func (mb *MessageBus) valid(pid PID) bool {
	return pid >= 0 && int(pid) < len(mb.queues)
}

func (mb *MessageBus) badPID(pid PID) error {
	return kerrors.NewStandardError(ErrBadPID.Category, ErrBadPID.Code,
		ErrBadPID.Message, map[string]interface{}{"pid": int(pid), "slots": len(mb.queues)})
}
