package kernel

import (
	"fmt"
)

// ============================================================================
// Process management
// ============================================================================

// ProcessState represents the state of a process
type ProcessState uint8

const (
	StateNew ProcessState = iota
	StateReady
	StateCurrent
	StateWaiting
	StateTerminated
)

// String returns the state name
func (s ProcessState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReady:
		return "READY"
	case StateCurrent:
		return "CURRENT"
	case StateWaiting:
		return "WAITING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("ProcessState(%d)", uint8(s))
	}
}

// PID identifies a process
type PID int32

// NoPID marks an unused table slot and "no current process".
const NoPID PID = -1

// DefaultPriority is the base priority of a newly created process
const DefaultPriority = 1

// Runnable is the entry behaviour of a process. The kernel only ever calls Run.
type Runnable interface {
	Run()
}

// RunFunc adapts a plain function to Runnable
type RunFunc func()

// Run calls f
func (f RunFunc) Run() { f() }

// Process is a process control block
type Process struct {
	PID      PID
	State    ProcessState
	Entry    Runnable
	Stack    Addr
	Priority int
	Age      int
}

// ProcessTable owns a fixed number of process slots. Slot order is the
// iteration and tie-break order for creation and scheduling.
type ProcessTable struct {
	procs      []Process
	stacks     *StackPool
	currentPID PID
	nextPID    PID

	// allowStackless keeps a process whose stack allocation failed.
	allowStackless bool
	log            Logger
}

// NewProcessTable creates a table with capacity free slots drawing stacks from stacks.
func NewProcessTable(capacity int, stacks *StackPool) *ProcessTable {
	pt := &ProcessTable{
		procs:      make([]Process, capacity),
		stacks:     stacks,
		currentPID: NoPID,
		log:        nopLogger{},
	}
	for i := range pt.procs {
		pt.procs[i] = Process{PID: NoPID, State: StateTerminated}
	}
	return pt
}

// Create places entry in the first terminated slot and makes it READY.
// Identifiers increase monotonically and are never reused.
func (pt *ProcessTable) Create(entry Runnable) (PID, error) {
	for i := range pt.procs {
		p := &pt.procs[i]
		if p.State != StateTerminated {
			continue
		}

		stack := NullAddr
		if pt.stacks != nil {
			stack = pt.stacks.Allocate()
		}
		if stack == NullAddr && !pt.allowStackless {
			return NoPID, ErrNoStack
		}

		p.PID = pt.nextPID
		pt.nextPID++
		p.Entry = entry
		p.Stack = stack
		p.Priority = DefaultPriority
		p.Age = 0
		p.State = StateReady

		pt.log.Debug("process %d created in slot %d (stack 0x%x)", p.PID, i, uint32(stack))
		return p.PID, nil
	}
	return NoPID, ErrTableFull
}

// SetState assigns state to pid unconditionally and keeps the current
// process record in step. Unknown pids are ignored.
func (pt *ProcessTable) SetState(pid PID, state ProcessState) {
	p := pt.Lookup(pid)
	if p == nil {
		return
	}

	p.State = state
	if state == StateCurrent {
		pt.currentPID = pid
	} else if pt.currentPID == pid {
		pt.currentPID = NoPID
	}
}

// Terminate releases the stack of pid and frees its slot. Later lookups of
// pid fail. Unknown pids are ignored.
func (pt *ProcessTable) Terminate(pid PID) {
	p := pt.Lookup(pid)
	if p == nil {
		return
	}

	if pt.stacks != nil {
		pt.stacks.Release(p.Stack)
	}
	p.Stack = NullAddr
	p.State = StateTerminated
	p.PID = NoPID
	if pt.currentPID == pid {
		pt.currentPID = NoPID
	}

	pt.log.Debug("process %d terminated", pid)
}

// Lookup returns the live process with identifier pid, or nil.
func (pt *ProcessTable) Lookup(pid PID) *Process {
	for i := range pt.procs {
		if pt.procs[i].PID == pid && pt.procs[i].State != StateTerminated {
			return &pt.procs[i]
		}
	}
	return nil
}

// FirstReady returns the READY process in the lowest slot, or nil.
func (pt *ProcessTable) FirstReady() *Process {
	for i := range pt.procs {
		if pt.procs[i].State == StateReady {
			return &pt.procs[i]
		}
	}
	return nil
}

// Current returns the process in the CURRENT state, or nil.
func (pt *ProcessTable) Current() *Process {
	if pt.currentPID == NoPID {
		return nil
	}
	return pt.Lookup(pt.currentPID)
}

// At returns the slot at index, or nil when index is out of range.
func (pt *ProcessTable) At(index int) *Process {
	if index < 0 || index >= len(pt.procs) {
		return nil
	}
	return &pt.procs[index]
}

// SetPriority changes the base priority of a live process.
func (pt *ProcessTable) SetPriority(pid PID, priority int) bool {
	p := pt.Lookup(pid)
	if p == nil {
		return false
	}
	p.Priority = priority
	return true
}

// Capacity returns the number of slots
func (pt *ProcessTable) Capacity() int { return len(pt.procs) }

// Live returns the number of non-terminated slots
func (pt *ProcessTable) Live() int {
	n := 0
	for i := range pt.procs {
		if pt.procs[i].State != StateTerminated {
			n++
		}
	}
	return n
}

// NextPID returns the identifier the next Create will assign
func (pt *ProcessTable) NextPID() PID { return pt.nextPID }
