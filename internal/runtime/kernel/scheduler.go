package kernel

import (
	kio "github.com/kacchi-os/kacchi/internal/io"
)

// ============================================================================
// Scheduler
// ============================================================================

// Scheduler picks the READY process with the greatest priority+age and runs
// its entry quantum times. Every READY process inspected ages by one on each
// selection, which keeps low-priority processes from starving.
//
// A selected process runs to completion and is then terminated; it is never
// put back on the ready set, even with a quantum of one.
type Scheduler struct {
	table   *ProcessTable
	quantum int
	trace   kio.Sink
	log     Logger

	// Statistics
	Runs        uint64
	Invocations uint64
}

// NewScheduler creates a scheduler over table. A quantum below one is
// treated as one. trace may be nil.
func NewScheduler(table *ProcessTable, quantum int, trace kio.Sink) *Scheduler {
	s := &Scheduler{
		table: table,
		trace: trace,
		log:   nopLogger{},
	}
	s.SetQuantum(quantum)
	return s
}

// SetQuantum sets the number of entry invocations per run.
func (s *Scheduler) SetQuantum(quantum int) {
	if quantum <= 0 {
		quantum = 1
	}
	s.quantum = quantum
}

// Quantum returns the configured quantum
func (s *Scheduler) Quantum() int { return s.quantum }

// SelectNext ages every READY process and returns the one with the greatest
// priority+age. Ties go to the lowest slot.
func (s *Scheduler) SelectNext() *Process {
	var selected *Process

	for i := 0; i < s.table.Capacity(); i++ {
		p := s.table.At(i)
		if p == nil || p.State != StateReady {
			continue
		}

		p.Age++
		if selected == nil || p.Priority+p.Age > selected.Priority+selected.Age {
			selected = p
		}
	}

	return selected
}

// RunOnce selects a process, makes it CURRENT, invokes its entry quantum
// times and terminates it. It reports whether a process ran.
func (s *Scheduler) RunOnce() bool {
	p := s.SelectNext()
	if p == nil {
		return false
	}

	pid := p.PID
	s.table.SetState(pid, StateCurrent)

	if s.trace != nil {
		s.trace.PutString("[Scheduler] Running process ")
		kio.PutInt(s.trace, int(pid))
		s.trace.PutString("\n")
	}
	s.log.Debug("running process %d (priority %d, age %d, quantum %d)", pid, p.Priority, p.Age, s.quantum)

	for q := 0; q < s.quantum; q++ {
		if p.Entry != nil {
			p.Entry.Run()
		}
		s.Invocations++
	}

	p.Age = 0
	s.table.Terminate(pid)
	s.Runs++

	return true
}

// RunUntilIdle calls RunOnce while any process is READY and returns the
// number of processes run.
func (s *Scheduler) RunUntilIdle() int {
	n := 0
	for s.table.FirstReady() != nil {
		if !s.RunOnce() {
			break
		}
		n++
	}
	return n
}
