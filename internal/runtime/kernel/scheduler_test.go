package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type traceSink struct {
	strings.Builder
}

func (s *traceSink) PutChar(c byte)     { s.WriteByte(c) }
func (s *traceSink) PutString(v string) { s.WriteString(v) }

func TestNewScheduler_QuantumDefaults(t *testing.T) {
	pt, _ := newTestTable(t, 2, 2)

	assert.Equal(t, 1, NewScheduler(pt, 0, nil).Quantum())
	assert.Equal(t, 1, NewScheduler(pt, -3, nil).Quantum())
	assert.Equal(t, 4, NewScheduler(pt, 4, nil).Quantum())
}

func TestScheduler_SelectNextPicksHighestPriority(t *testing.T) {
	pt, _ := newTestTable(t, 8, 8)
	var pids []PID
	for prio := 0; prio < 3; prio++ {
		pid, err := pt.Create(nop())
		require.NoError(t, err)
		pt.SetPriority(pid, prio)
		pids = append(pids, pid)
	}

	s := NewScheduler(pt, 1, nil)
	p := s.SelectNext()
	require.NotNil(t, p)
	assert.Equal(t, pids[2], p.PID)

	// every ready process aged, not only the winner
	for _, pid := range pids {
		assert.Equal(t, 1, pt.Lookup(pid).Age)
	}
}

func TestScheduler_SelectNextTieGoesToLowestSlot(t *testing.T) {
	pt, _ := newTestTable(t, 4, 4)
	a, _ := pt.Create(nop())
	_, _ = pt.Create(nop())
	_, _ = pt.Create(nop())

	s := NewScheduler(pt, 1, nil)
	assert.Equal(t, a, s.SelectNext().PID)
}

func TestScheduler_SelectNextSkipsNonReady(t *testing.T) {
	pt, _ := newTestTable(t, 4, 4)
	a, _ := pt.Create(nop())
	b, _ := pt.Create(nop())
	pt.SetPriority(a, 10)
	pt.SetState(a, StateWaiting)

	s := NewScheduler(pt, 1, nil)
	assert.Equal(t, b, s.SelectNext().PID)
	assert.Equal(t, 0, pt.Lookup(a).Age, "waiting processes do not age")

	pt.SetState(b, StateWaiting)
	assert.Nil(t, s.SelectNext())
}

func TestScheduler_AgingOvertakesPriority(t *testing.T) {
	pt, _ := newTestTable(t, 4, 4)
	low, _ := pt.Create(nop())
	high, _ := pt.Create(nop())
	pt.SetPriority(low, 0)
	pt.SetPriority(high, 2)

	// low has waited long enough to beat high
	pt.Lookup(low).Age = 5

	s := NewScheduler(pt, 1, nil)
	assert.Equal(t, low, s.SelectNext().PID)
}

func TestScheduler_RunOnceRunsToCompletion(t *testing.T) {
	pt, sp := newTestTable(t, 4, 4)
	calls := 0
	var stateDuringRun ProcessState
	pid, err := pt.Create(RunFunc(func() {
		calls++
		stateDuringRun = pt.Current().State
	}))
	require.NoError(t, err)

	trace := &traceSink{}
	s := NewScheduler(pt, 2, trace)
	assert.True(t, s.RunOnce())

	assert.Equal(t, 2, calls)
	assert.Equal(t, StateCurrent, stateDuringRun)
	assert.Nil(t, pt.Lookup(pid), "the process is terminated, not returned to READY")
	assert.Equal(t, StateTerminated, pt.At(0).State)
	assert.Equal(t, 0, pt.At(0).Age)
	assert.Nil(t, pt.Current())
	assert.Equal(t, 0, sp.InUse())
	assert.Equal(t, "[Scheduler] Running process 0\n", trace.String())
	assert.Equal(t, uint64(1), s.Runs)
	assert.Equal(t, uint64(2), s.Invocations)
}

func TestScheduler_RunOnceIdle(t *testing.T) {
	pt, _ := newTestTable(t, 2, 2)
	trace := &traceSink{}
	s := NewScheduler(pt, 1, trace)

	assert.False(t, s.RunOnce())
	assert.Empty(t, trace.String())
}

func TestScheduler_RunUntilIdleOrder(t *testing.T) {
	pt, _ := newTestTable(t, 8, 8)
	var order []int
	for i := 0; i < 6; i++ {
		tag := i
		pid, err := pt.Create(RunFunc(func() { order = append(order, tag) }))
		require.NoError(t, err)
		pt.SetPriority(pid, i%3)
	}

	s := NewScheduler(pt, 1, nil)
	assert.Equal(t, 6, s.RunUntilIdle())
	assert.Equal(t, 0, pt.Live())

	// Round 1 ages everyone to 1: slot 2 (prio 2) and slot 5 (prio 2) tie, slot 2 wins.
	// Round 2: slot 5 has 2+2. Round 3: slots 1,4 (prio 1) and 0,3 (prio 0) have
	// aged the same amount, so slot 1 wins, then slot 4, then 0 and 3.
	assert.Equal(t, []int{2, 5, 1, 4, 0, 3}, order)
}

func TestScheduler_TraceAbsenceDoesNotChangeDecisions(t *testing.T) {
	run := func(trace *traceSink) []PID {
		pt, _ := newTestTable(t, 8, 8)
		var ran []PID
		for i := 0; i < 5; i++ {
			pid, _ := pt.Create(nop())
			pt.SetPriority(pid, (i*7)%4)
		}
		var s *Scheduler
		if trace == nil {
			s = NewScheduler(pt, 1, nil)
		} else {
			s = NewScheduler(pt, 1, trace)
		}
		for p := s.SelectNext(); p != nil; p = s.SelectNext() {
			ran = append(ran, p.PID)
			p.Age = 0
			pt.Terminate(p.PID)
		}
		return ran
	}

	assert.Equal(t, run(nil), run(&traceSink{}))
}
