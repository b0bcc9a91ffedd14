package kernel

import (
	"errors"
	"fmt"

	kio "github.com/kacchi-os/kacchi/internal/io"
)

// ============================================================================
// Boot self-tests
// ============================================================================

type selfTest struct {
	name string
	run  func(k *Kernel, out kio.Sink) error
}

var selfTests = []selfTest{
	{"process table", testProcessTable},
	{"scheduler", testScheduler},
	{"state transitions", testStateTransitions},
	{"ipc", testIPC},
	{"memory", testMemory},
	{"stack pool", testStackPool},
	{"scheduler quantum", testQuantum},
}

// RunSelfTests exercises every kernel table on k and reports progress to out.
// It expects a freshly booted kernel with no live processes and leaves none
// behind. The first failing check is returned.
func RunSelfTests(k *Kernel, out kio.Sink) error {
	if out == nil {
		out = kio.Discard
	}

	for _, t := range selfTests {
		if err := t.run(k, out); err != nil {
			return fmt.Errorf("%s self-test failed: %w", t.name, err)
		}
	}

	out.PutString("All kernel self-tests passed\n")
	return nil
}

func greeter(out kio.Sink) Runnable {
	return RunFunc(func() {
		out.PutString("Hello from test process!\n")
	})
}

// runManually drains the ready set in slot order without the scheduler.
func runManually(k *Kernel, out kio.Sink, verbose bool) {
	for p := k.Processes.FirstReady(); p != nil; p = k.Processes.FirstReady() {
		pid := p.PID
		if verbose {
			out.PutString(" Running pid=")
			kio.PutInt(out, int(pid))
			out.PutString("\n")
		}
		k.Processes.SetState(pid, StateCurrent)
		if p.Entry != nil {
			p.Entry.Run()
		}
		k.Processes.Terminate(pid)
	}
}

func testProcessTable(k *Kernel, out kio.Sink) error {
	pid, err := k.Processes.Create(greeter(out))
	if err != nil {
		return err
	}
	out.PutString("Process created successfully (pid=")
	kio.PutInt(out, int(pid))
	out.PutString(")\n")

	out.PutString("Creating multiple test processes...\n")
	for i := 0; i < k.Processes.Capacity(); i++ {
		r, err := k.Processes.Create(greeter(out))
		if err != nil {
			out.PutString(" failed to create (process table full)\n")
			continue
		}
		out.PutString(" created pid=")
		kio.PutInt(out, int(r))
		out.PutString("\n")
	}

	extra, err := k.Processes.Create(greeter(out))
	if err == nil {
		return fmt.Errorf("unexpectedly created extra pid %d", extra)
	}
	if !errors.Is(err, ErrTableFull) && !errors.Is(err, ErrNoStack) {
		return fmt.Errorf("unexpected error for extra process: %w", err)
	}
	out.PutString("Expected failure when creating extra process.\n")

	out.PutString("Running ready processes (manual runner)...\n")
	runManually(k, out, true)
	out.PutString("Finished running ready processes (manual)\n")

	if live := k.Processes.Live(); live != 0 {
		return fmt.Errorf("%d processes still live after manual run", live)
	}
	return nil
}

func testScheduler(k *Kernel, out kio.Sink) error {
	out.PutString("Re-creating processes for scheduler test...\n")
	var pids []PID
	for i := 0; i < k.Processes.Capacity(); i++ {
		pid, err := k.Processes.Create(greeter(out))
		if err != nil {
			break
		}
		pids = append(pids, pid)
	}
	for i, pid := range pids {
		k.Processes.SetPriority(pid, i%3)
	}

	saved := k.Scheduler.Quantum()
	k.Scheduler.SetQuantum(1)
	defer k.Scheduler.SetQuantum(saved)

	out.PutString("Running scheduler...\n")
	ran := k.Scheduler.RunUntilIdle()
	out.PutString("Scheduler run complete\n")

	if ran != len(pids) {
		return fmt.Errorf("scheduler ran %d of %d processes", ran, len(pids))
	}
	return nil
}

func testStateTransitions(k *Kernel, out kio.Sink) error {
	out.PutString("Testing process state transitions...\n")
	pid, err := k.Processes.Create(greeter(out))
	if err != nil {
		return fmt.Errorf("failed to create process for state test: %w", err)
	}
	out.PutString(" created pid=")
	kio.PutInt(out, int(pid))
	out.PutString("\n")

	for _, state := range []ProcessState{StateNew, StateWaiting, StateReady} {
		k.Processes.SetState(pid, state)
		out.PutString(" State -> " + state.String() + "\n")
	}

	p := k.Processes.Lookup(pid)
	if p == nil {
		return fmt.Errorf("lookup of pid %d returned nothing", pid)
	}
	if p.State != StateReady {
		return fmt.Errorf("pid %d in state %s, want READY", pid, p.State)
	}
	out.PutString(" lookup OK pid=")
	kio.PutInt(out, int(p.PID))
	out.PutString("\n")

	k.Processes.Terminate(pid)
	if k.Processes.Lookup(pid) != nil {
		return fmt.Errorf("pid %d still present after terminate", pid)
	}
	out.PutString(" Process terminated successfully\n")
	return nil
}

func testIPC(k *Kernel, out kio.Sink) error {
	k.IPC.Reset()
	defer k.IPC.Reset()

	mailbox := PID(1)
	if k.IPC.Slots() < 2 {
		mailbox = 0
	}
	sent := []int32{100, 200, 300}
	var received []int32

	sender := RunFunc(func() {
		out.PutString("Sender: sending messages...\n")
		for _, msg := range sent {
			_ = k.IPC.Send(mailbox, msg)
		}
	})
	receiver := RunFunc(func() {
		out.PutString("Receiver: receiving messages...\n")
		for {
			msg, err := k.IPC.Receive(mailbox)
			if err != nil {
				return
			}
			received = append(received, msg)
			out.PutString(" Received msg=")
			kio.PutInt(out, int(msg))
			out.PutString("\n")
		}
	})

	// The sender runs to completion before the receiver exists, so the
	// exchange also works with a single process slot.
	sendPID, err := k.Processes.Create(sender)
	if err != nil {
		return err
	}
	out.PutString("IPC sender created (pid=")
	kio.PutInt(out, int(sendPID))
	out.PutString(")\n")
	runManually(k, out, false)

	recvPID, err := k.Processes.Create(receiver)
	if err != nil {
		return err
	}
	out.PutString("IPC receiver created (pid=")
	kio.PutInt(out, int(recvPID))
	out.PutString(")\n")
	runManually(k, out, false)

	if len(received) != len(sent) {
		return fmt.Errorf("received %d of %d messages", len(received), len(sent))
	}
	for i := range sent {
		if received[i] != sent[i] {
			return fmt.Errorf("message %d is %d, want %d", i, received[i], sent[i])
		}
	}
	out.PutString("IPC tests complete\n")
	return nil
}

func testMemory(k *Kernel, out kio.Sink) error {
	out.PutString("Running memory tests...\n")
	h := k.Heap

	p1 := h.Allocate(64)
	p2 := h.Allocate(128)
	if p1 == NullAddr || p2 == NullAddr {
		return ErrOutOfMemory
	}
	out.PutString(" Memory allocation successful\n")
	h.Release(p1)
	h.Release(p2)
	out.PutString(" Basic memory deallocation successful\n")

	a1, a2, a3 := h.Allocate(64), h.Allocate(64), h.Allocate(64)
	if a1 == NullAddr || a2 == NullAddr || a3 == NullAddr {
		return fmt.Errorf("failed to allocate blocks for coalesce test: %w", ErrOutOfMemory)
	}
	out.PutString(" Allocated 3 small blocks\n")
	h.Release(a2)
	out.PutString(" Freed middle block\n")
	h.Release(a1)
	out.PutString(" Freed left block (should coalesce with middle)\n")

	big := h.Allocate(128)
	if big == NullAddr {
		return fmt.Errorf("large allocation after coalescing failed: %w", ErrOutOfMemory)
	}
	buf := h.Bytes(big, 128)
	for i := range buf {
		buf[i] = byte(i)
	}
	out.PutString(" Coalescing appears to work (large alloc succeeded)\n")
	h.Release(big)
	h.Release(a3)

	if stats := h.Stats(); stats.Blocks != 1 || stats.FreeBlocks != 1 {
		return fmt.Errorf("heap left with %d blocks (%d free) after releasing everything", stats.Blocks, stats.FreeBlocks)
	}
	return nil
}

func testStackPool(k *Kernel, out kio.Sink) error {
	sp := k.Stacks
	want := sp.Capacity() - sp.InUse()

	var stacks []Addr
	for len(stacks) < 2*sp.Capacity() {
		s := sp.Allocate()
		if s == NullAddr {
			break
		}
		stacks = append(stacks, s)
	}
	out.PutString(" Allocated stacks: ")
	kio.PutInt(out, len(stacks))
	out.PutString("\n")

	for _, s := range stacks {
		sp.Release(s)
	}
	out.PutString(" Stack free/reuse test done\n")

	if len(stacks) != want {
		return fmt.Errorf("allocated %d stacks, want %d", len(stacks), want)
	}
	return nil
}

func testQuantum(k *Kernel, out kio.Sink) error {
	out.PutString("Scheduler quantum test:\n")
	calls := 0
	pid, err := k.Processes.Create(RunFunc(func() {
		calls++
		out.PutString("Quantum process executing\n")
	}))
	if err != nil {
		return fmt.Errorf("failed to create quantum-test process: %w", err)
	}

	saved := k.Scheduler.Quantum()
	k.Scheduler.SetQuantum(2)
	defer k.Scheduler.SetQuantum(saved)

	k.Scheduler.RunOnce()
	if calls != 2 {
		return fmt.Errorf("entry invoked %d times, want 2", calls)
	}
	if k.Processes.Lookup(pid) != nil {
		return fmt.Errorf("pid %d still live after its run", pid)
	}
	out.PutString(" Scheduler quantum test completed\n")
	return nil
}
