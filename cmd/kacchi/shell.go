package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/kacchi-os/kacchi/internal/cli"
	kio "github.com/kacchi-os/kacchi/internal/io"
	"github.com/kacchi-os/kacchi/internal/runtime/kernel"
)

const prompt = "kacchiOS> "

// Shell is the interactive console of a booted kernel. It reads one line at
// a time from the serial console and either runs a command or echoes it.
type Shell struct {
	kernel *kernel.Kernel
	serial *kio.Serial
	log    *cli.Logger

	// reboot delivers replacement configurations. It is drained between lines.
	reboot <-chan *kernel.KernelConfig
}

type command struct {
	name  string
	usage string
	help  string
	run   func(s *Shell, args []string) error
}

var errExit = errors.New("exit requested")

var commands []command

func init() {
	commands = []command{
		{"help", "help", "list commands", (*Shell).cmdHelp},
		{"ps", "ps", "list live processes", (*Shell).cmdPs},
		{"mem", "mem", "show heap and stack usage", (*Shell).cmdMem},
		{"alloc", "alloc <bytes>", "allocate from the kernel heap", (*Shell).cmdAlloc},
		{"free", "free <addr>", "release a heap block", (*Shell).cmdFree},
		{"spawn", "spawn [priority] [count]", "create greeting processes", (*Shell).cmdSpawn},
		{"run", "run", "schedule until no process is ready", (*Shell).cmdRun},
		{"quantum", "quantum <n>", "set entry invocations per run", (*Shell).cmdQuantum},
		{"send", "send <pid> <msg>", "queue a message for pid", (*Shell).cmdSend},
		{"recv", "recv <pid>", "take the oldest message for pid", (*Shell).cmdRecv},
		{"status", "status", "print kernel status", (*Shell).cmdStatus},
		{"selftest", "selftest", "run the boot self-tests on a scratch kernel", (*Shell).cmdSelfTest},
		{"reboot", "reboot", "boot a fresh kernel with the current configuration", (*Shell).cmdReboot},
		{"exit", "exit", "leave the console", (*Shell).cmdExit},
	}
}

// NewShell creates a shell over k. reboot may be nil.
func NewShell(k *kernel.Kernel, serial *kio.Serial, log *cli.Logger, reboot <-chan *kernel.KernelConfig) *Shell {
	return &Shell{kernel: k, serial: serial, log: log, reboot: reboot}
}

// Kernel returns the kernel the shell currently drives
func (s *Shell) Kernel() *kernel.Kernel { return s.kernel }

// Run serves lines until exit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.serial.PutString(prompt)
		line, err := s.serial.ReadLine()
		s.drainReboots()

		if line != "" {
			if execErr := s.Execute(line); errors.Is(execErr, errExit) {
				return nil
			} else if execErr != nil {
				s.serial.PutString("error: " + execErr.Error() + "\n")
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				s.serial.PutString("\n")
				return nil
			}
			return fmt.Errorf("console read failed: %w", err)
		}
	}
}

// Execute runs a single input line. Lines that name no command are echoed.
func (s *Shell) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		s.serial.PutString("You typed: " + line + "\n")
		return nil
	}

	for _, c := range commands {
		if c.name == fields[0] {
			s.log.Debug("command %q", line)
			return c.run(s, fields[1:])
		}
	}

	s.serial.PutString("You typed: " + line + "\n")
	return nil
}

func (s *Shell) drainReboots() {
	for {
		select {
		case cfg, ok := <-s.reboot:
			if !ok {
				s.reboot = nil
				return
			}
			if err := s.rebootWith(cfg); err != nil {
				s.log.Error("reboot with new configuration failed: %v", err)
			}
		default:
			return
		}
	}
}

func (s *Shell) rebootWith(cfg *kernel.KernelConfig) error {
	k, err := kernel.NewKernel(cfg, s.serial, s.log)
	if err != nil {
		return err
	}
	s.kernel = k
	s.serial.PutString("\n[kernel rebooted: " + k.BootID.String() + "]\n")
	return nil
}

// ============================================================================
// Commands
// ============================================================================

func (s *Shell) cmdHelp(args []string) error {
	s.serial.PutString("Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(s.serial, "  %-26s %s\n", c.usage, c.help)
	}
	s.serial.PutString("Anything else is echoed back.\n")
	return nil
}

func (s *Shell) cmdPs(args []string) error {
	pt := s.kernel.Processes
	fmt.Fprintf(s.serial, "%-5s %-10s %-5s %-5s %s\n", "PID", "STATE", "PRIO", "AGE", "STACK")
	for i := 0; i < pt.Capacity(); i++ {
		p := pt.At(i)
		if p.State == kernel.StateTerminated {
			continue
		}
		fmt.Fprintf(s.serial, "%-5d %-10s %-5d %-5d 0x%08x\n", p.PID, p.State, p.Priority, p.Age, uint32(p.Stack))
	}
	fmt.Fprintf(s.serial, "%d of %d slots in use\n", pt.Live(), pt.Capacity())
	return nil
}

func (s *Shell) cmdMem(args []string) error {
	st := s.kernel.Heap.Stats()
	fmt.Fprintf(s.serial, "heap:   %d bytes at 0x%08x, %d used, %d free in %d of %d blocks, largest free %d\n",
		st.ArenaSize, uint32(s.kernel.Heap.Base()), st.UsedBytes, st.FreeBytes, st.FreeBlocks, st.Blocks, st.LargestFree)
	fmt.Fprintf(s.serial, "stacks: %d of %d in use, %d bytes each\n",
		s.kernel.Stacks.InUse(), s.kernel.Stacks.Capacity(), s.kernel.Stacks.SlotSize())
	return nil
}

func (s *Shell) cmdAlloc(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: alloc <bytes>")
	}
	n, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("bad size %q: %w", args[0], err)
	}

	addr := s.kernel.Heap.Allocate(uint32(n))
	if addr == kernel.NullAddr {
		return kernel.ErrOutOfMemory
	}
	fmt.Fprintf(s.serial, "allocated %d bytes at 0x%08x\n", n, uint32(addr))
	return nil
}

func (s *Shell) cmdFree(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: free <addr>")
	}
	a, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", args[0], err)
	}

	addr := kernel.Addr(a)
	allocated := false
	for _, b := range s.kernel.Heap.Blocks() {
		if !b.Free && b.Header+kernel.HeaderSize == addr {
			allocated = true
			break
		}
	}
	if !allocated {
		return fmt.Errorf("0x%08x is not an allocated block", uint32(addr))
	}

	s.kernel.Heap.Release(addr)
	fmt.Fprintf(s.serial, "released 0x%08x\n", uint32(a))
	return nil
}

func (s *Shell) cmdSpawn(args []string) error {
	priority, count := kernel.DefaultPriority, 1
	var err error
	if len(args) > 0 {
		if priority, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("bad priority %q: %w", args[0], err)
		}
	}
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil || count < 1 {
			return fmt.Errorf("bad count %q", args[1])
		}
	}

	for i := 0; i < count; i++ {
		var pid kernel.PID
		pid, err = s.kernel.Spawn(s.greeter(&pid), priority)
		if err != nil {
			return fmt.Errorf("spawned %d of %d: %w", i, count, err)
		}
		fmt.Fprintf(s.serial, "created pid=%d priority=%d\n", pid, priority)
	}
	return nil
}

func (s *Shell) greeter(pid *kernel.PID) kernel.Runnable {
	out := s.serial
	return kernel.RunFunc(func() {
		fmt.Fprintf(out, "Hello from process %d!\n", *pid)
	})
}

func (s *Shell) cmdRun(args []string) error {
	n := s.kernel.Scheduler.RunUntilIdle()
	fmt.Fprintf(s.serial, "ran %d processes\n", n)
	return nil
}

func (s *Shell) cmdQuantum(args []string) error {
	if len(args) != 1 {
		fmt.Fprintf(s.serial, "quantum %d\n", s.kernel.Scheduler.Quantum())
		return nil
	}
	q, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad quantum %q: %w", args[0], err)
	}
	s.kernel.Scheduler.SetQuantum(q)
	fmt.Fprintf(s.serial, "quantum %d\n", s.kernel.Scheduler.Quantum())
	return nil
}

func (s *Shell) cmdSend(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: send <pid> <msg>")
	}
	pid, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("bad pid %q: %w", args[0], err)
	}
	msg, err := strconv.ParseInt(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("bad message %q: %w", args[1], err)
	}

	if err := s.kernel.IPC.Send(kernel.PID(pid), int32(msg)); err != nil {
		return err
	}
	fmt.Fprintf(s.serial, "queued %d for pid %d (%d pending)\n", msg, pid, s.kernel.IPC.Len(kernel.PID(pid)))
	return nil
}

func (s *Shell) cmdRecv(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: recv <pid>")
	}
	pid, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("bad pid %q: %w", args[0], err)
	}

	msg, err := s.kernel.IPC.Receive(kernel.PID(pid))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.serial, "msg=%d\n", msg)
	return nil
}

func (s *Shell) cmdStatus(args []string) error {
	status := s.kernel.Status()
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(s.serial, "%-22s %v\n", k, status[k])
	}
	return nil
}

func (s *Shell) cmdSelfTest(args []string) error {
	scratch, err := kernel.NewKernel(s.kernel.Config, s.serial, s.log)
	if err != nil {
		return err
	}
	return kernel.RunSelfTests(scratch, s.serial)
}

func (s *Shell) cmdReboot(args []string) error {
	return s.rebootWith(s.kernel.Config)
}

func (s *Shell) cmdExit(args []string) error {
	s.serial.PutString("Goodbye.\n")
	return errExit
}
