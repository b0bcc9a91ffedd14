package kernel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/kacchi-os/kacchi/internal/errors"
	kio "github.com/kacchi-os/kacchi/internal/io"
)

// ============================================================================
// Kernel configuration
// ============================================================================

// KernelConfig represents kernel configuration
type KernelConfig struct {
	// Memory configuration
	HeapBase  Addr   `json:"heap_base" yaml:"heap_base"`
	HeapSize  uint32 `json:"heap_size" yaml:"heap_size"`
	StackBase Addr   `json:"stack_base" yaml:"stack_base"`
	StackSize uint32 `json:"stack_size" yaml:"stack_size"`
	MaxStacks int    `json:"max_stacks" yaml:"max_stacks"`

	// Process and scheduling configuration
	MaxProcesses            int  `json:"max_processes" yaml:"max_processes"`
	Quantum                 int  `json:"quantum" yaml:"quantum"`
	AllowStacklessProcesses bool `json:"allow_stackless_processes" yaml:"allow_stackless_processes"`

	// IPC configuration
	MaxMessages int `json:"max_messages" yaml:"max_messages"`

	// Requires is a semantic version constraint on the kernel version.
	Requires string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Debug configuration
	LogLevel int `json:"log_level" yaml:"log_level"`
}

// DefaultKernelConfig returns default kernel configuration
func DefaultKernelConfig() *KernelConfig {
	return &KernelConfig{
		HeapBase:  0x00100000,
		HeapSize:  0x20000, // 128KB
		StackBase: 0x00200000,
		StackSize: 4096, // 4KB per stack
		MaxStacks: 16,

		MaxProcesses: 8,
		Quantum:      1,

		MaxMessages: DefaultQueueCapacity,

		LogLevel: 1,
	}
}

// Validate checks sizes and that the heap and stack regions do not overlap.
func (c *KernelConfig) Validate() error {
	switch {
	case c.HeapBase == NullAddr:
		return kerrors.InvalidConfig("heap_base", "must be non-zero")
	case c.HeapSize < HeaderSize+Alignment:
		return kerrors.InvalidConfig("heap_size", fmt.Sprintf("must be at least %d bytes", HeaderSize+Alignment))
	case c.StackBase == NullAddr:
		return kerrors.InvalidConfig("stack_base", "must be non-zero")
	case c.StackSize == 0 || c.StackSize%Alignment != 0:
		return kerrors.InvalidConfig("stack_size", fmt.Sprintf("must be a positive multiple of %d", Alignment))
	case c.MaxStacks <= 0:
		return kerrors.InvalidConfig("max_stacks", "must be positive")
	case c.MaxProcesses <= 0:
		return kerrors.InvalidConfig("max_processes", "must be positive")
	case c.MaxMessages <= 0:
		return kerrors.InvalidConfig("max_messages", "must be positive")
	}

	heapStart, heapEnd := uint64(c.HeapBase), uint64(c.HeapBase)+uint64(c.HeapSize)
	stackStart := uint64(c.StackBase)
	stackEnd := stackStart + uint64(c.MaxStacks)*uint64(c.StackSize)
	if heapEnd > 1<<32-1 || stackEnd > 1<<32-1 {
		return kerrors.InvalidConfig("heap_size", "regions exceed the 32-bit address space")
	}
	if heapStart < stackEnd && stackStart < heapEnd {
		return kerrors.InvalidConfig("stack_base", "stack region overlaps the heap")
	}

	return nil
}

// ============================================================================
// Kernel instance
// ============================================================================

// Kernel owns one instance of every kernel table. Instances are independent.
type Kernel struct {
	Config    *KernelConfig
	BootID    uuid.UUID
	Heap      *Heap
	Stacks    *StackPool
	Processes *ProcessTable
	Scheduler *Scheduler
	IPC       *MessageBus
	Console   kio.Sink

	log      Logger
	bootedAt time.Time
}

// NewKernel boots a kernel from config. console receives scheduler traces
// and may be nil; log may be nil.
func NewKernel(config *KernelConfig, console kio.Sink, log Logger) (*Kernel, error) {
	if config == nil {
		config = DefaultKernelConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = nopLogger{}
	}
	if console == nil {
		console = kio.Discard
	}

	heap, err := NewHeap(config.HeapBase, config.HeapSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize heap: %w", err)
	}

	stacks, err := NewStackPool(config.StackBase, config.MaxStacks, config.StackSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stack pool: %w", err)
	}

	table := NewProcessTable(config.MaxProcesses, stacks)
	table.allowStackless = config.AllowStacklessProcesses
	table.log = log

	sched := NewScheduler(table, config.Quantum, console)
	sched.log = log

	k := &Kernel{
		Config:    config,
		BootID:    uuid.New(),
		Heap:      heap,
		Stacks:    stacks,
		Processes: table,
		Scheduler: sched,
		IPC:       NewMessageBus(config.MaxProcesses, config.MaxMessages),
		Console:   console,
		log:       log,
		bootedAt:  time.Now(),
	}

	log.Info("kernel %s booted: heap %d bytes at 0x%x, %d stacks of %d bytes, %d process slots, quantum %d",
		k.BootID, config.HeapSize, uint32(config.HeapBase), config.MaxStacks, config.StackSize,
		config.MaxProcesses, sched.Quantum())

	return k, nil
}

// Spawn creates a process for entry and assigns it priority.
func (k *Kernel) Spawn(entry Runnable, priority int) (PID, error) {
	pid, err := k.Processes.Create(entry)
	if err != nil {
		return NoPID, err
	}
	k.Processes.SetPriority(pid, priority)
	return pid, nil
}

// Status returns current kernel status
func (k *Kernel) Status() map[string]interface{} {
	status := make(map[string]interface{})

	status["boot_id"] = k.BootID.String()
	status["uptime"] = time.Since(k.bootedAt).Round(time.Millisecond).String()

	heap := k.Heap.Stats()
	status["heap_size"] = heap.ArenaSize
	status["heap_free_bytes"] = heap.FreeBytes
	status["heap_used_bytes"] = heap.UsedBytes
	status["heap_blocks"] = heap.Blocks

	status["stacks_in_use"] = k.Stacks.InUse()
	status["stacks_total"] = k.Stacks.Capacity()

	status["process_count"] = k.Processes.Live()
	status["process_slots"] = k.Processes.Capacity()
	status["next_pid"] = int(k.Processes.NextPID())
	if cur := k.Processes.Current(); cur != nil {
		status["current_pid"] = int(cur.PID)
	}

	status["quantum"] = k.Scheduler.Quantum()
	status["scheduler_runs"] = k.Scheduler.Runs
	status["scheduler_invocations"] = k.Scheduler.Invocations

	status["ipc_queues"] = k.IPC.Slots()
	status["ipc_capacity"] = k.IPC.Capacity()

	return status
}
