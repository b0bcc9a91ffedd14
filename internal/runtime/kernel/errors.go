package kernel

import (
	kerrors "github.com/kacchi-os/kacchi/internal/errors"
)

// Sentinel errors reported by the kernel core. Compare with errors.Is.
var (
	ErrTableFull   = kerrors.Sentinel(kerrors.CategoryProcess, "TABLE_FULL", "process table is full")
	ErrNoStack     = kerrors.Sentinel(kerrors.CategoryProcess, "NO_STACK", "no stack slot available")
	ErrBadPID      = kerrors.Sentinel(kerrors.CategoryIPC, "BAD_PID", "pid outside the message queue range")
	ErrQueueFull   = kerrors.Sentinel(kerrors.CategoryIPC, "QUEUE_FULL", "message queue is full")
	ErrQueueEmpty  = kerrors.Sentinel(kerrors.CategoryIPC, "QUEUE_EMPTY", "message queue is empty")
	ErrOutOfMemory = kerrors.Sentinel(kerrors.CategoryMemory, "OUT_OF_MEMORY", "heap exhausted")
)

// Logger receives kernel diagnostics. It is satisfied by cli.Logger.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
