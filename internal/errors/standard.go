// Package errors provides standardized error messaging for the kacchi kernel
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryProcess    ErrorCategory = "PROCESS"
	CategoryIPC        ErrorCategory = "IPC"
	CategoryBounds     ErrorCategory = "BOUNDS"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategorySystem     ErrorCategory = "SYSTEM"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Caller == "" {
		return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// Is reports whether target is a StandardError with the same category and code.
// Message, context and caller are ignored so that sentinels match enriched copies.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Sentinel creates a package-level error value without caller information.
func Sentinel(category ErrorCategory, code, message string) *StandardError {
	return &StandardError{Category: category, Code: code, Message: message}
}

// Common error constructors
func IndexOutOfBounds(index, length int) *StandardError {
	return NewStandardError(CategoryBounds, "INDEX_OUT_OF_BOUNDS",
		fmt.Sprintf("Index %d out of bounds for length %d", index, length),
		map[string]interface{}{"index": index, "length": length})
}

func InvalidSize(size uint64, context string) *StandardError {
	return NewStandardError(CategoryValidation, "INVALID_SIZE",
		fmt.Sprintf("Invalid size %d in %s", size, context),
		map[string]interface{}{"size": size, "context": context})
}

func InvalidAddress(addr uint64, context string) *StandardError {
	return NewStandardError(CategoryValidation, "INVALID_ADDRESS",
		fmt.Sprintf("Invalid address 0x%x in %s", addr, context),
		map[string]interface{}{"address": addr, "context": context})
}

func InvalidConfig(field, reason string) *StandardError {
	return NewStandardError(CategoryValidation, "INVALID_CONFIG",
		fmt.Sprintf("Invalid configuration field %s: %s", field, reason),
		map[string]interface{}{"field": field})
}
