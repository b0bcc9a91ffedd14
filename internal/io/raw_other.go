//go:build !linux

package io

// IsTerminal always reports false on platforms without termios support here;
// the console then reads line-buffered input.
func IsTerminal(fd int) bool {
	return false
}

// MakeRaw is a no-op on this platform.
func MakeRaw(fd int) (func() error, error) {
	return func() error { return nil }, nil
}
