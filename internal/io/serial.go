// Package io provides the character console used by the kernel: a one-way
// diagnostic sink, a serial-style reader/writer over host streams and the
// line editor of the interactive command loop.
package io

import (
	"bufio"
	stdio "io"
	"strconv"
)

// Sink accepts a sequence of characters. It is write-only: nothing a sink
// does may feed back into a kernel decision.
type Sink interface {
	PutChar(c byte)
	PutString(s string)
}

// Discard is a Sink that drops everything written to it.
var Discard Sink = discard{}

type discard struct{}

func (discard) PutChar(byte)      {}
func (discard) PutString(string) {}

// PutInt writes v in decimal to s. A nil sink is allowed.
func PutInt(s Sink, v int) {
	if s == nil {
		return
	}
	s.PutString(strconv.Itoa(v))
}

// SerialStats tracks console traffic
type SerialStats struct {
	BytesRead    uint64
	BytesWritten uint64
	WriteErrors  uint64
}

// Serial is a character device over a host reader and writer.
type Serial struct {
	in    *bufio.Reader
	out   stdio.Writer
	stats SerialStats
}

// NewSerial creates a serial console. Either side may be nil.
func NewSerial(in stdio.Reader, out stdio.Writer) *Serial {
	s := &Serial{out: out}
	if in != nil {
		s.in = bufio.NewReader(in)
	}
	if s.out == nil {
		s.out = stdio.Discard
	}
	return s
}

// PutChar writes a single character. Write failures are counted, not reported.
func (s *Serial) PutChar(c byte) {
	_, _ = s.Write([]byte{c})
}

// PutString writes a string.
func (s *Serial) PutString(str string) {
	_, _ = stdio.WriteString(s, str)
}

// Write implements io.Writer so the console can back loggers and formatters.
func (s *Serial) Write(p []byte) (int, error) {
	n, err := s.out.Write(p)
	s.stats.BytesWritten += uint64(n)
	if err != nil {
		s.stats.WriteErrors++
	}
	return n, err
}

// GetChar blocks until one character is available.
func (s *Serial) GetChar() (byte, error) {
	if s.in == nil {
		return 0, stdio.EOF
	}
	c, err := s.in.ReadByte()
	if err != nil {
		return 0, err
	}
	s.stats.BytesRead++
	return c, nil
}

// Stats returns a snapshot of the traffic counters
func (s *Serial) Stats() SerialStats {
	return s.stats
}
