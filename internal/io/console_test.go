package io

import (
	"bytes"
	stdio "io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLine_EchoAndTerminators(t *testing.T) {
	var out bytes.Buffer
	s := NewSerial(strings.NewReader("hello\rworld\n"), &out)

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	line, err = s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "world", line)

	assert.Equal(t, "hello\nworld\n", out.String())
}

func TestReadLine_BackspaceErases(t *testing.T) {
	var out bytes.Buffer
	s := NewSerial(strings.NewReader("abc\b\x7Fd\b\b\bx\n"), &out)

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "x", line)
	// the last backspace hits an empty buffer and echoes nothing
	assert.Equal(t, "abc\b \b\b \bd\b \b\b \bx\n", out.String())
}

func TestReadLine_DropsNonPrintable(t *testing.T) {
	s := NewSerial(strings.NewReader("a\x01\x1bb\x80c\n"), nil)

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "abc", line)
}

func TestReadLine_TruncatesAtMaxInput(t *testing.T) {
	input := strings.Repeat("x", MaxInput+20) + "\n"
	s := NewSerial(strings.NewReader(input), nil)

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Len(t, line, MaxInput-1)
}

func TestReadLine_EOFReturnsPartialLine(t *testing.T) {
	s := NewSerial(strings.NewReader("partial"), nil)

	line, err := s.ReadLine()
	assert.ErrorIs(t, err, stdio.EOF)
	assert.Equal(t, "partial", line)
}

func TestSerial_PutIntAndStats(t *testing.T) {
	var out bytes.Buffer
	s := NewSerial(nil, &out)

	PutInt(s, 300)
	s.PutChar(' ')
	PutInt(s, -7)
	PutInt(nil, 1)

	assert.Equal(t, "300 -7", out.String())
	assert.Equal(t, uint64(6), s.Stats().BytesWritten)

	_, err := s.GetChar()
	assert.ErrorIs(t, err, stdio.EOF)
}

func TestDiscard(t *testing.T) {
	Discard.PutChar('x')
	Discard.PutString("ignored")
}
