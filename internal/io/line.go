package io

// MaxInput is the size of the command line buffer, terminator included.
const MaxInput = 128

const (
	keyBackspace = '\b'
	keyDelete    = 0x7F
)

// ReadLine reads one edited line from the console. Printable characters are
// echoed, backspace and delete erase the last character on screen, and input
// beyond MaxInput-1 characters is dropped. The line is returned on CR or LF.
// If the input ends first, the partial line is returned with the read error.
func (s *Serial) ReadLine() (string, error) {
	buf := make([]byte, 0, MaxInput)

	for {
		c, err := s.GetChar()
		if err != nil {
			return string(buf), err
		}

		switch {
		case c == '\r' || c == '\n':
			s.PutString("\n")
			return string(buf), nil
		case c == keyBackspace || c == keyDelete:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				s.PutString("\b \b")
			}
		case c >= 32 && c < 127 && len(buf) < MaxInput-1:
			buf = append(buf, c)
			s.PutChar(c)
		}
	}
}
