package helpers

import (
	"io"
)

// WriteAll repeats short writes until b is written or w fails.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

func WriteString(w io.Writer, s string) error { return WriteAll(w, []byte(s)) }
