package stream

import (
	"bufio"

	"github.com/oesand/wsline/specs"
)

// ReadLine reads one line without its "\n" or "\r\n" terminator.
// Lines longer than limit fail with specs.ErrTooLarge, zero means no limit.
// The result does not alias the reader buffer.
func ReadLine(reader *bufio.Reader, limit int) (string, error) {
	var line []byte
	for {
		chunk, more, err := reader.ReadLine()
		if err != nil {
			return "", err
		}
		if limit > 0 && len(line)+len(chunk) > limit {
			// drop the rest so the next call starts on a fresh line
			for more && err == nil {
				_, more, err = reader.ReadLine()
			}
			return "", specs.ErrTooLarge
		}
		line = append(line, chunk...)
		if !more {
			return string(line), nil
		}
	}
}
