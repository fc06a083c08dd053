package process

import (
	"bufio"
	"io"

	"github.com/gantryci/gantry/logger"
)

// Scanner reads lines from a process output stream and hands them to a
// callback, coping with lines far longer than bufio's default limits.
type Scanner struct {
	logger logger.Logger
}

func NewScanner(l logger.Logger) *Scanner {
	return &Scanner{
		logger: l,
	}
}

func (s *Scanner) ScanLines(r io.Reader, f func(line string)) error {
	reader := bufio.NewReader(r)
	var appending []byte

	s.logger.Debug("[LineScanner] Starting to read lines")

	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			if err == io.EOF {
				s.logger.Debug("[LineScanner] Encountered EOF")
				break
			}
			return err
		}

		// isPrefix means a line too long for the reader's buffer; keep
		// accumulating until the line actually ends.
		if isPrefix && appending == nil {
			s.logger.Debug("[LineScanner] Line is too long to read, buffering it until it finishes")

			// bufio.ReadLine returns a slice only valid until the next call,
			// so take a copy, with room to grow.
			appending = make([]byte, len(line), cap(line)*2)
			copy(appending, line)

			continue
		}

		if appending != nil {
			appending = append(appending, line...)

			if !isPrefix {
				// The long line has finished.
				line = appending
				appending = nil
			} else {
				continue
			}
		}

		f(string(line))
	}

	s.logger.Debug("[LineScanner] Finished")
	return nil
}
