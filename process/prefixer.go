package process

import (
	"io"
)

// Prefixer wraps an io.Writer, inserting the string returned by f at the
// start of each output line. Erase-line sequences (CSI ... 'K'), which
// progress bars use to redraw in place, also count as line starts. Prefixes
// are never inserted inside an ANSI escape sequence.
type Prefixer struct {
	w       io.Writer
	f       func() string
	initial bool
	parser  ansiParser
}

func NewPrefixer(w io.Writer, f func() string) *Prefixer {
	return &Prefixer{
		w:       w,
		f:       f,
		initial: true,
	}
}

func (p *Prefixer) Write(data []byte) (int, error) {
	out := make([]byte, 0, len(data)+16)

	if p.initial {
		out = append(out, p.f()...)
		p.initial = false
	}

	for _, b := range data {
		wasInside := p.parser.insideCode()
		p.parser.feed(b)
		out = append(out, b)

		switch {
		case b == '\n':
			out = append(out, p.f()...)
		case b == 'K' && wasInside && !p.parser.insideCode():
			// An erase-line sequence just completed.
			out = append(out, p.f()...)
		}
	}

	if _, err := p.w.Write(out); err != nil {
		return 0, err
	}

	return len(data), nil
}
