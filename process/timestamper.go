package process

import (
	"io"
	"time"
)

// Timestamper wraps an io.Writer, inserting the string returned by f at the
// start of each line. Unlike Prefixer, the insertion is deferred until the
// next visible byte arrives, and a stamp is also inserted mid-line when
// writes are separated by more than interval (so slow, line-less output such
// as spinners still gets stamped). Stamps are never inserted inside an ANSI
// escape sequence; erase-line sequences (CSI ... 'K') count as line starts.
type Timestamper struct {
	w        io.Writer
	f        func(time.Time) string
	interval time.Duration

	pending   bool
	lastWrite time.Time
	parser    ansiParser
}

func NewTimestamper(w io.Writer, f func(time.Time) string, interval time.Duration) *Timestamper {
	return &Timestamper{
		w:        w,
		f:        f,
		interval: interval,
		pending:  true,
	}
}

func (t *Timestamper) Write(data []byte) (int, error) {
	now := time.Now()
	if !t.lastWrite.IsZero() && now.Sub(t.lastWrite) > t.interval {
		t.pending = true
	}
	t.lastWrite = now

	out := make([]byte, 0, len(data)+32)

	for _, b := range data {
		wasInside := t.parser.insideCode()

		if t.pending && !wasInside {
			out = append(out, t.f(now)...)
			t.pending = false
		}

		t.parser.feed(b)
		out = append(out, b)

		switch {
		case b == '\n':
			t.pending = true
		case b == 'K' && wasInside && !t.parser.insideCode():
			// An erase-line sequence just completed.
			t.pending = true
		}
	}

	if _, err := t.w.Write(out); err != nil {
		return 0, err
	}

	return len(data), nil
}
