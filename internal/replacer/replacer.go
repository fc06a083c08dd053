// Package replacer provides a streaming multi-string searcher and replacer.
package replacer

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// Replacer is a streaming string searcher. It scans everything written
// through it for a set of needles, hands each match to a callback for
// replacement (or mere detection), and forwards the result to a destination
// writer. Matches never escape, even when a needle is split across multiple
// writes: bytes that could still complete a match are held back until they do
// or don't.
type Replacer struct {
	// The replacement callback.
	replacement func([]byte) []byte

	// Needles organised by first byte, since indexing on the first byte is
	// much cheaper than filtering all needles per input byte.
	needlesByFirstByte [256][]string

	// Each write can touch everything below.
	mu sync.Mutex

	// Output is re-streamed to this writer.
	dst io.Writer

	// Holds input not yet written out, including any bytes that might be a
	// prefix of a match.
	buf []byte

	// In-progress matches. Write alternates between the two slices instead of
	// allocating a new one per input byte.
	partialMatches, nextMatches []partialMatch

	// Ranges of buf that must be replaced on flush.
	completedMatches []span
}

// New returns a new Replacer that scans for needles and forwards output to
// dst.
//
// replacement is called once per run of one or more overlapping matches, with
// the subslice of the internal buffer that matched. Its return value is
// written in place of that range; return the argument to forward the stream
// unaltered. The callback must not retain the slice after returning, and must
// not append to it.
func New(dst io.Writer, needles []string, replacement func([]byte) []byte) *Replacer {
	r := &Replacer{
		replacement: replacement,
		dst:         dst,

		buf:              make([]byte, 0, 65536),
		partialMatches:   make([]partialMatch, 0, len(needles)),
		nextMatches:      make([]partialMatch, 0, len(needles)),
		completedMatches: make([]span, 0, len(needles)),
	}
	for _, needle := range needles {
		if needle == "" {
			continue
		}
		first := needle[0]
		if slices.Contains(r.needlesByFirstByte[first], needle) {
			continue
		}
		r.needlesByFirstByte[first] = append(r.needlesByFirstByte[first], needle)
	}
	return r
}

// Write scans b for needles and forwards the (possibly replaced) stream to
// the destination writer. Bytes that could be the start of a match are
// buffered rather than written.
func (r *Replacer) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prevBufLen := len(r.buf)
	r.buf = append(r.buf, b...)

	for n, c := range b {
		bufidx := n + prevBufLen // position within the whole buffer

		// Advance in-progress matches.
		for _, pm := range r.partialMatches {
			if pm.needle[pm.position] != c {
				// The needle stopped matching; drop it.
				continue
			}
			pm.position++
			if pm.position < len(pm.needle) {
				r.nextMatches = append(r.nextMatches, pm)
				continue
			}
			// The whole needle matched.
			r.completedMatches = append(r.completedMatches, span{
				from: bufidx + 1 - pm.position,
				to:   bufidx + 1,
			})
		}

		// Start new matches.
		for _, needle := range r.needlesByFirstByte[c] {
			if len(needle) == 1 {
				r.completedMatches = append(r.completedMatches, span{
					from: bufidx,
					to:   bufidx + 1,
				})
				continue
			}
			r.nextMatches = append(r.nextMatches, partialMatch{
				needle:   needle,
				position: 1,
			})
		}

		// Swap rather than allocate a fresh slice for the next byte.
		r.partialMatches, r.nextMatches = r.nextMatches, r.partialMatches[:0]
	}

	// Matches were appended in order, so overlaps are adjacent.
	r.completedMatches = mergeOverlaps(r.completedMatches)

	// Write out as much of the buffer as possible without spilling bytes that
	// may still become a match.
	limit := len(r.buf)
	for _, pm := range r.partialMatches {
		if to := len(r.buf) - pm.position; to < limit {
			limit = to
		}
	}
	if err := r.flushUpTo(limit); err != nil {
		// Only this much of b was written at the point of the error.
		return limit - prevBufLen, err
	}

	return len(b), nil
}

// Flush writes all buffered data to the destination. It assumes the stream is
// finished, so any incomplete matches are treated as non-matches.
func (r *Replacer) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partialMatches = r.partialMatches[:0]
	return r.flushUpTo(len(r.buf))
}

// flushUpTo writes out the buffer below the limit index, replacing completed
// matches along the way.
func (r *Replacer) flushUpTo(limit int) error {
	if limit == 0 || len(r.buf) == 0 {
		return nil
	}

	bufidx := 0 // how far into the buffer we have written
	done := -1  // index of the last match processed

	for mi, match := range r.completedMatches {
		if match.from >= limit {
			break
		}

		if match.to > limit {
			// The match straddles the limit. Lower the limit so the whole
			// match is handed to the callback in one piece by a later flush.
			limit = match.from
			break
		}

		if bufidx > match.from {
			// Writing part of a match range would mean mergeOverlaps failed.
			return fmt.Errorf("flushed past start of match [%d > %d]", bufidx, match.from)
		}

		if bufidx < match.from {
			if _, err := r.dst.Write(r.buf[bufidx:match.from]); err != nil {
				return err
			}
		}

		if repl := r.replacement(r.buf[match.from:match.to]); len(repl) > 0 {
			if _, err := r.dst.Write(repl); err != nil {
				return err
			}
		}
		bufidx = match.to
		done = mi
	}

	if bufidx < limit {
		if _, err := r.dst.Write(r.buf[bufidx:limit]); err != nil {
			return err
		}
		bufidx = limit
	}

	if bufidx >= len(r.buf) {
		// Everything was written; empty the buffer but keep its capacity.
		r.buf = r.buf[:0]
		r.completedMatches = r.completedMatches[:0]
		return nil
	}

	r.buf = r.buf[bufidx:]

	// The buffer shrank, so remaining match ranges shift down with it.
	rem := len(r.completedMatches[done+1:])
	for i, match := range r.completedMatches[done+1:] {
		r.completedMatches[i] = match.sub(bufidx)
	}
	r.completedMatches = r.completedMatches[:rem]

	return nil
}

// partialMatch tracks how far into one needle the stream has matched.
type partialMatch struct {
	needle   string
	position int
}

// span is a contiguous range of buffer indexes (from inclusive, to
// exclusive).
type span struct {
	from, to int
}

func (s span) sub(x int) span {
	s.from -= x
	s.to -= x
	return s
}

func (s span) contains(x int) bool {
	return s.from <= x && x < s.to
}

func (s span) overlap(t span) bool {
	return s.contains(t.from) || t.contains(s.from)
}

func (s span) union(t span) span {
	if s.from < t.from {
		t.from = s.from
	}
	if s.to > t.to {
		t.to = s.to
	}
	return t
}

// mergeOverlaps combines overlapping spans. It alters the contents of the
// input, and assumes the spans are sorted by "to".
func mergeOverlaps(spans []span) []span {
	if len(spans) <= 1 {
		return spans
	}

	// Walk backwards, merging each spans[i] into spans[j] where possible.
	j := len(spans) - 1
	for i := j - 1; i >= 0; i-- {
		if spans[j].overlap(spans[i]) {
			spans[j] = spans[j].union(spans[i])
		} else {
			j--
			spans[j] = spans[i]
		}
	}

	rem := len(spans[j:])
	copy(spans, spans[j:])
	return spans[:rem]
}
