package process

// ansiParser is a minimal ANSI escape sequence recognizer. Its only purpose
// is to answer "are we currently in the middle of an escape sequence?", so
// that prefixes and timestamps are never injected inside one.
//
// See https://en.wikipedia.org/wiki/ANSI_escape_code for the sequence forms,
// including the common deviation of allowing BEL to terminate string
// sequences instead of ESC '\'.
type ansiParser struct {
	state *ansiState
}

// feed advances the parser by one byte.
func (p *ansiParser) feed(b byte) {
	if p.state != nil {
		p.state = p.state[b]
		return
	}
	if b == 0x1b {
		p.state = escState
	}
}

// Write passes bytes through the parser. It never fails.
func (p *ansiParser) Write(data []byte) (int, error) {
	for _, b := range data {
		p.feed(b)
	}
	return len(data), nil
}

// insideCode reports whether the parser is mid-sequence. Any non-nil state is
// inside a sequence; nil is normal text.
func (p *ansiParser) insideCode() bool { return p.state != nil }

// ansiState maps an incoming byte to the next state. A nil next-state means
// the sequence has terminated.
type ansiState [256]*ansiState

var (
	// escState is entered after reading ESC. Most of the following bytes
	// form complete two-byte sequences; the ones below open longer forms.
	escState = &ansiState{
		'[': csiParamState, // CSI
		']': strTextState,  // OSC
		'P': strTextState,  // DCS
		'X': strTextState,  // SOS
		'^': strTextState,  // PM
		'_': strTextState,  // APC
	}

	// csiParamState is entered after ESC '['.
	csiParamState = &ansiState{}

	// strTextState covers the ST-terminated string sequences (OSC, DCS,
	// SOS, PM, APC).
	strTextState = &ansiState{}
)

// The self-referencing states can't be written as literals, so they are
// finished off here.
func init() {
	// CSI is: ESC '[' (parameter bytes 0x30-0x3F)* (intermediate bytes
	// 0x20-0x2F)* (final byte 0x40-0x7E). The parameter and intermediate
	// states loop; anything else is the final byte and ends the sequence.
	csiIntermediate := &ansiState{}
	for b := byte(0x30); b <= 0x3F; b++ {
		csiParamState[b] = csiParamState
	}
	for b := byte(0x20); b <= 0x2F; b++ {
		csiParamState[b] = csiIntermediate
		csiIntermediate[b] = csiIntermediate
	}

	// The string sequences run until BEL or ST (ESC '\'). Every other byte
	// loops, including an ESC that isn't followed by '\'.
	strEscState := &ansiState{}
	for b := range 256 {
		strTextState[byte(b)] = strTextState
		strEscState[byte(b)] = strTextState
	}
	strTextState[0x07] = nil
	strTextState[0x1b] = strEscState
	strEscState['\\'] = nil
}
