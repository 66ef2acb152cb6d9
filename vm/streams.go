package vm

// ---------------------------------------------------------------------------
// Output streams
// ---------------------------------------------------------------------------

// streamRouter tracks which output streams are selected and routes story
// text between the screen, the transcript flag and a memory capture
// table. Stream 2 lives in Flags 2 so the story and the host both see
// it. Stream 4 (input recording) is host business; the router only
// remembers whether it is on.
//
// One memory capture at a time. The standard allows a stack of tables
// but games that actually nest them are rewritten history; selecting
// stream 3 twice reports ErrStreamNesting and leaves the first capture
// running.
type streamRouter struct {
	mem         *Memory
	screen      bool
	capture     bool
	captureBase uint32
	captureLen  uint16
	recording   bool
}

func newStreamRouter(mem *Memory) *streamRouter {
	return &streamRouter{mem: mem, screen: true}
}

// selectStream handles output_stream. Positive selects, negative
// deselects, zero is a no-op. table is only meaningful for stream 3.
func (r *streamRouter) selectStream(stream int16, table uint16) error {
	switch stream {
	case 0:
		return nil
	case 1:
		r.screen = true
	case -1:
		r.screen = false
	case 2:
		return r.mem.setTranscript(true)
	case -2:
		return r.mem.setTranscript(false)
	case 3:
		if r.capture {
			return ErrStreamNesting
		}
		r.capture = true
		r.captureBase = uint32(table)
		r.captureLen = 0
		return nil
	case -3:
		return r.closeCapture()
	case 4:
		r.recording = true
	case -4:
		r.recording = false
	}
	return nil
}

// closeCapture writes the accumulated length into the table's first
// word. Closing an inactive capture is harmless.
func (r *streamRouter) closeCapture() error {
	if !r.capture {
		return nil
	}
	r.capture = false
	return r.mem.WriteWord(r.captureBase, r.captureLen)
}

// capturing reports whether stream 3 is swallowing output. While it is,
// nothing reaches the screen or the transcript.
func (r *streamRouter) capturing() bool {
	return r.capture
}

// screenOn reports whether stream 1 output should reach the host.
func (r *streamRouter) screenOn() bool {
	return r.screen && !r.capture
}

// captureText appends text to the capture table as ZSCII bytes.
// Newlines are stored as carriage returns per the memory stream rules.
func (r *streamRouter) captureText(text string) error {
	for _, c := range text {
		z, ok := runeToZSCII(c)
		if !ok {
			z = '?'
		}
		if c == '\n' {
			z = 13
		}
		if err := r.mem.WriteByte(r.captureBase+2+uint32(r.captureLen), uint8(z)); err != nil {
			return err
		}
		r.captureLen++
	}
	return nil
}
