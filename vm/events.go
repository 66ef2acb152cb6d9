package vm

// ---------------------------------------------------------------------------
// Host events
// ---------------------------------------------------------------------------

// Event is something the story asked the outside world to do. The machine
// accumulates events during Run and the host drains them with Events.
// Screen layout requests are passed through as-is; a plain terminal host
// may ignore the ones it cannot honour.
type Event interface {
	isEvent()
}

// TextEvent is text for the screen. Text already routed away from the
// screen by output_stream never appears here.
type TextEvent struct {
	Text string
}

// StatusLineEvent carries the refreshed v3 status line. Timed games show
// Hours and Minutes instead of Score and Turns.
type StatusLineEvent struct {
	Location string
	Score    int16
	Turns    int16
	Hours    uint16
	Minutes  uint16
	Timed    bool
}

// InputKind distinguishes the two read states.
type InputKind uint8

const (
	InputLine InputKind = iota
	InputChar
)

// InputRequestEvent announces that the machine has suspended for input.
// For line input MaxLength is the most characters the buffer can hold.
// Time and Routine describe the v4+ timed-input request when nonzero;
// interrupt routines are not run by this interpreter, so hosts treat a
// timeout as plain waiting.
type InputRequestEvent struct {
	Kind      InputKind
	MaxLength int
	Time      uint16
	Routine   uint16
}

// SplitWindowEvent reserves the given number of upper-window lines.
// Zero unsplits.
type SplitWindowEvent struct {
	Lines uint16
}

// SetWindowEvent selects the window subsequent text goes to.
type SetWindowEvent struct {
	Window uint16
}

// SetCursorEvent moves the upper-window cursor. Line and column are
// 1-based.
type SetCursorEvent struct {
	Line   uint16
	Column uint16
}

// EraseWindowEvent clears a window; -1 unsplits and clears the whole
// screen, -2 clears without unsplitting.
type EraseWindowEvent struct {
	Window int16
}

// Text style bits as passed to set_text_style. 0 clears all styles.
const (
	StyleReverse    = 1
	StyleBold       = 2
	StyleItalic     = 4
	StyleFixedWidth = 8
)

// SetTextStyleEvent sets the text style for subsequent output.
type SetTextStyleEvent struct {
	Style uint16
}

// BufferModeEvent toggles word-wrapping of lower-window output.
type BufferModeEvent struct {
	Buffered bool
}

// SoundEvent asks for a sound effect. Numbers 1 and 2 are the standard
// bleeps; anything else is a sampled effect this interpreter does not
// ship, so hosts may substitute a bleep or stay silent.
type SoundEvent struct {
	Number uint16
	Effect uint16
	Volume uint16
}

// QuitEvent reports that the story executed quit and the machine will
// not run again.
type QuitEvent struct{}

// RestartEvent reports that the story restarted itself. Dynamic memory
// has already been reloaded; hosts typically clear the screen.
type RestartEvent struct{}

func (TextEvent) isEvent()         {}
func (StatusLineEvent) isEvent()   {}
func (InputRequestEvent) isEvent() {}
func (SplitWindowEvent) isEvent()  {}
func (SetWindowEvent) isEvent()    {}
func (SetCursorEvent) isEvent()    {}
func (EraseWindowEvent) isEvent()  {}
func (SetTextStyleEvent) isEvent() {}
func (BufferModeEvent) isEvent()   {}
func (SoundEvent) isEvent()        {}
func (QuitEvent) isEvent()         {}
func (RestartEvent) isEvent()      {}
