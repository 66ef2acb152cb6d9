package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Load and restore boundary errors. These surface to the caller and abort
// only the operation that raised them.
var (
	ErrInvalidStoryFile   = errors.New("invalid story file")
	ErrUnsupportedVersion = errors.New("unsupported story file version")
	ErrCorruptSave        = errors.New("corrupt save file")
	ErrIncompatibleSave   = errors.New("save file does not match loaded story")
)

// Execution faults. A fault raised while an instruction executes moves the
// machine to the Fatal state and freezes all state for inspection.
var (
	ErrOutOfBoundsRead       = errors.New("read outside story memory")
	ErrOutOfBoundsWrite      = errors.New("write outside dynamic memory")
	ErrInvalidObject         = errors.New("invalid object number")
	ErrInvalidAttribute      = errors.New("attribute number out of range")
	ErrInvalidProperty       = errors.New("invalid property access")
	ErrIllegalOpcode         = errors.New("illegal opcode for story version")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrRecursiveAbbreviation = errors.New("abbreviation expansion inside abbreviation")
	ErrStackUnderflow        = errors.New("evaluation stack underflow")
	ErrCallStackUnderflow    = errors.New("return with no caller frame")
	ErrInvalidVariable       = errors.New("invalid variable number")
	ErrBadThrowFrame         = errors.New("throw to a frame that is not on the call stack")
)

// Recoverable conditions. The offending operation becomes a no-op and a
// diagnostic is surfaced; execution continues.
var (
	ErrStreamNesting = errors.New("memory output stream is already open")
)

// Host protocol errors.
var (
	ErrNotAwaitingInput = errors.New("machine is not awaiting input")
	ErrNotRunning       = errors.New("machine is not running")
)
