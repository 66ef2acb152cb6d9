package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// State is the machine's execution state. The machine never blocks on
// input: a read instruction moves it to an awaiting state, the host
// collects input however it likes and hands it back with ProvideLine or
// ProvideChar.
type State uint8

const (
	Running State = iota
	AwaitingLineInput
	AwaitingCharInput
	Quit
	Fatal
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case AwaitingLineInput:
		return "awaiting-line-input"
	case AwaitingCharInput:
		return "awaiting-char-input"
	case Quit:
		return "quit"
	case Fatal:
		return "fatal"
	}
	return "?"
}

// Interpreter identity stamped into the header. 6 is MS-DOS in the
// interpreter number table, the conventional choice for a portable
// terminal interpreter.
const (
	interpreterNumber  = 6
	interpreterVersion = 'Z'
)

// SaveHandler receives a complete save file and writes it somewhere.
// RestoreHandler produces the bytes of a previously written save file.
// Both are host callbacks; an absent handler makes save/restore fail
// the way a cancelled file prompt would.
type (
	SaveHandler    func(data []byte) error
	RestoreHandler func() ([]byte, error)
)

// Machine executes one story. It is not safe for concurrent use; the
// host drives it from a single goroutine and drains Events between
// steps.
type Machine struct {
	mem     *Memory
	story   []byte
	codec   *TextCodec
	objects *ObjectTable
	dict    *Dictionary
	decoder *Decoder
	stack   *CallStack
	streams *streamRouter
	rng     *randomSource
	undo    *undoStack
	log     commonlog.Logger

	pc     uint32
	state  State
	fault  error
	events []Event

	// pending is the read or read_char instruction the machine is
	// suspended on, with its operands as resolved at decode time.
	pending         *Instruction
	pendingOperands []uint16

	OnSave    SaveHandler
	OnRestore RestoreHandler
}

// NewMachine loads a story file and prepares it for execution. The
// story slice is retained as the pristine original; the machine never
// writes to it.
func NewMachine(story []byte) (*Machine, error) {
	owned := make([]byte, len(story))
	copy(owned, story)

	mem, err := NewMemory(owned)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		mem:   mem,
		story: story,
		log:   commonlog.GetLogger("zed.vm"),
	}
	m.codec = NewTextCodec(mem)
	m.objects = NewObjectTable(mem, m.codec)
	m.decoder = NewDecoder(mem, m.codec)
	m.streams = newStreamRouter(mem)
	m.rng = newRandomSource()
	m.undo = newUndoStack(maxUndoSnapshots)

	m.dict, err = NewDictionary(mem, m.codec, mem.DictionaryBase())
	if err != nil {
		return nil, err
	}

	mem.stampHeader(interpreterNumber, interpreterVersion)
	m.resetExecution()

	serial := mem.Serial()
	m.log.Infof("loaded story: version %d, release %d, serial %s",
		mem.Version(), mem.Release(), string(serial[:]))
	return m, nil
}

// resetExecution points the machine at the story's entry point with a
// fresh call stack.
func (m *Machine) resetExecution() {
	m.pc = m.mem.InitialPC()
	m.stack = &CallStack{}
	m.stack.push(&Frame{DiscardResult: true})
	m.state = Running
	m.fault = nil
	m.pending = nil
	m.pendingOperands = nil
}

// State reports the current execution state.
func (m *Machine) State() State { return m.state }

// Fault reports the error that put the machine in the Fatal state, or
// nil.
func (m *Machine) Fault() error { return m.fault }

// PC reports the current program counter, mostly for diagnostics.
func (m *Machine) PC() uint32 { return m.pc }

// Memory exposes the story memory, for hosts and save code.
func (m *Machine) Memory() *Memory { return m.mem }

// Events returns the events accumulated since the last call and clears
// the queue.
func (m *Machine) Events() []Event {
	ev := m.events
	m.events = nil
	return ev
}

func (m *Machine) emit(ev Event) {
	m.events = append(m.events, ev)
}

// Run executes instructions until the machine suspends for input, the
// story quits, or a fault occurs. A fault is returned and also recorded
// in Fault; the machine's state at the faulting instruction is kept for
// inspection.
func (m *Machine) Run() error {
	for m.state == Running {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step executes a single instruction.
func (m *Machine) Step() error {
	if m.state != Running {
		return fmt.Errorf("%w: machine is %s", ErrNotRunning, m.state)
	}

	in, err := m.decoder.Decode(m.pc)
	if err != nil {
		return m.fatalError(err)
	}

	operands, err := m.resolveOperands(in)
	if err != nil {
		return m.fatalError(err)
	}

	m.pc = in.Next
	if err := m.execute(in, operands); err != nil {
		if errors.Is(err, ErrStreamNesting) {
			// Recoverable: report and carry on.
			m.log.Errorf("output_stream 3 while a capture is active at 0x%X", in.Addr)
			return nil
		}
		return m.fatalError(err)
	}
	return nil
}

func (m *Machine) fatalError(err error) error {
	m.state = Fatal
	m.fault = err
	m.log.Criticalf("fault at 0x%X: %s", m.pc, err)
	return err
}

// ---------------------------------------------------------------------------
// Variables and operands
// ---------------------------------------------------------------------------

// readVariable reads variable v: 0 pops the evaluation stack, 1..15 are
// routine locals, 16..255 are globals.
func (m *Machine) readVariable(v uint8) (uint16, error) {
	switch {
	case v == 0:
		return m.stack.current().pop()
	case v <= 15:
		f := m.stack.current()
		if int(v) > len(f.Locals) {
			return 0, fmt.Errorf("%w: local %d of %d", ErrInvalidVariable, v, len(f.Locals))
		}
		return f.Locals[v-1], nil
	default:
		return m.mem.GlobalWord(v - 16)
	}
}

// writeVariable writes variable v; variable 0 pushes.
func (m *Machine) writeVariable(v uint8, value uint16) error {
	switch {
	case v == 0:
		m.stack.current().push(value)
		return nil
	case v <= 15:
		f := m.stack.current()
		if int(v) > len(f.Locals) {
			return fmt.Errorf("%w: local %d of %d", ErrInvalidVariable, v, len(f.Locals))
		}
		f.Locals[v-1] = value
		return nil
	default:
		return m.mem.SetGlobalWord(v-16, value)
	}
}

// readVariableInPlace is readVariable for instructions that name a
// variable in an operand (load, inc, dec and friends): variable 0 reads
// the stack top without popping.
func (m *Machine) readVariableInPlace(v uint8) (uint16, error) {
	if v == 0 {
		return m.stack.current().peek()
	}
	return m.readVariable(v)
}

// writeVariableInPlace writes the stack top in place for variable 0.
func (m *Machine) writeVariableInPlace(v uint8, value uint16) error {
	if v == 0 {
		return m.stack.current().setTop(value)
	}
	return m.writeVariable(v, value)
}

// resolveOperands produces the operand values, reading variable
// operands in order.
func (m *Machine) resolveOperands(in *Instruction) ([]uint16, error) {
	out := make([]uint16, len(in.Operands))
	for i, op := range in.Operands {
		if op.Type == OperandVariable {
			v, err := m.readVariable(uint8(op.Raw))
			if err != nil {
				return nil, err
			}
			out[i] = v
		} else {
			out[i] = op.Raw
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// storeResult writes an instruction's result to its store variable.
func (m *Machine) storeResult(in *Instruction, v uint16) error {
	if !in.Store {
		return nil
	}
	return m.writeVariable(in.StoreVar, v)
}

// branchOn resolves a branch instruction against its condition. Offsets
// 0 and 1 return false/true from the current routine; anything else
// jumps to the address after the branch data plus offset minus two.
func (m *Machine) branchOn(in *Instruction, cond bool) error {
	if !in.Branch.Present {
		return nil
	}
	if cond != in.Branch.OnTrue {
		return nil
	}
	switch in.Branch.Offset {
	case 0:
		return m.returnValue(0)
	case 1:
		return m.returnValue(1)
	default:
		m.pc = uint32(int64(in.Next) + int64(in.Branch.Offset) - 2)
		return nil
	}
}

// callRoutine pushes a frame for the routine at the given packed
// address and jumps to its first instruction. A call to address 0
// immediately yields false without a frame.
func (m *Machine) callRoutine(in *Instruction, packed uint16, args []uint16, discard bool) error {
	if packed == 0 {
		if discard {
			return nil
		}
		return m.storeResult(in, 0)
	}

	addr := m.mem.Unpack(packed, PackedRoutine)
	localCount, err := m.mem.ReadByte(addr)
	if err != nil {
		return err
	}
	if localCount > 15 {
		return fmt.Errorf("%w: routine at 0x%X declares %d locals", ErrOutOfBoundsRead, addr, localCount)
	}
	addr++

	locals := make([]uint16, localCount)
	if m.mem.Version() <= 4 {
		for i := range locals {
			locals[i], err = m.mem.ReadWord(addr)
			if err != nil {
				return err
			}
			addr += 2
		}
	}
	for i := 0; i < len(args) && i < len(locals); i++ {
		locals[i] = args[i]
	}

	m.stack.push(&Frame{
		ReturnPC:      m.pc,
		Locals:        locals,
		StoreVariable: in.StoreVar,
		DiscardResult: discard || !in.Store,
		ArgCount:      len(args),
	})
	m.pc = addr
	return nil
}

// returnValue pops the current frame and delivers the value to the
// caller's store variable.
func (m *Machine) returnValue(v uint16) error {
	f, err := m.stack.pop()
	if err != nil {
		return err
	}
	m.pc = f.ReturnPC
	if f.DiscardResult {
		return nil
	}
	return m.writeVariable(f.StoreVariable, v)
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// print routes story text through the selected output streams.
func (m *Machine) print(text string) error {
	if m.streams.capturing() {
		return m.streams.captureText(text)
	}
	if m.streams.screenOn() {
		m.emit(TextEvent{Text: text})
	}
	return nil
}

// refreshStatusLine emits the v3 status line from the first three
// globals.
func (m *Machine) refreshStatusLine() error {
	location, err := m.mem.GlobalWord(0)
	if err != nil {
		return err
	}
	var name string
	if location != 0 {
		name, err = m.objects.Name(location)
		if err != nil {
			return err
		}
	}
	a, err := m.mem.GlobalWord(1)
	if err != nil {
		return err
	}
	b, err := m.mem.GlobalWord(2)
	if err != nil {
		return err
	}

	timed := m.mem.Flags1()&Flags1StatusTime != 0
	ev := StatusLineEvent{Location: name, Timed: timed}
	if timed {
		ev.Hours, ev.Minutes = a, b
	} else {
		ev.Score, ev.Turns = int16(a), int16(b)
	}
	m.emit(ev)
	return nil
}

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

// ProvideLine resumes a machine suspended on line input. The line is
// what the player typed, without the terminating newline.
func (m *Machine) ProvideLine(line string) error {
	if m.state != AwaitingLineInput {
		return fmt.Errorf("%w: machine is %s", ErrNotAwaitingInput, m.state)
	}
	in := m.pending
	operands := m.pendingOperands
	m.pending = nil
	m.pendingOperands = nil
	m.state = Running

	if err := m.finishRead(in, operands, line); err != nil {
		return m.fatalError(err)
	}
	return nil
}

// ProvideChar resumes a machine suspended on single-character input.
func (m *Machine) ProvideChar(c rune) error {
	if m.state != AwaitingCharInput {
		return fmt.Errorf("%w: machine is %s", ErrNotAwaitingInput, m.state)
	}
	in := m.pending
	m.pending = nil
	m.pendingOperands = nil
	m.state = Running

	z, ok := runeToZSCII(c)
	if !ok {
		z = '?'
	}
	if c == '\n' || c == '\r' {
		z = 13
	}
	if err := m.storeResult(in, z); err != nil {
		return m.fatalError(err)
	}
	return nil
}

// finishRead writes the typed line into the text buffer, tokenises it
// into the parse buffer and, from v5, stores the terminator.
func (m *Machine) finishRead(in *Instruction, operands []uint16, line string) error {
	textAddr, parseAddr := operands[0], uint16(0)
	if len(operands) > 1 {
		parseAddr = operands[1]
	}

	line = strings.ToLower(line)

	maxLen, err := m.mem.ReadByte(uint32(textAddr))
	if err != nil {
		return err
	}

	var chars []uint8
	for _, r := range line {
		z, ok := runeToZSCII(r)
		if !ok {
			continue
		}
		chars = append(chars, uint8(z))
	}
	if len(chars) > int(maxLen) {
		chars = chars[:maxLen]
	}

	if m.mem.Version() <= 4 {
		for i, c := range chars {
			if err := m.mem.WriteByte(uint32(textAddr)+1+uint32(i), c); err != nil {
				return err
			}
		}
		if err := m.mem.WriteByte(uint32(textAddr)+1+uint32(len(chars)), 0); err != nil {
			return err
		}
	} else {
		if err := m.mem.WriteByte(uint32(textAddr)+1, uint8(len(chars))); err != nil {
			return err
		}
		for i, c := range chars {
			if err := m.mem.WriteByte(uint32(textAddr)+2+uint32(i), c); err != nil {
				return err
			}
		}
	}

	if parseAddr != 0 {
		if err := m.tokenize(textAddr, parseAddr, m.dict, false); err != nil {
			return err
		}
	}

	if m.mem.Version() >= 5 {
		// The only terminator this interpreter delivers is newline.
		return m.storeResult(in, 13)
	}
	return nil
}

// tokenize splits the typed text and writes dictionary matches into the
// parse buffer. With skipUnknown set, words missing from the dictionary
// leave their entry untouched instead of writing 0, per tokenise's
// flag.
func (m *Machine) tokenize(textAddr, parseAddr uint16, dict *Dictionary, skipUnknown bool) error {
	var text []byte
	var offset int
	if m.mem.Version() <= 4 {
		offset = 1
		for addr := uint32(textAddr) + 1; ; addr++ {
			c, err := m.mem.ReadByte(addr)
			if err != nil {
				return err
			}
			if c == 0 {
				break
			}
			text = append(text, c)
		}
	} else {
		offset = 2
		n, err := m.mem.ReadByte(uint32(textAddr) + 1)
		if err != nil {
			return err
		}
		for i := uint32(0); i < uint32(n); i++ {
			c, err := m.mem.ReadByte(uint32(textAddr) + 2 + i)
			if err != nil {
				return err
			}
			text = append(text, c)
		}
	}

	maxWords, err := m.mem.ReadByte(uint32(parseAddr))
	if err != nil {
		return err
	}

	tokens := dict.Split(text)
	if len(tokens) > int(maxWords) {
		tokens = tokens[:maxWords]
	}

	if err := m.mem.WriteByte(uint32(parseAddr)+1, uint8(len(tokens))); err != nil {
		return err
	}
	for i, tok := range tokens {
		entry := uint32(parseAddr) + 2 + 4*uint32(i)
		addr := dict.Lookup(tok.Word)
		if addr == 0 && skipUnknown {
			continue
		}
		if err := m.mem.WriteWord(entry, addr); err != nil {
			return err
		}
		if err := m.mem.WriteByte(entry+2, uint8(len(tok.Word))); err != nil {
			return err
		}
		if err := m.mem.WriteByte(entry+3, uint8(tok.Start+offset)); err != nil {
			return err
		}
	}
	return nil
}
