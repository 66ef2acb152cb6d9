package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// OperandType is the 2-bit operand type field.
type OperandType uint8

const (
	OperandLarge    OperandType = 0 // 2-byte constant
	OperandSmall    OperandType = 1 // 1-byte constant
	OperandVariable OperandType = 2 // variable number, resolved at execution
	OperandOmitted  OperandType = 3
)

// Operand is a typed operand as decoded. Variable operands carry the
// variable number in Raw; the executor resolves them against the current
// frame and globals, in operand order.
type Operand struct {
	Type OperandType
	Raw  uint16
}

// OpClass is the operand-count class an opcode number is interpreted in.
type OpClass uint8

const (
	Op0 OpClass = iota
	Op1
	Op2
	OpVar
	OpExt
)

func (c OpClass) String() string {
	switch c {
	case Op0:
		return "0OP"
	case Op1:
		return "1OP"
	case Op2:
		return "2OP"
	case OpVar:
		return "VAR"
	case OpExt:
		return "EXT"
	}
	return "?"
}

// Branch describes an instruction's branch specification. Offsets 0 and 1
// mean "return false/true from the current routine" instead of a jump.
type Branch struct {
	Present bool
	OnTrue  bool // branch when the condition holds; otherwise when it fails
	Offset  int16
}

// Instruction is one decoded instruction. Decode consumes the opcode,
// operand types, operands, store variable, branch specification and any
// inline text, so Next is the address of the following instruction.
type Instruction struct {
	Addr       uint32
	Class      OpClass
	Number     uint8
	Operands   []Operand
	Store      bool
	StoreVar   uint8
	StoreAddr  uint32 // address of the store variable byte
	Branch     Branch
	BranchAddr uint32 // address of the branch specification
	Text       uint32 // address of inline text for print/print_ret, else 0
	Next       uint32
}

func (in *Instruction) String() string {
	return fmt.Sprintf("%s:0x%02X at 0x%X", in.Class, in.Number, in.Addr)
}

// Decoder parses instructions out of story memory.
type Decoder struct {
	mem   *Memory
	codec *TextCodec
}

// NewDecoder builds a decoder. The text codec is needed to skip the
// inline text of print and print_ret.
func NewDecoder(mem *Memory, codec *TextCodec) *Decoder {
	return &Decoder{mem: mem, codec: codec}
}

// Decode parses the instruction at pc.
func (d *Decoder) Decode(pc uint32) (*Instruction, error) {
	in := &Instruction{Addr: pc}
	cursor := pc

	opcode, err := d.mem.ReadByte(cursor)
	if err != nil {
		return nil, err
	}
	cursor++

	switch {
	case opcode == 0xBE && d.mem.Version() >= 5:
		// Extended form: the real opcode number is the next byte, then a
		// VAR-style type byte.
		in.Class = OpExt
		in.Number, err = d.mem.ReadByte(cursor)
		if err != nil {
			return nil, err
		}
		cursor++
		cursor, err = d.readTypedOperands(in, cursor, 1)

	case opcode>>6 == 0x3:
		// Variable form: bit 5 selects 2OP or VAR interpretation of the
		// bottom five bits.
		in.Number = opcode & 0x1F
		if opcode&0x20 == 0 {
			in.Class = Op2
		} else {
			in.Class = OpVar
		}
		typeBytes := 1
		if in.Class == OpVar && (in.Number == 0x0C || in.Number == 0x1A) {
			// call_vs2 and call_vn2 carry two type bytes for up to
			// eight operands.
			typeBytes = 2
		}
		cursor, err = d.readTypedOperands(in, cursor, typeBytes)

	case opcode>>6 == 0x2:
		// Short form: bits 4-5 are the single operand's type, or 0OP
		// when omitted.
		in.Number = opcode & 0x0F
		opType := OperandType(opcode >> 4 & 0x3)
		if opType == OperandOmitted {
			in.Class = Op0
		} else {
			in.Class = Op1
			cursor, err = d.readOperand(in, opType, cursor)
		}

	default:
		// Long form: always 2OP; bits 6 and 5 give the operand types,
		// 0 meaning small constant and 1 meaning variable.
		in.Class = Op2
		in.Number = opcode & 0x1F
		cursor, err = d.readOperand(in, longOperandType(opcode&0x40 != 0), cursor)
		if err == nil {
			cursor, err = d.readOperand(in, longOperandType(opcode&0x20 != 0), cursor)
		}
	}
	if err != nil {
		return nil, err
	}

	if !opcodeKnown(in.Class, in.Number, d.mem.Version()) {
		return nil, fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
	}
	if len(in.Operands) < opcodeMinOperands(in.Class, in.Number) {
		return nil, fmt.Errorf("%w: %s has %d operands", ErrIllegalOpcode, in, len(in.Operands))
	}

	if opcodeStores(in.Class, in.Number, d.mem.Version()) {
		in.Store = true
		in.StoreAddr = cursor
		in.StoreVar, err = d.mem.ReadByte(cursor)
		if err != nil {
			return nil, err
		}
		cursor++
	}

	if opcodeBranches(in.Class, in.Number, d.mem.Version()) {
		cursor, err = d.readBranch(in, cursor)
		if err != nil {
			return nil, err
		}
	}

	if in.Class == Op0 && (in.Number == 0x02 || in.Number == 0x03) {
		// print / print_ret: the operand is the text itself.
		in.Text = cursor
		_, cursor, err = d.codec.Decode(cursor)
		if err != nil {
			return nil, err
		}
	}

	in.Next = cursor
	return in, nil
}

func longOperandType(variable bool) OperandType {
	if variable {
		return OperandVariable
	}
	return OperandSmall
}

// readTypedOperands reads one or two bytes of packed 2-bit operand types
// followed by the operands themselves. Types are read top bits first and
// stop at the first omitted field.
func (d *Decoder) readTypedOperands(in *Instruction, cursor uint32, typeBytes int) (uint32, error) {
	var types []OperandType
	for b := 0; b < typeBytes; b++ {
		typeByte, err := d.mem.ReadByte(cursor)
		if err != nil {
			return 0, err
		}
		cursor++
		for shift := 6; shift >= 0; shift -= 2 {
			types = append(types, OperandType(typeByte>>shift&0x3))
		}
	}

	var err error
	for _, t := range types {
		if t == OperandOmitted {
			break
		}
		cursor, err = d.readOperand(in, t, cursor)
		if err != nil {
			return 0, err
		}
	}
	return cursor, nil
}

func (d *Decoder) readOperand(in *Instruction, t OperandType, cursor uint32) (uint32, error) {
	switch t {
	case OperandLarge:
		v, err := d.mem.ReadWord(cursor)
		if err != nil {
			return 0, err
		}
		in.Operands = append(in.Operands, Operand{Type: t, Raw: v})
		return cursor + 2, nil
	default:
		v, err := d.mem.ReadByte(cursor)
		if err != nil {
			return 0, err
		}
		in.Operands = append(in.Operands, Operand{Type: t, Raw: uint16(v)})
		return cursor + 1, nil
	}
}

// readBranch decodes a branch specification: one byte with a 6-bit
// unsigned offset, or two bytes with a signed 14-bit offset.
func (d *Decoder) readBranch(in *Instruction, cursor uint32) (uint32, error) {
	in.BranchAddr = cursor
	first, err := d.mem.ReadByte(cursor)
	if err != nil {
		return 0, err
	}
	cursor++

	in.Branch.Present = true
	in.Branch.OnTrue = first&0x80 != 0

	if first&0x40 != 0 {
		in.Branch.Offset = int16(first & 0x3F)
		return cursor, nil
	}

	second, err := d.mem.ReadByte(cursor)
	if err != nil {
		return 0, err
	}
	cursor++

	raw := uint16(first&0x3F)<<8 | uint16(second)
	// Sign-extend 14 bits.
	if raw&0x2000 != 0 {
		raw |= 0xC000
	}
	in.Branch.Offset = int16(raw)
	return cursor, nil
}

// ---------------------------------------------------------------------------
// Opcode attribute tables
// ---------------------------------------------------------------------------

// opcodeKnown reports whether the opcode number is defined for the story
// version within this interpreter's v3–v5 instruction set (plus the v5
// extended opcodes it carries). Unknown numbers are an IllegalOpcode
// fault at decode time.
func opcodeKnown(class OpClass, number uint8, version uint8) bool {
	switch class {
	case Op0:
		switch number {
		case 0x00, 0x01, 0x02, 0x03, 0x04, 0x07, 0x08, 0x0A, 0x0B, 0x0D:
			return true
		case 0x05, 0x06: // save/restore become extended opcodes in v5
			return version <= 4
		case 0x0F: // piracy
			return version >= 5
		case 0x09: // pop in v3/v4, catch in v5
			return true
		case 0x0C: // show_status, v3 only
			return version == 3
		}
		return false
	case Op1:
		return number <= 0x0F
	case Op2:
		switch {
		case number == 0x00:
			return false
		case number <= 0x18:
			return true
		case number == 0x19, number == 0x1A: // call_2s, call_2n
			return number == 0x19 && version >= 4 || number == 0x1A && version >= 5
		case number == 0x1B: // set_colour
			return version >= 5
		case number == 0x1C: // throw
			return version >= 5
		}
		return false
	case OpVar:
		switch number {
		case 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09:
			return true
		case 0x0A, 0x0B, 0x13, 0x14, 0x15:
			// split_window, set_window, output_stream, input_stream,
			// sound_effect
			return true
		case 0x0C: // call_vs2
			return version >= 4
		case 0x0D, 0x0E, 0x0F, 0x10, 0x11, 0x12: // screen family
			return version >= 4
		case 0x16, 0x17: // read_char, scan_table
			return version >= 4
		case 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F:
			return version >= 5
		}
		return false
	case OpExt:
		if version < 5 {
			return false
		}
		switch number {
		case 0x00, 0x01, 0x02, 0x03, 0x04, 0x09, 0x0A, 0x0B:
			return true
		}
		return false
	}
	return false
}

// opcodeMinOperands gives the fewest operands an opcode is well formed
// with. The variable and extended forms can omit every operand in their
// type byte, so decoding enforces this floor rather than each handler
// guarding its indexing.
func opcodeMinOperands(class OpClass, number uint8) int {
	switch class {
	case Op2:
		return 2
	case OpVar:
		switch number {
		case 0x1C: // encode_text
			return 4
		case 0x01, 0x02, 0x03, 0x17, 0x1D:
			// storew, storeb, put_prop, scan_table, copy_table
			return 3
		case 0x0F, 0x1B, 0x1E: // set_cursor, tokenise, print_table
			return 2
		case 0x0E, 0x15: // erase_line, sound_effect
			return 0
		}
		return 1
	case OpExt:
		switch number {
		case 0x02, 0x03: // log_shift, art_shift
			return 2
		case 0x04, 0x0B: // set_font, print_unicode
			return 1
		}
		return 0
	}
	return 0
}

// opcodeStores reports whether the opcode writes a result variable.
func opcodeStores(class OpClass, number uint8, version uint8) bool {
	switch class {
	case Op2:
		switch number {
		case 0x08, 0x09, 0x0F, 0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18:
			return true
		case 0x19: // call_2s
			return version >= 4
		}
	case Op1:
		switch number {
		case 0x01, 0x02, 0x03, 0x04, 0x0E:
			return true
		case 0x08: // call_1s
			return version >= 4
		case 0x0F: // not stores through v4; call_1n in v5 does not
			return version <= 4
		}
	case Op0:
		switch number {
		case 0x05, 0x06: // save/restore store in v4 only
			return version == 4
		case 0x09: // catch
			return version >= 5
		}
	case OpVar:
		switch number {
		case 0x00, 0x07: // call_vs, random
			return true
		case 0x04: // aread stores the terminator from v5
			return version >= 5
		case 0x0C: // call_vs2
			return version >= 4
		case 0x16, 0x17: // read_char, scan_table
			return version >= 4
		case 0x18: // not
			return version >= 5
		}
	case OpExt:
		switch number {
		case 0x00, 0x01, 0x02, 0x03, 0x04, 0x09, 0x0A:
			return true
		}
	}
	return false
}

// opcodeBranches reports whether the opcode carries a branch
// specification.
func opcodeBranches(class OpClass, number uint8, version uint8) bool {
	switch class {
	case Op2:
		switch number {
		case 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x0A:
			return true
		}
	case Op1:
		return number <= 0x02
	case Op0:
		switch number {
		case 0x05, 0x06: // save/restore branch in v3 only
			return version == 3
		case 0x0D, 0x0F: // verify, piracy
			return true
		}
	case OpVar:
		switch number {
		case 0x17, 0x1F: // scan_table, check_arg_count
			return true
		}
	}
	return false
}
