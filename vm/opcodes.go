package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode execution
// ---------------------------------------------------------------------------

func s16(v uint16) int16 { return int16(v) }
func u16(v int16) uint16 { return uint16(v) }

// execute dispatches one decoded instruction. The program counter has
// already advanced past it; branch and call handlers move it again.
func (m *Machine) execute(in *Instruction, operands []uint16) error {
	switch in.Class {
	case Op2:
		return m.execute2OP(in, operands)
	case Op1:
		return m.execute1OP(in, operands)
	case Op0:
		return m.execute0OP(in)
	case OpVar:
		return m.executeVAR(in, operands)
	case OpExt:
		return m.executeEXT(in, operands)
	}
	return fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
}

func (m *Machine) execute2OP(in *Instruction, ops []uint16) error {
	switch in.Number {
	case 0x01: // je
		cond := false
		for _, v := range ops[1:] {
			if v == ops[0] {
				cond = true
				break
			}
		}
		return m.branchOn(in, cond)

	case 0x02: // jl
		return m.branchOn(in, s16(ops[0]) < s16(ops[1]))

	case 0x03: // jg
		return m.branchOn(in, s16(ops[0]) > s16(ops[1]))

	case 0x04: // dec_chk
		v, err := m.readVariableInPlace(uint8(ops[0]))
		if err != nil {
			return err
		}
		v = u16(s16(v) - 1)
		if err := m.writeVariableInPlace(uint8(ops[0]), v); err != nil {
			return err
		}
		return m.branchOn(in, s16(v) < s16(ops[1]))

	case 0x05: // inc_chk
		v, err := m.readVariableInPlace(uint8(ops[0]))
		if err != nil {
			return err
		}
		v = u16(s16(v) + 1)
		if err := m.writeVariableInPlace(uint8(ops[0]), v); err != nil {
			return err
		}
		return m.branchOn(in, s16(v) > s16(ops[1]))

	case 0x06: // jin
		parent, err := m.objects.Parent(ops[0])
		if err != nil {
			return err
		}
		return m.branchOn(in, parent == ops[1])

	case 0x07: // test
		return m.branchOn(in, ops[0]&ops[1] == ops[1])

	case 0x08: // or
		return m.storeResult(in, ops[0]|ops[1])

	case 0x09: // and
		return m.storeResult(in, ops[0]&ops[1])

	case 0x0A: // test_attr
		set, err := m.objects.Attribute(ops[0], ops[1])
		if err != nil {
			return err
		}
		return m.branchOn(in, set)

	case 0x0B: // set_attr
		return m.objects.SetAttribute(ops[0], ops[1])

	case 0x0C: // clear_attr
		return m.objects.ClearAttribute(ops[0], ops[1])

	case 0x0D: // store
		return m.writeVariableInPlace(uint8(ops[0]), ops[1])

	case 0x0E: // insert_obj
		return m.objects.Insert(ops[0], ops[1])

	case 0x0F: // loadw
		v, err := m.mem.ReadWord(uint32(ops[0]) + 2*uint32(ops[1]))
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x10: // loadb
		v, err := m.mem.ReadByte(uint32(ops[0]) + uint32(ops[1]))
		if err != nil {
			return err
		}
		return m.storeResult(in, uint16(v))

	case 0x11: // get_prop
		v, err := m.objects.Property(ops[0], ops[1])
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x12: // get_prop_addr
		v, err := m.objects.PropertyAddress(ops[0], ops[1])
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x13: // get_next_prop
		v, err := m.objects.NextProperty(ops[0], ops[1])
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x14: // add
		return m.storeResult(in, u16(s16(ops[0])+s16(ops[1])))

	case 0x15: // sub
		return m.storeResult(in, u16(s16(ops[0])-s16(ops[1])))

	case 0x16: // mul
		return m.storeResult(in, u16(s16(ops[0])*s16(ops[1])))

	case 0x17: // div
		if ops[1] == 0 {
			return fmt.Errorf("%w: div at 0x%X", ErrDivisionByZero, in.Addr)
		}
		return m.storeResult(in, u16(s16(ops[0])/s16(ops[1])))

	case 0x18: // mod
		if ops[1] == 0 {
			return fmt.Errorf("%w: mod at 0x%X", ErrDivisionByZero, in.Addr)
		}
		return m.storeResult(in, u16(s16(ops[0])%s16(ops[1])))

	case 0x19: // call_2s
		return m.callRoutine(in, ops[0], ops[1:], false)

	case 0x1A: // call_2n
		return m.callRoutine(in, ops[0], ops[1:], true)

	case 0x1B: // set_colour, colours not supported
		return nil

	case 0x1C: // throw
		if err := m.stack.unwindTo(int(ops[1])); err != nil {
			return err
		}
		return m.returnValue(ops[0])
	}
	return fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
}

func (m *Machine) execute1OP(in *Instruction, ops []uint16) error {
	switch in.Number {
	case 0x00: // jz
		return m.branchOn(in, ops[0] == 0)

	case 0x01: // get_sibling
		v, err := m.objects.Sibling(ops[0])
		if err != nil {
			return err
		}
		if err := m.storeResult(in, v); err != nil {
			return err
		}
		return m.branchOn(in, v != 0)

	case 0x02: // get_child
		v, err := m.objects.Child(ops[0])
		if err != nil {
			return err
		}
		if err := m.storeResult(in, v); err != nil {
			return err
		}
		return m.branchOn(in, v != 0)

	case 0x03: // get_parent
		v, err := m.objects.Parent(ops[0])
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x04: // get_prop_len
		v, err := m.objects.PropertyLength(ops[0])
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x05: // inc
		v, err := m.readVariableInPlace(uint8(ops[0]))
		if err != nil {
			return err
		}
		return m.writeVariableInPlace(uint8(ops[0]), u16(s16(v)+1))

	case 0x06: // dec
		v, err := m.readVariableInPlace(uint8(ops[0]))
		if err != nil {
			return err
		}
		return m.writeVariableInPlace(uint8(ops[0]), u16(s16(v)-1))

	case 0x07: // print_addr
		text, _, err := m.codec.Decode(uint32(ops[0]))
		if err != nil {
			return err
		}
		return m.print(text)

	case 0x08: // call_1s
		return m.callRoutine(in, ops[0], nil, false)

	case 0x09: // remove_obj
		return m.objects.Remove(ops[0])

	case 0x0A: // print_obj
		name, err := m.objects.Name(ops[0])
		if err != nil {
			return err
		}
		return m.print(name)

	case 0x0B: // ret
		return m.returnValue(ops[0])

	case 0x0C: // jump
		m.pc = uint32(int64(in.Next) + int64(s16(ops[0])) - 2)
		return nil

	case 0x0D: // print_paddr
		text, _, err := m.codec.Decode(m.mem.Unpack(ops[0], PackedString))
		if err != nil {
			return err
		}
		return m.print(text)

	case 0x0E: // load
		v, err := m.readVariableInPlace(uint8(ops[0]))
		if err != nil {
			return err
		}
		return m.storeResult(in, v)

	case 0x0F: // not through v4, call_1n from v5
		if m.mem.Version() >= 5 {
			return m.callRoutine(in, ops[0], nil, true)
		}
		return m.storeResult(in, ^ops[0])
	}
	return fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
}

func (m *Machine) execute0OP(in *Instruction) error {
	switch in.Number {
	case 0x00: // rtrue
		return m.returnValue(1)

	case 0x01: // rfalse
		return m.returnValue(0)

	case 0x02: // print
		text, _, err := m.codec.Decode(in.Text)
		if err != nil {
			return err
		}
		return m.print(text)

	case 0x03: // print_ret
		text, _, err := m.codec.Decode(in.Text)
		if err != nil {
			return err
		}
		if err := m.print(text + "\n"); err != nil {
			return err
		}
		return m.returnValue(1)

	case 0x04: // nop
		return nil

	case 0x05: // save (v3 branches, v4 stores)
		return m.saveGame(in)

	case 0x06: // restore
		return m.restoreGame(in)

	case 0x07: // restart
		return m.restart()

	case 0x08: // ret_popped
		v, err := m.stack.current().pop()
		if err != nil {
			return err
		}
		return m.returnValue(v)

	case 0x09: // pop through v4, catch from v5
		if m.mem.Version() >= 5 {
			return m.storeResult(in, uint16(m.stack.Depth()))
		}
		_, err := m.stack.current().pop()
		return err

	case 0x0A: // quit
		if err := m.streams.closeCapture(); err != nil {
			return err
		}
		m.state = Quit
		m.emit(QuitEvent{})
		return nil

	case 0x0B: // new_line
		return m.print("\n")

	case 0x0C: // show_status
		return m.refreshStatusLine()

	case 0x0D: // verify
		return m.branchOn(in, m.mem.VerifyChecksum())

	case 0x0F: // piracy, treat every story as genuine
		return m.branchOn(in, true)
	}
	return fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
}

func (m *Machine) executeVAR(in *Instruction, ops []uint16) error {
	switch in.Number {
	case 0x00: // call_vs
		return m.callRoutine(in, ops[0], ops[1:], false)

	case 0x01: // storew
		return m.mem.WriteWord(uint32(ops[0])+2*uint32(ops[1]), ops[2])

	case 0x02: // storeb
		return m.mem.WriteByte(uint32(ops[0])+uint32(ops[1]), uint8(ops[2]))

	case 0x03: // put_prop
		return m.objects.SetProperty(ops[0], ops[1], ops[2])

	case 0x04: // sread / aread
		return m.beginLineInput(in, ops)

	case 0x05: // print_char
		r, ok := zsciiToRune(ops[0])
		if !ok {
			return nil
		}
		return m.print(string(r))

	case 0x06: // print_num
		return m.print(fmt.Sprintf("%d", s16(ops[0])))

	case 0x07: // random
		n := s16(ops[0])
		switch {
		case n > 0:
			return m.storeResult(in, m.rng.Roll(uint16(n)))
		case n < 0:
			m.rng.Seed(uint16(-n))
			return m.storeResult(in, 0)
		default:
			m.rng.Reseed()
			return m.storeResult(in, 0)
		}

	case 0x08: // push
		m.stack.current().push(ops[0])
		return nil

	case 0x09: // pull
		v, err := m.stack.current().pop()
		if err != nil {
			return err
		}
		return m.writeVariableInPlace(uint8(ops[0]), v)

	case 0x0A: // split_window
		m.emit(SplitWindowEvent{Lines: ops[0]})
		return nil

	case 0x0B: // set_window
		m.emit(SetWindowEvent{Window: ops[0]})
		return nil

	case 0x0C: // call_vs2
		return m.callRoutine(in, ops[0], ops[1:], false)

	case 0x0D: // erase_window
		m.emit(EraseWindowEvent{Window: s16(ops[0])})
		return nil

	case 0x0E: // erase_line, no cursor model to erase from
		return nil

	case 0x0F: // set_cursor
		m.emit(SetCursorEvent{Line: ops[0], Column: ops[1]})
		return nil

	case 0x10: // get_cursor, reported as home since we keep no cursor
		if err := m.mem.WriteWord(uint32(ops[0]), 1); err != nil {
			return err
		}
		return m.mem.WriteWord(uint32(ops[0])+2, 1)

	case 0x11: // set_text_style
		m.emit(SetTextStyleEvent{Style: ops[0]})
		return nil

	case 0x12: // buffer_mode
		m.emit(BufferModeEvent{Buffered: ops[0] != 0})
		return nil

	case 0x13: // output_stream
		var table uint16
		if len(ops) > 1 {
			table = ops[1]
		}
		return m.streams.selectStream(s16(ops[0]), table)

	case 0x14: // input_stream, command files are host business
		return nil

	case 0x15: // sound_effect
		ev := SoundEvent{Number: 1}
		if len(ops) > 0 {
			ev.Number = ops[0]
		}
		if len(ops) > 1 {
			ev.Effect = ops[1]
		}
		if len(ops) > 2 {
			ev.Volume = ops[2]
		}
		m.emit(ev)
		return nil

	case 0x16: // read_char
		return m.beginCharInput(in, ops)

	case 0x17: // scan_table
		return m.scanTable(in, ops)

	case 0x18: // not
		return m.storeResult(in, ^ops[0])

	case 0x19: // call_vn
		return m.callRoutine(in, ops[0], ops[1:], true)

	case 0x1A: // call_vn2
		return m.callRoutine(in, ops[0], ops[1:], true)

	case 0x1B: // tokenise
		dict := m.dict
		if len(ops) > 2 && ops[2] != 0 {
			var err error
			dict, err = NewDictionary(m.mem, m.codec, uint32(ops[2]))
			if err != nil {
				return err
			}
		}
		skip := len(ops) > 3 && ops[3] != 0
		return m.tokenize(ops[0], ops[1], dict, skip)

	case 0x1C: // encode_text
		return m.encodeText(ops)

	case 0x1D: // copy_table
		return m.copyTable(ops)

	case 0x1E: // print_table
		return m.printTable(ops)

	case 0x1F: // check_arg_count
		return m.branchOn(in, int(ops[0]) <= m.stack.current().ArgCount)
	}
	return fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
}

func (m *Machine) executeEXT(in *Instruction, ops []uint16) error {
	switch in.Number {
	case 0x00: // save
		return m.saveGame(in)

	case 0x01: // restore
		return m.restoreGame(in)

	case 0x02: // log_shift
		t := s16(ops[1])
		if t >= 0 {
			return m.storeResult(in, ops[0]<<uint(t))
		}
		return m.storeResult(in, ops[0]>>uint(-t))

	case 0x03: // art_shift
		t := s16(ops[1])
		if t >= 0 {
			return m.storeResult(in, u16(s16(ops[0])<<uint(t)))
		}
		return m.storeResult(in, u16(s16(ops[0])>>uint(-t)))

	case 0x04: // set_font, only the normal font exists here
		if ops[0] == 0 || ops[0] == 1 {
			return m.storeResult(in, 1)
		}
		return m.storeResult(in, 0)

	case 0x09: // save_undo
		m.undo.push(snapshotMachine(m, in.StoreVar))
		return m.storeResult(in, 1)

	case 0x0A: // restore_undo
		snap := m.undo.pop()
		if snap == nil {
			return m.storeResult(in, 0)
		}
		snap.restoreInto(m)
		return m.writeVariable(snap.storeVar, 2)

	case 0x0B: // print_unicode
		// The operand is a Unicode code point, not ZSCII.
		return m.print(string(rune(ops[0])))
	}
	return fmt.Errorf("%w: %s", ErrIllegalOpcode, in)
}

// ---------------------------------------------------------------------------
// Longer handlers
// ---------------------------------------------------------------------------

// beginLineInput suspends the machine on a read. v3 refreshes the
// status line first, as the standard requires before input.
func (m *Machine) beginLineInput(in *Instruction, ops []uint16) error {
	if m.mem.Version() <= 3 {
		if err := m.refreshStatusLine(); err != nil {
			return err
		}
	}

	maxLen, err := m.mem.ReadByte(uint32(ops[0]))
	if err != nil {
		return err
	}

	ev := InputRequestEvent{Kind: InputLine, MaxLength: int(maxLen)}
	if len(ops) > 2 {
		ev.Time = ops[2]
	}
	if len(ops) > 3 {
		ev.Routine = ops[3]
	}
	m.emit(ev)

	m.pending = in
	m.pendingOperands = ops
	m.state = AwaitingLineInput
	return nil
}

func (m *Machine) beginCharInput(in *Instruction, ops []uint16) error {
	ev := InputRequestEvent{Kind: InputChar}
	if len(ops) > 1 {
		ev.Time = ops[1]
	}
	if len(ops) > 2 {
		ev.Routine = ops[2]
	}
	m.emit(ev)

	m.pending = in
	m.pendingOperands = ops
	m.state = AwaitingCharInput
	return nil
}

// scanTable searches a table for a value. The optional form byte
// selects word or byte entries (bit 7) and the entry length (low
// bits); the default is word entries two bytes apart.
func (m *Machine) scanTable(in *Instruction, ops []uint16) error {
	form := uint16(0x82)
	if len(ops) > 3 {
		form = ops[3]
	}
	stride := uint32(form & 0x7F)
	if stride == 0 {
		return fmt.Errorf("%w: scan_table form 0x%X", ErrIllegalOpcode, form)
	}
	words := form&0x80 != 0

	addr := uint32(ops[1])
	for i := uint16(0); i < ops[2]; i++ {
		var v uint16
		var err error
		if words {
			v, err = m.mem.ReadWord(addr)
		} else {
			var b uint8
			b, err = m.mem.ReadByte(addr)
			v = uint16(b)
		}
		if err != nil {
			return err
		}
		if v == ops[0] {
			if err := m.storeResult(in, uint16(addr)); err != nil {
				return err
			}
			return m.branchOn(in, true)
		}
		addr += stride
	}
	if err := m.storeResult(in, 0); err != nil {
		return err
	}
	return m.branchOn(in, false)
}

// encodeText encodes a span of typed characters into dictionary form.
func (m *Machine) encodeText(ops []uint16) error {
	var raw []byte
	for i := uint32(0); i < uint32(ops[1]); i++ {
		c, err := m.mem.ReadByte(uint32(ops[0]) + uint32(ops[2]) + i)
		if err != nil {
			return err
		}
		raw = append(raw, c)
	}

	var sb strings.Builder
	for _, c := range raw {
		r, ok := zsciiToRune(uint16(c))
		if !ok {
			continue
		}
		sb.WriteRune(r)
	}

	encoded := m.codec.Encode(sb.String())
	for i, b := range encoded {
		if err := m.mem.WriteByte(uint32(ops[3])+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// copyTable copies or zeroes memory. A negative size forces a forward
// copy; otherwise overlapping ranges are copied backwards so the
// destination comes out intact.
func (m *Machine) copyTable(ops []uint16) error {
	first, second := uint32(ops[0]), uint32(ops[1])
	size := s16(ops[2])

	if second == 0 {
		n := uint32(size)
		if size < 0 {
			n = uint32(-size)
		}
		for i := uint32(0); i < n; i++ {
			if err := m.mem.WriteByte(first+i, 0); err != nil {
				return err
			}
		}
		return nil
	}

	if size < 0 {
		n := uint32(-size)
		for i := uint32(0); i < n; i++ {
			b, err := m.mem.ReadByte(first + i)
			if err != nil {
				return err
			}
			if err := m.mem.WriteByte(second+i, b); err != nil {
				return err
			}
		}
		return nil
	}

	n := uint32(size)
	if second > first && second < first+n {
		for i := n; i > 0; i-- {
			b, err := m.mem.ReadByte(first + i - 1)
			if err != nil {
				return err
			}
			if err := m.mem.WriteByte(second+i-1, b); err != nil {
				return err
			}
		}
		return nil
	}
	for i := uint32(0); i < n; i++ {
		b, err := m.mem.ReadByte(first + i)
		if err != nil {
			return err
		}
		if err := m.mem.WriteByte(second+i, b); err != nil {
			return err
		}
	}
	return nil
}

// printTable prints a rectangle of ZSCII text, one row per line.
func (m *Machine) printTable(ops []uint16) error {
	width := uint32(ops[1])
	height := uint32(1)
	if len(ops) > 2 {
		height = uint32(ops[2])
	}
	skip := uint32(0)
	if len(ops) > 3 {
		skip = uint32(ops[3])
	}

	addr := uint32(ops[0])
	for row := uint32(0); row < height; row++ {
		if row > 0 {
			if err := m.print("\n"); err != nil {
				return err
			}
		}
		for col := uint32(0); col < width; col++ {
			c, err := m.mem.ReadByte(addr)
			if err != nil {
				return err
			}
			addr++
			r, ok := zsciiToRune(uint16(c))
			if !ok {
				continue
			}
			if err := m.print(string(r)); err != nil {
				return err
			}
		}
		addr += skip
	}
	return nil
}

// restart reloads dynamic memory and restarts from the entry point.
// The transcript bit survives inside Memory.Restart.
func (m *Machine) restart() error {
	m.mem.Restart()
	m.mem.stampHeader(interpreterNumber, interpreterVersion)
	m.streams = newStreamRouter(m.mem)
	m.resetExecution()
	m.emit(RestartEvent{})
	return nil
}

// ---------------------------------------------------------------------------
// Save and restore
// ---------------------------------------------------------------------------

// saveGame builds a save file and hands it to the host. The outcome is
// reported the way the story version expects: a branch in v3, a stored
// 1 or 0 from v4.
func (m *Machine) saveGame(in *Instruction) error {
	ok := false
	if m.OnSave != nil {
		savedPC := in.StoreAddr
		if m.mem.Version() <= 3 {
			savedPC = in.BranchAddr
		}
		data, err := m.buildSave(savedPC)
		if err != nil {
			return err
		}
		if err := m.OnSave(data); err != nil {
			m.log.Errorf("save failed: %s", err)
		} else {
			ok = true
		}
	}

	if m.mem.Version() <= 3 {
		return m.branchOn(in, ok)
	}
	if ok {
		return m.storeResult(in, 1)
	}
	return m.storeResult(in, 0)
}

// restoreGame fetches a save file from the host and resumes inside the
// original save instruction, which then reports 2.
func (m *Machine) restoreGame(in *Instruction) error {
	if m.OnRestore == nil {
		return m.reportRestoreFailure(in)
	}
	data, err := m.OnRestore()
	if err != nil || data == nil {
		if err != nil {
			m.log.Errorf("restore failed: %s", err)
		}
		return m.reportRestoreFailure(in)
	}

	savedPC, err := m.applySave(data)
	if err != nil {
		m.log.Errorf("restore rejected: %s", err)
		return m.reportRestoreFailure(in)
	}
	return m.resumeAfterRestore(savedPC)
}

func (m *Machine) reportRestoreFailure(in *Instruction) error {
	if m.mem.Version() <= 3 {
		return m.branchOn(in, false)
	}
	return m.storeResult(in, 0)
}

// resumeAfterRestore finishes the save instruction the restored state
// is parked on: its branch is taken in v3, its store variable receives
// 2 from v4.
func (m *Machine) resumeAfterRestore(savedPC uint32) error {
	m.mem.stampHeader(interpreterNumber, interpreterVersion)

	if m.mem.Version() <= 3 {
		synthetic := &Instruction{}
		next, err := m.decoder.readBranch(synthetic, savedPC)
		if err != nil {
			return err
		}
		synthetic.Next = next
		m.pc = next
		return m.branchOn(synthetic, true)
	}

	storeVar, err := m.mem.ReadByte(savedPC)
	if err != nil {
		return err
	}
	m.pc = savedPC + 1
	return m.writeVariable(storeVar, 2)
}
