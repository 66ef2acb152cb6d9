package vm

import (
	"errors"
	"testing"
)

func decodeAt(t *testing.T, b *storyBuilder) *Instruction {
	t.Helper()
	mem, err := NewMemory(b.build(t))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	in, err := NewDecoder(mem, NewTextCodec(mem)).Decode(tbCode)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return in
}

func TestDecodeLongForm(t *testing.T) {
	b := newStoryBuilder(3)
	// add small 5, small 7 -> stack
	b.emit(0x14, 0x05, 0x07, 0x00)
	in := decodeAt(t, b)

	if in.Class != Op2 || in.Number != 0x14 {
		t.Fatalf("got %s", in)
	}
	if len(in.Operands) != 2 || in.Operands[0].Raw != 5 || in.Operands[1].Raw != 7 {
		t.Errorf("operands: %+v", in.Operands)
	}
	if !in.Store || in.StoreVar != 0 {
		t.Errorf("store: %v var %d", in.Store, in.StoreVar)
	}
	if in.Next != tbCode+4 {
		t.Errorf("next: 0x%X", in.Next)
	}
}

func TestDecodeLongFormVariableOperands(t *testing.T) {
	b := newStoryBuilder(3)
	// je L01, G00 [branch]
	b.emit(0x61, 0x01, 0x10, 0xC4)
	in := decodeAt(t, b)

	if in.Class != Op2 || in.Number != 0x01 {
		t.Fatalf("got %s", in)
	}
	if in.Operands[0].Type != OperandVariable || in.Operands[1].Type != OperandVariable {
		t.Errorf("operand types: %+v", in.Operands)
	}
	if !in.Branch.Present || !in.Branch.OnTrue || in.Branch.Offset != 4 {
		t.Errorf("branch: %+v", in.Branch)
	}
}

func TestDecodeShortForm1OP(t *testing.T) {
	b := newStoryBuilder(3)
	// jump with a large constant
	b.emit(0x8C, 0x12, 0x34)
	in := decodeAt(t, b)

	if in.Class != Op1 || in.Number != 0x0C {
		t.Fatalf("got %s", in)
	}
	if in.Operands[0].Type != OperandLarge || in.Operands[0].Raw != 0x1234 {
		t.Errorf("operand: %+v", in.Operands[0])
	}
}

func TestDecodeShortForm0OP(t *testing.T) {
	b := newStoryBuilder(3)
	b.emit(0xB0) // rtrue
	in := decodeAt(t, b)

	if in.Class != Op0 || in.Number != 0x00 || len(in.Operands) != 0 {
		t.Fatalf("got %s with %d operands", in, len(in.Operands))
	}
}

func TestDecodeInlineText(t *testing.T) {
	b := newStoryBuilder(3)
	text := encodeLowercase("hi")
	code := []byte{0xB2}
	for _, w := range text {
		code = append(code, uint8(w>>8), uint8(w))
	}
	code = append(code, 0xBA)
	b.emit(code...)
	in := decodeAt(t, b)

	if in.Class != Op0 || in.Number != 0x02 {
		t.Fatalf("got %s", in)
	}
	if in.Text != tbCode+1 {
		t.Errorf("text address: 0x%X", in.Text)
	}
	if in.Next != tbCode+1+uint32(2*len(text)) {
		t.Errorf("next: 0x%X", in.Next)
	}
}

func TestDecodeVariableForm(t *testing.T) {
	b := newStoryBuilder(3)
	// call routine(large), 5(small) -> G00
	b.emit(0xE0, 0x1F, 0x04, 0x04, 0x05, 0x10)
	in := decodeAt(t, b)

	if in.Class != OpVar || in.Number != 0x00 {
		t.Fatalf("got %s", in)
	}
	if len(in.Operands) != 2 {
		t.Fatalf("operands: %+v", in.Operands)
	}
	if in.Operands[0].Raw != 0x0404 || in.Operands[1].Raw != 5 {
		t.Errorf("operands: %+v", in.Operands)
	}
	if !in.Store || in.StoreVar != 0x10 {
		t.Errorf("store var: %d", in.StoreVar)
	}
}

func TestDecodeVariableFormOf2OP(t *testing.T) {
	b := newStoryBuilder(3)
	// add with two large constants, variable form
	b.emit(0xD4, 0x0F, 0x7F, 0xFF, 0x00, 0x01, 0x10)
	in := decodeAt(t, b)

	if in.Class != Op2 || in.Number != 0x14 {
		t.Fatalf("got %s", in)
	}
	if in.Operands[0].Raw != 0x7FFF || in.Operands[1].Raw != 1 {
		t.Errorf("operands: %+v", in.Operands)
	}
}

func TestDecodeDoubleTypeByte(t *testing.T) {
	b := newStoryBuilder(5)
	// call_vs2 with seven small operands
	b.emit(0xEC, 0x55, 0x57, 1, 2, 3, 4, 5, 6, 7, 0x00)
	in := decodeAt(t, b)

	if in.Class != OpVar || in.Number != 0x0C {
		t.Fatalf("got %s", in)
	}
	if len(in.Operands) != 7 {
		t.Errorf("got %d operands", len(in.Operands))
	}
	if in.Next != tbCode+11 {
		t.Errorf("next: 0x%X", in.Next)
	}
}

func TestDecodeExtendedForm(t *testing.T) {
	b := newStoryBuilder(5)
	// save_undo
	b.emit(0xBE, 0x09, 0xFF, 0x10)
	in := decodeAt(t, b)

	if in.Class != OpExt || in.Number != 0x09 {
		t.Fatalf("got %s", in)
	}
	if !in.Store || in.StoreVar != 0x10 {
		t.Errorf("store var: %d", in.StoreVar)
	}
}

func TestDecodeLongBranch(t *testing.T) {
	b := newStoryBuilder(3)
	// jz G00 with a two-byte negative branch offset
	b.emit(0xA0, 0x10, 0x3F, 0xF6)
	in := decodeAt(t, b)

	if !in.Branch.Present {
		t.Fatal("no branch")
	}
	if in.Branch.OnTrue {
		t.Error("bit 7 clear means branch on false")
	}
	if in.Branch.Offset != -10 {
		t.Errorf("offset: got %d, want -10", in.Branch.Offset)
	}
}

func TestDecodeIllegalOpcode(t *testing.T) {
	b := newStoryBuilder(3)
	b.emit(0x00, 0x01, 0x02) // long form 2OP number 0 is undefined
	mem, err := NewMemory(b.build(t))
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewDecoder(mem, NewTextCodec(mem)).Decode(tbCode)
	if !errors.Is(err, ErrIllegalOpcode) {
		t.Errorf("expected ErrIllegalOpcode, got %v", err)
	}
}

func TestDecodeVersionGates(t *testing.T) {
	// read_char does not exist in v3.
	b := newStoryBuilder(3)
	b.emit(0xF6, 0x7F, 0x01)
	mem, _ := NewMemory(b.build(t))
	if _, err := NewDecoder(mem, NewTextCodec(mem)).Decode(tbCode); !errors.Is(err, ErrIllegalOpcode) {
		t.Errorf("v3 read_char: expected ErrIllegalOpcode, got %v", err)
	}

	// piracy does not exist in v3 either.
	b2 := newStoryBuilder(3)
	b2.emit(0xBF, 0xC1)
	mem2, _ := NewMemory(b2.build(t))
	if _, err := NewDecoder(mem2, NewTextCodec(mem2)).Decode(tbCode); !errors.Is(err, ErrIllegalOpcode) {
		t.Errorf("v3 piracy: expected ErrIllegalOpcode, got %v", err)
	}
}

func TestDecodeOmittedOperandsBelowFloor(t *testing.T) {
	// A variable-form type byte can omit every operand; opcodes with a
	// mandatory operand count must fault at decode time.
	cases := []struct {
		name string
		code []byte
	}{
		{"call_vs", []byte{0xE0, 0xFF}},
		{"pull", []byte{0xE9, 0xFF}},
		{"add_one_operand", []byte{0xD4, 0x7F, 0x05, 0x00}},
		{"storew_two_operands", []byte{0xE1, 0x5F, 0x01, 0x02}},
	}
	for _, c := range cases {
		b := newStoryBuilder(3)
		b.emit(c.code...)
		mem, err := NewMemory(b.build(t))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewDecoder(mem, NewTextCodec(mem)).Decode(tbCode); !errors.Is(err, ErrIllegalOpcode) {
			t.Errorf("%s: expected ErrIllegalOpcode, got %v", c.name, err)
		}
	}
}
