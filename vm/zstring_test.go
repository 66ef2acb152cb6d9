package vm

import (
	"bytes"
	"errors"
	"testing"
)

func newTestCodec(t *testing.T, b *storyBuilder) (*Memory, *TextCodec) {
	t.Helper()
	mem, err := NewMemory(b.build(t))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return mem, NewTextCodec(mem)
}

func pokeZWords(b *storyBuilder, addr uint32, words ...uint16) {
	var data []byte
	for _, w := range words {
		data = append(data, uint8(w>>8), uint8(w))
	}
	b.poke(addr, data...)
}

func TestDecodePlainText(t *testing.T) {
	b := newStoryBuilder(3)
	pokeZWords(b, tbScratch, encodeLowercase("hello")...)
	_, codec := newTestCodec(t, b)

	text, next, err := codec.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "hello" {
		t.Errorf("got %q, want %q", text, "hello")
	}
	if next != tbScratch+4 {
		t.Errorf("next address: got 0x%X, want 0x%X", next, tbScratch+4)
	}
}

func TestDecodeSpaceAndMultipleWords(t *testing.T) {
	b := newStoryBuilder(3)
	pokeZWords(b, tbScratch, encodeLowercase("go north")...)
	_, codec := newTestCodec(t, b)

	text, _, err := codec.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "go north" {
		t.Errorf("got %q", text)
	}
}

func TestDecodeShiftToUpper(t *testing.T) {
	// Shift 4 then A1 char 6 is capital A.
	b := newStoryBuilder(3)
	pokeZWords(b, tbScratch, 0x8000|4<<10|6<<5|5)
	_, codec := newTestCodec(t, b)

	text, _, err := codec.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "A" {
		t.Errorf("got %q, want A", text)
	}
}

func TestDecodeShiftAppliesToOneCharacterOnly(t *testing.T) {
	// Shift, 'a' in A1, then plain 'b': only the first is shifted.
	b := newStoryBuilder(3)
	pokeZWords(b, tbScratch, 4<<10|6<<5|7, 0x8000|5<<10|5<<5|5)
	_, codec := newTestCodec(t, b)

	text, _, err := codec.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "Ab" {
		t.Errorf("got %q, want Ab", text)
	}
}

func TestDecodeTenBitEscape(t *testing.T) {
	// Shift 5, A2 char 6, then the ZSCII code in two 5-bit halves.
	// 64 is '@'.
	b := newStoryBuilder(3)
	pokeZWords(b, tbScratch, 5<<10|6<<5|2, 0x8000|0<<10|5<<5|5)
	_, codec := newTestCodec(t, b)

	text, _, err := codec.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "@" {
		t.Errorf("got %q, want @", text)
	}
}

func TestDecodeAbbreviation(t *testing.T) {
	b := newStoryBuilder(3)
	b.setAbbrev(0, encodeLowercase("the "))
	// Abbreviation 1/0 followed by 'n'.
	pokeZWords(b, tbScratch, 0x8000|1<<10|0<<5|19)
	_, codec := newTestCodec(t, b)

	text, _, err := codec.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "the n" {
		t.Errorf("got %q, want %q", text, "the n")
	}
}

func TestDecodeRecursiveAbbreviationFails(t *testing.T) {
	b := newStoryBuilder(3)
	// Abbreviation 0 refers to abbreviation 1.
	b.setAbbrev(0, []uint16{0x8000 | 1<<10 | 1<<5 | 5})
	b.setAbbrev(1, encodeLowercase("deep"))
	pokeZWords(b, tbScratch, 0x8000|1<<10|0<<5|5)
	_, codec := newTestCodec(t, b)

	_, _, err := codec.Decode(tbScratch)
	if !errors.Is(err, ErrRecursiveAbbreviation) {
		t.Errorf("expected ErrRecursiveAbbreviation, got %v", err)
	}
}

func TestEncodeMatchesDictionaryForm(t *testing.T) {
	b := newStoryBuilder(3)
	_, codec := newTestCodec(t, b)

	got := codec.Encode("hello")
	want := encodeDictWord("hello", 3)
	if !bytes.Equal(got, want) {
		t.Errorf("got % X, want % X", got, want)
	}
}

func TestEncodeTruncatesToResolution(t *testing.T) {
	b := newStoryBuilder(3)
	_, codec := newTestCodec(t, b)

	long := codec.Encode("northeastern")
	short := codec.Encode("northe")
	if !bytes.Equal(long, short) {
		t.Errorf("v3 keys differ: % X vs % X", long, short)
	}
	if len(long) != 4 {
		t.Errorf("v3 key length: got %d, want 4", len(long))
	}
}

func TestEncodeResolutionV5(t *testing.T) {
	b := newStoryBuilder(5)
	_, codec := newTestCodec(t, b)

	if codec.Resolution() != 9 {
		t.Fatalf("resolution: got %d", codec.Resolution())
	}
	if got := codec.Encode("sword"); len(got) != 6 {
		t.Errorf("v5 key length: got %d, want 6", len(got))
	}
}

func TestDecodeRoundTripThroughEncode(t *testing.T) {
	b := newStoryBuilder(3)
	_, codec := newTestCodec(t, b)

	key := codec.Encode("open")
	b2 := newStoryBuilder(3)
	b2.poke(tbScratch, key...)
	_, codec2 := newTestCodec(t, b2)

	text, _, err := codec2.Decode(tbScratch)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "open" {
		t.Errorf("got %q, want open", text)
	}
}
