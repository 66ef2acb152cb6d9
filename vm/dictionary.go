package vm

import (
	"bytes"
	"fmt"
)

// ---------------------------------------------------------------------------
// Dictionary: encoded word lookup and lexical analysis
// ---------------------------------------------------------------------------

// Dictionary reads a dictionary table from story memory: a list of word
// separators, then fixed-width entries of encoded text plus story data.
// The standard dictionary is sorted and searched by bisection; a custom
// dictionary given to tokenise may declare a negative entry count, meaning
// unsorted, and is scanned linearly.
type Dictionary struct {
	mem         *Memory
	codec       *TextCodec
	separators  []byte
	entryLength uint32
	entryCount  uint32
	sorted      bool
	entriesBase uint32
}

// NewDictionary parses the dictionary header at base.
func NewDictionary(mem *Memory, codec *TextCodec, base uint32) (*Dictionary, error) {
	n, err := mem.ReadByte(base)
	if err != nil {
		return nil, fmt.Errorf("%w: dictionary header at 0x%X", ErrInvalidStoryFile, base)
	}
	separators := make([]byte, n)
	for i := range separators {
		b, err := mem.ReadByte(base + 1 + uint32(i))
		if err != nil {
			return nil, err
		}
		separators[i] = b
	}

	cursor := base + 1 + uint32(n)
	entryLength, err := mem.ReadByte(cursor)
	if err != nil {
		return nil, err
	}
	rawCount, err := mem.ReadWord(cursor + 1)
	if err != nil {
		return nil, err
	}

	d := &Dictionary{
		mem:         mem,
		codec:       codec,
		separators:  separators,
		entryLength: uint32(entryLength),
		entriesBase: cursor + 3,
		sorted:      true,
	}
	if int16(rawCount) < 0 {
		d.entryCount = uint32(-int16(rawCount))
		d.sorted = false
	} else {
		d.entryCount = uint32(rawCount)
	}
	if d.entryLength < uint32(len(codec.Encode(""))) {
		return nil, fmt.Errorf("%w: dictionary entry length %d", ErrInvalidStoryFile, entryLength)
	}
	return d, nil
}

// Separators reports the dictionary's word-separator ZSCII codes.
func (d *Dictionary) Separators() []byte { return d.separators }

// Lookup encodes word and searches for it, returning the entry's byte
// address or 0 when absent.
func (d *Dictionary) Lookup(word string) uint16 {
	encoded := d.codec.Encode(word)

	if !d.sorted {
		for i := uint32(0); i < d.entryCount; i++ {
			addr := d.entriesBase + i*d.entryLength
			if bytes.Equal(d.entryKey(addr, len(encoded)), encoded) {
				return uint16(addr)
			}
		}
		return 0
	}

	lo, hi := int64(0), int64(d.entryCount)-1
	for lo <= hi {
		mid := lo + (hi-lo)/2
		addr := d.entriesBase + uint32(mid)*d.entryLength
		switch bytes.Compare(encoded, d.entryKey(addr, len(encoded))) {
		case -1:
			hi = mid - 1
		case 1:
			lo = mid + 1
		default:
			return uint16(addr)
		}
	}
	return 0
}

func (d *Dictionary) entryKey(addr uint32, n int) []byte {
	if addr+uint32(n) > d.mem.Size() {
		return nil
	}
	return d.mem.buf[addr : addr+uint32(n)]
}

// ---------------------------------------------------------------------------
// Lexical analysis
// ---------------------------------------------------------------------------

// Token is one word of a typed input line, with its byte offset into the
// typed text.
type Token struct {
	Word  string
	Start int
}

// Split divides a typed line into tokens. Spaces separate words and are
// discarded; dictionary separator characters separate words and are
// tokens themselves.
func (d *Dictionary) Split(text []byte) []Token {
	var tokens []Token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			tokens = append(tokens, Token{Word: string(text[start:end]), Start: start})
			start = -1
		}
	}
	for i, ch := range text {
		switch {
		case ch == ' ':
			flush(i)
		case bytes.IndexByte(d.separators, ch) >= 0:
			flush(i)
			tokens = append(tokens, Token{Word: string(text[i : i+1]), Start: i})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))
	return tokens
}
