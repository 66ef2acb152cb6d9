package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// TextCodec: Z-character / ZSCII text encoding and decoding
// ---------------------------------------------------------------------------

// Standard alphabet rows. A Z-character c >= 6 indexes row[c-6].
const (
	alphaA0 = "abcdefghijklmnopqrstuvwxyz"
	alphaA1 = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphaA2 = " \n0123456789.,!?_#'\"/\\-:()" // position 0 is the ZSCII escape, 1 is newline
)

// defaultUnicode translates the "extra characters" block, ZSCII 155..223
// (Standard 1.1 table 1).
var defaultUnicode = []rune{
	'ä', 'ö', 'ü', 'Ä', 'Ö', 'Ü', 'ß', '»', '«', 'ë', 'ï', 'ÿ', 'Ë', 'Ï', 'á',
	'é', 'í', 'ó', 'ú', 'ý', 'Á', 'É', 'Í', 'Ó', 'Ú', 'Ý', 'à', 'è', 'ì', 'ò',
	'ù', 'À', 'È', 'Ì', 'Ò', 'Ù', 'â', 'ê', 'î', 'ô', 'û', 'Â', 'Ê', 'Î', 'Ô',
	'Û', 'å', 'Å', 'ø', 'Ø', 'ã', 'ñ', 'õ', 'Ã', 'Ñ', 'Õ', 'æ', 'Æ', 'ç', 'Ç',
	'þ', 'ð', 'Þ', 'Ð', '£', 'œ', 'Œ', '¡', '¿',
}

// TextCodec converts between the 5-bit Z-character stream held in story
// memory and readable text. Decoding is restartable from any word-aligned
// address; the codec itself is stateless between calls.
//
// Only the v3+ shift rules are implemented: codes 1..3 are abbreviations,
// 4 and 5 shift the next character's alphabet, and there is no shift lock.
type TextCodec struct {
	mem  *Memory
	rows [3][]rune
}

// NewTextCodec builds a codec over the story's alphabets. A v5+ story may
// name a custom alphabet table in its header; rows are 26 ZSCII values
// each, with the A2 escape and newline positions fixed by the standard.
func NewTextCodec(mem *Memory) *TextCodec {
	c := &TextCodec{mem: mem}
	c.rows[0] = []rune(alphaA0)
	c.rows[1] = []rune(alphaA1)
	c.rows[2] = []rune(alphaA2)

	if base := mem.AlphabetTableBase(); base != 0 {
		for row := 0; row < 3; row++ {
			for i := 0; i < 26; i++ {
				b, err := mem.ReadByte(base + uint32(row*26+i))
				if err != nil {
					return c // malformed table: keep the standard rows
				}
				if r, ok := zsciiToRune(uint16(b)); ok {
					c.rows[row][i] = r
				}
			}
		}
		// A2 positions 6 and 7 keep their standard meaning.
		c.rows[2][0] = ' '
		c.rows[2][1] = '\n'
	}
	return c
}

// Resolution reports the dictionary word length in Z-characters: 6 for v3
// and 9 for v4+.
func (c *TextCodec) Resolution() int {
	if c.mem.Version() <= 3 {
		return 6
	}
	return 9
}

// Decode reads an encoded string starting at addr and returns the decoded
// text along with the address of the first byte past the terminal word.
func (c *TextCodec) Decode(addr uint32) (string, uint32, error) {
	return c.decode(addr, false)
}

func (c *TextCodec) decode(addr uint32, inAbbreviation bool) (string, uint32, error) {
	zchars, next, err := c.readZChars(addr)
	if err != nil {
		return "", 0, err
	}

	var out strings.Builder
	alphabet := 0
	for i := 0; i < len(zchars); i++ {
		zc := zchars[i]

		switch {
		case zc == 0:
			out.WriteByte(' ')

		case zc >= 1 && zc <= 3:
			// Abbreviation: entry 32(z-1)+x of the table, stored as a
			// word address.
			if i+1 >= len(zchars) {
				break // abbreviation marker cut off by the terminal word
			}
			if inAbbreviation {
				return "", 0, fmt.Errorf("%w: at 0x%X", ErrRecursiveAbbreviation, addr)
			}
			index := uint32(32*(zc-1) + zchars[i+1])
			i++
			entry, err := c.mem.ReadWord(c.mem.AbbreviationsBase() + 2*index)
			if err != nil {
				return "", 0, err
			}
			expansion, _, err := c.decode(uint32(entry)*2, true)
			if err != nil {
				return "", 0, err
			}
			out.WriteString(expansion)

		case zc == 4:
			alphabet = 1
			continue

		case zc == 5:
			alphabet = 2
			continue

		case alphabet == 2 && zc == 6:
			// Ten-bit ZSCII escape: the next two Z-characters hold the
			// top and bottom halves of the code.
			if i+2 >= len(zchars) {
				break // escape cut off by the terminal word
			}
			code := uint16(zchars[i+1])<<5 | uint16(zchars[i+2])
			i += 2
			if r, ok := zsciiToRune(code); ok {
				out.WriteRune(r)
			}

		default:
			out.WriteRune(c.rows[alphabet][zc-6])
		}
		alphabet = 0
	}

	return out.String(), next, nil
}

// readZChars unrolls the word stream at addr into 5-bit Z-characters,
// stopping after the word with the terminal bit set.
func (c *TextCodec) readZChars(addr uint32) ([]uint8, uint32, error) {
	var zchars []uint8
	for {
		w, err := c.mem.ReadWord(addr)
		if err != nil {
			return nil, 0, err
		}
		addr += 2
		zchars = append(zchars, uint8(w>>10)&0x1F, uint8(w>>5)&0x1F, uint8(w)&0x1F)
		if w&0x8000 != 0 {
			return zchars, addr, nil
		}
	}
}

// Encode converts a word of input text into the fixed-width dictionary
// form: 6 Z-characters in 4 bytes for v3, 9 in 6 bytes for v4+. Longer
// words truncate; shorter ones pad with the shift-5 filler.
func (c *TextCodec) Encode(text string) []byte {
	resolution := c.Resolution()
	zchars := make([]uint8, 0, resolution)

	for _, r := range strings.ToLower(text) {
		if len(zchars) >= resolution {
			break
		}
		if i := runeIndex(c.rows[0], r); i >= 0 {
			zchars = append(zchars, uint8(i+6))
			continue
		}
		if i := runeIndex(c.rows[2][2:], r); i >= 0 {
			zchars = append(zchars, 5, uint8(i+8))
			continue
		}
		// Anything else becomes a ten-bit ZSCII escape.
		code, ok := runeToZSCII(r)
		if !ok {
			code = '?'
		}
		zchars = append(zchars, 5, 6, uint8(code>>5)&0x1F, uint8(code)&0x1F)
	}

	for len(zchars) < resolution {
		zchars = append(zchars, 5)
	}
	zchars = zchars[:resolution]

	words := resolution / 3
	encoded := make([]byte, 0, words*2)
	for i := 0; i < words; i++ {
		w := uint16(zchars[i*3])<<10 | uint16(zchars[i*3+1])<<5 | uint16(zchars[i*3+2])
		if i == words-1 {
			w |= 0x8000
		}
		encoded = append(encoded, uint8(w>>8), uint8(w))
	}
	return encoded
}

func runeIndex(row []rune, r rune) int {
	for i, candidate := range row {
		if candidate == r {
			return i
		}
	}
	return -1
}

// zsciiToRune maps a ZSCII output code to a rune. Code 0 and other
// non-printing codes report ok=false and produce no output.
func zsciiToRune(code uint16) (rune, bool) {
	switch {
	case code == 13:
		return '\n', true
	case code >= 32 && code <= 126:
		return rune(code), true
	case code >= 155 && code < 155+uint16(len(defaultUnicode)):
		return defaultUnicode[code-155], true
	default:
		return 0, false
	}
}

// runeToZSCII is the input-direction mapping used by the encoder and the
// line-input writer.
func runeToZSCII(r rune) (uint16, bool) {
	if r == '\n' {
		return 13, true
	}
	if r >= 32 && r <= 126 {
		return uint16(r), true
	}
	for i, candidate := range defaultUnicode {
		if candidate == r {
			return uint16(155 + i), true
		}
	}
	return 0, false
}
