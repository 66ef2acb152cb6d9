package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Memory: the story file's byte-addressable memory image
// ---------------------------------------------------------------------------

// Memory owns the loaded story image. The buffer is divided into three
// regions: dynamic memory (from 0 up to the static base, freely writable
// by the story), static memory (read-only after load) and high memory
// (routines and strings, reached only through packed addresses).
type Memory struct {
	buf        []byte
	pristine   []byte // dynamic region as loaded, for restart and save diffs
	version    uint8
	staticBase uint32
}

// NewMemory validates a story image and wraps it. The header must declare
// a version this interpreter supports and region bases that lie inside the
// file.
func NewMemory(story []byte) (*Memory, error) {
	if len(story) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrInvalidStoryFile, len(story))
	}

	version := story[hdrVersion]
	if version < 1 || version > 8 {
		return nil, fmt.Errorf("%w: version byte %d", ErrInvalidStoryFile, version)
	}
	if version < 3 {
		return nil, fmt.Errorf("%w: v%d", ErrUnsupportedVersion, version)
	}

	m := &Memory{buf: story, version: version}
	m.staticBase = uint32(m.word(hdrStaticMemory))

	if m.staticBase < HeaderSize || m.staticBase > uint32(len(story)) {
		return nil, fmt.Errorf("%w: static memory base 0x%X outside file", ErrInvalidStoryFile, m.staticBase)
	}
	for _, base := range []uint32{m.DictionaryBase(), m.ObjectTableBase(), m.GlobalsBase(), m.AbbreviationsBase()} {
		if base >= uint32(len(story)) {
			return nil, fmt.Errorf("%w: header table base 0x%X outside file", ErrInvalidStoryFile, base)
		}
	}

	m.pristine = make([]byte, m.staticBase)
	copy(m.pristine, story[:m.staticBase])

	return m, nil
}

// word reads a big-endian word without bounds checking; only for header
// offsets already validated at load.
func (m *Memory) word(addr uint32) uint16 {
	return uint16(m.buf[addr])<<8 | uint16(m.buf[addr+1])
}

// Size reports the total byte length of the loaded image.
func (m *Memory) Size() uint32 { return uint32(len(m.buf)) }

// ReadByte reads one byte at a story-relative address.
func (m *Memory) ReadByte(addr uint32) (uint8, error) {
	if addr >= uint32(len(m.buf)) {
		return 0, fmt.Errorf("%w: byte at 0x%X", ErrOutOfBoundsRead, addr)
	}
	return m.buf[addr], nil
}

// ReadWord reads a big-endian 16-bit word at a story-relative address.
func (m *Memory) ReadWord(addr uint32) (uint16, error) {
	if addr+1 >= uint32(len(m.buf)) {
		return 0, fmt.Errorf("%w: word at 0x%X", ErrOutOfBoundsRead, addr)
	}
	return m.word(addr), nil
}

// WriteByte writes one byte. Writes outside the dynamic region fail.
func (m *Memory) WriteByte(addr uint32, v uint8) error {
	if addr >= m.staticBase {
		return fmt.Errorf("%w: byte at 0x%X (static base 0x%X)", ErrOutOfBoundsWrite, addr, m.staticBase)
	}
	m.buf[addr] = v
	return nil
}

// WriteWord writes a big-endian word. Writes outside the dynamic region fail.
func (m *Memory) WriteWord(addr uint32, v uint16) error {
	if addr+1 >= m.staticBase {
		return fmt.Errorf("%w: word at 0x%X (static base 0x%X)", ErrOutOfBoundsWrite, addr, m.staticBase)
	}
	m.buf[addr] = uint8(v >> 8)
	m.buf[addr+1] = uint8(v)
	return nil
}

// PackedKind distinguishes the two address spaces packed addresses can
// refer to; v6/7 apply different offset constants to each.
type PackedKind int

const (
	PackedRoutine PackedKind = iota
	PackedString
)

// Unpack converts a packed address into a byte address using the
// version-dependent multiplier.
func (m *Memory) Unpack(packed uint16, kind PackedKind) uint32 {
	p := uint32(packed)
	switch {
	case m.version <= 3:
		return p * 2
	case m.version <= 5:
		return p * 4
	case m.version <= 7:
		offset := m.routinesOffset()
		if kind == PackedString {
			offset = m.stringsOffset()
		}
		return p*4 + offset*8
	default:
		return p * 8
	}
}

// ComputeChecksum sums every byte from the end of the header to the
// declared file length, modulo 0x10000. The dynamic region is summed as
// loaded, not as modified, so verify keeps passing mid-game. Story files
// shorter than their declared length are summed to their actual end.
func (m *Memory) ComputeChecksum() uint16 {
	end := m.FileLength()
	if end > uint32(len(m.buf)) || end == 0 {
		end = uint32(len(m.buf))
	}
	var sum uint16
	for addr := uint32(HeaderSize); addr < end; addr++ {
		if addr < m.staticBase {
			sum += uint16(m.pristine[addr])
		} else {
			sum += uint16(m.buf[addr])
		}
	}
	return sum
}

// VerifyChecksum reports whether the computed checksum matches the header.
func (m *Memory) VerifyChecksum() bool {
	return m.ComputeChecksum() == m.Checksum()
}

// DynamicRegion exposes the live dynamic region. Callers must not hold the
// slice across writes.
func (m *Memory) DynamicRegion() []byte { return m.buf[:m.staticBase] }

// PristineDynamic exposes the dynamic region exactly as loaded.
func (m *Memory) PristineDynamic() []byte { return m.pristine }

// Restart restores the pristine dynamic region. The transcript and
// fixed-pitch bits of Flags 2 survive, as the restart opcode requires.
func (m *Memory) Restart() {
	keep := m.Flags2() & (Flags2Transcript | Flags2FixedPitch)
	copy(m.buf[:m.staticBase], m.pristine)
	flags := m.word(hdrFlags2)&^(Flags2Transcript|Flags2FixedPitch) | keep
	m.buf[hdrFlags2] = uint8(flags >> 8)
	m.buf[hdrFlags2+1] = uint8(flags)
}

// GlobalWord reads global variable g (0..239).
func (m *Memory) GlobalWord(g uint8) (uint16, error) {
	return m.ReadWord(m.GlobalsBase() + 2*uint32(g))
}

// SetGlobalWord writes global variable g (0..239).
func (m *Memory) SetGlobalWord(g uint8, v uint16) error {
	return m.WriteWord(m.GlobalsBase()+2*uint32(g), v)
}
