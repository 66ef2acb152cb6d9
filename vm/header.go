package vm

// Header layout. The first 64 bytes of every story file form the header;
// offsets are fixed across versions, though not every field is meaningful
// in every version.
//
// Reference: section 11 of the Z-Machine Standards Document.
const (
	hdrVersion        = 0x00
	hdrFlags1         = 0x01
	hdrRelease        = 0x02
	hdrHighMemory     = 0x04
	hdrInitialPC      = 0x06
	hdrDictionary     = 0x08
	hdrObjectTable    = 0x0A
	hdrGlobals        = 0x0C
	hdrStaticMemory   = 0x0E
	hdrFlags2         = 0x10
	hdrSerial         = 0x12
	hdrAbbreviations  = 0x18
	hdrFileLength     = 0x1A
	hdrChecksum       = 0x1C
	hdrInterpNumber   = 0x1E
	hdrInterpVersion  = 0x1F
	hdrScreenHeight   = 0x20
	hdrScreenWidth    = 0x21
	hdrRoutinesOffset = 0x28
	hdrStringsOffset  = 0x2A
	hdrStandardMajor  = 0x32
	hdrStandardMinor  = 0x33
	hdrAlphabetTable  = 0x34
	hdrTerminators    = 0x2E

	// HeaderSize is the fixed size of the story file header.
	HeaderSize = 0x40
)

// Flags 1 bits (v3).
const (
	Flags1StatusTime    = 1 << 1 // status line shows hours:mins, not score/turns
	Flags1StatusNone    = 1 << 4 // interpreter sets: status line unavailable
	Flags1ScreenSplit   = 1 << 5 // interpreter sets: screen splitting available
	Flags1VariablePitch = 1 << 6 // interpreter sets: variable-pitch font default
)

// Flags 2 bits. The bottom two bits are under game control at runtime and
// must survive restart/restore.
const (
	Flags2Transcript = 1 << 0
	Flags2FixedPitch = 1 << 1
)

// Version reports the declared story file version (1..8).
func (m *Memory) Version() uint8 { return m.version }

// Release reports the release number from the header.
func (m *Memory) Release() uint16 { return m.word(hdrRelease) }

// Serial returns the six-byte serial code (conventionally a compile date).
func (m *Memory) Serial() [6]byte {
	var s [6]byte
	copy(s[:], m.buf[hdrSerial:hdrSerial+6])
	return s
}

// HighMemoryBase reports the base of high memory.
func (m *Memory) HighMemoryBase() uint32 { return uint32(m.word(hdrHighMemory)) }

// InitialPC reports the byte address of the first instruction. For v6
// stories the header holds a packed routine address instead; the caller
// unpacks it and skips the routine header.
func (m *Memory) InitialPC() uint32 { return uint32(m.word(hdrInitialPC)) }

// DictionaryBase reports the byte address of the standard dictionary.
func (m *Memory) DictionaryBase() uint32 { return uint32(m.word(hdrDictionary)) }

// ObjectTableBase reports the byte address of the object table.
func (m *Memory) ObjectTableBase() uint32 { return uint32(m.word(hdrObjectTable)) }

// GlobalsBase reports the byte address of the global variable table.
func (m *Memory) GlobalsBase() uint32 { return uint32(m.word(hdrGlobals)) }

// StaticBase reports the base of static memory, i.e. the first address the
// story may not write to.
func (m *Memory) StaticBase() uint32 { return m.staticBase }

// AbbreviationsBase reports the byte address of the abbreviations table.
func (m *Memory) AbbreviationsBase() uint32 { return uint32(m.word(hdrAbbreviations)) }

// FileLength reports the story length in bytes, scaled by the
// version-dependent factor from the header's stored length.
func (m *Memory) FileLength() uint32 {
	stored := uint32(m.word(hdrFileLength))
	switch {
	case m.version <= 3:
		return stored * 2
	case m.version <= 5:
		return stored * 4
	default:
		return stored * 8
	}
}

// Checksum reports the header-declared checksum.
func (m *Memory) Checksum() uint16 { return m.word(hdrChecksum) }

// Flags1 reports the Flags 1 byte.
func (m *Memory) Flags1() uint8 { return m.buf[hdrFlags1] }

// Flags2 reports the Flags 2 word.
func (m *Memory) Flags2() uint16 { return m.word(hdrFlags2) }

// TranscriptRequested reports whether the game has switched on the
// transcript bit of Flags 2.
func (m *Memory) TranscriptRequested() bool { return m.Flags2()&Flags2Transcript != 0 }

// setTranscript flips the transcript bit of Flags 2. output_stream 2 and
// the host's transcript toggle both come through here so the story sees
// a consistent flag.
func (m *Memory) setTranscript(on bool) error {
	flags := m.Flags2()
	if on {
		flags |= Flags2Transcript
	} else {
		flags &^= Flags2Transcript
	}
	return m.WriteWord(hdrFlags2, flags)
}

// AlphabetTableBase reports the custom alphabet table address (v5+), or 0
// when the story uses the standard alphabets.
func (m *Memory) AlphabetTableBase() uint32 {
	if m.version < 5 {
		return 0
	}
	return uint32(m.word(hdrAlphabetTable))
}

// TerminatorsBase reports the terminating-characters table address (v5+).
func (m *Memory) TerminatorsBase() uint32 {
	if m.version < 5 {
		return 0
	}
	return uint32(m.word(hdrTerminators))
}

func (m *Memory) routinesOffset() uint32 { return uint32(m.word(hdrRoutinesOffset)) }
func (m *Memory) stringsOffset() uint32  { return uint32(m.word(hdrStringsOffset)) }

// stampHeader writes the interpreter-owned header fields after load,
// restart and restore, per the "Rst" column of the header table.
func (m *Memory) stampHeader(interpNumber, interpVersion uint8) {
	m.buf[hdrInterpNumber] = interpNumber
	m.buf[hdrInterpVersion] = interpVersion

	// Conformance with Standard 1.1.
	m.buf[hdrStandardMajor] = 1
	m.buf[hdrStandardMinor] = 1

	if m.version <= 3 {
		m.buf[hdrFlags1] |= Flags1ScreenSplit
		m.buf[hdrFlags1] &^= Flags1StatusNone | Flags1VariablePitch
	}
}

// SetScreenSize records the presentation layer's dimensions in the header
// so stories can format output (v4+ reads these).
func (m *Memory) SetScreenSize(widthChars, heightLines uint8) {
	m.buf[hdrScreenWidth] = widthChars
	m.buf[hdrScreenHeight] = heightLines
}
