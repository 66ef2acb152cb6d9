package vm

import (
	"bytes"
	"sort"
	"testing"
)

// storyBuilder assembles a minimal but well-formed story file for
// tests. The memory map is fixed: abbreviations at 0x42, the object
// table at 0x110, globals at 0x380, scratch space for buffers from
// 0x560, the dictionary at 0x600 (the static base), and code from
// 0x800.
const (
	tbAbbrevTable = 0x0042
	tbObjectTable = 0x0110
	tbGlobals     = 0x0380
	tbScratch     = 0x0560
	tbStatic      = 0x0600
	tbAbbrevText  = 0x0700
	tbCode        = 0x0800
)

type testProp struct {
	num  uint16
	data []byte
}

type testObject struct {
	parent, sibling, child uint16
	attrs                  []uint16
	name                   string
	props                  []testProp
}

type storyBuilder struct {
	version    uint8
	objects    []testObject
	dictionary []string
	separators []byte
	abbrevs    map[int][]uint16
	code       []byte
	strings    [][]uint16
	globals    map[uint8]uint16
	pokes      map[uint32][]byte
}

func newStoryBuilder(version uint8) *storyBuilder {
	return &storyBuilder{
		version:    version,
		separators: []byte{'.', ','},
		abbrevs:    map[int][]uint16{},
		globals:    map[uint8]uint16{},
		pokes:      map[uint32][]byte{},
	}
}

// poke places raw bytes at an address in the built image.
func (b *storyBuilder) poke(addr uint32, data ...byte) {
	b.pokes[addr] = data
}

func (b *storyBuilder) addObject(obj testObject) uint16 {
	b.objects = append(b.objects, obj)
	return uint16(len(b.objects))
}

func (b *storyBuilder) addWords(words ...string) {
	b.dictionary = append(b.dictionary, words...)
}

func (b *storyBuilder) setAbbrev(index int, words []uint16) {
	b.abbrevs[index] = words
}

func (b *storyBuilder) setGlobal(g uint8, v uint16) {
	b.globals[g] = v
}

// emit appends raw instruction bytes; the first emit starts at the
// initial program counter.
func (b *storyBuilder) emit(code ...byte) {
	b.code = append(b.code, code...)
}

// addString places an encoded string in high memory and returns its
// packed address. Call after all code is emitted.
func (b *storyBuilder) addString(words []uint16) uint16 {
	b.strings = append(b.strings, words)
	align := uint32(2)
	if b.version >= 4 {
		align = 4
	}
	addr := uint32(tbCode) + uint32(len(b.code))
	var placed uint32
	for _, s := range b.strings {
		for addr%align != 0 {
			addr++
		}
		placed = addr
		addr += 2 * uint32(len(s))
	}
	return uint16(placed / align)
}

func (b *storyBuilder) build(t *testing.T) []byte {
	t.Helper()

	size := uint32(tbCode) + uint32(len(b.code))
	for _, s := range b.strings {
		size += uint32(2*len(s)) + 4
	}
	size += 64
	if size%2 != 0 {
		size++
	}
	buf := make([]byte, size)

	buf[hdrVersion] = b.version
	putWordAt(buf, hdrRelease, 1)
	copy(buf[hdrSerial:], "260826")
	putWordAt(buf, hdrHighMemory, tbCode)
	putWordAt(buf, hdrInitialPC, tbCode)
	putWordAt(buf, hdrDictionary, tbStatic)
	putWordAt(buf, hdrObjectTable, tbObjectTable)
	putWordAt(buf, hdrGlobals, tbGlobals)
	putWordAt(buf, hdrStaticMemory, tbStatic)
	putWordAt(buf, hdrAbbreviations, tbAbbrevTable)

	b.buildAbbrevs(buf)
	b.buildObjects(t, buf)
	b.buildDictionary(buf)

	for g, v := range b.globals {
		putWordAt(buf, tbGlobals+2*uint32(g), v)
	}

	copy(buf[tbCode:], b.code)
	b.buildStrings(buf)

	for addr, data := range b.pokes {
		copy(buf[addr:], data)
	}

	divisor := uint32(2)
	if b.version >= 4 {
		divisor = 4
	}
	if b.version >= 8 {
		divisor = 8
	}
	putWordAt(buf, hdrFileLength, uint16(uint32(len(buf))/divisor))

	var sum uint16
	for _, c := range buf[HeaderSize:] {
		sum += uint16(c)
	}
	putWordAt(buf, hdrChecksum, sum)
	return buf
}

func (b *storyBuilder) buildAbbrevs(buf []byte) {
	text := uint32(tbAbbrevText)
	for i, words := range b.abbrevs {
		putWordAt(buf, tbAbbrevTable+2*uint32(i), uint16(text/2))
		for _, w := range words {
			putWordAt(buf, text, w)
			text += 2
		}
	}
}

func (b *storyBuilder) buildObjects(t *testing.T, buf []byte) {
	t.Helper()

	defaults := uint32(31)
	entrySize := uint32(9)
	attrBytes := uint32(4)
	if b.version >= 4 {
		defaults = 63
		entrySize = 14
		attrBytes = 6
	}

	entriesBase := uint32(tbObjectTable) + 2*defaults
	propBase := entriesBase + entrySize*uint32(len(b.objects))

	for i, obj := range b.objects {
		addr := entriesBase + entrySize*uint32(i)

		for _, a := range obj.attrs {
			buf[addr+uint32(a)/8] |= 1 << (7 - a%8)
		}
		if b.version <= 3 {
			buf[addr+4] = uint8(obj.parent)
			buf[addr+5] = uint8(obj.sibling)
			buf[addr+6] = uint8(obj.child)
			putWordAt(buf, addr+7, uint16(propBase))
		} else {
			putWordAt(buf, addr+attrBytes, obj.parent)
			putWordAt(buf, addr+attrBytes+2, obj.sibling)
			putWordAt(buf, addr+attrBytes+4, obj.child)
			putWordAt(buf, addr+attrBytes+6, uint16(propBase))
		}

		propBase = b.buildPropTable(t, buf, propBase, obj)
	}
	if propBase > tbGlobals {
		t.Fatalf("object tables overflow into globals: 0x%X", propBase)
	}
}

func (b *storyBuilder) buildPropTable(t *testing.T, buf []byte, addr uint32, obj testObject) uint32 {
	t.Helper()

	name := encodeLowercase(obj.name)
	buf[addr] = uint8(len(name))
	addr++
	for _, w := range name {
		putWordAt(buf, addr, w)
		addr += 2
	}

	props := append([]testProp(nil), obj.props...)
	sort.Slice(props, func(i, j int) bool { return props[i].num > props[j].num })

	for _, p := range props {
		n := len(p.data)
		if b.version <= 3 {
			if n > 8 {
				t.Fatalf("v3 property %d has %d bytes", p.num, n)
			}
			buf[addr] = uint8(32*(n-1)) + uint8(p.num)
			addr++
		} else if n <= 2 {
			sz := uint8(0)
			if n == 2 {
				sz = 0x40
			}
			buf[addr] = sz | uint8(p.num)
			addr++
		} else {
			buf[addr] = 0x80 | uint8(p.num)
			buf[addr+1] = 0x80 | uint8(n&0x3F)
			addr += 2
		}
		copy(buf[addr:], p.data)
		addr += uint32(n)
	}
	buf[addr] = 0
	return addr + 1
}

func (b *storyBuilder) buildDictionary(buf []byte) {
	addr := uint32(tbStatic)
	buf[addr] = uint8(len(b.separators))
	addr++
	copy(buf[addr:], b.separators)
	addr += uint32(len(b.separators))

	entryLen := uint8(7)
	if b.version >= 4 {
		entryLen = 9
	}
	buf[addr] = entryLen
	addr++
	putWordAt(buf, addr, uint16(len(b.dictionary)))
	addr += 2

	keys := make([][]byte, len(b.dictionary))
	for i, w := range b.dictionary {
		keys[i] = encodeDictWord(w, b.version)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	for _, k := range keys {
		copy(buf[addr:], k)
		addr += uint32(entryLen)
	}
}

func (b *storyBuilder) buildStrings(buf []byte) {
	align := uint32(2)
	if b.version >= 4 {
		align = 4
	}
	addr := uint32(tbCode) + uint32(len(b.code))
	for _, s := range b.strings {
		for addr%align != 0 {
			addr++
		}
		for _, w := range s {
			putWordAt(buf, addr, w)
			addr += 2
		}
	}
}

func putWordAt(buf []byte, addr uint32, v uint16) {
	buf[addr] = uint8(v >> 8)
	buf[addr+1] = uint8(v)
}

// encodeLowercase packs a plain lowercase word into z-text, padding the
// final word with shift characters and setting the terminal bit.
func encodeLowercase(s string) []uint16 {
	var zchars []uint8
	for _, c := range s {
		if c == ' ' {
			zchars = append(zchars, 0)
		} else {
			zchars = append(zchars, uint8(c-'a'+6))
		}
	}
	for len(zchars) == 0 || len(zchars)%3 != 0 {
		zchars = append(zchars, 5)
	}

	words := make([]uint16, 0, len(zchars)/3)
	for i := 0; i < len(zchars); i += 3 {
		words = append(words, uint16(zchars[i])<<10|uint16(zchars[i+1])<<5|uint16(zchars[i+2]))
	}
	words[len(words)-1] |= 0x8000
	return words
}

// encodeDictWord produces a dictionary key: 4 bytes in v3, 6 from v4.
func encodeDictWord(s string, version uint8) []byte {
	resolution := 6
	if version >= 4 {
		resolution = 9
	}
	var zchars []uint8
	for _, c := range s {
		zchars = append(zchars, uint8(c-'a'+6))
	}
	for len(zchars) < resolution {
		zchars = append(zchars, 5)
	}
	zchars = zchars[:resolution]

	out := make([]byte, 0, resolution/3*2)
	for i := 0; i < resolution; i += 3 {
		w := uint16(zchars[i])<<10 | uint16(zchars[i+1])<<5 | uint16(zchars[i+2])
		if i+3 == resolution {
			w |= 0x8000
		}
		out = append(out, uint8(w>>8), uint8(w))
	}
	return out
}

// buildMachine is the common test entry: build the story and load it.
func buildMachine(t *testing.T, b *storyBuilder) *Machine {
	t.Helper()
	m, err := NewMachine(b.build(t))
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}
