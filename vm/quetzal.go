package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Quetzal save files
// ---------------------------------------------------------------------------
//
// Saves are standard Quetzal: an IFF FORM of type IFZS holding an IFhd
// identification chunk, a CMem compressed-memory chunk and a Stks stack
// chunk. The format is byte-compatible with other interpreters, so a
// game saved here restores elsewhere and vice versa.

const (
	iffForm = "FORM"
	iffIFZS = "IFZS"
	iffIFhd = "IFhd"
	iffCMem = "CMem"
	iffUMem = "UMem"
	iffStks = "Stks"
)

const frameDiscardBit = 0x10

// buildSave serializes the machine into a Quetzal save file. savedPC is
// the address of the save instruction's branch or store byte, which is
// where a restore resumes.
func (m *Machine) buildSave(savedPC uint32) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString(iffIFZS)

	writeChunk(&body, iffIFhd, m.buildIFhd(savedPC))
	writeChunk(&body, iffCMem, compressMemory(m.mem.DynamicRegion(), m.mem.PristineDynamic()))
	writeChunk(&body, iffStks, buildStks(m.stack.Frames()))

	var out bytes.Buffer
	out.WriteString(iffForm)
	binary.Write(&out, binary.BigEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (m *Machine) buildIFhd(savedPC uint32) []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint16(buf[0:], m.mem.Release())
	serial := m.mem.Serial()
	copy(buf[2:], serial[:])
	binary.BigEndian.PutUint16(buf[8:], m.mem.Checksum())
	put24(buf[10:], savedPC)
	return buf
}

// applySave validates a Quetzal file against the loaded story and, only
// when everything checks out, replaces dynamic memory and the call
// stack. It returns the saved program counter. A failed restore leaves
// the machine untouched.
func (m *Machine) applySave(data []byte) (uint32, error) {
	chunks, err := parseIFF(data)
	if err != nil {
		return 0, err
	}

	ifhd, ok := chunks[iffIFhd]
	if !ok || len(ifhd) < 13 {
		return 0, fmt.Errorf("%w: missing IFhd chunk", ErrCorruptSave)
	}

	release := binary.BigEndian.Uint16(ifhd[0:])
	serial := m.mem.Serial()
	if release != m.mem.Release() || !bytes.Equal(ifhd[2:8], serial[:]) ||
		binary.BigEndian.Uint16(ifhd[8:]) != m.mem.Checksum() {
		return 0, fmt.Errorf("%w: save is for release %d serial %s", ErrIncompatibleSave,
			release, string(ifhd[2:8]))
	}
	savedPC := get24(ifhd[10:])

	var dynamic []byte
	switch {
	case chunks[iffCMem] != nil:
		dynamic, err = decompressMemory(chunks[iffCMem], m.mem.PristineDynamic())
		if err != nil {
			return 0, err
		}
	case chunks[iffUMem] != nil:
		raw := chunks[iffUMem]
		if len(raw) != len(m.mem.PristineDynamic()) {
			return 0, fmt.Errorf("%w: UMem is %d bytes, dynamic memory is %d",
				ErrCorruptSave, len(raw), len(m.mem.PristineDynamic()))
		}
		dynamic = append([]byte(nil), raw...)
	default:
		return 0, fmt.Errorf("%w: no memory chunk", ErrCorruptSave)
	}

	stks, ok := chunks[iffStks]
	if !ok {
		return 0, fmt.Errorf("%w: missing Stks chunk", ErrCorruptSave)
	}
	frames, err := parseStks(stks)
	if err != nil {
		return 0, err
	}

	copy(m.mem.DynamicRegion(), dynamic)
	m.stack.replace(frames)
	return savedPC, nil
}

// ---------------------------------------------------------------------------
// IFF plumbing
// ---------------------------------------------------------------------------

func writeChunk(w *bytes.Buffer, id string, data []byte) {
	w.WriteString(id)
	binary.Write(w, binary.BigEndian, uint32(len(data)))
	w.Write(data)
	if len(data)%2 != 0 {
		w.WriteByte(0)
	}
}

// parseIFF splits a FORM IFZS into its chunks. Unknown chunk types are
// skipped, as the Quetzal spec requires.
func parseIFF(data []byte) (map[string][]byte, error) {
	if len(data) < 12 || string(data[0:4]) != iffForm || string(data[8:12]) != iffIFZS {
		return nil, fmt.Errorf("%w: not a Quetzal file", ErrCorruptSave)
	}
	declared := binary.BigEndian.Uint32(data[4:8])
	if uint32(len(data)-8) < declared {
		return nil, fmt.Errorf("%w: truncated FORM", ErrCorruptSave)
	}

	chunks := make(map[string][]byte)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if pos+size > len(data) {
			return nil, fmt.Errorf("%w: chunk %s runs past the file", ErrCorruptSave, id)
		}
		chunks[id] = data[pos : pos+size]
		pos += size
		if size%2 != 0 {
			pos++
		}
	}
	return chunks, nil
}

func put24(b []byte, v uint32) {
	b[0] = uint8(v >> 16)
	b[1] = uint8(v >> 8)
	b[2] = uint8(v)
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// ---------------------------------------------------------------------------
// CMem
// ---------------------------------------------------------------------------

// compressMemory XORs dynamic memory against the pristine image and
// run-length encodes the zeros: a zero byte is followed by a count of
// how many further zeros it stands for. Trailing zeros are dropped.
func compressMemory(current, pristine []byte) []byte {
	diff := make([]byte, len(current))
	for i := range current {
		diff[i] = current[i] ^ pristine[i]
	}
	for len(diff) > 0 && diff[len(diff)-1] == 0 {
		diff = diff[:len(diff)-1]
	}

	var out bytes.Buffer
	for i := 0; i < len(diff); {
		if diff[i] != 0 {
			out.WriteByte(diff[i])
			i++
			continue
		}
		run := 1
		for i+run < len(diff) && diff[i+run] == 0 && run < 256 {
			run++
		}
		out.WriteByte(0)
		out.WriteByte(uint8(run - 1))
		i += run
	}
	return out.Bytes()
}

// decompressMemory rebuilds dynamic memory from a CMem chunk. Bytes
// beyond the encoded prefix are pristine.
func decompressMemory(cmem, pristine []byte) ([]byte, error) {
	out := append([]byte(nil), pristine...)
	pos := 0
	for i := 0; i < len(cmem); {
		if pos >= len(out) {
			return nil, fmt.Errorf("%w: CMem longer than dynamic memory", ErrCorruptSave)
		}
		b := cmem[i]
		if b != 0 {
			out[pos] ^= b
			pos++
			i++
			continue
		}
		if i+1 >= len(cmem) {
			return nil, fmt.Errorf("%w: CMem ends inside a zero run", ErrCorruptSave)
		}
		pos += int(cmem[i+1]) + 1
		i += 2
	}
	if pos > len(out) {
		return nil, fmt.Errorf("%w: CMem longer than dynamic memory", ErrCorruptSave)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Stks
// ---------------------------------------------------------------------------

// buildStks serializes the call stack bottom-up. The bottom frame is
// the dummy frame the machine starts with: zero return address, no
// locals, discarded result.
func buildStks(frames []*Frame) []byte {
	var out bytes.Buffer
	for _, f := range frames {
		var pc [3]byte
		put24(pc[:], f.ReturnPC)
		out.Write(pc[:])

		flags := uint8(len(f.Locals))
		if f.DiscardResult {
			flags |= frameDiscardBit
		}
		out.WriteByte(flags)

		if f.DiscardResult {
			out.WriteByte(0)
		} else {
			out.WriteByte(f.StoreVariable)
		}

		args := f.ArgCount
		if args > 7 {
			args = 7
		}
		out.WriteByte(uint8(1<<args) - 1)

		binary.Write(&out, binary.BigEndian, uint16(len(f.Eval)))
		for _, v := range f.Locals {
			binary.Write(&out, binary.BigEndian, v)
		}
		for _, v := range f.Eval {
			binary.Write(&out, binary.BigEndian, v)
		}
	}
	return out.Bytes()
}

func parseStks(data []byte) ([]*Frame, error) {
	var frames []*Frame
	pos := 0
	for pos < len(data) {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated stack frame", ErrCorruptSave)
		}
		f := &Frame{ReturnPC: get24(data[pos:])}
		flags := data[pos+3]
		f.DiscardResult = flags&frameDiscardBit != 0
		localCount := int(flags & 0x0F)
		if !f.DiscardResult {
			f.StoreVariable = data[pos+4]
		}

		argMap := data[pos+5]
		for argMap&1 != 0 {
			f.ArgCount++
			argMap >>= 1
		}

		evalCount := int(binary.BigEndian.Uint16(data[pos+6:]))
		pos += 8

		need := 2 * (localCount + evalCount)
		if pos+need > len(data) {
			return nil, fmt.Errorf("%w: truncated stack frame", ErrCorruptSave)
		}
		f.Locals = make([]uint16, localCount)
		for i := range f.Locals {
			f.Locals[i] = binary.BigEndian.Uint16(data[pos:])
			pos += 2
		}
		f.Eval = make([]uint16, evalCount)
		for i := range f.Eval {
			f.Eval[i] = binary.BigEndian.Uint16(data[pos:])
			pos += 2
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: empty Stks chunk", ErrCorruptSave)
	}
	return frames, nil
}
