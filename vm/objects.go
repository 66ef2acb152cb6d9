package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// ObjectTable: the story's object tree
// ---------------------------------------------------------------------------

// ObjectTable interprets the object-tree region of story memory as a
// navigable graph. Objects are numbered from 1; number 0 means "nothing".
// The table never copies entries out of memory: every accessor reads and
// writes the live bytes, so object numbers stay stable for the story's
// lifetime and tree surgery is just link rewriting.
//
// There is deliberately no cycle check here; the Z-Machine standard has
// none, and stories rely on the exact insert/remove link semantics below.
type ObjectTable struct {
	mem   *Memory
	codec *TextCodec
}

// NewObjectTable builds an object view over the loaded story.
func NewObjectTable(mem *Memory, codec *TextCodec) *ObjectTable {
	return &ObjectTable{mem: mem, codec: codec}
}

// Layout facts that differ between v3 and v4+.
func (t *ObjectTable) maxObjects() uint16 {
	if t.mem.Version() <= 3 {
		return 255
	}
	return 65535
}

func (t *ObjectTable) attributeCount() uint16 {
	if t.mem.Version() <= 3 {
		return 32
	}
	return 48
}

func (t *ObjectTable) defaultsCount() uint32 {
	if t.mem.Version() <= 3 {
		return 31
	}
	return 63
}

func (t *ObjectTable) entrySize() uint32 {
	if t.mem.Version() <= 3 {
		return 9
	}
	return 14
}

// entryAddr resolves an object number to its entry's byte address.
func (t *ObjectTable) entryAddr(obj uint16) (uint32, error) {
	if obj == 0 || obj > t.maxObjects() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidObject, obj)
	}
	base := t.mem.ObjectTableBase() + t.defaultsCount()*2
	return base + uint32(obj-1)*t.entrySize(), nil
}

// PropertyDefault reads entry n (1-based) of the property defaults table.
func (t *ObjectTable) PropertyDefault(n uint16) (uint16, error) {
	if n == 0 || uint32(n) > t.defaultsCount() {
		return 0, fmt.Errorf("%w: default for property %d", ErrInvalidProperty, n)
	}
	return t.mem.ReadWord(t.mem.ObjectTableBase() + uint32(n-1)*2)
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

// Attribute reports whether attribute n is set on obj. Attribute 0 is the
// top bit of the first attribute byte.
func (t *ObjectTable) Attribute(obj, n uint16) (bool, error) {
	addr, mask, err := t.attributeBit(obj, n)
	if err != nil {
		return false, err
	}
	b, err := t.mem.ReadByte(addr)
	if err != nil {
		return false, err
	}
	return b&mask != 0, nil
}

// SetAttribute sets attribute n on obj.
func (t *ObjectTable) SetAttribute(obj, n uint16) error {
	addr, mask, err := t.attributeBit(obj, n)
	if err != nil {
		return err
	}
	b, err := t.mem.ReadByte(addr)
	if err != nil {
		return err
	}
	return t.mem.WriteByte(addr, b|mask)
}

// ClearAttribute clears attribute n on obj.
func (t *ObjectTable) ClearAttribute(obj, n uint16) error {
	addr, mask, err := t.attributeBit(obj, n)
	if err != nil {
		return err
	}
	b, err := t.mem.ReadByte(addr)
	if err != nil {
		return err
	}
	return t.mem.WriteByte(addr, b&^mask)
}

func (t *ObjectTable) attributeBit(obj, n uint16) (uint32, uint8, error) {
	if n >= t.attributeCount() {
		return 0, 0, fmt.Errorf("%w: %d (v%d allows 0..%d)", ErrInvalidAttribute, n, t.mem.Version(), t.attributeCount()-1)
	}
	entry, err := t.entryAddr(obj)
	if err != nil {
		return 0, 0, err
	}
	return entry + uint32(n/8), 1 << (7 - n%8), nil
}

// ---------------------------------------------------------------------------
// Tree links
// ---------------------------------------------------------------------------

// Link byte offsets within a v3 entry; v4+ uses words at 6/8/10.
const (
	linkParent = iota
	linkSibling
	linkChild
)

func (t *ObjectTable) link(obj uint16, which int) (uint16, error) {
	entry, err := t.entryAddr(obj)
	if err != nil {
		return 0, err
	}
	if t.mem.Version() <= 3 {
		b, err := t.mem.ReadByte(entry + 4 + uint32(which))
		return uint16(b), err
	}
	return t.mem.ReadWord(entry + 6 + uint32(which)*2)
}

func (t *ObjectTable) setLink(obj uint16, which int, target uint16) error {
	entry, err := t.entryAddr(obj)
	if err != nil {
		return err
	}
	if t.mem.Version() <= 3 {
		return t.mem.WriteByte(entry+4+uint32(which), uint8(target))
	}
	return t.mem.WriteWord(entry+6+uint32(which)*2, target)
}

// Parent reports obj's parent object number (0 for none).
func (t *ObjectTable) Parent(obj uint16) (uint16, error) { return t.link(obj, linkParent) }

// Sibling reports obj's next sibling (0 for none).
func (t *ObjectTable) Sibling(obj uint16) (uint16, error) { return t.link(obj, linkSibling) }

// Child reports obj's first child (0 for none).
func (t *ObjectTable) Child(obj uint16) (uint16, error) { return t.link(obj, linkChild) }

// Remove detaches obj from its parent's child chain without relinking it
// anywhere. obj keeps its own children.
func (t *ObjectTable) Remove(obj uint16) error {
	parent, err := t.Parent(obj)
	if err != nil {
		return err
	}
	if parent == 0 {
		return nil
	}

	sibling, err := t.Sibling(obj)
	if err != nil {
		return err
	}

	first, err := t.Child(parent)
	if err != nil {
		return err
	}
	if first == obj {
		if err := t.setLink(parent, linkChild, sibling); err != nil {
			return err
		}
	} else {
		// Walk the sibling chain to the node pointing at obj.
		for cursor := first; cursor != 0; {
			next, err := t.Sibling(cursor)
			if err != nil {
				return err
			}
			if next == obj {
				if err := t.setLink(cursor, linkSibling, sibling); err != nil {
					return err
				}
				break
			}
			cursor = next
		}
	}

	if err := t.setLink(obj, linkParent, 0); err != nil {
		return err
	}
	return t.setLink(obj, linkSibling, 0)
}

// Insert detaches obj from its current parent and makes it the first
// child of dest, pushing dest's previous first child down the sibling
// chain.
func (t *ObjectTable) Insert(obj, dest uint16) error {
	if _, err := t.entryAddr(dest); err != nil {
		return err
	}
	if err := t.Remove(obj); err != nil {
		return err
	}
	oldChild, err := t.Child(dest)
	if err != nil {
		return err
	}
	if err := t.setLink(obj, linkSibling, oldChild); err != nil {
		return err
	}
	if err := t.setLink(obj, linkParent, dest); err != nil {
		return err
	}
	return t.setLink(dest, linkChild, obj)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// Name decodes the object's short name from its property table header.
func (t *ObjectTable) Name(obj uint16) (string, error) {
	header, err := t.propertyTable(obj)
	if err != nil {
		return "", err
	}
	length, err := t.mem.ReadByte(header)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	name, _, err := t.codec.Decode(header + 1)
	return name, err
}

// propertyTable reads the address of obj's property table.
func (t *ObjectTable) propertyTable(obj uint16) (uint32, error) {
	entry, err := t.entryAddr(obj)
	if err != nil {
		return 0, err
	}
	addr, err := t.mem.ReadWord(entry + t.entrySize() - 2)
	return uint32(addr), err
}

// firstProperty returns the address of the first property block, just past
// the short name.
func (t *ObjectTable) firstProperty(obj uint16) (uint32, error) {
	header, err := t.propertyTable(obj)
	if err != nil {
		return 0, err
	}
	nameWords, err := t.mem.ReadByte(header)
	if err != nil {
		return 0, err
	}
	return header + 1 + uint32(nameWords)*2, nil
}

// propertyBlock decodes the size information at addr. It reports the
// property number, the address and length of the data, and the address of
// the next block. number 0 marks the end of the list.
func (t *ObjectTable) propertyBlock(addr uint32) (number uint16, dataAddr uint32, size uint16, next uint32, err error) {
	first, err := t.mem.ReadByte(addr)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if first == 0 {
		return 0, 0, 0, 0, nil
	}

	if t.mem.Version() <= 3 {
		number = uint16(first & 0x1F)
		size = uint16(first>>5) + 1
		dataAddr = addr + 1
	} else if first&0x80 != 0 {
		// Two size bytes: number in bits 0..5 of the first, length in
		// bits 0..5 of the second, with 0 meaning 64.
		second, err := t.mem.ReadByte(addr + 1)
		if err != nil {
			return 0, 0, 0, 0, err
		}
		number = uint16(first & 0x3F)
		size = uint16(second & 0x3F)
		if size == 0 {
			size = 64
		}
		dataAddr = addr + 2
	} else {
		number = uint16(first & 0x3F)
		size = 1
		if first&0x40 != 0 {
			size = 2
		}
		dataAddr = addr + 1
	}
	return number, dataAddr, size, dataAddr + uint32(size), nil
}

// findProperty walks obj's property list for property n. Properties are
// stored in descending numerical order, which bounds the walk.
func (t *ObjectTable) findProperty(obj, n uint16) (dataAddr uint32, size uint16, err error) {
	addr, err := t.firstProperty(obj)
	if err != nil {
		return 0, 0, err
	}
	for {
		number, data, sz, next, err := t.propertyBlock(addr)
		if err != nil {
			return 0, 0, err
		}
		if number == 0 || number < n {
			return 0, 0, nil
		}
		if number == n {
			return data, sz, nil
		}
		addr = next
	}
}

// Property reads property n of obj as a value, falling back to the
// defaults table when the object does not provide it. Reading a property
// longer than two bytes this way is a story bug the standard calls out.
func (t *ObjectTable) Property(obj, n uint16) (uint16, error) {
	data, size, err := t.findProperty(obj, n)
	if err != nil {
		return 0, err
	}
	switch size {
	case 0:
		return t.PropertyDefault(n)
	case 1:
		b, err := t.mem.ReadByte(data)
		return uint16(b), err
	case 2:
		return t.mem.ReadWord(data)
	default:
		return 0, fmt.Errorf("%w: get_prop on property %d of length %d", ErrInvalidProperty, n, size)
	}
}

// SetProperty writes property n of obj. The property must exist and be at
// most two bytes; a byte property stores the value's low byte.
func (t *ObjectTable) SetProperty(obj, n, value uint16) error {
	data, size, err := t.findProperty(obj, n)
	if err != nil {
		return err
	}
	switch size {
	case 0:
		return fmt.Errorf("%w: put_prop on absent property %d of object %d", ErrInvalidProperty, n, obj)
	case 1:
		return t.mem.WriteByte(data, uint8(value))
	case 2:
		return t.mem.WriteWord(data, value)
	default:
		return fmt.Errorf("%w: put_prop on property %d of length %d", ErrInvalidProperty, n, size)
	}
}

// PropertyAddress reports the address of property n's data, or 0 when the
// object does not provide it.
func (t *ObjectTable) PropertyAddress(obj, n uint16) (uint16, error) {
	data, _, err := t.findProperty(obj, n)
	return uint16(data), err
}

// NextProperty reports the number of the property after n in obj's list,
// or the first property when n is 0, or 0 at the end of the list.
func (t *ObjectTable) NextProperty(obj, n uint16) (uint16, error) {
	addr, err := t.firstProperty(obj)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		number, _, _, _, err := t.propertyBlock(addr)
		return number, err
	}
	for {
		number, _, _, next, err := t.propertyBlock(addr)
		if err != nil {
			return 0, err
		}
		if number == 0 {
			return 0, fmt.Errorf("%w: get_next_prop on absent property %d of object %d", ErrInvalidProperty, n, obj)
		}
		if number == n {
			following, _, _, _, err := t.propertyBlock(next)
			return following, err
		}
		addr = next
	}
}

// PropertyLength recovers a property's data length from its data address,
// as get_prop_len requires. Address 0 reports length 0.
func (t *ObjectTable) PropertyLength(dataAddr uint16) (uint16, error) {
	if dataAddr == 0 {
		return 0, nil
	}
	sizeByte, err := t.mem.ReadByte(uint32(dataAddr) - 1)
	if err != nil {
		return 0, err
	}
	if t.mem.Version() <= 3 {
		return uint16(sizeByte>>5) + 1, nil
	}
	if sizeByte&0x80 != 0 {
		// dataAddr-1 is the second of two size bytes.
		size := uint16(sizeByte & 0x3F)
		if size == 0 {
			size = 64
		}
		return size, nil
	}
	if sizeByte&0x40 != 0 {
		return 2, nil
	}
	return 1, nil
}
