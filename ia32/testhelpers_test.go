package ia32

import "encoding/binary"

// flatTestBus is a minimal flat-memory Bus for unit tests, grounded on
// the teacher's testutil_test.go testBus shape (one backing byte slice,
// no device models, reads/writes never fail inside the slice).
type flatTestBus struct {
	mem   []byte
	dirty map[uint32]bool
}

func newFlatTestBus(size int) *flatTestBus {
	return &flatTestBus{mem: make([]byte, size), dirty: make(map[uint32]bool)}
}

func (b *flatTestBus) load(phys uint32, data []byte) { copy(b.mem[phys:], data) }

func (b *flatTestBus) inRange(phys uint32) bool { return int(phys) < len(b.mem) }

func (b *flatTestBus) ReadByte(phys uint32) uint8 {
	if !b.inRange(phys) {
		return 0
	}
	return b.mem[phys]
}
func (b *flatTestBus) ReadWord(phys uint32) uint16 {
	if !b.inRange(phys + 1) {
		return 0
	}
	return binary.LittleEndian.Uint16(b.mem[phys:])
}
func (b *flatTestBus) ReadDWord(phys uint32) uint32 {
	if !b.inRange(phys + 3) {
		return 0
	}
	return binary.LittleEndian.Uint32(b.mem[phys:])
}
func (b *flatTestBus) ReadQWord(phys uint32) uint64 {
	if !b.inRange(phys + 7) {
		return 0
	}
	return binary.LittleEndian.Uint64(b.mem[phys:])
}
func (b *flatTestBus) WriteByte(phys uint32, v uint8) {
	if !b.inRange(phys) {
		return
	}
	b.mem[phys] = v
	b.dirty[phys&^0xFFF] = true
}
func (b *flatTestBus) WriteWord(phys uint32, v uint16) {
	if !b.inRange(phys + 1) {
		return
	}
	binary.LittleEndian.PutUint16(b.mem[phys:], v)
	b.dirty[phys&^0xFFF] = true
}
func (b *flatTestBus) WriteDWord(phys uint32, v uint32) {
	if !b.inRange(phys + 3) {
		return
	}
	binary.LittleEndian.PutUint32(b.mem[phys:], v)
	b.dirty[phys&^0xFFF] = true
}
func (b *flatTestBus) CheckedReadByte(phys uint32) (uint8, bool) {
	if !b.inRange(phys) {
		return 0, false
	}
	return b.mem[phys], true
}
func (b *flatTestBus) CheckedReadWord(phys uint32) (uint16, bool) {
	if !b.inRange(phys + 1) {
		return 0, false
	}
	return b.ReadWord(phys), true
}
func (b *flatTestBus) CheckedReadDWord(phys uint32) (uint32, bool) {
	if !b.inRange(phys + 3) {
		return 0, false
	}
	return b.ReadDWord(phys), true
}
func (b *flatTestBus) CheckedWriteByte(phys uint32, v uint8) bool {
	if !b.inRange(phys) {
		return false
	}
	b.WriteByte(phys, v)
	return true
}
func (b *flatTestBus) CheckedWriteWord(phys uint32, v uint16) bool {
	if !b.inRange(phys + 1) {
		return false
	}
	b.WriteWord(phys, v)
	return true
}
func (b *flatTestBus) CheckedWriteDWord(phys uint32, v uint32) bool {
	if !b.inRange(phys + 3) {
		return false
	}
	b.WriteDWord(phys, v)
	return true
}
func (b *flatTestBus) ReadBlock(phys uint32, buf []byte) int {
	if !b.inRange(phys) {
		return 0
	}
	return copy(buf, b.mem[phys:])
}
func (b *flatTestBus) GetRAMPointer(phys uint32) []byte {
	if !b.inRange(phys) {
		return nil
	}
	return b.mem[phys:]
}
func (b *flatTestBus) CodeHash(phys uint32, length uint32) uint64 {
	end := phys + length
	if !b.inRange(phys) || int(end) > len(b.mem) {
		return 0
	}
	var h uint64 = 1469598103934665603
	for _, c := range b.mem[phys:end] {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
func (b *flatTestBus) IsCachablePage(physPage uint32) bool { return b.inRange(physPage) }
func (b *flatTestBus) IsDirtyPage(physPage uint32) bool    { return b.dirty[physPage&^0xFFF] }
func (b *flatTestBus) ClearPageDirty(physPage uint32)      { delete(b.dirty, physPage&^0xFFF) }
func (b *flatTestBus) ClearAllPagesDirty()                 { b.dirty = make(map[uint32]bool) }
func (b *flatTestBus) PortRead(port uint16, width int) uint32 {
	if width == 1 {
		return 0xFF
	}
	return 0xFFFFFFFF
}
func (b *flatTestBus) PortWrite(port uint16, width int, value uint32) {}

// newRealModeCPU builds a CPU reset into real mode with a flat bus and
// CS based at org, EIP 0 — the common starting point for interpreter
// tests that load a tiny program at a fixed physical address.
func newRealModeCPU(bus *flatTestBus, org uint32) *CPU {
	c := New(bus, Model386)
	c.Seg(SegCS).Base = org
	c.SetEIP(0)
	return c
}
