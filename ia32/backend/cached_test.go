package backend

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvexil/ia32core/ia32"
)

// flatBus is a minimal flat-memory ia32.Bus for these tests, grounded on
// the same shape as cmd/ia32bench's FlatBus and ia32's own internal test
// bus: one backing slice, a page-dirty map, FNV-1a content hashing.
type flatBus struct {
	mem   []byte
	dirty map[uint32]bool
}

func newFlatBus(size int) *flatBus {
	return &flatBus{mem: make([]byte, size), dirty: make(map[uint32]bool)}
}

func (b *flatBus) load(phys uint32, data []byte) { copy(b.mem[phys:], data) }

func (b *flatBus) inRange(phys uint32) bool { return int(phys) < len(b.mem) }

func (b *flatBus) ReadByte(phys uint32) uint8 {
	if !b.inRange(phys) {
		return 0
	}
	return b.mem[phys]
}
func (b *flatBus) ReadWord(phys uint32) uint16 {
	if !b.inRange(phys + 1) {
		return 0
	}
	return binary.LittleEndian.Uint16(b.mem[phys:])
}
func (b *flatBus) ReadDWord(phys uint32) uint32 {
	if !b.inRange(phys + 3) {
		return 0
	}
	return binary.LittleEndian.Uint32(b.mem[phys:])
}
func (b *flatBus) ReadQWord(phys uint32) uint64 {
	if !b.inRange(phys + 7) {
		return 0
	}
	return binary.LittleEndian.Uint64(b.mem[phys:])
}
func (b *flatBus) WriteByte(phys uint32, v uint8) {
	if !b.inRange(phys) {
		return
	}
	b.mem[phys] = v
	b.dirty[phys&^0xFFF] = true
}
func (b *flatBus) WriteWord(phys uint32, v uint16) {
	if !b.inRange(phys + 1) {
		return
	}
	binary.LittleEndian.PutUint16(b.mem[phys:], v)
	b.dirty[phys&^0xFFF] = true
}
func (b *flatBus) WriteDWord(phys uint32, v uint32) {
	if !b.inRange(phys + 3) {
		return
	}
	binary.LittleEndian.PutUint32(b.mem[phys:], v)
	b.dirty[phys&^0xFFF] = true
}
func (b *flatBus) CheckedReadByte(phys uint32) (uint8, bool) {
	if !b.inRange(phys) {
		return 0, false
	}
	return b.mem[phys], true
}
func (b *flatBus) CheckedReadWord(phys uint32) (uint16, bool) {
	if !b.inRange(phys + 1) {
		return 0, false
	}
	return b.ReadWord(phys), true
}
func (b *flatBus) CheckedReadDWord(phys uint32) (uint32, bool) {
	if !b.inRange(phys + 3) {
		return 0, false
	}
	return b.ReadDWord(phys), true
}
func (b *flatBus) CheckedWriteByte(phys uint32, v uint8) bool {
	if !b.inRange(phys) {
		return false
	}
	b.WriteByte(phys, v)
	return true
}
func (b *flatBus) CheckedWriteWord(phys uint32, v uint16) bool {
	if !b.inRange(phys + 1) {
		return false
	}
	b.WriteWord(phys, v)
	return true
}
func (b *flatBus) CheckedWriteDWord(phys uint32, v uint32) bool {
	if !b.inRange(phys + 3) {
		return false
	}
	b.WriteDWord(phys, v)
	return true
}
func (b *flatBus) ReadBlock(phys uint32, buf []byte) int {
	if !b.inRange(phys) {
		return 0
	}
	return copy(buf, b.mem[phys:])
}
func (b *flatBus) GetRAMPointer(phys uint32) []byte {
	if !b.inRange(phys) {
		return nil
	}
	return b.mem[phys:]
}
func (b *flatBus) CodeHash(phys uint32, length uint32) uint64 {
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
func (b *flatBus) IsCachablePage(physPage uint32) bool { return b.inRange(physPage) }
func (b *flatBus) IsDirtyPage(physPage uint32) bool    { return b.dirty[physPage&^0xFFF] }
func (b *flatBus) ClearPageDirty(physPage uint32)      { delete(b.dirty, physPage&^0xFFF) }
func (b *flatBus) ClearAllPagesDirty()                 { b.dirty = make(map[uint32]bool) }
func (b *flatBus) PortRead(port uint16, width int) uint32 {
	if width == 1 {
		return 0xFF
	}
	return 0xFFFFFFFF
}
func (b *flatBus) PortWrite(port uint16, width int, value uint32) {}

func newCPU(bus *flatBus, org uint32) *ia32.CPU {
	c := ia32.New(bus, ia32.Model386)
	c.Seg(ia32.SegCS).Base = org
	c.SetEIP(0)
	return c
}

// program: MOV AX,1; MOV CX,3; loop: INC AX; DEC CX; JNZ loop; HLT
var loopProgram = []byte{
	0xB8, 0x01, 0x00, // MOV AX, 1
	0xB9, 0x03, 0x00, // MOV CX, 3
	0x40,       // INC AX
	0x49,       // DEC CX
	0x75, 0xFC, // JNZ -4
	0xF4, // HLT
}

func TestCachedRunExecutesToHalt(t *testing.T) {
	bus := newFlatBus(1 << 16)
	bus.load(0x7C00, loopProgram)
	cpu := newCPU(bus, 0x7C00)

	c := NewCached(cpu)
	spent := c.Run(10_000)
	require.Greater(t, spent, int64(0))
	require.True(t, cpu.Halted())
}

func TestCachedRunProducesSameFinalStateAsInterpreter(t *testing.T) {
	busA := newFlatBus(1 << 16)
	busA.load(0x7C00, loopProgram)
	cpuA := newCPU(busA, 0x7C00)
	c := NewCached(cpuA)
	c.Run(10_000)

	busB := newFlatBus(1 << 16)
	busB.load(0x7C00, loopProgram)
	cpuB := newCPU(busB, 0x7C00)
	for !cpuB.Halted() {
		if _, ok := cpuB.Step(); !ok {
			break
		}
	}

	require.True(t, cpuA.Halted())
	require.True(t, cpuB.Halted())
	require.Equal(t, cpuB.EIP(), cpuA.EIP())
	require.Equal(t, cpuB.Flags(), cpuA.Flags())
}

func TestCachedInvalidatesOnSelfModifyingWrite(t *testing.T) {
	bus := newFlatBus(1 << 16)
	// NOP; NOP; HLT at 0x1000, then overwrite the first NOP with HLT
	// through the bus (as a guest store would) and confirm a second
	// Run recompiles rather than replaying the stale block.
	bus.load(0x1000, []byte{0x90, 0x90, 0xF4})
	cpu := newCPU(bus, 0x1000)

	c := NewCached(cpu)
	c.Run(1000)
	require.True(t, cpu.Halted())
	require.Equal(t, 1, c.Len())

	cpu.Resume()
	cpu.SetEIP(0)
	bus.WriteByte(0x1000, 0xF4) // guest SMC: first byte becomes HLT

	c.Run(1000)
	require.True(t, cpu.Halted(), "the recompiled block must reflect the write, not the stale cached NOP/NOP/HLT")
	require.Equal(t, uint32(1), cpu.EIP(), "HLT at offset 0 stops at EIP 1; the stale block would stop at 3")
}
