package trace

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvexil/ia32core/ia32"
)

type flatBus struct{ mem []byte }

func (b *flatBus) inRange(p uint32) bool { return int(p) < len(b.mem) }
func (b *flatBus) ReadByte(p uint32) uint8 {
	if !b.inRange(p) {
		return 0
	}
	return b.mem[p]
}
func (b *flatBus) ReadWord(p uint32) uint16 {
	if !b.inRange(p + 1) {
		return 0
	}
	return binary.LittleEndian.Uint16(b.mem[p:])
}
func (b *flatBus) ReadDWord(p uint32) uint32 {
	if !b.inRange(p + 3) {
		return 0
	}
	return binary.LittleEndian.Uint32(b.mem[p:])
}
func (b *flatBus) ReadQWord(p uint32) uint64 {
	if !b.inRange(p + 7) {
		return 0
	}
	return binary.LittleEndian.Uint64(b.mem[p:])
}
func (b *flatBus) WriteByte(p uint32, v uint8)   {}
func (b *flatBus) WriteWord(p uint32, v uint16)  {}
func (b *flatBus) WriteDWord(p uint32, v uint32) {}
func (b *flatBus) CheckedReadByte(p uint32) (uint8, bool) {
	if !b.inRange(p) {
		return 0, false
	}
	return b.mem[p], true
}
func (b *flatBus) CheckedReadWord(p uint32) (uint16, bool)  { return b.ReadWord(p), b.inRange(p + 1) }
func (b *flatBus) CheckedReadDWord(p uint32) (uint32, bool) { return b.ReadDWord(p), b.inRange(p + 3) }
func (b *flatBus) CheckedWriteByte(p uint32, v uint8) bool  { return false }
func (b *flatBus) CheckedWriteWord(p uint32, v uint16) bool { return false }
func (b *flatBus) CheckedWriteDWord(p uint32, v uint32) bool {
	return false
}
func (b *flatBus) ReadBlock(p uint32, buf []byte) int {
	if !b.inRange(p) {
		return 0
	}
	return copy(buf, b.mem[p:])
}
func (b *flatBus) GetRAMPointer(p uint32) []byte {
	if !b.inRange(p) {
		return nil
	}
	return b.mem[p:]
}
func (b *flatBus) CodeHash(p uint32, length uint32) uint64     { return 0 }
func (b *flatBus) IsCachablePage(p uint32) bool                { return true }
func (b *flatBus) IsDirtyPage(p uint32) bool                   { return false }
func (b *flatBus) ClearPageDirty(p uint32)                     {}
func (b *flatBus) ClearAllPagesDirty()                         {}
func (b *flatBus) PortRead(port uint16, width int) uint32      { return 0 }
func (b *flatBus) PortWrite(port uint16, width int, v uint32)  {}

func TestDisassembleNOP(t *testing.T) {
	bus := &flatBus{mem: []byte{0x90, 0x90}}
	line := Disassemble(bus, 0, false)
	require.Contains(t, line, "nop")
}

func TestDisassembleUnreadableAddress(t *testing.T) {
	bus := &flatBus{mem: []byte{}}
	line := Disassemble(bus, 0, false)
	require.Contains(t, line, "unreadable")
}

func TestDisassembleRangeAdvancesThroughMultipleInstructions(t *testing.T) {
	// NOP; NOP; NOP
	bus := &flatBus{mem: []byte{0x90, 0x90, 0x90}}
	lines := DisassembleRange(bus, 0, false, 3)
	require.Len(t, lines, 3)
	for _, l := range lines {
		require.True(t, strings.Contains(l, "nop"))
	}
}

func TestDumpStateDoesNotPanicAndMentionsKeyFields(t *testing.T) {
	bus := &flatBus{mem: make([]byte, 1<<16)}
	cpu := ia32.New(bus, ia32.Model386)
	out := DumpState(cpu)
	require.NotEmpty(t, out)
	require.Contains(t, out, "EIP")
	require.Contains(t, out, "CR0")
}
