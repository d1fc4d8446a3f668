package ia32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeSegmentDescriptor builds the raw lo/hi dwords of a code/data
// segment descriptor, inverting decodeDescriptor's field layout.
func encodeSegmentDescriptor(base, limit uint32, present bool, dpl uint8, typ uint8, g, db bool) (lo, hi uint32) {
	bit := func(b bool) uint32 {
		if b {
			return 1
		}
		return 0
	}
	lo = (limit & 0xFFFF) | ((base & 0xFFFF) << 16)
	hi = (base>>16)&0xFF |
		(uint32(typ)&0xF)<<8 |
		1<<12 | // S=1: code/data segment
		(uint32(dpl)&3)<<13 |
		bit(present)<<15 |
		((limit>>16)&0xF)<<16 |
		bit(db)<<22 |
		bit(g)<<23 |
		(base&0xFF000000)
	return lo, hi
}

// encodeCallGate builds the raw lo/hi dwords of a call-gate descriptor
// per Intel's layout: offset[15:0], selector, param count, access byte,
// offset[31:16].
func encodeCallGate(offset uint32, selector uint16, paramCount uint8, dpl uint8, is32 bool) (lo, hi uint32) {
	typ := uint32(sysTypeCallGate16)
	if is32 {
		typ = sysTypeCallGate32
	}
	lo = (offset & 0xFFFF) | (uint32(selector) << 16)
	hi = uint32(paramCount)&0x1F |
		typ<<8 |
		(uint32(dpl)&3)<<13 |
		1<<15 | // present
		((offset>>16)&0xFFFF)<<16
	return lo, hi
}

// TestCallThroughGateCopiesParameters exercises spec.md's mandatory seed
// scenario: a protected-mode far CALL through a 32-bit call gate from
// CPL=3 to CPL=0 with a two-dword parameter count must copy those two
// dwords from the outer stack onto the inner stack, landing between the
// pushed outer SS:ESP and the pushed return CS:EIP.
func TestCallThroughGateCopiesParameters(t *testing.T) {
	bus := newFlatTestBus(1 << 20)
	c := New(bus, Model386)
	c.reg.CR0 |= cr0PE
	c.reg.CPL = 3

	const gdtBase = 0x1000
	c.gdtr = TablePointer{Base: gdtBase, Limit: 0xFFF}

	// Selector 0x08: inner CS, DPL0, present, executable+readable, 32-bit,
	// flat (base 0, 4K-granular max limit).
	lo, hi := encodeSegmentDescriptor(0, 0xFFFFF, true, 0, 0xA, true, true)
	bus.WriteDWord(gdtBase+0x08, lo)
	bus.WriteDWord(gdtBase+0x0C, hi)

	// Selector 0x10: inner SS, DPL0, present, writable data, 32-bit, flat.
	lo, hi = encodeSegmentDescriptor(0, 0xFFFFF, true, 0, 0x2, true, true)
	bus.WriteDWord(gdtBase+0x10, lo)
	bus.WriteDWord(gdtBase+0x14, hi)

	// TSS supplies the inner SS0:ESP0 pair.
	const tssBase = 0x2000
	c.tr = SystemSegmentCache{Valid: true, Base: tssBase, Limit: tss32Limit, Is32Bit: true}
	bus.WriteDWord(tssBase+tss32SS0, 0x10)
	bus.WriteDWord(tssBase+tss32ESP0, 0x00020000)

	// Outer stack: flat, 32-bit, ESP=0x10000, with two dword parameters
	// the caller pushed below the far call (nearest ESP first).
	c.seg[SegSS] = SegmentCache{Selector: 0x1B, Base: 0, LimitLow: 0, LimitHigh: 0xFFFFFFFF, Present: true, Writable: true, Default32: true}
	c.seg[SegSS].recomputeAccessMask()
	c.stackSize32 = true
	c.reg.GP[RegESP] = 0x00010000
	bus.WriteDWord(0x00010000, 0x11111111)
	bus.WriteDWord(0x00010004, 0x22222222)

	c.seg[SegCS] = SegmentCache{Selector: 0x1B, Base: 0, Executable: true, Present: true}
	c.reg.EIP = 0x00009000

	gateLo, gateHi := encodeCallGate(0x00001234, 0x08, 2, 0, true)
	gate := decodeDescriptor(gateLo, gateHi)

	c.callThroughGate(gate)

	require.Equal(t, uint8(0), c.cpl())
	require.Equal(t, uint32(0x08), uint32(c.seg[SegCS].Selector))
	require.Equal(t, uint32(0x00001234), c.reg.EIP)

	// Inner stack, from the new ESP upward: return EIP, return CS,
	// the param copied from old ESP+0, the param copied from old ESP+4,
	// outer ESP, outer SS.
	esp := c.reg.GP[RegESP]
	require.Equal(t, uint32(0x00020000-6*4), esp, "SS, ESP, two params, CS, EIP = 6 dwords")

	require.Equal(t, uint32(0x00009000), c.bus.ReadDWord(esp))
	require.Equal(t, uint32(0x1B), c.bus.ReadDWord(esp+4))
	require.Equal(t, uint32(0x11111111), c.bus.ReadDWord(esp+8))
	require.Equal(t, uint32(0x22222222), c.bus.ReadDWord(esp+12))
	require.Equal(t, uint32(0x00010000), c.bus.ReadDWord(esp+16))
	require.Equal(t, uint32(0x1B), c.bus.ReadDWord(esp+20))
}
