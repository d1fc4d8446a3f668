package ia32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCPU() *CPU {
	return New(newFlatTestBus(1<<16), Model386)
}

func TestDAA(t *testing.T) {
	// 0x05 + 0x05 = 0x0A in binary; DAA corrects to packed BCD 0x10
	// with AF set and CF clear, matching the documented low-nibble-overflow case.
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x0A)
	c.flagSet(flagAF, false)
	c.flagSet(flagCF, false)
	opDAA(c, &Instruction{})
	require.Equal(t, uint8(0x10), c.reg.Reg8(RegEAX))
	require.True(t, c.flagIsSet(flagAF))
	require.False(t, c.flagIsSet(flagCF))
}

func TestDAAHighNibbleCarry(t *testing.T) {
	// 0x90 + 0x90 = 0x120 truncated to 0x20 in AL with CF already set by
	// the ADD; DAA must add 0x60 and keep CF set.
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x20)
	c.flagSet(flagCF, true)
	opDAA(c, &Instruction{})
	require.Equal(t, uint8(0x80), c.reg.Reg8(RegEAX))
	require.True(t, c.flagIsSet(flagCF))
}

func TestDAS(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x0B) // low nibble > 9
	opDAS(c, &Instruction{})
	require.Equal(t, uint8(0x05), c.reg.Reg8(RegEAX))
	require.True(t, c.flagIsSet(flagAF))
}

func TestAAA(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x0A) // AL = 10, needs carry into AH
	c.reg.SetReg8(RegEAX|4, 0)
	opAAA(c, &Instruction{})
	require.Equal(t, uint8(0x00), c.reg.Reg8(RegEAX)&0xF0, "high nibble of AL cleared")
	require.Equal(t, uint8(0), c.reg.Reg8(RegEAX)&0x0F)
	require.Equal(t, uint8(1), c.reg.Reg8(RegEAX|4))
	require.True(t, c.flagIsSet(flagAF))
	require.True(t, c.flagIsSet(flagCF))
}

func TestAAANoCarry(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x05)
	opAAA(c, &Instruction{})
	require.Equal(t, uint8(0x05), c.reg.Reg8(RegEAX))
	require.False(t, c.flagIsSet(flagAF))
	require.False(t, c.flagIsSet(flagCF))
}

func TestAAS(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x0B) // AL low nibble > 9
	c.reg.SetReg8(RegEAX|4, 5)
	opAAS(c, &Instruction{})
	require.Equal(t, uint8(5), c.reg.Reg8(RegEAX))
	require.Equal(t, uint8(4), c.reg.Reg8(RegEAX|4))
	require.True(t, c.flagIsSet(flagAF))
	require.True(t, c.flagIsSet(flagCF))
}

func TestAAM(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x5B) // 91 decimal
	opAAM(c, &Instruction{Imm: 10})
	require.Equal(t, uint8(9), c.reg.Reg8(RegEAX|4))
	require.Equal(t, uint8(1), c.reg.Reg8(RegEAX))
	require.False(t, c.flagIsSet(flagZF))
}

func TestAAMDivideByZeroFaults(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX, 0x10)
	opAAM(c, &Instruction{Imm: 0})
	// Base 0 raises #DE through the real-mode IVT instead of adjusting
	// AX; delivery completes synchronously, so by the time raiseFault
	// returns currentException is back to -1, but AL/AH must be left
	// exactly as opAAM found them (no division took place).
	require.Equal(t, -1, c.currentException)
	require.Equal(t, uint8(0x10), c.reg.Reg8(RegEAX))
}

func TestAAD(t *testing.T) {
	c := newTestCPU()
	c.reg.SetReg8(RegEAX|4, 9) // AH = 9
	c.reg.SetReg8(RegEAX, 1)   // AL = 1 -> 9*10+1 = 91
	opAAD(c, &Instruction{Imm: 10})
	require.Equal(t, uint8(91), c.reg.Reg8(RegEAX))
	require.Equal(t, uint8(0), c.reg.Reg8(RegEAX|4))
}
