package ia32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Register aliasing: writing a byte/word lane must change exactly the
// overlapping bits of the wider views, never more (spec.md §8 property
// #1).
func TestRegisterAliasing(t *testing.T) {
	var r Registers

	r.SetReg32(RegEAX, 0x11223344)
	require.Equal(t, uint16(0x3344), r.Reg16(RegEAX))
	require.Equal(t, uint8(0x44), r.Reg8(RegEAX))   // AL
	require.Equal(t, uint8(0x33), r.Reg8(RegEAX|4)) // AH

	r.SetReg16(RegEAX, 0xBEEF)
	require.Equal(t, uint32(0x1122BEEF), r.Reg32(RegEAX), "16-bit write preserves bits 16-31")

	r.SetReg8(RegEAX, 0x00) // AL
	require.Equal(t, uint32(0x1122BE00), r.Reg32(RegEAX), "low-byte write preserves every other bit")

	r.SetReg8(RegEAX|4, 0xFF) // AH
	require.Equal(t, uint32(0x1122FF00), r.Reg32(RegEAX), "high-byte write only touches bits 8-15")
}

func TestRegisterAliasingAllFourByteRegs(t *testing.T) {
	var r Registers
	for _, reg := range []int{RegEAX, RegECX, RegEDX, RegEBX} {
		r.SetReg32(reg, 0xAABBCCDD)
		r.SetReg8(reg, 0x00)
		require.Equal(t, uint32(0xAABBCC00), r.Reg32(reg))
		r.SetReg8(reg|4, 0x00)
		require.Equal(t, uint32(0xAABB0000), r.Reg32(reg))
	}
}

func TestRegisterAliasingESPEBPESIEDIHaveNoByteForm(t *testing.T) {
	// ESP/EBP/ESI/EDI (indices 4-7) have no AH-style high byte alias of
	// their own; Reg8(4..7) legally maps back onto AH/CH/DH/BH per the
	// i&3 reduction, not a fifth through eighth register.
	var r Registers
	r.SetReg32(RegESP, 0xDEADBEEF)
	r.SetReg32(RegEAX, 0x00000000)
	require.Equal(t, r.Reg8(RegESP), r.Reg8(RegEAX|4), "index 4 (RegESP) aliases AH, not a separate register")
	require.Equal(t, uint8(0x00), r.Reg8(RegESP), "Reg8(4) reads AH (0), not ESP's low byte (0xEF)")
}
