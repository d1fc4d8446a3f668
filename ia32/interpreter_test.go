package ia32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Real-mode seed scenario: MOV AX, 0x1234; MOV BX, AX; HLT, run from the
// CS base set up by newRealModeCPU. Exercises Step end to end: fetch,
// decode, ALU-free MOV dispatch, EIP advance, and halt.
func TestStepRealModeMovAndHalt(t *testing.T) {
	bus := newFlatTestBus(1 << 16)
	prog := []byte{
		0xB8, 0x34, 0x12, // MOV AX, 0x1234
		0x89, 0xC3, // MOV BX, AX
		0xF4, // HLT
	}
	bus.load(0x7C00, prog)

	c := newRealModeCPU(bus, 0x7C00)

	_, ok := c.Step()
	require.True(t, ok)
	require.Equal(t, uint16(0x1234), c.reg.Reg16(RegEAX))

	_, ok = c.Step()
	require.True(t, ok)
	require.Equal(t, uint16(0x1234), c.reg.Reg16(RegEBX))

	_, ok = c.Step()
	require.True(t, ok)
	require.True(t, c.Halted())

	// Stepping a halted CPU is a no-op that still reports ok.
	n, ok := c.Step()
	require.True(t, ok)
	require.Zero(t, n)
}

func TestIsControlFlowExit(t *testing.T) {
	cases := []struct {
		name string
		in   Instruction
		want bool
	}{
		{"HLT", Instruction{Opcode: 0xF4}, true},
		{"INT3", Instruction{Opcode: 0xCC}, true},
		{"JNZ rel8", Instruction{Opcode: 0x75}, true},
		{"JMP rel32", Instruction{Opcode: 0xE9}, true},
		{"CALL rel32", Instruction{Opcode: 0xE8}, true},
		{"RET", Instruction{Opcode: 0xC3}, true},
		{"indirect CALL (FF /2)", Instruction{Opcode: 0xFF, Reg: 2}, true},
		{"indirect INC (FF /0)", Instruction{Opcode: 0xFF, Reg: 0}, false},
		{"Jcc rel32 (0F8x)", Instruction{Opcode: 0x0F80 | 0x05}, true},
		{"plain MOV", Instruction{Opcode: 0x89}, false},
		{"NOP", Instruction{Opcode: 0x90}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsControlFlowExit(&tc.in))
		})
	}
}

func TestTranslateFetchMatchesStepDecodeAddress(t *testing.T) {
	bus := newFlatTestBus(1 << 16)
	bus.load(0x7C00, []byte{0x90}) // NOP
	c := newRealModeCPU(bus, 0x7C00)

	phys, ok := c.TranslateFetch()
	require.True(t, ok)
	require.Equal(t, uint32(0x7C00), phys)

	inst := c.DecodeAt(phys)
	require.Equal(t, uint16(0x90), inst.Opcode)

	n, ok := c.InterpretDecoded(&inst, c.EIP()+inst.Length)
	require.True(t, ok)
	require.GreaterOrEqual(t, n, int64(0))
	require.Equal(t, uint32(1), c.EIP())
}
