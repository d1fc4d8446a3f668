package ia32

// cycleCost gives an instruction's base cost on each of the three
// supported models, per spec §6.4's "three-column cycle table". These
// are representative Intel-documented base costs for register-form
// operands. Only this base cost is charged: memory operands, string/loop
// iterations and misaligned accesses add no surcharge.
type cycleCost struct{ c386, c486, pentium int64 }

var opcodeCycles = map[uint16]cycleCost{
	// ALU reg/reg forms (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP), one per group.
	0x00: {2, 1, 1}, 0x01: {2, 1, 1}, 0x02: {2, 1, 1}, 0x03: {2, 1, 1},
	0x08: {2, 1, 1}, 0x09: {2, 1, 1}, 0x10: {2, 1, 1}, 0x11: {2, 1, 1},
	0x18: {2, 1, 1}, 0x19: {2, 1, 1}, 0x20: {2, 1, 1}, 0x21: {2, 1, 1},
	0x28: {2, 1, 1}, 0x29: {2, 1, 1}, 0x30: {2, 1, 1}, 0x31: {2, 1, 1},
	0x38: {2, 1, 1}, 0x39: {2, 1, 1},

	0x88: {2, 1, 1}, 0x89: {2, 1, 1}, 0x8A: {2, 1, 1}, 0x8B: {2, 1, 1},
	0xB0: {4, 1, 1}, 0xB8: {4, 1, 1},

	0x50: {2, 1, 1}, 0x58: {2, 1, 1}, // PUSH/POP reg
	0xE8: {7, 3, 1}, // CALL rel
	0xE9: {7, 3, 1}, 0xEB: {7, 3, 1}, // JMP rel
	0xC3: {8, 5, 2}, // RET
	0x70: {7, 3, 1}, // Jcc rel8 (charged the same whether taken or not)

	0xF4: {5, 4, 1}, // HLT
	0x90: {3, 1, 1}, // NOP

	0x0F80: {7, 3, 1}, // Jcc rel32
	0x0F00 | 0xA2: {14, 14, 14}, // CPUID (approximate, serializing on real silicon)
}

// instructionBaseCycles resolves the per-model base cost, falling back
// to a conservative default for opcodes not itemised above (most of the
// group-1..5 extended opcodes, whose real cost depends on the reg field
// decoded only after DecodeAt runs). The PUSH/POP reg and Jcc families
// share the entry of their first opcode.
func instructionBaseCycles(opcode uint16, model Model) int64 {
	switch {
	case opcode >= 0x50 && opcode <= 0x5F:
		opcode &^= 7
	case opcode >= 0x70 && opcode <= 0x7F, opcode >= 0x0F80 && opcode <= 0x0F8F:
		opcode &^= 0xF
	}
	cost, ok := opcodeCycles[opcode]
	if !ok {
		cost = cycleCost{4, 2, 1}
	}
	switch model {
	case Model386:
		return cost.c386
	case Model486:
		return cost.c486
	default:
		return cost.pentium
	}
}
