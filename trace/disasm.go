// Package trace provides debug-only diagnostics for the ia32 core: a
// human-readable disassembly of guest code and a dump of full CPU state.
// Neither is on the hot execution path (spec §4.9/§4.10 note that the
// cached-interpreter and recompiler backends never call into this
// package); both exist for logging at a fault, for the CodeCacheBackend-
// style trace original_source/src/pce/cpu_x86/code_cache_backend.cpp
// prints before crashing, and for cmd/ia32bench's -trace flag.
//
// Grounded on bobuhiro11-gokvm/machine/debug_amd64.go, which uses
// golang.org/x/arch/x86/x86asm to decode host x86 for its own fault
// diagnostics; here the same library decodes *guest* IA-32 code instead.
package trace

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/kvexil/ia32core/ia32"
)

// Disassemble decodes and formats one instruction's worth of guest code
// read from bus starting at the physical address phys, in GNU (AT&T)
// syntax. is32 selects 32-bit vs. 16-bit decode mode, matching the
// operand size the CPU was actually running in when it fetched from
// here — x86asm needs this to resolve ModR/M width, the same way
// ia32.CPU.DecodeAt consults CPU.operandSize32 internally.
func Disassemble(bus ia32.Bus, phys uint32, is32 bool) string {
	var buf [16]byte
	n := bus.ReadBlock(phys, buf[:])
	if n == 0 {
		return fmt.Sprintf("%08x: <unreadable>", phys)
	}

	mode := 16
	if is32 {
		mode = 32
	}

	inst, err := x86asm.Decode(buf[:n], mode)
	if err != nil {
		return fmt.Sprintf("%08x: <decode error: %v>", phys, err)
	}

	return fmt.Sprintf("%08x: %s", phys, x86asm.GNUSyntax(inst, uint64(phys), nil))
}

// DisassembleRange formats count consecutive instructions starting at
// phys, advancing by each decoded instruction's length — used by
// cmd/ia32bench to print the instructions at CS:EIP once the run halts.
func DisassembleRange(bus ia32.Bus, phys uint32, is32 bool, count int) []string {
	lines := make([]string, 0, count)
	mode := 16
	if is32 {
		mode = 32
	}

	addr := phys
	for i := 0; i < count; i++ {
		var buf [16]byte
		n := bus.ReadBlock(addr, buf[:])
		if n == 0 {
			lines = append(lines, fmt.Sprintf("%08x: <unreadable>", addr))
			break
		}

		inst, err := x86asm.Decode(buf[:n], mode)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%08x: <decode error: %v>", addr, err))
			break
		}

		lines = append(lines, fmt.Sprintf("%08x: %s", addr, x86asm.GNUSyntax(inst, uint64(addr), nil)))
		addr += uint32(inst.Len)
	}

	return lines
}
