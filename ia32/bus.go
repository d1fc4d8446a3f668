// Package ia32 implements the core of an IA-32 (386/486/Pentium) CPU
// state machine: register file, segmentation unit, paging unit with TLB,
// exception and interrupt delivery, far control transfer, task switch,
// instruction decoder, and interpreter semantics. The cached-interpreter
// and recompiler execution backends live in ia32/backend and consume the
// surface this package exposes; the timing manager lives in package
// timing; neither device models nor a frontend are in scope (spec §1).
//
// Grounded on _examples/user-none-go-chip-m68k for the overall shape
// (one CPU struct, a decode table, exception/interrupt/serialize split
// into their own files, per-opcode-group op files) and on
// _examples/original_source/src/pce/cpu_x86/cpu_x86.h and cpu_x86.cpp —
// the literal C++ this spec was distilled from — to resolve every detail
// spec.md leaves as prose.
package ia32

// Bus is the CPU's only channel to physical memory and port I/O (spec
// §4.2, §6.1). The CPU never talks to devices directly — all MMIO and
// port I/O is mediated here. Device registration is a Bus concern and is
// out of scope for this package (spec §1's "bus abstraction" line item is
// deliberately an interface-only component).
type Bus interface {
	ReadByte(phys uint32) uint8
	ReadWord(phys uint32) uint16
	ReadDWord(phys uint32) uint32
	ReadQWord(phys uint32) uint64

	WriteByte(phys uint32, v uint8)
	WriteWord(phys uint32, v uint16)
	WriteDWord(phys uint32, v uint32)

	// CheckedRead/CheckedWrite perform the same access but report success
	// instead of trapping on an unmapped address — used by the prefetch
	// fast path and by the debugger, which must not crash the machine.
	CheckedReadByte(phys uint32) (uint8, bool)
	CheckedReadWord(phys uint32) (uint16, bool)
	CheckedReadDWord(phys uint32) (uint32, bool)
	CheckedWriteByte(phys uint32, v uint8) bool
	CheckedWriteWord(phys uint32, v uint16) bool
	CheckedWriteDWord(phys uint32, v uint32) bool

	// ReadBlock is the prefetch fast path: best-effort bulk copy into buf,
	// returning the number of bytes actually read before an unmapped
	// address (if any) was hit.
	ReadBlock(phys uint32, buf []byte) int

	// GetRAMPointer returns a direct pointer to backing RAM for phys, or
	// nil if the page is MMIO and must go through Read/Write instead. The
	// cached-interpreter and recompiler backends use this to decode
	// directly out of guest RAM without a copy.
	GetRAMPointer(phys uint32) []byte

	// CodeHash hashes [phys, phys+length) for code-cache validation.
	CodeHash(phys uint32, length uint32) uint64

	IsCachablePage(physPage uint32) bool
	IsDirtyPage(physPage uint32) bool
	ClearPageDirty(physPage uint32)
	ClearAllPagesDirty()

	// PortRead/PortWrite mediate port I/O for IN/OUT family instructions.
	// width is 1, 2, or 4 bytes. Unmapped ports are handled per the bus's
	// own policy (float high, return 0, ...); the CPU is oblivious to it.
	PortRead(port uint16, width int) uint32
	PortWrite(port uint16, width int, value uint32)
}
