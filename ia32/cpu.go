package ia32

import "log"

// Registers holds the programmer-visible integer/control state of an
// IA-32 CPU. Per the design notes, aliasing between the 8/16/32-bit views
// is modelled with explicit accessors over a flat array of 32-bit cells
// rather than a union (undefined behaviour in a safe language) — see
// Reg32/Reg16/Reg8 below.
type Registers struct {
	GP [8]uint32 // EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI, in that order

	EIP    uint32
	EFLAGS uint32

	CR0 uint32
	CR2 uint32
	CR3 uint32
	CR4 uint32

	DR [8]uint32 // DR0-DR7 (DR4/DR5 alias DR6/DR7 on CPUs without debug extensions)
	TR [8]uint32 // test registers TR3-TR7 (indices 0-2 unused)

	// CPL is the current privilege level, tracked separately from CS's
	// descriptor cache DPL because conforming code segments run at a CPL
	// below their own DPL.
	CPL uint32
}

// General-purpose register indices, matching the ModR/M reg field order.
const (
	RegEAX = iota
	RegECX
	RegEDX
	RegEBX
	RegESP
	RegEBP
	RegESI
	RegEDI
)

// Segment register indices.
const (
	SegES = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
	segCount
)

// Reg32 returns the full 32-bit value of general register i.
func (r *Registers) Reg32(i int) uint32 { return r.GP[i] }

// SetReg32 writes the full 32-bit register i.
func (r *Registers) SetReg32(i int, v uint32) { r.GP[i] = v }

// Reg16 returns the low 16 bits of general register i (AX, CX, DX, BX,
// SP, BP, SI, DI), aliasing the low bits of the 32-bit register exactly.
func (r *Registers) Reg16(i int) uint16 { return uint16(r.GP[i]) }

// SetReg16 writes the low 16 bits of register i, preserving bits 16-31 —
// this is the "for any 16-bit write, the upper 16 bits of the 32-bit view
// are preserved" invariant from spec.md §8 property #1.
func (r *Registers) SetReg16(i int, v uint16) {
	r.GP[i] = (r.GP[i] &^ 0xFFFF) | uint32(v)
}

// Reg8 returns one of the legacy byte registers. Index 0..3 select the
// low byte of EAX/ECX/EDX/EBX; 4..7 select the high byte of the *same*
// four registers (AH/CH/DH/BH), not a fifth through eighth register —
// this is the register file's defining aliasing quirk (spec §3.1).
func (r *Registers) Reg8(i int) uint8 {
	reg := r.GP[i&3]
	if i&4 != 0 {
		return uint8(reg >> 8)
	}
	return uint8(reg)
}

// SetReg8 writes one byte lane, preserving every other bit of the
// underlying 32-bit register — the "for any byte write, the
// corresponding 16- and 32-bit views change in exactly the overlapping
// bits" invariant.
func (r *Registers) SetReg8(i int, v uint8) {
	idx := i & 3
	if i&4 != 0 {
		r.GP[idx] = (r.GP[idx] &^ 0xFF00) | uint32(v)<<8
	} else {
		r.GP[idx] = (r.GP[idx] &^ 0xFF) | uint32(v)
	}
}

// CR0 bits.
const (
	cr0PE uint32 = 1 << 0
	cr0MP uint32 = 1 << 1
	cr0EM uint32 = 1 << 2
	cr0TS uint32 = 1 << 3
	cr0ET uint32 = 1 << 4
	cr0NE uint32 = 1 << 5
	cr0WP uint32 = 1 << 16
	cr0AM uint32 = 1 << 18
	cr0PG uint32 = 1 << 31
)

// CR4 bits (Pentium+ only).
const (
	cr4VME uint32 = 1 << 0
	cr4PVI uint32 = 1 << 1
	cr4TSD uint32 = 1 << 2
	cr4PSE uint32 = 1 << 4
)

// CPU is the IA-32 architectural state machine. It is backend-agnostic:
// the pure interpreter, the cached-interpreter, and the recompiler (all
// in ia32/backend) drive it through DecodeAt/InterpretDecoded/BranchTo
// and share every exception/segmentation/paging code path defined here.
type CPU struct {
	reg   Registers
	model Model

	bus Bus

	seg      [segCount]SegmentCache
	gdtr     TablePointer
	idtr     TablePointer
	ldtr     SystemSegmentCache
	tr       SystemSegmentCache

	tlb TLB

	prefetch PrefetchQueue

	fpu FPUState

	// addressSize/operandSize/stackSize32/eipMask are derived from CS's
	// descriptor cache on every segment load (spec §4.4) and consulted by
	// the decoder on every instruction.
	addressSize32 bool
	operandSize32 bool
	stackSize32   bool
	eipMask       uint32

	halted    bool
	irqLine   bool
	nmiLine   bool
	nmiLatched bool

	// currentException is set by raiseException while delivery is in
	// progress, so a second fault during delivery can be recognised as a
	// double fault (spec §7).
	currentException    int
	exceptionInProgress bool
	hadDoubleFault      bool

	// espSnapshot is taken at the start of every instruction and restored
	// by raiseFault, per spec §4.8, so a half-executed stack-
	// modifying instruction never leaks a partial ESP into the fault
	// handler's view.
	espSnapshot uint32

	// inhibitTrapFlag suppresses the #DB single-step check for exactly
	// one instruction after MOV/POP to SS, per the open question in
	// spec.md §9.
	inhibitTrapFlag bool
	trapAfterInstruction bool

	pendingCycles int64

	float80 Float80Ops

	// MSR-backed state (Pentium+ only; spec §6.4).
	msrTSC  uint64
	msrTR1  uint32
	msrTR12 uint32
}

// New constructs a CPU wired to bus, reset into real mode for the given
// model.
func New(bus Bus, model Model) *CPU {
	c := &CPU{bus: bus, model: model, float80: defaultFloat80Ops{}}
	c.Reset()
	return c
}

// SetFloat80Ops installs an external x87 arithmetic backend (spec §1:
// "the actual floating-point arithmetic is delegated to an external
// library"). Passing nil restores the pure-Go reference implementation,
// which only supports the non-transcendental operations.
func (c *CPU) SetFloat80Ops(ops Float80Ops) {
	if ops == nil {
		ops = defaultFloat80Ops{}
	}
	c.float80 = ops
}

// Model returns the CPU's configured generation.
func (c *CPU) Model() Model { return c.model }

// Bus returns the CPU's memory/IO bus, for callers outside the package
// that need it for their own bookkeeping (the cached-interpreter backend
// hashes code pages for block validation via Bus.CodeHash).
func (c *CPU) Bus() Bus { return c.bus }

// Reset performs a hardware reset: CS:EIP = F000:FFF0, real mode, CR0 with
// only ET set (plus PE/PG cleared), EFLAGS = 0x00000002, every other
// segment null-based at 0 with a 64KB limit, TLB and prefetch flushed.
func (c *CPU) Reset() {
	c.reg = Registers{}
	c.reg.EFLAGS = eflagsFixedOnes
	c.reg.CR0 = cr0ET
	c.reg.EIP = 0xFFF0

	for i := range c.seg {
		c.seg[i] = SegmentCache{Base: 0, LimitLow: 0, LimitHigh: 0xFFFF, Present: true, Writable: true, Readable: true}
		c.seg[i].recomputeAccessMask()
	}
	c.seg[SegCS] = SegmentCache{Selector: 0xF000, Base: 0xFFFF0000, LimitLow: 0, LimitHigh: 0xFFFF, Present: true, Executable: true, Readable: true}
	c.seg[SegCS].recomputeAccessMask()

	c.gdtr = TablePointer{}
	c.idtr = TablePointer{Limit: 0x3FF}
	c.ldtr = SystemSegmentCache{}
	c.tr = SystemSegmentCache{}

	c.tlb.InvalidateAll()
	c.prefetch.Flush()

	c.addressSize32 = false
	c.operandSize32 = false
	c.stackSize32 = false
	c.eipMask = 0xFFFF

	c.halted = false
	c.currentException = -1
	c.exceptionInProgress = false
	c.hadDoubleFault = false
	c.pendingCycles = 0

	c.fpu.reset()
}

// Halted reports whether the CPU is halted: set by Halt (any HLT) and by
// StopExecution, cleared by Resume and Reset. A triple fault resets the
// CPU rather than halting it.
func (c *CPU) Halted() bool { return c.halted }

// EIP returns the current instruction pointer, masked to eipMask.
func (c *CPU) EIP() uint32 { return c.reg.EIP & c.eipMask }

// SetEIP sets EIP directly without flushing the prefetch queue; callers
// that represent a control transfer must call BranchTo instead.
func (c *CPU) SetEIP(v uint32) { c.reg.EIP = v & c.eipMask }

// PendingCycles returns cycles charged to the current instruction/block
// but not yet committed to the timing manager.
func (c *CPU) PendingCycles() int64 { return c.pendingCycles }

// AddCycles accrues n cycles to the pending counter; the backend commits
// it to the timing manager at block boundaries (spec §5).
func (c *CPU) AddCycles(n int64) { c.pendingCycles += n }

// CommitPendingCycles is the core's single suspension point (spec §5):
// called by a backend at the end of a block (or instruction, in the pure
// interpreter), it returns the accrued cycles for the caller to feed to
// timing.Manager.AddPendingTime and zeroes the counter.
func (c *CPU) CommitPendingCycles() int64 {
	n := c.pendingCycles
	c.pendingCycles = 0
	return n
}

// Halt sets the halted flag (logging when IF is clear). It consumes no
// cycles itself and does not advance time to the next timing event; any
// cycle accounting against the timing manager is the backend's job.
func (c *CPU) Halt() {
	if !c.flagIsSet(flagIF) {
		log.Printf("[ia32] HLT with interrupts disabled and no NMI pending: CPU will never resume")
	}
	c.halted = true
}

// StopExecution requests the run loop return promptly, by analogy with
// the source's stop_execution(): the backend checks this flag at each
// block boundary and must not rely on a cycle budget expiring.
func (c *CPU) StopExecution() { c.halted = true }

// Resume clears a halt (called by CheckInterrupts when an NMI or an
// unmasked, acknowledged IRQ wakes the CPU).
func (c *CPU) Resume() { c.halted = false }
