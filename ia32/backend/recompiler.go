package backend

import "github.com/kvexil/ia32core/ia32"

// This file sketches the recompiler's bookkeeping (spec §4.10): the
// guest/host register cache state machine and the CPU-side thunks
// emitted code would call. It deliberately does not emit host machine
// code — there is no assembler here, and Recompiler.Run falls back to
// interpreting each block's instructions exactly like Cached.Run. What's
// real is the register-cache state machine itself: a codegen backend
// dropped in later would drive the same Allocate/MarkDirty/Flush
// lifecycle this type already exposes, and the thunk boundary below is
// the actual API such codegen would call into.

// GuestRegState is one guest register's allocation state, per spec
// §4.10's four-state description.
type GuestRegState uint8

const (
	GuestUnknown GuestRegState = iota
	GuestCachedInHostReg
	GuestKnownConstant
	GuestDirty
)

// HostRegFlags is an OR-able bitset over one host register slot's role,
// per spec §4.10 ("usable, caller-saved, callee-saved, in-use,
// callee-saved-already-pushed").
type HostRegFlags uint8

const (
	HostUsable HostRegFlags = 1 << iota
	HostCallerSaved
	HostCalleeSaved
	HostInUse
	HostCalleeSavedPushed
)

type guestSlot struct {
	state    GuestRegState
	hostReg  int // index into RegisterCache.host, valid iff state == GuestCachedInHostReg
	constant uint32
}

type hostSlot struct {
	flags HostRegFlags
	owner int // guest register index holding this host register, or -1
}

// RegisterCache tracks the mapping between the eight guest GP registers
// and a fixed pool of host registers, plus which host registers are
// currently live and whether their callee-saved prologue push has
// already been emitted. A real recompiler consults this on every guest
// register read/write to decide whether to emit a register-to-register
// move, a load of a known constant, or a spill.
type RegisterCache struct {
	guest [8]guestSlot
	host  []hostSlot
}

// NewRegisterCache builds an empty cache over n host registers, indices
// 0..n-1, with the given caller-saved/callee-saved flags (callers supply
// these so the cache is agnostic to the host ISA's actual ABI).
func NewRegisterCache(callerSaved, calleeSaved []int) *RegisterCache {
	n := 0
	for _, i := range callerSaved {
		if i+1 > n {
			n = i + 1
		}
	}
	for _, i := range calleeSaved {
		if i+1 > n {
			n = i + 1
		}
	}
	rc := &RegisterCache{host: make([]hostSlot, n)}
	for i := range rc.host {
		rc.host[i] = hostSlot{owner: -1}
	}
	for _, i := range callerSaved {
		rc.host[i].flags |= HostUsable | HostCallerSaved
	}
	for _, i := range calleeSaved {
		rc.host[i].flags |= HostUsable | HostCalleeSaved
	}
	rc.Reset()
	return rc
}

// Reset marks every guest register unknown and every host register free,
// as at block entry.
func (rc *RegisterCache) Reset() {
	for i := range rc.guest {
		rc.guest[i] = guestSlot{state: GuestUnknown}
	}
	for i := range rc.host {
		rc.host[i].flags &^= HostInUse | HostCalleeSavedPushed
		rc.host[i].owner = -1
	}
}

// BindConstant records that guest register reg is statically known to
// hold v, letting the (hypothetical) codegen propagate the constant
// instead of materializing it into a host register.
func (rc *RegisterCache) BindConstant(reg int, v uint32) {
	rc.free(reg)
	rc.guest[reg] = guestSlot{state: GuestKnownConstant, constant: v}
}

// Allocate assigns a free usable host register to guest register reg,
// evicting nothing (spec's "scratch register adopted by ownership move"
// case is handled by callers choosing an already-free register rather
// than this method picking one to spill). Reports false if every usable
// host register is in use.
func (rc *RegisterCache) Allocate(reg int) (hostReg int, ok bool) {
	for i := range rc.host {
		s := &rc.host[i]
		if s.flags&HostUsable == 0 || s.flags&HostInUse != 0 {
			continue
		}
		if s.flags&HostCalleeSaved != 0 && s.flags&HostCalleeSavedPushed == 0 {
			s.flags |= HostCalleeSavedPushed // prologue push would be emitted here
		}
		s.flags |= HostInUse
		s.owner = reg
		rc.guest[reg] = guestSlot{state: GuestCachedInHostReg, hostReg: i}
		return i, true
	}
	return 0, false
}

// Adopt moves ownership of an already-allocated scratch host register to
// guest register reg without copying, per spec §4.10's "writes with a
// scratch-register source adopt the scratch register" rule.
func (rc *RegisterCache) Adopt(reg int, hostReg int) {
	rc.free(reg)
	rc.host[hostReg].owner = reg
	rc.host[hostReg].flags |= HostInUse
	rc.guest[reg] = guestSlot{state: GuestCachedInHostReg, hostReg: hostReg}
}

// MarkDirty flags reg's cached value as needing write-back to CPU state
// before the next potential exception point or block exit.
func (rc *RegisterCache) MarkDirty(reg int) {
	if rc.guest[reg].state == GuestCachedInHostReg {
		rc.guest[reg].state = GuestDirty
	}
}

func (rc *RegisterCache) free(reg int) {
	g := &rc.guest[reg]
	if g.state == GuestCachedInHostReg || g.state == GuestDirty {
		h := &rc.host[g.hostReg]
		h.flags &^= HostInUse
		h.owner = -1
	}
	*g = guestSlot{state: GuestUnknown}
}

// FlushAll reports which guest registers hold a dirty host-cached or
// known-constant value needing write-back — the set a real recompiler
// emits stores for at block exit or immediately before any call into a
// CPU helper that can raise an exception, per spec §4.10.
func (rc *RegisterCache) FlushAll() (dirty []int) {
	for i, g := range rc.guest {
		if g.state == GuestDirty || g.state == GuestKnownConstant {
			dirty = append(dirty, i)
		}
	}
	return dirty
}

// Thunks is the fixed set of CPU-side entry points emitted code would
// call for anything it cannot inline: memory access, exceptions, and
// port I/O (spec §4.10's "every CPU-visible side effect is funneled
// through a small set of thunks"). A codegen backend holds one of these
// per compiled function; this skeleton exists so the boundary is typed
// and testable even without an emitter behind it.
type Thunks struct {
	// Interpret replays one already-decoded instruction through the full
	// interpreter semantics — the thunk every guest instruction the
	// recompiler doesn't special-case falls back to.
	Interpret func(cpu *ia32.CPU, in *ia32.Instruction, nextEIP uint32) (cycles int64, ok bool)
}

// DefaultThunks wires Thunks to the real interpreter, the only
// implementation this package ships (no codegen emits calls to anything
// else yet).
func DefaultThunks() Thunks {
	return Thunks{Interpret: (*ia32.CPU).InterpretDecoded}
}

// Recompiler is the backend named in spec §4.10. Until a real codegen
// emitter exists it behaves exactly like Cached — compiling and
// replaying codecache.Block[entry]s. Run resets the RegisterCache once
// per call and does not invoke the Thunks. Every comment on Cached about block compilation, SMC
// invalidation, and the page-boundary limitation of compile applies here
// unchanged; Recompiler embeds a Cached rather than duplicating it.
type Recompiler struct {
	*Cached
	regs *RegisterCache

	// thunks is the boundary a codegen emitter would call into; Run does
	// not invoke it today because Run delegates to Cached.Run, which
	// already calls ia32.CPU.InterpretDecoded directly. It is held here
	// and constructed; nothing in this package or its tests calls it.
	thunks Thunks
}

// NewRecompiler builds a recompiler-shaped backend over cpu, with a
// register cache sized for a typical 6 caller-saved/6 callee-saved host
// ABI (e.g. amd64 System V minus the stack/frame pointers) — the exact
// split is only meaningful once real codegen picks a host ISA, so these
// indices are placeholders a codegen backend would replace with its
// actual register numbering.
func NewRecompiler(cpu *ia32.CPU) *Recompiler {
	return &Recompiler{
		Cached: NewCached(cpu),
		regs:   NewRegisterCache([]int{0, 1, 2, 3, 4, 5}, []int{6, 7, 8, 9, 10, 11}),
		thunks: DefaultThunks(),
	}
}

// Run drives the CPU exactly like Cached.Run. It resets the register
// cache once per call rather than once per block — a real recompiler's
// generated prologue/epilogue would reset it at every block entry/exit
// (spec §4.10), but Cached.Run's per-block loop isn't exposed as a hook
// to call into from here without duplicating it, and there is no emitted
// code whose correctness depends on the cache being block-scoped yet.
// Noted as a known simplification of this skeleton.
func (r *Recompiler) Run(budget int64) int64 {
	r.regs.Reset()
	return r.Cached.Run(budget)
}
