// Package backend implements the two execution strategies spec.md §4.9
// and §4.10 describe on top of the pure interpreter in package ia32: a
// cached interpreter that compiles decoded instruction streams into
// codecache.Block[I]s and replays them without re-decoding, and a
// recompiler skeleton (recompiler.go) that sketches the register-cache
// state machine without emitting host code.
//
// Grounded on original_source/src/pce/cpu_x86/code_cache_backend.h and
// backend.h, which split the original's CPU_X86::Backend hierarchy the
// same way: one base interpreter, one cached-interpreter subclass adding
// a CodeCache, one recompiler subclass adding a JIT.
package backend

import (
	"github.com/kvexil/ia32core/codecache"
	"github.com/kvexil/ia32core/ia32"
)

// maxBlockInstructions caps a compiled block's length, per spec §4.9 —
// long enough to amortize the lookup cost, short enough that a taken
// branch inside a block is never possible (every control-flow-exit
// opcode ends the block outright, well under the cap in practice).
const maxBlockInstructions = 16

// entry is the cached-interpreter's own per-instruction record: the
// decoded instruction plus the EIP it advances to, since InterpretDecoded
// needs both and a cached instruction is never re-decoded to recover the
// second one.
type entry struct {
	decoded ia32.Instruction
	nextEIP uint32
}

// Cached is the cached-interpreter backend (spec §4.9): it looks up or
// compiles a codecache.Block[entry] for the code at CS:EIP and replays
// its instructions via ia32.CPU.InterpretDecoded, falling back to a fresh
// compile whenever the block is missing, stale, or was invalidated by a
// write.
type Cached struct {
	cpu   *ia32.CPU
	table *codecache.Table[entry]

	// lastKey/hasLast record the previously executed block so consecutive
	// fall-through transitions get recorded as direct-chaining edges
	// (codecache.Table.Link) — bookkeeping only, since Run always
	// revalidates via Lookup rather than following the edge blindly.
	lastKey codecache.Key
	hasLast bool
}

// NewCached constructs a cached-interpreter backend driving cpu, with an
// empty code cache.
func NewCached(cpu *ia32.CPU) *Cached {
	return &Cached{cpu: cpu, table: codecache.NewTable[entry]()}
}

// FlushAll drops every compiled block, for callers that treat a CR3 load
// or global TLB flush as also invalidating the code cache (spec §4.9).
func (e *Cached) FlushAll() { e.table.FlushAll(); e.hasLast = false }

// Len reports the number of blocks currently cached.
func (e *Cached) Len() int { return e.table.Len() }

func (e *Cached) keyAt(phys uint32) codecache.Key {
	cs := e.cpu.Seg(ia32.SegCS)
	ss := e.cpu.Seg(ia32.SegSS)
	return codecache.Key{
		EIPPhysicalAddress: phys,
		CSSize32:           cs.Default32,
		// CSGranularity is not retained by SegmentCache past descriptor
		// load (spec §3.1 only keeps the already-expanded limit pair);
		// decode behaviour depends on operand/address size, which
		// CSSize32 already captures, so this is always false here rather
		// than plumbing the raw descriptor bit through the segment cache.
		CSGranularity: false,
		SSSize32:      ss.Default32,
		V8086Mode:     e.cpu.V8086Mode(),
	}
}

// Run drives the CPU until it halts or at least budget cycles have been
// committed, returning the number actually spent. Each iteration looks up
// (or compiles) the block for the current CS:EIP and replays it in full
// before re-checking the halt/budget condition, mirroring
// CodeCacheBackend::Execute's block-at-a-time outer loop.
func (e *Cached) Run(budget int64) int64 {
	var spent int64
	for spent < budget {
		if e.cpu.Halted() {
			return spent
		}

		phys, ok := e.cpu.TranslateFetch()
		if !ok {
			// Fault already delivered into IDT/real-mode handler; the
			// handler's own code path is looked up on the next iteration.
			e.hasLast = false
			continue
		}

		e.invalidateIfDirty(phys &^ 0xFFF)

		key := e.keyAt(phys)
		block := e.table.Lookup(key)
		if block != nil && !block.IsValid() {
			if !e.revalidate(block, phys) {
				e.table.Remove(key)
				block = nil
			}
		}
		if block == nil {
			block = e.compile(phys, key)
			e.table.Insert(block)
		}

		if e.hasLast && e.lastKey != key {
			e.table.Link(e.lastKey, key)
		}
		e.lastKey, e.hasLast = key, true

		n, blockOK := e.run(block)
		spent += n
		if !blockOK {
			e.hasLast = false
		}
	}
	return spent
}

// invalidateIfDirty lazily invalidates every block on physPage if the bus
// reports a write landed there since the last check, per spec §4.9's
// self-modifying-code requirement. Blocks are marked, not destroyed —
// revalidate (or an eventual Remove) reclaims them.
func (e *Cached) invalidateIfDirty(physPage uint32) {
	if !e.table.HasBlocksForPage(physPage) {
		return
	}
	bus := e.cpu.Bus()
	if !bus.IsDirtyPage(physPage) {
		return
	}
	e.table.InvalidatePage(physPage)
	bus.ClearPageDirty(physPage)
}

// revalidate re-hashes a block's code and, if it still matches, clears
// the invalidated flag rather than destroying it — a write that changed
// bytes outside the block's own span (but inside its page) must not
// force a recompile.
func (e *Cached) revalidate(b *codecache.Block[entry], phys uint32) bool {
	if codecache.CodeHash(e.cpu.Bus().CodeHash(phys, b.Length)) != b.Code {
		return false
	}
	b.Flags &^= codecache.FlagInvalidated
	return true
}

// compile decodes forward from phys (the already-translated physical
// address of CS:EIP) until a control-flow-exit instruction, a page
// boundary, or maxBlockInstructions, whichever comes first. Crossing a
// page boundary ends the block rather than following it across a second
// translateLinear call: continuing into the next page requires
// re-validating its own segment/paging permissions, which belongs to
// TranslateFetch's fault-raising path at the top of Run, not to a
// speculative decode-ahead that must never have fault side effects.
func (e *Cached) compile(startPhys uint32, key codecache.Key) *codecache.Block[entry] {
	block := &codecache.Block[entry]{Key: key, Flags: codecache.FlagLinkable}

	startPage := startPhys &^ 0xFFF
	phys := startPhys
	eip := e.cpu.EIP()

	for len(block.Instructions) < maxBlockInstructions {
		decoded := e.cpu.DecodeAt(phys)
		nextEIP := eip + decoded.Length

		block.Instructions = append(block.Instructions, codecache.DecodedInstruction[entry]{
			Instruction: entry{decoded: decoded, nextEIP: nextEIP},
			Length:      decoded.Length,
		})
		block.Length += decoded.Length

		nextPhys := phys + decoded.Length
		if nextPhys&^0xFFF != startPage {
			block.Flags |= codecache.FlagCrossesPage
			block.NextPagePhysicalAddress = nextPhys &^ 0xFFF
			break
		}
		if ia32.IsControlFlowExit(&decoded) {
			break
		}

		phys, eip = nextPhys, nextEIP
	}

	block.Flags |= codecache.FlagCompiled
	block.Code = codecache.CodeHash(e.cpu.Bus().CodeHash(startPhys, block.Length))
	return block
}

// run replays a compiled block's instructions in order, stopping early
// if one of them faults (InterpretDecoded reports !ok) — the fault has
// already been delivered by the time run returns.
func (e *Cached) run(b *codecache.Block[entry]) (int64, bool) {
	var total int64
	for i := range b.Instructions {
		rec := &b.Instructions[i].Instruction
		n, ok := e.cpu.InterpretDecoded(&rec.decoded, rec.nextEIP)
		total += n
		if !ok {
			return total, false
		}
	}
	return total, true
}
