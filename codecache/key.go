// Package codecache implements the substrate shared by the cached-
// interpreter and recompiler backends: the block key, the block table,
// the physical-page reverse map used for self-modifying-code invalidation,
// and the adjacency lists used for direct block chaining.
//
// Grounded on original_source/src/pce/cpu_x86/code_cache_types.h and
// code_cache_backend.h (the BlockKey/BlockBase bit layout and the
// physical_page -> blocks reverse map), generalized from the teacher's
// single flat opcodeTable into the two-level (key -> block,
// page -> blocks) structure the spec requires.
package codecache

// Key packs the state that fully determines how a physical page of code
// decodes: its physical address, CS size/granularity, SS size, and
// whether the CPU is in V8086 mode. Two executions with the same Key
// decode identically (modulo the bytes at that address, which CodeHash
// covers).
type Key struct {
	EIPPhysicalAddress uint32
	CSSize32           bool
	CSGranularity      bool
	SSSize32           bool
	V8086Mode          bool
}

// Tag folds a Key into the 64-bit packed word the original's union
// produces (physical address in the low 32 bits, mode bits above it).
// Go's map implementation hashes the Key struct directly just as
// cheaply, so Tag is not used for lookup — it exists for diagnostics
// (log lines, trace dumps) where a single comparable number reads better
// than five fields.
func (k Key) Tag() uint64 {
	v := uint64(k.EIPPhysicalAddress)
	bit := uint64(32)
	set := func(b bool) {
		if b {
			v |= 1 << bit
		}
		bit++
	}
	set(k.CSSize32)
	set(k.CSGranularity)
	set(k.SSSize32)
	set(k.V8086Mode)
	return v
}

// CodeHash is a cheap content hash over the physical bytes a block was
// compiled from, recomputed at execution time to detect self-modifying
// code. The spec leaves the hash function bus-provided (Bus.CodeHash);
// this type just carries the result.
type CodeHash uint64
