package codecache

// DecodedInstruction is the cheap-to-copy record a block stores per
// instruction: the backend's decoded-instruction record plus its length.
// Callers (the backends) supply the concrete type; codecache only needs
// to move it around and count it, so it's generic over the instruction
// representation instead of importing the ia32 package (which would
// create an import cycle, since ia32/backend imports codecache).
type DecodedInstruction[I any] struct {
	Instruction I
	Length      uint32
}

// Flags records a Block's lifecycle state as an OR-able bitset, mirroring
// CPU_X86::BlockFlags.
type Flags uint32

const (
	FlagNone Flags = 0
	// Linkable blocks may be spliced onto a predecessor's successor list
	// to skip the table lookup on repeat traversal.
	FlagLinkable Flags = 1 << iota
	// FlagCrossesPage marks a block whose instruction stream spans two
	// physical pages; it is tracked in the reverse map under both pages.
	FlagCrossesPage
	// FlagCompiled is set once decoding finishes; an incomplete block
	// (still being built) must never be executed.
	FlagCompiled
	// FlagInvalidated is set by a write to a physical page the block is
	// mapped under. Set, not deleted in place — on next touch the executor
	// revalidates the block by code hash and destroys it only on a mismatch.
	FlagInvalidated
)

// Block is an immutable-after-completion unit of cached code: a decoded
// instruction list plus the bookkeeping needed for self-modifying-code
// invalidation and direct chaining. The type parameter is the backend's
// own per-instruction record (the decoded instruction plus its next EIP
// for the cached-interpreter backend, which the recompiler reuses).
type Block[I any] struct {
	Key     Key
	Code    CodeHash
	Length  uint32
	Flags   Flags
	Cycles  int64

	Instructions []DecodedInstruction[I]

	// NextPagePhysicalAddress is valid iff FlagCrossesPage is set.
	NextPagePhysicalAddress uint32

	// Predecessors/Successors are chained blocks' Keys, not pointers —
	// per the design notes, cross-references are stable IDs into the
	// table's arena (here, Keys, since the table is itself keyed by Key)
	// so that destroying one block never leaves a dangling pointer in
	// another.
	Predecessors []Key
	Successors   []Key
}

// IsValid reports whether the block may still be executed without a
// code-hash revalidation.
func (b *Block[I]) IsValid() bool { return b.Flags&FlagInvalidated == 0 }

// IsLinkable reports whether other blocks may chain directly to this one.
func (b *Block[I]) IsLinkable() bool { return b.Flags&FlagLinkable != 0 }

// PhysicalPage returns the first physical page this block's code lives in.
func (b *Block[I]) PhysicalPage() uint32 { return b.Key.EIPPhysicalAddress &^ 0xFFF }
