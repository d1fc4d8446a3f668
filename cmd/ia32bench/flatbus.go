package main

import (
	"encoding/binary"
	"hash/fnv"
)

// pageSize matches the TLB/code-cache page granularity used throughout
// ia32 and codecache (spec §3.3, §4.9).
const pageSize = 0x1000

// FlatBus is a flat byte-array implementation of ia32.Bus: memory is one
// array of the configured size, accesses beyond it read as zero or are
// dropped (the checked variants report false for them), and ports are
// unconnected (no device models, per spec.md §1's Non-goals). Grounded
// on the teacher's testBus (testutil_test.go), generalized from a fixed
// 16MB 24-bit space to a configurable size and from one access width
// dispatch to the wider Bus interface ia32.CPU requires (checked
// variants, block reads, per-page dirty tracking for code-cache
// invalidation, a content hash for block validation).
type FlatBus struct {
	mem   []byte
	dirty map[uint32]bool
}

// NewFlatBus allocates a zero-filled bus of the given size in bytes.
func NewFlatBus(size int) *FlatBus {
	return &FlatBus{mem: make([]byte, size), dirty: make(map[uint32]bool)}
}

// LoadAt copies data into the bus starting at phys, for the harness's
// -load flag.
func (b *FlatBus) LoadAt(phys uint32, data []byte) {
	n := copy(b.mem[phys:], data)
	b.markDirtyRange(phys, uint32(n))
}

func (b *FlatBus) inRange(phys uint32) bool { return int(phys) < len(b.mem) }

func (b *FlatBus) markDirtyRange(phys uint32, length uint32) {
	firstPage := (phys &^ (pageSize - 1)) / pageSize
	lastPage := ((phys + length) &^ (pageSize - 1)) / pageSize
	for page := firstPage; page <= lastPage; page++ {
		b.dirty[page*pageSize] = true
	}
}

func (b *FlatBus) ReadByte(phys uint32) uint8 {
	if !b.inRange(phys) {
		return 0
	}
	return b.mem[phys]
}

func (b *FlatBus) ReadWord(phys uint32) uint16 {
	if !b.inRange(phys + 1) {
		return 0
	}
	return binary.LittleEndian.Uint16(b.mem[phys:])
}

func (b *FlatBus) ReadDWord(phys uint32) uint32 {
	if !b.inRange(phys + 3) {
		return 0
	}
	return binary.LittleEndian.Uint32(b.mem[phys:])
}

func (b *FlatBus) ReadQWord(phys uint32) uint64 {
	if !b.inRange(phys + 7) {
		return 0
	}
	return binary.LittleEndian.Uint64(b.mem[phys:])
}

func (b *FlatBus) WriteByte(phys uint32, v uint8) {
	if !b.inRange(phys) {
		return
	}
	b.mem[phys] = v
	b.markDirtyRange(phys, 1)
}

func (b *FlatBus) WriteWord(phys uint32, v uint16) {
	if !b.inRange(phys + 1) {
		return
	}
	binary.LittleEndian.PutUint16(b.mem[phys:], v)
	b.markDirtyRange(phys, 2)
}

func (b *FlatBus) WriteDWord(phys uint32, v uint32) {
	if !b.inRange(phys + 3) {
		return
	}
	binary.LittleEndian.PutUint32(b.mem[phys:], v)
	b.markDirtyRange(phys, 4)
}

func (b *FlatBus) CheckedReadByte(phys uint32) (uint8, bool) {
	if !b.inRange(phys) {
		return 0, false
	}
	return b.mem[phys], true
}

func (b *FlatBus) CheckedReadWord(phys uint32) (uint16, bool) {
	if !b.inRange(phys + 1) {
		return 0, false
	}
	return b.ReadWord(phys), true
}

func (b *FlatBus) CheckedReadDWord(phys uint32) (uint32, bool) {
	if !b.inRange(phys + 3) {
		return 0, false
	}
	return b.ReadDWord(phys), true
}

func (b *FlatBus) CheckedWriteByte(phys uint32, v uint8) bool {
	if !b.inRange(phys) {
		return false
	}
	b.WriteByte(phys, v)
	return true
}

func (b *FlatBus) CheckedWriteWord(phys uint32, v uint16) bool {
	if !b.inRange(phys + 1) {
		return false
	}
	b.WriteWord(phys, v)
	return true
}

func (b *FlatBus) CheckedWriteDWord(phys uint32, v uint32) bool {
	if !b.inRange(phys + 3) {
		return false
	}
	b.WriteDWord(phys, v)
	return true
}

// ReadBlock is the prefetch fast path: a best-effort bulk copy, stopping
// at the end of backing memory rather than ever faulting.
func (b *FlatBus) ReadBlock(phys uint32, buf []byte) int {
	if !b.inRange(phys) {
		return 0
	}
	return copy(buf, b.mem[phys:])
}

// GetRAMPointer hands back a direct slice into backing memory so the
// cached-interpreter/recompiler backends can decode without a copy; a
// real MMIO-bearing bus would return nil for non-RAM pages.
func (b *FlatBus) GetRAMPointer(phys uint32) []byte {
	if !b.inRange(phys) {
		return nil
	}
	return b.mem[phys:]
}

// CodeHash hashes [phys, phys+length) with FNV-1a — a cheap, allocation-
// free content hash, good enough for this bus's only consumer (the
// code-cache backend's revalidate-by-hash check). No repo in the pack
// carries a more specialised hash library for this, so this is the one
// place the harness reaches for stdlib hash/fnv rather than a pack dep;
// see DESIGN.md.
func (b *FlatBus) CodeHash(phys uint32, length uint32) uint64 {
	end := phys + length
	if !b.inRange(phys) || int(end) > len(b.mem) {
		return 0
	}
	h := fnv.New64a()
	h.Write(b.mem[phys:end])
	return h.Sum64()
}

func (b *FlatBus) IsCachablePage(physPage uint32) bool { return b.inRange(physPage) }

func (b *FlatBus) IsDirtyPage(physPage uint32) bool { return b.dirty[physPage&^(pageSize-1)] }

func (b *FlatBus) ClearPageDirty(physPage uint32) { delete(b.dirty, physPage&^(pageSize-1)) }

func (b *FlatBus) ClearAllPagesDirty() { b.dirty = make(map[uint32]bool) }

// PortRead/PortWrite are unconnected: no device models are in scope
// (spec.md §1). Reads float high, matching an empty bus with pull-ups;
// writes are discarded.
func (b *FlatBus) PortRead(port uint16, width int) uint32 {
	switch width {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

func (b *FlatBus) PortWrite(port uint16, width int, value uint32) {}
