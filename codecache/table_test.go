package codecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeInsn struct {
	opcode byte
}

func newBlock(key Key, hash CodeHash) *Block[fakeInsn] {
	return &Block[fakeInsn]{
		Key:    key,
		Code:   hash,
		Length: 6,
		Flags:  FlagCompiled | FlagLinkable,
		Instructions: []DecodedInstruction[fakeInsn]{
			{Instruction: fakeInsn{opcode: 0x90}, Length: 1},
		},
	}
}

func TestInsertLookupRemove(t *testing.T) {
	tbl := NewTable[fakeInsn]()
	key := Key{EIPPhysicalAddress: 0x1000}
	b := newBlock(key, 0xdead)
	tbl.Insert(b)

	require.Same(t, b, tbl.Lookup(key))
	require.True(t, tbl.HasBlocksForPage(0x1000))

	tbl.Remove(key)
	require.Nil(t, tbl.Lookup(key))
	require.False(t, tbl.HasBlocksForPage(0x1000))
}

// TestSelfModifyingCodeInvalidation verifies property #6 from spec.md §8:
// after writing any byte into a physical page holding a cached block, the
// next attempt to execute that block recomputes the code hash and
// refuses to reuse the block iff the hash differs.
func TestSelfModifyingCodeInvalidation(t *testing.T) {
	tbl := NewTable[fakeInsn]()
	key := Key{EIPPhysicalAddress: 0x10000}
	b := newBlock(key, 0x1111)
	tbl.Insert(b)

	require.True(t, b.IsValid())

	// A write anywhere in the block's physical page flips the flag...
	tbl.InvalidatePage(b.PhysicalPage())
	require.False(t, b.IsValid())

	// ...but the block is not yet destroyed: revalidation is lazy.
	require.Same(t, b, tbl.Lookup(key))

	// Simulate the executor's revalidation: hash matches -> block survives.
	currentHash := CodeHash(0x1111)
	if currentHash == b.Code {
		b.Flags &^= FlagInvalidated
	}
	require.True(t, b.IsValid())

	// Now simulate an actual content change: hash differs -> destroyed.
	tbl.InvalidatePage(b.PhysicalPage())
	currentHash = CodeHash(0x2222)
	if currentHash != b.Code {
		tbl.Remove(key)
	}
	require.Nil(t, tbl.Lookup(key))
}

func TestCrossPageBlockIndexedUnderBothPages(t *testing.T) {
	tbl := NewTable[fakeInsn]()
	key := Key{EIPPhysicalAddress: 0x0FFE}
	b := newBlock(key, 0)
	b.Flags |= FlagCrossesPage
	b.NextPagePhysicalAddress = 0x1000
	tbl.Insert(b)

	require.True(t, tbl.HasBlocksForPage(0x0000))
	require.True(t, tbl.HasBlocksForPage(0x1000))

	tbl.InvalidatePage(0x1000)
	require.False(t, b.IsValid())
}

func TestLinkAndUnlinkOnRemove(t *testing.T) {
	tbl := NewTable[fakeInsn]()
	a := newBlock(Key{EIPPhysicalAddress: 0x100}, 1)
	c := newBlock(Key{EIPPhysicalAddress: 0x200}, 2)
	tbl.Insert(a)
	tbl.Insert(c)
	tbl.Link(a.Key, c.Key)

	require.Contains(t, a.Successors, c.Key)
	require.Contains(t, c.Predecessors, a.Key)

	tbl.Remove(c.Key)
	require.NotContains(t, a.Successors, c.Key)
}
