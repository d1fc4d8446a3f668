package ia32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Segment-limit round trip: a segment cache configured with a given
// low/high limit accepts every offset inside it and rejects every
// offset outside, regardless of expand-up/expand-down orientation
// (spec.md §8 property #3).
func TestSegmentLimitRoundTrip(t *testing.T) {
	s := SegmentCache{LimitLow: 0x100, LimitHigh: 0x1FF}
	require.True(t, s.InLimit(0x100))
	require.True(t, s.InLimit(0x1FF))
	require.True(t, s.InLimit(0x180))
	require.False(t, s.InLimit(0x0FF))
	require.False(t, s.InLimit(0x200))
}

func TestSegmentAccessMask(t *testing.T) {
	code := SegmentCache{Executable: true, Readable: true}
	code.recomputeAccessMask()
	require.True(t, code.Allows(accessExecute))
	require.True(t, code.Allows(accessRead))
	require.False(t, code.Allows(accessWrite))

	data := SegmentCache{Executable: false, Writable: true}
	data.recomputeAccessMask()
	require.True(t, data.Allows(accessRead))
	require.True(t, data.Allows(accessWrite))
	require.False(t, data.Allows(accessExecute))
}

// Reset must leave every segment (including CS) with a non-zero access
// mask: a CPU that can't fetch its own reset-vector instruction is a
// CPU that can never execute anything.
func TestResetSegmentsAreAccessible(t *testing.T) {
	bus := newFlatTestBus(1 << 20)
	c := New(bus, Model386)

	cs := c.Seg(SegCS)
	require.True(t, cs.Allows(accessExecute), "CS must be executable immediately after Reset")
	require.True(t, cs.Allows(accessRead))

	for _, reg := range []int{SegES, SegSS, SegDS, SegFS, SegGS} {
		s := c.Seg(reg)
		require.True(t, s.Allows(accessRead), "segment %d must be readable immediately after Reset", reg)
		require.True(t, s.Allows(accessWrite), "segment %d must be writable immediately after Reset", reg)
	}
}
