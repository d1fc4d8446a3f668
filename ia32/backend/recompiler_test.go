package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecompilerRunsToHaltLikeCached(t *testing.T) {
	bus := newFlatBus(1 << 16)
	bus.load(0x7C00, loopProgram)
	cpu := newCPU(bus, 0x7C00)

	r := NewRecompiler(cpu)
	spent := r.Run(10_000)
	require.Greater(t, spent, int64(0))
	require.True(t, cpu.Halted())
}

func TestRegisterCacheAllocateAndBindConstant(t *testing.T) {
	rc := NewRegisterCache([]int{0, 1}, []int{2, 3})

	hostReg, ok := rc.Allocate(0)
	require.True(t, ok)
	require.True(t, rc.host[hostReg].flags&HostInUse != 0)
	require.Equal(t, 0, rc.host[hostReg].owner)

	rc.BindConstant(1, 0x42)
	require.Equal(t, GuestKnownConstant, rc.guest[1].state)
	require.Equal(t, uint32(0x42), rc.guest[1].constant)

	rc.MarkDirty(0)
	require.Equal(t, GuestDirty, rc.guest[0].state)

	dirty := rc.FlushAll()
	require.ElementsMatch(t, []int{0, 1}, dirty, "both the dirty host-cached register and the constant binding need write-back")

	rc.Reset()
	require.Equal(t, GuestUnknown, rc.guest[0].state)
	require.Equal(t, GuestUnknown, rc.guest[1].state)
	require.Equal(t, -1, rc.host[hostReg].owner)
}

func TestRegisterCacheAllocateExhaustsUsableHostRegs(t *testing.T) {
	rc := NewRegisterCache([]int{0}, nil)
	_, ok := rc.Allocate(0)
	require.True(t, ok)
	_, ok = rc.Allocate(1)
	require.False(t, ok, "only one usable host register was declared")
}
