package timing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddPendingTimeFiresEvent(t *testing.T) {
	m := NewManager()
	var fired int
	var gotCycles CycleCount

	ev := NewFrequencyEvent(m, "test-device", 1000000, func(ev *Event, cycles, late CycleCount) {
		fired++
		gotCycles = cycles
	}, true)
	defer ev.Deactivate()

	// 1000000Hz -> 1000ns/cycle, interval 1 -> fires every 1000ns.
	m.AddPendingTime(1000)

	require.Equal(t, 1, fired)
	require.Equal(t, CycleCount(1), gotCycles)
}

func TestAddPendingTimeOrdersByDowncount(t *testing.T) {
	m := NewManager()
	var order []string

	slow := NewFrequencyEvent(m, "slow", 1000000, func(ev *Event, c, l CycleCount) {
		order = append(order, "slow")
	}, true)
	defer slow.Deactivate()
	fast := NewFrequencyEvent(m, "fast", 2000000, func(ev *Event, c, l CycleCount) {
		order = append(order, "fast")
	}, true)
	defer fast.Deactivate()

	// fast fires every 500ns, slow every 1000ns: fast at 500, then both
	// at 1000, where slow is at the heap root and runs first.
	m.AddPendingTime(1000)

	require.Equal(t, []string{"fast", "slow", "fast"}, order)
}

// TestEventLateTimeBound verifies property #5 from spec.md §8: after any
// AddPendingTime(dt) returns, every event's time-since-last-run is in
// [0, interval*cyclePeriod+dt) and its downcount is in [0, interval*cyclePeriod].
func TestEventLateTimeBound(t *testing.T) {
	m := NewManager()
	ev := NewFrequencyEvent(m, "periodic", 1000000, func(ev *Event, c, l CycleCount) {}, true)
	defer ev.Deactivate()

	period := ev.CyclePeriod() * SimulationTime(ev.Interval())

	for i := 0; i < 50; i++ {
		dt := SimulationTime(137 * (i + 1))
		m.AddPendingTime(dt)

		require.GreaterOrEqual(t, int64(ev.timeSinceLastRun), int64(0))
		require.Less(t, int64(ev.timeSinceLastRun), int64(period)+int64(dt))

		require.GreaterOrEqual(t, int64(ev.downcount), int64(0))
		require.LessOrEqual(t, int64(ev.downcount), int64(period))
	}
}

func TestDeactivateRemovesEvent(t *testing.T) {
	m := NewManager()
	fired := false
	ev := NewFrequencyEvent(m, "once", 1000000, func(ev *Event, c, l CycleCount) {
		fired = true
	}, true)
	ev.Deactivate()
	require.False(t, ev.IsActive())

	m.AddPendingTime(1_000_000)
	require.False(t, fired)
}

func TestRescheduleFromCallback(t *testing.T) {
	m := NewManager()
	var fireCount int
	ev := NewFrequencyEvent(m, "rescheduler", 1000000, func(ev *Event, c, l CycleCount) {
		fireCount++
		if fireCount == 1 {
			ev.Reschedule(5) // next firing 5 cycles out instead of 1
		}
	}, true)
	defer ev.Deactivate()

	m.AddPendingTime(1000) // first fire at 1000ns
	require.Equal(t, 1, fireCount)

	m.AddPendingTime(4999) // not yet 5000ns further
	require.Equal(t, 1, fireCount)

	m.AddPendingTime(1) // now at +5000ns from the reschedule point
	require.Equal(t, 2, fireCount)
}

func TestInvokeEarlyForcesCallback(t *testing.T) {
	m := NewManager()
	var gotCycles CycleCount
	calls := 0
	ev := NewFrequencyEvent(m, "halt-wake", 1000000, func(ev *Event, c, l CycleCount) {
		calls++
		gotCycles = c
	}, true)
	defer ev.Deactivate()

	ev.InvokeEarly(true)
	require.Equal(t, 1, calls)
	require.Equal(t, CycleCount(0), gotCycles)
}

func TestFindActiveEvent(t *testing.T) {
	m := NewManager()
	ev := NewFrequencyEvent(m, "pit", 1000, func(ev *Event, c, l CycleCount) {}, true)
	defer ev.Deactivate()

	require.Same(t, ev, m.FindActiveEvent("pit"))
	require.Nil(t, m.FindActiveEvent("missing"))
}
