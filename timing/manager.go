package timing

import "container/heap"

// pollFrequency bounds next_event_time when the event queue is empty, so
// an idle system still polls periodically instead of computing an
// unbounded slice.
const pollFrequency SimulationTime = 100000000 // 100ms

// eventHeap is a container/heap min-heap ordered by ascending Downcount.
type eventHeap []*Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].downcount < h[j].downcount }
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.heapIndex = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIndex = -1
	*h = old[:n-1]
	return ev
}

// Manager is the global virtual clock: a min-heap of active Events plus
// the running totals that drive AddPendingTime's event loop.
type Manager struct {
	events eventHeap

	pendingTime       SimulationTime
	nextEventTime     SimulationTime
	totalEmulatedTime SimulationTime

	runningEvents bool
	needsSort     bool
}

// NewManager returns an idle Manager with no active events.
func NewManager() *Manager {
	return &Manager{nextEventTime: pollFrequency}
}

// PendingTime returns ns accumulated since the last full event dispatch.
func (m *Manager) PendingTime() SimulationTime { return m.pendingTime }

// NextEventTime returns the downcount of the event at the head of the
// heap, capped at pollFrequency when idle.
func (m *Manager) NextEventTime() SimulationTime { return m.nextEventTime }

// TotalEmulatedTime returns the monotonically increasing count of all
// emulated nanoseconds, usable as a TSC source.
func (m *Manager) TotalEmulatedTime() SimulationTime { return m.totalEmulatedTime }

// ResetTotalEmulatedTime zeroes the TSC source, e.g. on CPU reset.
func (m *Manager) ResetTotalEmulatedTime() { m.totalEmulatedTime = 0 }

// AddPendingTime accrues dt nanoseconds of emulated time (both to the
// pending accumulator and to the running total) and, once the
// accumulator reaches the next scheduled event, drains the event loop.
//
// Re-entrancy: callbacks invoked from within RunEvents must not call
// AddPendingTime themselves — the core's only suspension point is a
// block/instruction boundary, and CommitPendingCycles is called exactly
// once per boundary, never from inside a callback.
func (m *Manager) AddPendingTime(dt SimulationTime) {
	m.totalEmulatedTime += dt
	m.pendingTime += dt
	if m.pendingTime >= m.nextEventTime {
		m.RunEvents()
	}
}

func (m *Manager) addActiveEvent(ev *Event) {
	heap.Push(&m.events, ev)
	if !m.runningEvents {
		m.updateNextEventTime()
	} else {
		m.needsSort = true
	}
}

func (m *Manager) removeActiveEvent(ev *Event) {
	if ev.heapIndex < 0 || ev.heapIndex >= len(m.events) || m.events[ev.heapIndex] != ev {
		panic("timing: attempt to remove inactive event")
	}
	heap.Remove(&m.events, ev.heapIndex)
	if !m.runningEvents {
		m.updateNextEventTime()
	} else {
		m.needsSort = true
	}
}

// FindActiveEvent looks up an active event by name for serialization
// restore; it does not search inactive events.
func (m *Manager) FindActiveEvent(name string) *Event {
	for _, ev := range m.events {
		if ev.name == name {
			return ev
		}
	}
	return nil
}

// EnumerateActiveEvents calls fn for every active event. fn must not
// remove events from the manager while iterating.
func (m *Manager) EnumerateActiveEvents(fn func(*Event)) {
	for _, ev := range m.events {
		fn(ev)
	}
}

// SortEvents re-heapifies immediately, or — if called from within a
// callback during RunEvents — defers to the needsSort flag so RunEvents
// re-heapifies once after the current callback returns.
func (m *Manager) SortEvents() {
	if !m.runningEvents {
		heap.Init(&m.events)
		m.updateNextEventTime()
	} else {
		m.needsSort = true
	}
}

func (m *Manager) updateNextEventTime() {
	if len(m.events) == 0 {
		m.nextEventTime = pollFrequency
		return
	}
	dc := m.events[0].downcount
	if dc < 0 {
		dc = 0
	}
	m.nextEventTime = dc
}

// RunEvents drains m.pendingTime in slices bounded by the next event's
// downcount, firing every event whose downcount reaches zero or below.
// This is a direct port of TimingManager::RunEvents: see
// original_source/src/pce/timing.cpp for the reference this was built
// against.
func (m *Manager) RunEvents() {
	if m.runningEvents {
		panic("timing: RunEvents is not re-entrant")
	}

	remaining := m.pendingTime
	m.pendingTime = 0
	m.runningEvents = true

	for remaining > 0 {
		slice := remaining
		if m.nextEventTime < slice {
			slice = m.nextEventTime
		}
		remaining -= slice

		for _, ev := range m.events {
			ev.downcount -= slice
			ev.timeSinceLastRun += slice
		}

		for len(m.events) > 0 && m.events[0].downcount <= 0 {
			ev := m.events[0]
			timeLate := -ev.downcount
			heap.Pop(&m.events)

			cyclesToExecute := CycleCount((ev.timeSinceLastRun - timeLate) / ev.cyclePeriod)
			cyclesLate := CycleCount(timeLate / ev.cyclePeriod)

			ev.downcount += ev.cyclePeriod * SimulationTime(ev.interval)
			ev.timeSinceLastRun -= SimulationTime(cyclesToExecute) * ev.cyclePeriod

			ev.callback(ev, cyclesToExecute, cyclesLate)

			if m.needsSort {
				ev.heapIndex = len(m.events)
				m.events = append(m.events, ev)
				heap.Init(&m.events)
				m.needsSort = false
			} else {
				heap.Push(&m.events, ev)
			}
		}

		m.updateNextEventTime()
	}

	m.runningEvents = false
}
