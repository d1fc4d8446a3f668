// Package timing implements the virtual clock that coordinates CPU
// instruction retirement with device deadlines: a single Manager holding a
// min-heap of periodic Events ordered by ascending downcount.
package timing

// SimulationTime is a signed count of nanoseconds of emulated time. It may
// go negative transiently (an Event's downcount while late) but the
// manager's accumulators never do.
type SimulationTime int64

// CycleCount is a count of an Event's own cycles, as opposed to
// nanoseconds of wall/simulation time.
type CycleCount int64

// Callback is invoked when an Event fires. cycles is the number of the
// event's own cycles to execute now (already adjusted to defer any
// overrun to the next invocation); cyclesLate is purely informational and
// must not be used to change how much work the callback performs.
type Callback func(ev *Event, cycles, cyclesLate CycleCount)

// Event is a periodic deadline: a device (or the CPU's TSC) requests to be
// called back every Interval of its own cycles, each cycle CyclePeriod ns
// long. Events are owned by their creators and must be deactivated before
// being dropped; the Manager never outlives an active Event it doesn't
// know about.
type Event struct {
	manager *Manager
	name    string

	frequency   float64
	cyclePeriod SimulationTime
	interval    CycleCount

	downcount        SimulationTime
	timeSinceLastRun SimulationTime

	callback Callback
	active   bool

	// heapIndex is maintained by container/heap and used for O(log n)
	// removal of an arbitrary event (not just the root).
	heapIndex int
}

// NewEvent creates an event that fires every frequencyHz, interval cycles
// per firing. It is not yet active; call Activate (or pass active=true to
// NewFrequencyEvent) to arm it.
func NewEvent(manager *Manager, name string, frequencyHz float64, interval CycleCount, callback Callback) *Event {
	cyclePeriod := SimulationTime(1000000000.0 / frequencyHz)
	return &Event{
		manager:     manager,
		name:        name,
		frequency:   frequencyHz,
		cyclePeriod: cyclePeriod,
		interval:    interval,
		downcount:   cyclePeriod * SimulationTime(interval),
		callback:    callback,
		heapIndex:   -1,
	}
}

// NewFrequencyEvent creates and optionally activates an event in one call,
// mirroring TimingManager::CreateFrequencyEvent.
func NewFrequencyEvent(manager *Manager, name string, frequencyHz float64, callback Callback, active bool) *Event {
	ev := NewEvent(manager, name, frequencyHz, 1, callback)
	if active {
		ev.Activate()
	}
	return ev
}

// Name returns the event's diagnostic name.
func (ev *Event) Name() string { return ev.name }

// IsActive reports whether the event is currently registered with its manager.
func (ev *Event) IsActive() bool { return ev.active }

// Frequency returns the configured firing frequency in Hz.
func (ev *Event) Frequency() float64 { return ev.frequency }

// CyclePeriod returns the nanosecond duration of a single cycle.
func (ev *Event) CyclePeriod() SimulationTime { return ev.cyclePeriod }

// Interval returns the number of cycles between firings.
func (ev *Event) Interval() CycleCount { return ev.interval }

// Downcount returns nanoseconds until the event next fires. May be
// negative for an event the manager hasn't yet caught up to.
func (ev *Event) Downcount() SimulationTime { return ev.downcount }

// TimeSinceLastExecution includes the manager's currently pending,
// not-yet-distributed time, matching TimingEvent::GetTimeSinceLastExecution.
func (ev *Event) TimeSinceLastExecution() SimulationTime {
	return ev.manager.PendingTime() + ev.timeSinceLastRun
}

// CyclesSinceLastExecution divides TimeSinceLastExecution by the cycle period.
func (ev *Event) CyclesSinceLastExecution() CycleCount {
	return CycleCount(ev.TimeSinceLastExecution() / ev.cyclePeriod)
}

// Activate arms the event, scheduling its first firing Interval cycles
// from now. Pending (not-yet-distributed) manager time is folded in so
// that an event activated mid-slice still fires on the correct boundary.
func (ev *Event) Activate() {
	if ev.active {
		panic("timing: event already active")
	}
	ev.downcount = ev.cyclePeriod * SimulationTime(ev.interval)
	ev.timeSinceLastRun = 0
	ev.active = true

	pending := ev.manager.PendingTime()
	ev.downcount += pending
	ev.timeSinceLastRun -= pending

	ev.manager.addActiveEvent(ev)
}

// Queue sets the interval and activates in one call.
func (ev *Event) Queue(cycles CycleCount) {
	ev.interval = cycles
	ev.Activate()
}

// Deactivate removes the event from its manager. It will not fire again
// until reactivated.
func (ev *Event) Deactivate() {
	if !ev.active {
		return
	}
	ev.active = false
	ev.manager.removeActiveEvent(ev)
}

// SetActive is a convenience wrapper matching TimingEvent::SetActive.
func (ev *Event) SetActive(active bool) {
	if active {
		if !ev.active {
			ev.Activate()
		}
	} else {
		ev.Deactivate()
	}
}

// Reset rearms an already-active event to fire Interval cycles from now,
// discarding partial progress.
func (ev *Event) Reset() {
	if !ev.active {
		return
	}
	ev.downcount = SimulationTime(ev.interval) * ev.cyclePeriod
	ev.timeSinceLastRun = 0
	ev.manager.SortEvents()
}

// Reschedule changes the interval (in the event's own cycles) while
// preserving any partial-cycle progress already made toward the next
// firing. Only valid to call from within the event's own callback, or
// any other context where the manager isn't mid-RunEvents for a
// *different* reason than this event's own dispatch.
func (ev *Event) Reschedule(cycles CycleCount) {
	var partial SimulationTime
	if ev.downcount < 0 {
		partial = -ev.downcount
	} else {
		partial = ev.downcount % ev.cyclePeriod
	}
	ev.interval = cycles
	ev.downcount = SimulationTime(cycles)*ev.cyclePeriod - partial
	ev.manager.SortEvents()
}

// SetFrequency changes the firing frequency (and optionally the interval),
// preserving partial cycle progress by differencing the old and new cycle
// periods, matching TimingEvent::SetFrequency.
func (ev *Event) SetFrequency(newFrequencyHz float64, interval CycleCount) {
	newCyclePeriod := SimulationTime(1000000000.0 / newFrequencyHz)
	if ev.active {
		diff := newCyclePeriod - ev.cyclePeriod
		ev.downcount += diff
	}
	ev.frequency = newFrequencyHz
	ev.cyclePeriod = newCyclePeriod
	ev.interval = interval
}

// InvokeEarly services the event immediately using whatever time has
// accumulated toward it, folding in the manager's pending (undistributed)
// time. If force is false and fewer than one full cycle has accumulated,
// the callback is not invoked.
func (ev *Event) InvokeEarly(force bool) {
	if !ev.active {
		return
	}

	pending := ev.manager.PendingTime()
	ev.downcount -= pending
	ev.timeSinceLastRun += pending

	cyclesToExecute := CycleCount(ev.timeSinceLastRun / ev.cyclePeriod)
	partialTime := ev.timeSinceLastRun % ev.cyclePeriod
	ev.timeSinceLastRun -= SimulationTime(cyclesToExecute) * ev.cyclePeriod
	ev.downcount = SimulationTime(ev.interval)*ev.cyclePeriod - partialTime

	ev.downcount += pending
	ev.timeSinceLastRun -= pending

	ev.manager.SortEvents()

	if force || cyclesToExecute > 0 {
		ev.callback(ev, cyclesToExecute, 0)
	}
}
