package timing

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Serialize writes pending_time, next_event_time, total_emulated_time,
// and every active event's (name, downcount, time_since_last_run), per
// spec §6.3. Events are matched back to the live set by name at load
// time rather than by position, since the set of registered events is
// assembled by the frontend before Deserialize runs.
func (m *Manager) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	be := binary.BigEndian

	var head [24]byte
	be.PutUint64(head[0:], uint64(m.pendingTime))
	be.PutUint64(head[8:], uint64(m.nextEventTime))
	be.PutUint64(head[16:], uint64(m.totalEmulatedTime))
	buf.Write(head[:])

	var count [4]byte
	be.PutUint32(count[:], uint32(len(m.events)))
	buf.Write(count[:])

	for _, ev := range m.events {
		var nameLen [2]byte
		be.PutUint16(nameLen[:], uint16(len(ev.name)))
		buf.Write(nameLen[:])
		buf.WriteString(ev.name)

		var rest [16]byte
		be.PutUint64(rest[0:], uint64(ev.downcount))
		be.PutUint64(rest[8:], uint64(ev.timeSinceLastRun))
		buf.Write(rest[:])
	}

	return buf.Bytes(), nil
}

// Deserialize restores the accumulators and, for each event named in the
// stream, its downcount and time_since_last_run onto the matching
// already-registered active event (looked up via FindActiveEvent).
// Events present in the stream but not found in the live set are
// discarded with a warning rather than treated as an error, per spec
// §6.3 — save states must tolerate a frontend that registers a
// different device set than the one that produced the save.
func (m *Manager) Deserialize(data []byte, warn func(string)) error {
	if len(data) < 28 {
		return fmt.Errorf("timing: serialize buffer too small")
	}
	be := binary.BigEndian
	off := 0

	m.pendingTime = SimulationTime(be.Uint64(data[off:]))
	off += 8
	m.nextEventTime = SimulationTime(be.Uint64(data[off:]))
	off += 8
	m.totalEmulatedTime = SimulationTime(be.Uint64(data[off:]))
	off += 8

	count := int(be.Uint32(data[off:]))
	off += 4

	for i := 0; i < count; i++ {
		if off+2 > len(data) {
			return fmt.Errorf("timing: truncated event name length")
		}
		nameLen := int(be.Uint16(data[off:]))
		off += 2
		if off+nameLen+16 > len(data) {
			return fmt.Errorf("timing: truncated event record")
		}
		name := string(data[off : off+nameLen])
		off += nameLen
		downcount := SimulationTime(be.Uint64(data[off:]))
		timeSinceLastRun := SimulationTime(be.Uint64(data[off+8:]))
		off += 16

		ev := m.FindActiveEvent(name)
		if ev == nil {
			if warn != nil {
				warn(fmt.Sprintf("timing: discarding unmatched event %q from save state", name))
			}
			continue
		}
		ev.downcount = downcount
		ev.timeSinceLastRun = timeSinceLastRun
	}
	m.SortEvents()
	return nil
}
