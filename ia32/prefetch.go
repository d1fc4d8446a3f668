package ia32

// prefetchQueueSize matches the 386/486's 16-byte queue rounded up to the
// 32-byte cache-line granularity most emulators use for the backing
// buffer; the fetch window never exceeds the architectural 16 bytes.
const prefetchQueueSize = 32

// PrefetchQueue models the fetch-ahead buffer spec §3.1 calls out:
// consumers pull bytes through Fetch, which refills transparently from
// the bus on exhaustion, and any control transfer calls Flush to discard
// stale bytes fetched from the old code stream.
type PrefetchQueue struct {
	base  uint32 // physical address corresponding to data[0]
	len   int
	valid bool
	data  [prefetchQueueSize]byte
}

// Flush discards all queued bytes, per every CS load and control transfer.
func (q *PrefetchQueue) Flush() {
	q.len = 0
	q.valid = false
}

// fill refills the queue starting at physical address phys, reading as
// many bytes as the bus will give back up to the buffer size.
func (q *PrefetchQueue) fill(bus Bus, phys uint32) {
	n := bus.ReadBlock(phys, q.data[:])
	q.base = phys
	q.len = n
	q.valid = n > 0
}

// Fetch returns n bytes starting at physical address phys, refilling the
// queue if phys isn't already covered by it. Used by the decoder, which
// always knows the physical address of the next opcode byte because
// cross-page fetches are resolved through translateLinear first.
func (q *PrefetchQueue) Fetch(bus Bus, phys uint32, n int) []byte {
	if !q.valid || phys < q.base || phys+uint32(n) > q.base+uint32(q.len) {
		q.fill(bus, phys)
	}
	if !q.valid || phys < q.base || phys+uint32(n) > q.base+uint32(q.len) {
		// Bus couldn't satisfy the whole run (e.g. short ROM mirror);
		// return what's available so the caller can detect truncation.
		avail := int(int64(q.base)+int64(q.len)-int64(phys))
		if avail < 0 {
			avail = 0
		}
		if avail > n {
			avail = n
		}
		return q.data[phys-q.base : phys-q.base+uint32(avail)]
	}
	off := phys - q.base
	return q.data[off : off+uint32(n)]
}
