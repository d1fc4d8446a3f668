package ia32

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// serializeVersion is incremented whenever the binary layout changes.
const serializeVersion = 1

// Serialize writes the full architectural CPU state per spec §6.3:
// pending cycles, TSC-bearing MSRs, EIP/ESP, every GP register, segment
// selectors, LDTR/TR, the x87 register file, current address/operand/
// stack sizes, descriptor-table pointers, all six segment caches, CPL,
// halted/IRQ/NMI line state, the TLB's contents, and the prefetch
// queue. The installed Float80Ops backend is not part of this state —
// callers reinstall it via SetFloat80Ops after Deserialize.
func (c *CPU) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	be := binary.BigEndian
	w := func(v any) { binary.Write(&buf, be, v) }

	buf.WriteByte(serializeVersion)

	w(c.pendingCycles)
	w(c.msrTSC)
	w(c.msrTR1)
	w(c.msrTR12)

	w(c.reg.EIP)
	for i := 0; i < 8; i++ {
		w(c.reg.GP[i])
	}
	w(c.reg.EFLAGS)
	w(c.reg.CR0)
	w(c.reg.CR2)
	w(c.reg.CR3)
	w(c.reg.CR4)
	for i := 0; i < 8; i++ {
		w(c.reg.DR[i])
	}
	for i := 0; i < 8; i++ {
		w(c.reg.TR[i])
	}
	w(c.reg.CPL)

	for i := range c.seg {
		s := &c.seg[i]
		w(s.Selector)
		w(s.Base)
		w(s.LimitLow)
		w(s.LimitHigh)
		w(segmentFlags(s))
		w(s.DPL)
		w(s.accessMask)
	}

	w(c.gdtr.Base)
	w(c.gdtr.Limit)
	w(c.idtr.Base)
	w(c.idtr.Limit)
	writeSystemSegment(w, c.ldtr)
	writeSystemSegment(w, c.tr)

	w(c.fpu.CW)
	w(c.fpu.SW)
	w(c.fpu.TW)
	for i := range c.fpu.ST {
		buf.Write(c.fpu.ST[i][:])
	}

	w(c.addressSize32)
	w(c.operandSize32)
	w(c.stackSize32)
	w(c.eipMask)

	w(c.halted)
	w(c.irqLine)
	w(c.nmiLine)
	w(c.nmiLatched)
	w(int32(c.currentException))
	w(c.exceptionInProgress)
	w(c.hadDoubleFault)
	w(c.espSnapshot)
	w(c.inhibitTrapFlag)
	w(c.trapAfterInstruction)

	serializeTLB(&buf, &c.tlb)
	serializePrefetch(&buf, &c.prefetch)

	return buf.Bytes(), nil
}

func segmentFlags(s *SegmentCache) uint8 {
	var flags uint8
	if s.Present {
		flags |= 1 << 0
	}
	if s.Executable {
		flags |= 1 << 1
	}
	if s.Readable {
		flags |= 1 << 2
	}
	if s.Writable {
		flags |= 1 << 3
	}
	if s.Conforming {
		flags |= 1 << 4
	}
	if s.ExpandDown {
		flags |= 1 << 5
	}
	if s.Default32 {
		flags |= 1 << 6
	}
	return flags
}

func writeSystemSegment(w func(any), s SystemSegmentCache) {
	w(s.Selector)
	w(s.Base)
	w(s.Limit)
	w(s.Is32Bit)
	w(s.Busy)
	w(s.Valid)
}

func serializeTLB(buf *bytes.Buffer, t *TLB) {
	be := binary.BigEndian
	var hdr [2]byte
	be.PutUint16(hdr[:], t.generation)
	buf.Write(hdr[:])

	type rec struct {
		user, access int
		set          int
		e            tlbEntry
	}
	var live []rec
	for u := range t.entries {
		for a := range t.entries[u] {
			for s := range t.entries[u][a] {
				e := t.entries[u][a][s]
				if e.valid && e.generation == t.generation {
					live = append(live, rec{u, a, s, e})
				}
			}
		}
	}
	var count [4]byte
	be.PutUint32(count[:], uint32(len(live)))
	buf.Write(count[:])
	for _, r := range live {
		var b [14]byte
		b[0] = byte(r.user)
		b[1] = byte(r.access)
		be.PutUint16(b[2:], uint16(r.set))
		be.PutUint32(b[4:], r.e.pageNumber)
		be.PutUint32(b[8:], r.e.physical)
		be.PutUint16(b[12:], r.e.generation)
		buf.Write(b[:])
	}
}

func serializePrefetch(buf *bytes.Buffer, q *PrefetchQueue) {
	be := binary.BigEndian
	var hdr [9]byte
	be.PutUint32(hdr[0:], q.base)
	be.PutUint32(hdr[4:], uint32(q.len))
	if q.valid {
		hdr[8] = 1
	}
	buf.Write(hdr[:])
	buf.Write(q.data[:])
}

// Deserialize restores state written by Serialize. The bus and the
// installed Float80Ops are left untouched.
func (c *CPU) Deserialize(data []byte) error {
	r := bytes.NewReader(data)
	be := binary.BigEndian
	read := func(v any) error { return binary.Read(r, be, v) }

	version, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("ia32: deserialize: %w", err)
	}
	if version != serializeVersion {
		return fmt.Errorf("ia32: unsupported serialize version %d", version)
	}

	if err := read(&c.pendingCycles); err != nil {
		return err
	}
	if err := read(&c.msrTSC); err != nil {
		return err
	}
	if err := read(&c.msrTR1); err != nil {
		return err
	}
	if err := read(&c.msrTR12); err != nil {
		return err
	}

	if err := read(&c.reg.EIP); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		if err := read(&c.reg.GP[i]); err != nil {
			return err
		}
	}
	for _, p := range []*uint32{&c.reg.EFLAGS, &c.reg.CR0, &c.reg.CR2, &c.reg.CR3, &c.reg.CR4} {
		if err := read(p); err != nil {
			return err
		}
	}
	for i := 0; i < 8; i++ {
		if err := read(&c.reg.DR[i]); err != nil {
			return err
		}
	}
	for i := 0; i < 8; i++ {
		if err := read(&c.reg.TR[i]); err != nil {
			return err
		}
	}
	if err := read(&c.reg.CPL); err != nil {
		return err
	}

	for i := range c.seg {
		s := &c.seg[i]
		if err := read(&s.Selector); err != nil {
			return err
		}
		if err := read(&s.Base); err != nil {
			return err
		}
		if err := read(&s.LimitLow); err != nil {
			return err
		}
		if err := read(&s.LimitHigh); err != nil {
			return err
		}
		var flags uint8
		if err := read(&flags); err != nil {
			return err
		}
		s.Present = flags&(1<<0) != 0
		s.Executable = flags&(1<<1) != 0
		s.Readable = flags&(1<<2) != 0
		s.Writable = flags&(1<<3) != 0
		s.Conforming = flags&(1<<4) != 0
		s.ExpandDown = flags&(1<<5) != 0
		s.Default32 = flags&(1<<6) != 0
		if err := read(&s.DPL); err != nil {
			return err
		}
		if err := read(&s.accessMask); err != nil {
			return err
		}
	}

	for _, p := range []*uint32{&c.gdtr.Base, &c.gdtr.Limit, &c.idtr.Base, &c.idtr.Limit} {
		if err := read(p); err != nil {
			return err
		}
	}
	if err := readSystemSegment(read, &c.ldtr); err != nil {
		return err
	}
	if err := readSystemSegment(read, &c.tr); err != nil {
		return err
	}

	if err := read(&c.fpu.CW); err != nil {
		return err
	}
	if err := read(&c.fpu.SW); err != nil {
		return err
	}
	if err := read(&c.fpu.TW); err != nil {
		return err
	}
	for i := range c.fpu.ST {
		if _, err := r.Read(c.fpu.ST[i][:]); err != nil {
			return err
		}
	}

	if err := read(&c.addressSize32); err != nil {
		return err
	}
	if err := read(&c.operandSize32); err != nil {
		return err
	}
	if err := read(&c.stackSize32); err != nil {
		return err
	}
	if err := read(&c.eipMask); err != nil {
		return err
	}

	if err := read(&c.halted); err != nil {
		return err
	}
	if err := read(&c.irqLine); err != nil {
		return err
	}
	if err := read(&c.nmiLine); err != nil {
		return err
	}
	if err := read(&c.nmiLatched); err != nil {
		return err
	}
	var curExc int32
	if err := read(&curExc); err != nil {
		return err
	}
	c.currentException = int(curExc)
	if err := read(&c.exceptionInProgress); err != nil {
		return err
	}
	if err := read(&c.hadDoubleFault); err != nil {
		return err
	}
	if err := read(&c.espSnapshot); err != nil {
		return err
	}
	if err := read(&c.inhibitTrapFlag); err != nil {
		return err
	}
	if err := read(&c.trapAfterInstruction); err != nil {
		return err
	}

	if err := deserializeTLB(r, &c.tlb); err != nil {
		return err
	}
	if err := deserializePrefetch(r, &c.prefetch); err != nil {
		return err
	}

	return nil
}

func readSystemSegment(read func(any) error, s *SystemSegmentCache) error {
	if err := read(&s.Selector); err != nil {
		return err
	}
	if err := read(&s.Base); err != nil {
		return err
	}
	if err := read(&s.Limit); err != nil {
		return err
	}
	if err := read(&s.Is32Bit); err != nil {
		return err
	}
	if err := read(&s.Busy); err != nil {
		return err
	}
	return read(&s.Valid)
}

func deserializeTLB(r *bytes.Reader, t *TLB) error {
	be := binary.BigEndian
	var hdr [2]byte
	if _, err := r.Read(hdr[:]); err != nil {
		return err
	}
	t.generation = be.Uint16(hdr[:])
	if t.generation == 0 {
		t.generation = 1
	}
	*t = TLB{generation: t.generation}

	var count [4]byte
	if _, err := r.Read(count[:]); err != nil {
		return err
	}
	n := be.Uint32(count[:])
	for i := uint32(0); i < n; i++ {
		var b [14]byte
		if _, err := r.Read(b[:]); err != nil {
			return err
		}
		user := int(b[0])
		access := int(b[1])
		set := be.Uint16(b[2:])
		e := tlbEntry{
			valid:      true,
			pageNumber: be.Uint32(b[4:]),
			physical:   be.Uint32(b[8:]),
			generation: be.Uint16(b[12:]),
		}
		t.entries[user][access][set] = e
	}
	return nil
}

func deserializePrefetch(r *bytes.Reader, q *PrefetchQueue) error {
	be := binary.BigEndian
	var hdr [9]byte
	if _, err := r.Read(hdr[:]); err != nil {
		return err
	}
	q.base = be.Uint32(hdr[0:])
	q.len = int(be.Uint32(hdr[4:]))
	q.valid = hdr[8] != 0
	_, err := r.Read(q.data[:])
	return err
}
