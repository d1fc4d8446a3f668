package ia32

// TSS layout offsets (32-bit TSS, spec §4.6's "nine images"). The 16-bit
// TSS uses a different, narrower layout; both are handled by
// readTSSImage/writeTSSImage below.
const (
	tss32Back  = 0x00
	tss32ESP0  = 0x04
	tss32SS0   = 0x08
	tss32ESP1  = 0x0C
	tss32SS1   = 0x10
	tss32ESP2  = 0x14
	tss32SS2   = 0x18
	tss32CR3   = 0x1C
	tss32EIP   = 0x20
	tss32EFLAGS = 0x24
	tss32EAX   = 0x28
	tss32ECX   = 0x2C
	tss32EDX   = 0x30
	tss32EBX   = 0x34
	tss32ESP   = 0x38
	tss32EBP   = 0x3C
	tss32ESI   = 0x40
	tss32EDI   = 0x44
	tss32ES    = 0x48
	tss32CS    = 0x4C
	tss32SS    = 0x50
	tss32DS    = 0x54
	tss32FS    = 0x58
	tss32GS    = 0x5C
	tss32LDT   = 0x60
	tss32Limit = 0x67 // minimum limit for a 32-bit TSS (no I/O bitmap)

	tss16Back  = 0x00
	tss16SP0   = 0x02
	tss16SS0   = 0x04
	tss16SP1   = 0x06
	tss16SS1   = 0x08
	tss16SP2   = 0x0A
	tss16SS2   = 0x0C
	tss16IP    = 0x0E
	tss16FLAGS = 0x10
	tss16AX    = 0x12
	tss16CX    = 0x14
	tss16DX    = 0x16
	tss16BX    = 0x18
	tss16SP    = 0x1A
	tss16BP    = 0x1C
	tss16SI    = 0x1E
	tss16DI    = 0x20
	tss16ES    = 0x22
	tss16CS    = 0x24
	tss16SS    = 0x26
	tss16DS    = 0x28
	tss16LDT   = 0x2A
	tss16Limit = 0x2B
)

// fetchStackPointerForCPL reads SSn:ESPn (or SPn for a 16-bit TSS) from
// the current task's TSS, used by both the privilege-raising interrupt
// path and far_call through a gate.
func (c *CPU) fetchStackPointerForCPL(cpl uint8) (ss uint16, esp uint32, ok bool) {
	if !c.tr.Valid {
		return 0, 0, false
	}
	base := c.tr.Base
	if c.tr.Is32Bit {
		var espOff, ssOff uint32
		switch cpl {
		case 0:
			espOff, ssOff = tss32ESP0, tss32SS0
		case 1:
			espOff, ssOff = tss32ESP1, tss32SS1
		case 2:
			espOff, ssOff = tss32ESP2, tss32SS2
		default:
			return 0, 0, false
		}
		if ssOff+1 > c.tr.Limit {
			return 0, 0, false
		}
		return uint16(c.bus.ReadDWord(base + ssOff)), c.bus.ReadDWord(base + espOff), true
	}
	var spOff, ssOff uint32
	switch cpl {
	case 0:
		spOff, ssOff = tss16SP0, tss16SS0
	case 1:
		spOff, ssOff = tss16SP1, tss16SS1
	case 2:
		spOff, ssOff = tss16SP2, tss16SS2
	default:
		return 0, 0, false
	}
	if ssOff+1 > c.tr.Limit {
		return 0, 0, false
	}
	return c.bus.ReadWord(base + ssOff), uint32(c.bus.ReadWord(base + spOff)), true
}

// taskSnapshot is the CPU-visible subset of the nine TSS images, read or
// written verbatim depending on direction.
type taskSnapshot struct {
	cr3                                    uint32
	eip, eflags                            uint32
	eax, ecx, edx, ebx, esp, ebp, esi, edi  uint32
	es, cs, ss, ds, fs, gs, ldt             uint16
}

func (c *CPU) readTSSImage(base uint32, is32 bool) taskSnapshot {
	var t taskSnapshot
	if is32 {
		t.cr3 = c.bus.ReadDWord(base + tss32CR3)
		t.eip = c.bus.ReadDWord(base + tss32EIP)
		t.eflags = c.bus.ReadDWord(base + tss32EFLAGS)
		t.eax = c.bus.ReadDWord(base + tss32EAX)
		t.ecx = c.bus.ReadDWord(base + tss32ECX)
		t.edx = c.bus.ReadDWord(base + tss32EDX)
		t.ebx = c.bus.ReadDWord(base + tss32EBX)
		t.esp = c.bus.ReadDWord(base + tss32ESP)
		t.ebp = c.bus.ReadDWord(base + tss32EBP)
		t.esi = c.bus.ReadDWord(base + tss32ESI)
		t.edi = c.bus.ReadDWord(base + tss32EDI)
		t.es = c.bus.ReadWord(base + tss32ES)
		t.cs = c.bus.ReadWord(base + tss32CS)
		t.ss = c.bus.ReadWord(base + tss32SS)
		t.ds = c.bus.ReadWord(base + tss32DS)
		t.fs = c.bus.ReadWord(base + tss32FS)
		t.gs = c.bus.ReadWord(base + tss32GS)
		t.ldt = c.bus.ReadWord(base + tss32LDT)
		return t
	}
	t.eip = uint32(c.bus.ReadWord(base + tss16IP))
	t.eflags = uint32(c.bus.ReadWord(base + tss16FLAGS))
	t.eax = uint32(c.bus.ReadWord(base + tss16AX))
	t.ecx = uint32(c.bus.ReadWord(base + tss16CX))
	t.edx = uint32(c.bus.ReadWord(base + tss16DX))
	t.ebx = uint32(c.bus.ReadWord(base + tss16BX))
	t.esp = uint32(c.bus.ReadWord(base + tss16SP))
	t.ebp = uint32(c.bus.ReadWord(base + tss16BP))
	t.esi = uint32(c.bus.ReadWord(base + tss16SI))
	t.edi = uint32(c.bus.ReadWord(base + tss16DI))
	t.es = c.bus.ReadWord(base + tss16ES)
	t.cs = c.bus.ReadWord(base + tss16CS)
	t.ss = c.bus.ReadWord(base + tss16SS)
	t.ds = c.bus.ReadWord(base + tss16DS)
	t.ldt = c.bus.ReadWord(base + tss16LDT)
	return t
}

func (c *CPU) writeTSSImage(base uint32, is32 bool, t taskSnapshot) {
	if is32 {
		c.bus.WriteDWord(base+tss32EIP, t.eip)
		c.bus.WriteDWord(base+tss32EFLAGS, t.eflags)
		c.bus.WriteDWord(base+tss32EAX, t.eax)
		c.bus.WriteDWord(base+tss32ECX, t.ecx)
		c.bus.WriteDWord(base+tss32EDX, t.edx)
		c.bus.WriteDWord(base+tss32EBX, t.ebx)
		c.bus.WriteDWord(base+tss32ESP, t.esp)
		c.bus.WriteDWord(base+tss32EBP, t.ebp)
		c.bus.WriteDWord(base+tss32ESI, t.esi)
		c.bus.WriteDWord(base+tss32EDI, t.edi)
		c.bus.WriteWord(base+tss32ES, t.es)
		c.bus.WriteWord(base+tss32CS, t.cs)
		c.bus.WriteWord(base+tss32SS, t.ss)
		c.bus.WriteWord(base+tss32DS, t.ds)
		c.bus.WriteWord(base+tss32FS, t.fs)
		c.bus.WriteWord(base+tss32GS, t.gs)
		return
	}
	c.bus.WriteWord(base+tss16IP, uint16(t.eip))
	c.bus.WriteWord(base+tss16FLAGS, uint16(t.eflags))
	c.bus.WriteWord(base+tss16AX, uint16(t.eax))
	c.bus.WriteWord(base+tss16CX, uint16(t.ecx))
	c.bus.WriteWord(base+tss16DX, uint16(t.edx))
	c.bus.WriteWord(base+tss16BX, uint16(t.ebx))
	c.bus.WriteWord(base+tss16SP, uint16(t.esp))
	c.bus.WriteWord(base+tss16BP, uint16(t.ebp))
	c.bus.WriteWord(base+tss16SI, uint16(t.esi))
	c.bus.WriteWord(base+tss16DI, uint16(t.edi))
	c.bus.WriteWord(base+tss16ES, t.es)
	c.bus.WriteWord(base+tss16CS, t.cs)
	c.bus.WriteWord(base+tss16SS, t.ss)
	c.bus.WriteWord(base+tss16DS, t.ds)
}

// switchTaskViaGate performs a task switch through a task-gate descriptor
// (used by far_jump/far_call to a task gate, and by an IDT entry that is
// a task gate). isIRET additionally suppresses clearing the outgoing
// descriptor's busy bit and clears NT instead of setting it.
func (c *CPU) switchTaskViaGate(gate descriptor, isIRET bool) {
	tssSelector := uint16(gate.base & 0xFFFF)
	c.switchTask(tssSelector, isIRET, false, -1, 0)
}

// switchTask implements spec §4.6 verbatim, including the ordering
// required by property #8: selector/segment validation happens only
// *after* every register (including CR3) has already been loaded from
// the incoming TSS, so a validation failure is reported in the new
// task's context.
func (c *CPU) switchTask(newTSSSelector uint16, isIRET, nesting bool, errVec int, errCode uint32) {
	newDesc, ok := c.fetchDescriptor(newTSSSelector)
	if !ok {
		c.raiseFault(excGP, uint32(newTSSSelector)&0xFFF8)
		return
	}
	is32 := newDesc.typ == sysTypeTSS32Avail || newDesc.typ == sysTypeTSS32Busy
	busy := newDesc.typ == sysTypeTSS16Busy || newDesc.typ == sysTypeTSS32Busy
	if !isIRET && busy {
		c.raiseFault(excGP, uint32(newTSSSelector)&0xFFF8)
		return
	}
	minLimit := uint32(tss16Limit)
	if is32 {
		minLimit = tss32Limit
	}
	if newDesc.limit < minLimit {
		c.raiseFault(excTS, uint32(newTSSSelector)&0xFFF8)
		return
	}

	oldTR := c.tr

	outgoing := taskSnapshot{
		cr3: c.reg.CR3, eip: c.reg.EIP, eflags: c.Flags(),
		eax: c.reg.GP[RegEAX], ecx: c.reg.GP[RegECX], edx: c.reg.GP[RegEDX], ebx: c.reg.GP[RegEBX],
		esp: c.reg.GP[RegESP], ebp: c.reg.GP[RegEBP], esi: c.reg.GP[RegESI], edi: c.reg.GP[RegEDI],
		es: c.seg[SegES].Selector, cs: c.seg[SegCS].Selector, ss: c.seg[SegSS].Selector,
		ds: c.seg[SegDS].Selector, fs: c.seg[SegFS].Selector, gs: c.seg[SegGS].Selector,
		ldt: c.ldtr.Selector,
	}
	if oldTR.Valid {
		c.writeTSSImage(oldTR.Base, oldTR.Is32Bit, outgoing)
		if !isIRET {
			c.clearBusyBit(c.tr.Selector)
		}
	}

	incoming := c.readTSSImage(newDesc.base, is32)

	c.setBusyBit(newTSSSelector)

	c.reg.CR0 |= cr0TS
	if nesting {
		incoming.eflags |= uint32(flagNT)
		c.bus.WriteDWord(newDesc.base+tssBacklinkOffset(is32), uint32(oldTR.Selector))
	} else if isIRET {
		incoming.eflags &^= uint32(flagNT)
	}

	c.tr = SystemSegmentCache{Selector: newTSSSelector, Base: newDesc.base, Limit: newDesc.limit, Is32Bit: is32, Busy: true, Valid: true}

	c.reg.CR3 = incoming.cr3
	c.tlb.InvalidateAll()
	c.reg.EIP = incoming.eip
	c.SetFlags(incoming.eflags)
	c.reg.GP[RegEAX] = incoming.eax
	c.reg.GP[RegECX] = incoming.ecx
	c.reg.GP[RegEDX] = incoming.edx
	c.reg.GP[RegEBX] = incoming.ebx
	c.reg.GP[RegESP] = incoming.esp
	c.reg.GP[RegEBP] = incoming.ebp
	c.reg.GP[RegESI] = incoming.esi
	c.reg.GP[RegEDI] = incoming.edi

	c.ldtr = c.loadSystemSegmentRaw(incoming.ldt)

	c.seg[SegES] = segCacheRaw(incoming.es)
	c.seg[SegCS] = segCacheRaw(incoming.cs)
	c.seg[SegSS] = segCacheRaw(incoming.ss)
	c.seg[SegDS] = segCacheRaw(incoming.ds)
	c.seg[SegFS] = segCacheRaw(incoming.fs)
	c.seg[SegGS] = segCacheRaw(incoming.gs)

	c.validateTaskState(errVec, errCode)
}

func tssBacklinkOffset(is32 bool) uint32 {
	if is32 {
		return tss32Back
	}
	return tss16Back
}

// segCacheRaw installs a placeholder segment cache carrying only the
// selector, to be replaced by validateTaskState's real load_segment call.
func segCacheRaw(selector uint16) SegmentCache { return SegmentCache{Selector: selector} }

// loadSystemSegmentRaw fetches the LDT descriptor for selector without
// raising on failure; validateTaskState checks .Valid itself.
func (c *CPU) loadSystemSegmentRaw(selector uint16) SystemSegmentCache {
	if selector&0xFFFC == 0 {
		return SystemSegmentCache{}
	}
	d, ok := c.fetchDescriptor(selector)
	if !ok || d.s || d.typ != sysTypeLDT {
		return SystemSegmentCache{}
	}
	return SystemSegmentCache{Selector: selector, Base: d.base, Limit: d.limit, Valid: true}
}

func (c *CPU) setBusyBit(selector uint16) { c.setSystemSegmentBusy(selector, true) }
func (c *CPU) clearBusyBit(selector uint16) { c.setSystemSegmentBusy(selector, false) }

func (c *CPU) setSystemSegmentBusy(selector uint16, busy bool) {
	if selector&0xFFFC == 0 {
		return
	}
	index := uint32(selector) >> 3
	var base uint32
	if selector&4 != 0 {
		base = c.ldtr.Base
	} else {
		base = c.gdtr.Base
	}
	addr := base + index*8 + 5
	b := c.bus.ReadByte(addr)
	if busy {
		c.bus.WriteByte(addr, b|0x02)
	} else {
		c.bus.WriteByte(addr, b&^0x02)
	}
}

// validateTaskState implements the post-reload validation pass from spec
// §4.6: performed entirely in the new task's context so a failure's
// exception frame is built on the new stack (property #8).
func (c *CPU) validateTaskState(errVec int, errCode uint32) {
	if c.ldtr.Selector&0xFFFC != 0 && !c.ldtr.Valid {
		c.raiseFault(excTS, uint32(c.ldtr.Selector)&0xFFF8)
		return
	}

	if !c.inV8086Mode() {
		csSel := c.seg[SegCS].Selector
		csDesc, ok := c.fetchDescriptor(csSel)
		if !ok || !csDesc.s || csDesc.typ&typeExecutable == 0 || !csDesc.present {
			c.raiseFault(excTS, uint32(csSel)&0xFFF8)
			return
		}
		conforming := csDesc.typ&typeConforming != 0
		rpl := uint8(csSel & 3)
		if !conforming && rpl != csDesc.dpl {
			c.raiseFault(excTS, uint32(csSel)&0xFFF8)
			return
		}

		ssSel := c.seg[SegSS].Selector
		ssDesc, ok := c.fetchDescriptor(ssSel)
		if !ok || !ssDesc.s || ssDesc.typ&typeExecutable != 0 || ssDesc.typ&typeWritable == 0 || !ssDesc.present {
			c.raiseFault(excTS, uint32(ssSel)&0xFFF8)
			return
		}
		if ssDesc.dpl != uint8(csSel&3) {
			c.raiseFault(excTS, uint32(ssSel)&0xFFF8)
			return
		}
		c.reg.CPL = uint32(csDesc.dpl)
		if conforming {
			c.reg.CPL = uint32(rpl)
		}

		for _, reg := range []int{SegDS, SegES, SegFS, SegGS} {
			sel := c.seg[reg].Selector
			if sel&0xFFFC == 0 {
				continue
			}
			d, ok := c.fetchDescriptor(sel)
			isCode := ok && d.s && d.typ&typeExecutable != 0
			readable := !isCode || d.typ&typeReadable != 0
			if !ok || !d.s || !readable {
				c.seg[reg] = SegmentCache{}
				continue
			}
			conf := isCode && d.typ&typeConforming != 0
			if !conf && d.dpl < uint8(c.cpl()) {
				c.seg[reg] = SegmentCache{}
				continue
			}
			c.LoadSegment(reg, sel)
		}

		c.LoadSegment(SegCS, csSel)
		c.LoadSegment(SegSS, ssSel)
	}

	if errVec >= 0 {
		c.raiseException(errVec, errCode, false)
	}
}
