package ia32

// FarJump implements spec §4.5's far_jump: load a new CS:EIP, dispatching
// on the target descriptor's type exactly as described (non-conforming
// code, conforming code, call gate, task gate, task segment).
func (c *CPU) FarJump(selector uint16, offset uint32) {
	if selector&0xFFFC == 0 {
		c.raiseFault(excGP, 0)
		return
	}
	d, ok := c.fetchDescriptor(selector)
	if !ok {
		c.raiseFault(excGP, uint32(selector)&0xFFF8)
		return
	}

	switch {
	case d.s && d.typ&typeExecutable != 0:
		if !c.checkCodeSegmentPrivilege(d, selector) {
			return
		}
		if !d.present {
			c.raiseFault(excNP, uint32(selector)&0xFFF8)
			return
		}
		c.LoadSegment(SegCS, selector)
		c.reg.EIP = offset

	case !d.s && (d.typ == sysTypeCallGate16 || d.typ == sysTypeCallGate32):
		if uint8(selector&3) > c.cpl() || d.dpl < c.cpl() {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return
		}
		if !d.present {
			c.raiseFault(excNP, uint32(selector)&0xFFF8)
			return
		}
		c.jumpThroughGate(d)

	case !d.s && d.typ == sysTypeTaskGate:
		c.switchTaskViaGate(d, false)

	case !d.s && (d.typ == sysTypeTSS16Avail || d.typ == sysTypeTSS32Avail):
		c.switchTask(selector, false, false, -1, 0)

	default:
		c.raiseFault(excGP, uint32(selector)&0xFFF8)
	}
}

func (c *CPU) checkCodeSegmentPrivilege(d descriptor, selector uint16) bool {
	rpl := uint8(selector & 3)
	conforming := d.typ&typeConforming != 0
	if conforming {
		if d.dpl > c.cpl() {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return false
		}
	} else {
		if rpl > c.cpl() || d.dpl != c.cpl() {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return false
		}
	}
	return true
}

func (c *CPU) jumpThroughGate(gate descriptor) {
	sel, offset := decodeGateTarget(gate)
	target, ok := c.fetchDescriptor(sel)
	if !ok || !target.s || target.typ&typeExecutable == 0 {
		c.raiseFault(excGP, uint32(sel)&0xFFF8)
		return
	}
	if !c.checkCodeSegmentPrivilege(target, sel) {
		return
	}
	if !target.present {
		c.raiseFault(excNP, uint32(sel)&0xFFF8)
		return
	}
	c.LoadSegment(SegCS, sel)
	c.reg.EIP = offset
}

// FarCall implements far_call: like FarJump, but a simple code-segment
// target additionally pushes the return CS:EIP, and a call-gate target
// may switch to an inner stack and copy parameters.
func (c *CPU) FarCall(selector uint16, offset uint32, is32Operand bool) {
	if selector&0xFFFC == 0 {
		c.raiseFault(excGP, 0)
		return
	}
	d, ok := c.fetchDescriptor(selector)
	if !ok {
		c.raiseFault(excGP, uint32(selector)&0xFFF8)
		return
	}

	switch {
	case d.s && d.typ&typeExecutable != 0:
		if !c.checkCodeSegmentPrivilege(d, selector) {
			return
		}
		if !d.present {
			c.raiseFault(excNP, uint32(selector)&0xFFF8)
			return
		}
		oldCS := c.seg[SegCS].Selector
		oldEIP := c.reg.EIP
		if is32Operand {
			c.push32(uint32(oldCS))
			c.push32(oldEIP)
		} else {
			c.push16(oldCS)
			c.push16(uint16(oldEIP))
		}
		c.LoadSegment(SegCS, selector)
		c.reg.EIP = offset

	case !d.s && (d.typ == sysTypeCallGate16 || d.typ == sysTypeCallGate32):
		if uint8(selector&3) > c.cpl() || d.dpl < c.cpl() {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return
		}
		if !d.present {
			c.raiseFault(excNP, uint32(selector)&0xFFF8)
			return
		}
		c.callThroughGate(d)

	case !d.s && d.typ == sysTypeTaskGate:
		c.switchTaskViaGate(d, false)

	case !d.s && (d.typ == sysTypeTSS16Avail || d.typ == sysTypeTSS32Avail):
		c.switchTask(selector, false, true, -1, 0)

	default:
		c.raiseFault(excGP, uint32(selector)&0xFFF8)
	}
}

// callThroughGate implements the gate-traversal case of far_call: a
// privilege-raising call switches to the inner stack named by the TSS,
// pushes the outer SS:ESP, copies the gate's parameter count words/
// dwords from the outer stack onto the inner one, then pushes the
// return CS:EIP (spec §4.5).
func (c *CPU) callThroughGate(gate descriptor) {
	sel, offset := decodeGateTarget(gate)
	is32 := gate.typ == sysTypeCallGate32

	target, ok := c.fetchDescriptor(sel)
	if !ok || !target.s || target.typ&typeExecutable == 0 {
		c.raiseFault(excGP, uint32(sel)&0xFFF8)
		return
	}
	if target.dpl > c.cpl() {
		c.raiseFault(excGP, uint32(sel)&0xFFF8)
		return
	}
	if !target.present {
		c.raiseFault(excNP, uint32(sel)&0xFFF8)
		return
	}

	conforming := target.typ&typeConforming != 0
	newCPL := target.dpl
	if conforming {
		newCPL = c.cpl()
	}

	if newCPL < c.cpl() {
		newSS, newESP, ok := c.fetchStackPointerForCPL(newCPL)
		if !ok {
			c.raiseFault(excTS, 0)
			return
		}
		oldSS := c.seg[SegSS].Selector
		oldSSBase := c.seg[SegSS].Base
		oldESP := c.reg.GP[RegESP]
		oldCS := c.seg[SegCS].Selector
		oldEIP := c.reg.EIP
		paramCount := int(gateParamCount(gate))

		c.reg.CPL = uint32(newCPL)
		if !c.LoadSegment(SegSS, newSS) {
			return
		}
		c.reg.GP[RegESP] = newESP

		if is32 {
			c.push32(uint32(oldSS))
			c.push32(oldESP)
			for i := paramCount - 1; i >= 0; i-- {
				c.push32(c.bus.ReadDWord(oldSSBase + oldESP + uint32(i)*4))
			}
			c.push32(uint32(oldCS))
			c.push32(oldEIP)
		} else {
			c.push16(oldSS)
			c.push16(uint16(oldESP))
			for i := paramCount - 1; i >= 0; i-- {
				c.push16(c.bus.ReadWord(oldSSBase + oldESP + uint32(i)*2))
			}
			c.push16(oldCS)
			c.push16(uint16(oldEIP))
		}
	} else {
		oldCS := c.seg[SegCS].Selector
		oldEIP := c.reg.EIP
		if is32 {
			c.push32(uint32(oldCS))
			c.push32(oldEIP)
		} else {
			c.push16(oldCS)
			c.push16(uint16(oldEIP))
		}
	}

	c.LoadSegment(SegCS, sel)
	c.reg.EIP = offset
}

// FarReturn implements far_return (RETF): pop CS:EIP, and if this returns
// to an outer privilege level, additionally pop SS:ESP and null out any
// data-segment register whose cached DPL is now inaccessible.
func (c *CPU) FarReturn(is32Operand bool, immediate uint16) {
	var eip uint32
	var cs uint16
	if is32Operand {
		eip = c.pop32()
		cs = uint16(c.pop32())
	} else {
		eip = uint32(c.pop16())
		cs = c.pop16()
	}

	rpl := uint8(cs & 3)
	if !c.inProtectedMode() || c.inV8086Mode() {
		c.reg.GP[RegESP] += uint32(immediate)
		c.loadSegmentReal(SegCS, cs)
		c.reg.EIP = eip
		return
	}

	if uint8(rpl) < c.cpl() {
		c.raiseFault(excGP, uint32(cs)&0xFFF8)
		return
	}

	sameLevel := rpl == c.cpl()
	c.LoadSegment(SegCS, cs)
	c.reg.EIP = eip
	c.reg.GP[RegESP] += uint32(immediate)

	if !sameLevel {
		var newSS uint16
		var newESP uint32
		if is32Operand {
			newESP = c.pop32()
			newSS = uint16(c.pop32())
		} else {
			newESP = uint32(c.pop16())
			newSS = c.pop16()
		}
		c.LoadSegment(SegSS, newSS)
		c.reg.GP[RegESP] = newESP + uint32(immediate)

		for _, reg := range []int{SegDS, SegES, SegFS, SegGS} {
			s := &c.seg[reg]
			if s.Selector&0xFFFC == 0 {
				continue
			}
			if s.DPL < c.cpl() && !(s.Executable && s.Conforming) {
				*s = SegmentCache{}
			}
		}
	}
}

func (c *CPU) pop16() uint16 {
	var v uint16
	if c.stackSize32 {
		v = c.bus.ReadWord(c.seg[SegSS].Base + c.reg.GP[RegESP])
		c.reg.GP[RegESP] += 2
	} else {
		sp := uint16(c.reg.GP[RegESP])
		v = c.bus.ReadWord(c.seg[SegSS].Base + uint32(sp))
		c.reg.GP[RegESP] = (c.reg.GP[RegESP] &^ 0xFFFF) | uint32(sp+2)
	}
	return v
}

func (c *CPU) pop32() uint32 {
	var v uint32
	if c.stackSize32 {
		v = c.bus.ReadDWord(c.seg[SegSS].Base + c.reg.GP[RegESP])
		c.reg.GP[RegESP] += 4
	} else {
		sp := uint16(c.reg.GP[RegESP])
		v = c.bus.ReadDWord(c.seg[SegSS].Base + uint32(sp))
		c.reg.GP[RegESP] = (c.reg.GP[RegESP] &^ 0xFFFF) | uint32(sp+4)
	}
	return v
}

// InterruptReturn implements IRET's six sub-cases (spec §4.5): real mode;
// V8086 with IOPL<3 and VME off (#GP); V8086 with VME on; nested-task
// return via EFLAGS.NT; return to V8086; return to an outer CPL.
func (c *CPU) InterruptReturn(is32Operand bool) {
	if c.flagIsSet(flagNT) {
		if !c.tr.Valid {
			c.raiseFault(excTS, 0)
			return
		}
		backlink := c.bus.ReadWord(c.tr.Base + tssBacklinkOffset(c.tr.Is32Bit))
		c.switchTask(backlink, true, false, -1, 0)
		return
	}

	if !c.inProtectedMode() {
		c.iretReal(is32Operand)
		return
	}
	if c.inV8086Mode() {
		c.iretV8086(is32Operand)
		return
	}

	var eip, eflags uint32
	var cs uint16
	if is32Operand {
		eip = c.pop32()
		cs = uint16(c.pop32())
		eflags = c.pop32()
	} else {
		eip = uint32(c.pop16())
		cs = c.pop16()
		eflags = uint32(c.pop16())
	}

	rpl := uint8(cs & 3)

	if eflags&flagVM != 0 && c.cpl() == 0 && is32Operand {
		c.reg.EIP = eip
		c.SetFlags(eflags)
		c.enterV8086(cs, eip, eflags)
		return
	}

	if rpl < c.cpl() {
		c.raiseFault(excGP, uint32(cs)&0xFFF8)
		return
	}

	sameLevel := rpl == c.cpl()
	c.reg.EIP = eip
	c.SetFlags(eflags)
	c.LoadSegment(SegCS, cs)

	if !sameLevel {
		var newSS uint16
		var newESP uint32
		if is32Operand {
			newESP = c.pop32()
			newSS = uint16(c.pop32())
		} else {
			newESP = uint32(c.pop16())
			newSS = c.pop16()
		}
		c.LoadSegment(SegSS, newSS)
		c.reg.GP[RegESP] = newESP

		for _, reg := range []int{SegDS, SegES, SegFS, SegGS} {
			s := &c.seg[reg]
			if s.Selector&0xFFFC == 0 {
				continue
			}
			if s.DPL < c.cpl() && !(s.Executable && s.Conforming) {
				*s = SegmentCache{}
			}
		}
	}
}

func (c *CPU) iretReal(is32Operand bool) {
	ip := c.pop16()
	cs := c.pop16()
	flags := c.pop16()
	c.SetFlags(uint32(flags))
	c.loadSegmentReal(SegCS, cs)
	c.reg.EIP = uint32(ip)
}

// iretV8086 implements the V8086-internal IRET (CPL already 3, VM stays
// set): with IOPL<3 and VME off this must #GP per spec §4.5; with VME on
// it maps VIF/IF per the redirection rules (simplified to the common
// non-virtualised interrupt flag handling).
func (c *CPU) iretV8086(is32Operand bool) {
	iopl := (c.Flags() & flagIOPL) >> 12
	if iopl < 3 && c.reg.CR4&cr4VME == 0 {
		c.raiseFault(excGP, 0)
		return
	}
	ip := c.pop16()
	cs := c.pop16()
	flags := uint32(c.pop16())
	c.SetFlags(flags)
	c.loadSegmentReal(SegCS, cs)
	c.reg.EIP = uint32(ip)
}

// enterV8086 reloads the four V8086 data segments from the extended
// stack frame IRET pushed when returning to V8086 mode (the frame
// includes ES/DS/FS/GS after SS/ESP, per the SDM).
func (c *CPU) enterV8086(cs uint16, eip uint32, eflags uint32) {
	esp := c.pop32()
	ss := uint16(c.pop32())
	es := uint16(c.pop32())
	ds := uint16(c.pop32())
	fs := uint16(c.pop32())
	gs := uint16(c.pop32())

	c.loadSegmentV8086(SegCS, cs)
	c.loadSegmentV8086(SegSS, ss)
	c.reg.GP[RegESP] = esp
	c.loadSegmentV8086(SegES, es)
	c.loadSegmentV8086(SegDS, ds)
	c.loadSegmentV8086(SegFS, fs)
	c.loadSegmentV8086(SegGS, gs)
}
