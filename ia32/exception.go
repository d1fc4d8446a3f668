package ia32

import "log"

// Exception vectors used by the core (spec §7's fixed-vector faults,
// plus the traps and the two abort conditions).
const (
	excDE = 0x0 // divide error
	excDB = 0x1 // debug (single-step trap)
	excNMIVec = 0x2
	excBP = 0x3
	excOF = 0x4
	excBR = 0x5
	excUD = 0x6
	excNM = 0x7
	excDF = 0x8
	excTS = 0xA
	excNP = 0xB
	excSS = 0xC
	excGP = 0xD
	excPF = 0xE
	excMF = 0x10
	excAC = 0x11
)

// errorCodePresent reports whether vec pushes an error code onto the
// exception stack frame, per Intel's fixed convention.
func errorCodePresent(vec int) bool {
	switch vec {
	case excDF, excTS, excNP, excSS, excGP, excPF, excAC:
		return true
	default:
		return false
	}
}

// isTrap reports whether vec advances EIP past the faulting instruction
// before delivery (spec §7: "#BP, #OF, #DB advance EIP first").
func isTrap(vec int) bool {
	switch vec {
	case excBP, excOF, excDB:
		return true
	default:
		return false
	}
}

// raiseFault implements spec §7's "faults restart the instruction" class:
// ESP is restored to its instruction-start snapshot, then the exception is
// delivered through raiseException. errorCode is ignored for vectors that
// don't carry one.
func (c *CPU) raiseFault(vec int, errorCode uint32) {
	c.reg.GP[RegESP] = c.espSnapshot
	c.raiseException(vec, errorCode, false)
}

// raiseTrap implements the trap class: EIP has already been advanced by
// the caller before this is invoked.
func (c *CPU) raiseTrap(vec int) {
	c.raiseException(vec, 0, false)
}

// raiseException is the central propagation point described in spec §7:
// setting current_exception, detecting double/triple fault, and
// dispatching to the correct delivery path. A successful delivery clears
// current_exception; the caller (the interpreter's dispatch loop) is
// expected to abort the current instruction immediately afterward.
func (c *CPU) raiseException(vec int, errorCode uint32, fromDoubleFault bool) {
	if c.exceptionInProgress {
		if c.currentException == excDF {
			c.tripleFault()
			return
		}
		c.exceptionInProgress = false
		c.raiseException(excDF, 0, true)
		return
	}

	c.exceptionInProgress = true
	c.currentException = vec

	switch {
	case c.inV8086Mode() && !c.model.hasCR4():
		c.deliverRealMode(vec, errorCode)
	case c.inV8086Mode():
		c.deliverV8086(vec, errorCode)
	case !c.inProtectedMode():
		c.deliverRealMode(vec, errorCode)
	default:
		c.deliverProtected(vec, errorCode)
	}

	c.currentException = -1
	c.exceptionInProgress = false
	c.trapAfterInstruction = false
}

// tripleFault is the abort path: a second fault while delivering #DF.
// Per spec §7 this resets the CPU and aborts the current instruction.
func (c *CPU) tripleFault() {
	log.Printf("[ia32] triple fault, resetting CPU")
	c.hadDoubleFault = true
	c.Reset()
}

// deliverRealMode pushes (FLAGS, CS, IP) and reads the two-word IVT entry
// at vec*4, per the real-mode interrupt mechanism.
func (c *CPU) deliverRealMode(vec int, errorCode uint32) {
	ivtAddr := uint32(vec) * 4
	if ivtAddr+3 > c.idtr.Limit && c.inProtectedMode() {
		// IDT limit too small in a protected-mode V8086 monitor context;
		// treat as #GP(0) recursively (should not usually occur pre-reset).
		c.raiseException(excGP, 0, true)
		return
	}
	ip := c.bus.ReadWord(c.idtr.Base + ivtAddr)
	cs := c.bus.ReadWord(c.idtr.Base + ivtAddr + 2)

	c.pushReal(uint16(c.Flags()))
	c.pushReal(c.seg[SegCS].Selector)
	c.pushReal(uint16(c.reg.EIP))

	c.flagSet(flagIF, false)
	c.flagSet(flagTF, false)
	c.flagSet(flagAC, false)

	c.loadSegmentReal(SegCS, cs)
	c.reg.EIP = uint32(ip)
}

func (c *CPU) pushReal(v uint16) {
	sp := uint16(c.reg.GP[RegESP]) - 2
	c.reg.GP[RegESP] = (c.reg.GP[RegESP] &^ 0xFFFF) | uint32(sp)
	c.bus.WriteWord(c.seg[SegSS].Base+uint32(sp), v)
}

// deliverV8086 handles software and hardware interrupts raised while
// EFLAGS.VM is set. Per spec §4.7, with VME off this reflects to #GP so
// the monitor's real-mode handler can emulate it; with VME on, it takes
// the VME bitmap fast path (simplified here to the common case of
// deferring to the monitor, since the full per-interrupt redirection
// bitmap belongs to interrupt.go's external-interrupt path).
func (c *CPU) deliverV8086(vec int, errorCode uint32) {
	if c.reg.CR4&cr4VME == 0 {
		c.raiseException(excGP, 0, true)
		return
	}
	c.deliverRealMode(vec, errorCode)
}

// deliverProtected implements protected-mode delivery through the IDT:
// fetch the gate descriptor, validate its type/DPL/present bits, and push
// the appropriate frame depending on whether a privilege-level change
// occurs (handled by the shared far-transfer machinery in
// fartransfer.go, since the frame shape is identical to a call-gate
// transfer plus the optional error code).
func (c *CPU) deliverProtected(vec int, errorCode uint32) {
	idtOffset := uint32(vec) * 8
	if idtOffset+7 > c.idtr.Limit {
		c.raiseException(excGP, uint32(vec)*8+2, true)
		return
	}
	lo := c.bus.ReadDWord(c.idtr.Base + idtOffset)
	hi := c.bus.ReadDWord(c.idtr.Base + idtOffset + 4)
	d := decodeDescriptor(lo, hi)

	switch d.typ {
	case sysTypeTaskGate:
		c.switchTaskViaGate(d, false)
		return
	case sysTypeIntGate16, sysTypeTrapGate16, sysTypeIntGate32, sysTypeTrapGate32:
		gateIsIntr := d.typ == sysTypeIntGate16 || d.typ == sysTypeIntGate32
		is32 := d.typ == sysTypeIntGate32 || d.typ == sysTypeTrapGate32
		if !d.present {
			c.raiseException(excNP, uint32(vec)*8+2, true)
			return
		}
		c.deliverThroughGate(d, is32, gateIsIntr, errorCodePresent(vec), errorCode)
	default:
		c.raiseException(excGP, uint32(vec)*8+2, true)
	}
}

// deliverThroughGate performs the privilege-check, stack-switch-if-needed,
// and frame-push shared by interrupt/trap gates, mirroring far_call's
// privilege transition logic in fartransfer.go. The new CPL is the target
// code segment's DPL, or the current CPL when that segment is conforming.
func (c *CPU) deliverThroughGate(d descriptor, is32, disableIF, hasErrorCode bool, errorCode uint32) {
	sel, offset := decodeGateTarget(d)

	target, ok := c.fetchDescriptor(sel)
	if !ok || !target.s || target.typ&typeExecutable == 0 {
		c.raiseException(excGP, uint32(sel)&0xFFF8, true)
		return
	}

	newCPL := target.dpl
	oldCPL := c.cpl()
	conforming := target.typ&typeConforming != 0

	if conforming {
		newCPL = oldCPL
	}

	if newCPL < oldCPL {
		c.interruptStackSwitch(sel, offset, target, is32, disableIF, hasErrorCode, errorCode, newCPL)
		return
	}

	// Same-privilege: push onto the current stack without a stack switch.
	oldFlags := c.Flags()
	oldCS := c.seg[SegCS].Selector
	oldEIP := c.reg.EIP

	if is32 {
		c.push32(oldFlags)
		c.push32(uint32(oldCS))
		c.push32(oldEIP)
		if hasErrorCode {
			c.push32(errorCode)
		}
	} else {
		c.push16(uint16(oldFlags))
		c.push16(oldCS)
		c.push16(uint16(oldEIP))
		if hasErrorCode {
			c.push16(uint16(errorCode))
		}
	}

	c.flagSet(flagTF, false)
	if disableIF {
		c.flagSet(flagIF, false)
	}
	c.flagSet(flagVM, false)
	c.flagSet(flagNT, false)

	c.reg.CPL = uint32(newCPL)
	c.LoadSegment(SegCS, sel)
	c.reg.EIP = offset
}

// decodeGateTarget extracts (selector, 32-bit offset) from a call/
// interrupt/trap gate descriptor: offset[15:0] is bytes 0-1, selector is
// bytes 2-3, offset[31:16] is bytes 6-7. This reads the raw dwords
// directly rather than going through the code/data decode above, since
// a gate's byte 4 (param count) and byte 6 (offset[23:16]) alias fields
// decodeDescriptor assigns a different meaning for segment descriptors.
func decodeGateTarget(d descriptor) (uint16, uint32) {
	selector := uint16(d.rawLo >> 16)
	offsetLow := d.rawLo & 0xFFFF
	offsetHigh := d.rawHi >> 16
	return selector, offsetLow | (offsetHigh << 16)
}

// interruptStackSwitch handles the privilege-raising case: fetch SSn/
// ESPn from the TSS, switch stacks, then push old SS, ESP, EFLAGS, CS and
// EIP (plus the error code when there is one) before transferring control.
func (c *CPU) interruptStackSwitch(sel uint16, offset uint32, target descriptor, is32, disableIF, hasErrorCode bool, errorCode uint32, newCPL uint8) {
	newSS, newESP, ok := c.fetchStackPointerForCPL(newCPL)
	if !ok {
		c.raiseException(excTS, uint32(c.tr.Selector)&0xFFF8, true)
		return
	}

	oldSS := c.seg[SegSS].Selector
	oldESP := c.reg.GP[RegESP]
	oldFlags := c.Flags()
	oldCS := c.seg[SegCS].Selector
	oldEIP := c.reg.EIP

	c.reg.CPL = uint32(newCPL)
	if !c.LoadSegment(SegSS, newSS) {
		return
	}
	c.reg.GP[RegESP] = newESP

	if is32 {
		c.push32(uint32(oldSS))
		c.push32(oldESP)
		c.push32(oldFlags)
		c.push32(uint32(oldCS))
		c.push32(oldEIP)
		if hasErrorCode {
			c.push32(errorCode)
		}
	} else {
		c.push16(oldSS)
		c.push16(uint16(oldESP))
		c.push16(uint16(oldFlags))
		c.push16(oldCS)
		c.push16(uint16(oldEIP))
		if hasErrorCode {
			c.push16(uint16(errorCode))
		}
	}

	c.flagSet(flagTF, false)
	if disableIF {
		c.flagSet(flagIF, false)
	}
	c.flagSet(flagVM, false)
	c.flagSet(flagNT, false)

	c.LoadSegment(SegCS, sel)
	c.reg.EIP = offset
}

// push32/push16 push through the current SS using its default size,
// honouring ESP-vs-SP addressing per stackSize32.
func (c *CPU) push32(v uint32) {
	if c.stackSize32 {
		c.reg.GP[RegESP] -= 4
		c.bus.WriteDWord(c.seg[SegSS].Base+c.reg.GP[RegESP], v)
	} else {
		sp := uint16(c.reg.GP[RegESP]) - 4
		c.reg.GP[RegESP] = (c.reg.GP[RegESP] &^ 0xFFFF) | uint32(sp)
		c.bus.WriteDWord(c.seg[SegSS].Base+uint32(sp), v)
	}
}

func (c *CPU) push16(v uint16) {
	if c.stackSize32 {
		c.reg.GP[RegESP] -= 2
		c.bus.WriteWord(c.seg[SegSS].Base+c.reg.GP[RegESP], v)
	} else {
		sp := uint16(c.reg.GP[RegESP]) - 2
		c.reg.GP[RegESP] = (c.reg.GP[RegESP] &^ 0xFFFF) | uint32(sp)
		c.bus.WriteWord(c.seg[SegSS].Base+uint32(sp), v)
	}
}
