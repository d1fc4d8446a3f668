package ia32

// SetIRQLine models the PIC's single interrupt request line into the
// CPU: asserted means a vector is available via the bus's interrupt-
// acknowledge path (spec §4.9). The CPU doesn't own a PIC; it only
// samples this line between instructions when IF=1.
func (c *CPU) SetIRQLine(asserted bool) { c.irqLine = asserted }

// SignalNMI edge-triggers a non-maskable interrupt: it latches until the
// next CheckInterrupts call regardless of EFLAGS.IF, which does not mask
// NMI.
func (c *CPU) SignalNMI() { c.nmiLatched = true }

// CheckInterrupts is called by the backend between instructions (spec
// §4.9): it resolves a pending NMI or external IRQ into a vectored
// interrupt, waking the CPU from HLT if necessary. ackIRQ is a callback
// to the bus's interrupt controller returning the vector to deliver.
func (c *CPU) CheckInterrupts(ackIRQ func() (vector uint8, ok bool)) {
	if c.nmiLatched {
		c.nmiLatched = false
		c.Resume()
		c.raiseException(excNMIVec, 0, false)
		return
	}
	if c.halted && !c.flagIsSet(flagIF) {
		return
	}
	if !c.flagIsSet(flagIF) || !c.irqLine {
		return
	}
	vec, ok := ackIRQ()
	if !ok {
		return
	}
	c.Resume()
	c.raiseException(int(vec), 0, false)
}
