package ia32

func init() {
	opcodeTable[0xF4] = opHlt
	opcodeTable[0xFA] = opCli
	opcodeTable[0xFB] = opSti
	opcodeTable[0xFC] = opCld
	opcodeTable[0xFD] = opStd
	opcodeTable[0xF8] = opClc
	opcodeTable[0xF9] = opStc
	opcodeTable[0xF5] = opCmc
	opcodeTable[0xCC] = opInt3
	opcodeTable[0xCD] = opIntImm
	opcodeTable[0xCE] = opInto
	opcodeTable[0xCF] = opIret
	opcodeTable[0x9C] = opPushf
	opcodeTable[0x9D] = opPopf
	opcodeTable[0xC9] = opLeave

	opcodeTable0F[0x00] = opGroup6 // LLDT/LTR/SLDT/STR/VERR/VERW
	opcodeTable0F[0x01] = opGroup7 // SGDT/SIDT/LGDT/LIDT/SMSW/LMSW
	opcodeTable0F[0x06] = opClts
	opcodeTable0F[0x20] = opMovFromCR
	opcodeTable0F[0x22] = opMovToCR
	opcodeTable0F[0x21] = opMovFromDR
	opcodeTable0F[0x23] = opMovToDR
	opcodeTable0F[0xA2] = opCPUID
}

func opHlt(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	c.Halt()
}

func opCli(c *CPU, in *Instruction) {
	if !c.ioPrivilegeOK() {
		c.raiseFault(excGP, 0)
		return
	}
	c.flagSet(flagIF, false)
}

func opSti(c *CPU, in *Instruction) {
	if !c.ioPrivilegeOK() {
		c.raiseFault(excGP, 0)
		return
	}
	c.flagSet(flagIF, true)
}

func opCld(c *CPU, in *Instruction) { c.flagSet(flagDF, false) }
func opStd(c *CPU, in *Instruction) { c.flagSet(flagDF, true) }
func opClc(c *CPU, in *Instruction) { c.flagSet(flagCF, false) }
func opStc(c *CPU, in *Instruction) { c.flagSet(flagCF, true) }
func opCmc(c *CPU, in *Instruction) { c.flagSet(flagCF, !c.flagIsSet(flagCF)) }

func opInt3(c *CPU, in *Instruction) {
	c.reg.EIP += in.Length
	c.raiseTrap(excBP)
}

func opIntImm(c *CPU, in *Instruction) {
	c.reg.EIP += in.Length
	c.raiseException(int(uint8(in.Imm)), 0, false)
}

func opInto(c *CPU, in *Instruction) {
	c.reg.EIP += in.Length
	if c.flagIsSet(flagOF) {
		c.raiseTrap(excOF)
	}
}

func opIret(c *CPU, in *Instruction) {
	c.InterruptReturn(in.OperandSize == Size32)
}

func opPushf(c *CPU, in *Instruction) {
	v := c.Flags()
	if in.OperandSize == Size32 {
		c.push32(v &^ (flagVM | flagRF))
	} else {
		c.push16(uint16(v))
	}
}

func opPopf(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		c.SetFlags(c.pop32())
	} else {
		c.SetFlags((c.Flags() &^ 0xFFFF) | uint32(c.pop16()))
	}
}

func opLeave(c *CPU, in *Instruction) {
	if c.stackSize32 {
		c.reg.GP[RegESP] = c.reg.GP[RegEBP]
	} else {
		c.reg.GP[RegESP] = (c.reg.GP[RegESP] &^ 0xFFFF) | uint32(uint16(c.reg.GP[RegEBP]))
	}
	if in.OperandSize == Size32 {
		c.reg.SetReg32(RegEBP, c.pop32())
	} else {
		c.reg.SetReg16(RegEBP, c.pop16())
	}
}

// ioPrivilegeOK reports whether CLI/STI/INS/OUTS etc. are permitted at
// the current CPL per EFLAGS.IOPL (spec §4.11).
func (c *CPU) ioPrivilegeOK() bool {
	if !c.inProtectedMode() {
		return true
	}
	iopl := (c.Flags() & flagIOPL) >> 12
	return uint32(c.cpl()) <= iopl
}

// opGroup6/opGroup7 are 0F 00 / 0F 01, the system-segment and
// descriptor-table management groups, selected by ModR/M.reg.
func opGroup6(c *CPU, in *Instruction) {
	switch in.Reg {
	case 0: // SLDT
		in.RM.write16(c, c.ldtr.Selector)
	case 1: // STR
		in.RM.write16(c, c.tr.Selector)
	case 2: // LLDT
		sel, ok := in.RM.read16(c)
		if !ok {
			return
		}
		c.ldtr = c.loadSystemSegmentRaw(sel)
	case 3: // LTR
		sel, ok := in.RM.read16(c)
		if !ok {
			return
		}
		d, ok := c.fetchDescriptor(sel)
		if !ok || d.s || (d.typ != sysTypeTSS16Avail && d.typ != sysTypeTSS32Avail) {
			c.raiseFault(excGP, uint32(sel)&0xFFF8)
			return
		}
		c.tr = SystemSegmentCache{Selector: sel, Base: d.base, Limit: d.limit, Is32Bit: d.typ == sysTypeTSS32Avail, Valid: true}
		c.setBusyBit(sel)
	case 4, 5: // VERR/VERW
		sel, ok := in.RM.read16(c)
		if !ok {
			return
		}
		d, ok := c.fetchDescriptor(sel)
		valid := ok && d.s
		c.flagSet(flagZF, valid)
	}
}

func opGroup7(c *CPU, in *Instruction) {
	switch in.Reg {
	case 0: // SGDT
		writeTablePointer(c, in.RM, c.gdtr)
	case 1: // SIDT
		writeTablePointer(c, in.RM, c.idtr)
	case 2: // LGDT
		c.gdtr = readTablePointer(c, in.RM)
	case 3: // LIDT
		c.idtr = readTablePointer(c, in.RM)
	case 4: // SMSW
		in.RM.write16(c, uint16(c.reg.CR0))
	case 6: // LMSW
		v, ok := in.RM.read16(c)
		if !ok {
			return
		}
		mask := c.model.cr0ChangeMask() | cr0PE | cr0MP | cr0EM | cr0TS
		c.reg.CR0 = (c.reg.CR0 &^ mask) | (uint32(v) & mask)
	}
}

func writeTablePointer(c *CPU, o operand, t TablePointer) {
	if o.kind != opMem {
		return
	}
	c.WriteWord(o.seg, o.addr, uint16(t.Limit))
	c.WriteDWord(o.seg, o.addr+2, t.Base)
}

func readTablePointer(c *CPU, o operand) TablePointer {
	if o.kind != opMem {
		return TablePointer{}
	}
	limit, _ := c.ReadWord(o.seg, o.addr)
	base, _ := c.ReadDWord(o.seg, o.addr+2)
	return TablePointer{Base: base, Limit: uint32(limit)}
}

func opClts(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	c.reg.CR0 &^= cr0TS
}

func opMovFromCR(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	var v uint32
	switch in.Reg {
	case 0:
		v = c.reg.CR0
	case 2:
		v = c.reg.CR2
	case 3:
		v = c.reg.CR3
	case 4:
		v = c.reg.CR4
	}
	regOperand(in.RM.reg).write32(c, v)
}

func opMovToCR(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	v, _ := regOperand(in.RM.reg).read32(c)
	switch in.Reg {
	case 0:
		mask := c.model.cr0ChangeMask() | 0x8000001F
		c.reg.CR0 = (c.reg.CR0 &^ mask) | (v & mask)
		c.tlb.InvalidateAll()
	case 2:
		c.reg.CR2 = v
	case 3:
		c.reg.CR3 = v
		c.tlb.InvalidateAll()
	case 4:
		if c.model.hasCR4() {
			c.reg.CR4 = v
			c.tlb.InvalidateAll()
		}
	}
}

func opMovFromDR(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	regOperand(in.RM.reg).write32(c, c.reg.DR[in.Reg])
}

func opMovToDR(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	v, _ := regOperand(in.RM.reg).read32(c)
	c.reg.DR[in.Reg] = v
}
