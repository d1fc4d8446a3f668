package ia32

func init() {
	opcodeTable[0xE4] = opInALImm
	opcodeTable[0xE5] = opInEAXImm
	opcodeTable[0xE6] = opOutALImm
	opcodeTable[0xE7] = opOutEAXImm
	opcodeTable[0xEC] = opInALDX
	opcodeTable[0xED] = opInEAXDX
	opcodeTable[0xEE] = opOutALDX
	opcodeTable[0xEF] = opOutEAXDX
}

// ioAllowed checks EFLAGS.IOPL against CPL, and in protected mode falls
// back to the current TSS's I/O permission bitmap when IOPL is
// insufficient, per spec §4.11.
func (c *CPU) ioAllowed(port uint16, width uint32) bool {
	iopl := (c.Flags() & flagIOPL) >> 12
	if uint32(c.cpl()) <= iopl {
		return true
	}
	if !c.inProtectedMode() || !c.tr.Valid {
		return false
	}
	bitmapOffsetAddr := c.tr.Base + 0x66
	if bitmapOffsetAddr+1 > c.tr.Limit {
		return false
	}
	bitmapOffset := c.bus.ReadWord(bitmapOffsetAddr)
	for i := uint32(0); i < width; i++ {
		bitAddr := c.tr.Base + uint32(bitmapOffset) + (uint32(port)+i)/8
		if bitAddr > c.tr.Limit {
			return false
		}
		b := c.bus.ReadByte(bitAddr)
		if b&(1<<((uint32(port)+i)%8)) != 0 {
			return false
		}
	}
	return true
}

func (c *CPU) checkIOPermission(port uint16, width uint32) bool {
	if c.ioAllowed(port, width) {
		return true
	}
	c.raiseFault(excGP, 0)
	return false
}

func opInALImm(c *CPU, in *Instruction) {
	port := uint16(in.Imm)
	if !c.checkIOPermission(port, 1) {
		return
	}
	c.reg.SetReg8(RegEAX, uint8(c.bus.PortRead(port, 1)))
}

func opInEAXImm(c *CPU, in *Instruction) {
	port := uint16(in.Imm)
	width := uint32(2)
	if in.OperandSize == Size32 {
		width = 4
	}
	if !c.checkIOPermission(port, width) {
		return
	}
	v := c.bus.PortRead(port, int(width))
	if width == 4 {
		c.reg.SetReg32(RegEAX, v)
	} else {
		c.reg.SetReg16(RegEAX, uint16(v))
	}
}

func opOutALImm(c *CPU, in *Instruction) {
	port := uint16(in.Imm)
	if !c.checkIOPermission(port, 1) {
		return
	}
	al, _ := regOperand(RegEAX).read8(c)
	c.bus.PortWrite(port, 1, uint32(al))
}

func opOutEAXImm(c *CPU, in *Instruction) {
	port := uint16(in.Imm)
	width := uint32(2)
	if in.OperandSize == Size32 {
		width = 4
	}
	if !c.checkIOPermission(port, width) {
		return
	}
	v, _ := regOperand(RegEAX).read32(c)
	c.bus.PortWrite(port, int(width), v&width32Mask(width))
}

func opInALDX(c *CPU, in *Instruction) {
	port := uint16(c.reg.Reg16(RegEDX))
	if !c.checkIOPermission(port, 1) {
		return
	}
	c.reg.SetReg8(RegEAX, uint8(c.bus.PortRead(port, 1)))
}

func opInEAXDX(c *CPU, in *Instruction) {
	port := uint16(c.reg.Reg16(RegEDX))
	width := uint32(2)
	if in.OperandSize == Size32 {
		width = 4
	}
	if !c.checkIOPermission(port, width) {
		return
	}
	v := c.bus.PortRead(port, int(width))
	if width == 4 {
		c.reg.SetReg32(RegEAX, v)
	} else {
		c.reg.SetReg16(RegEAX, uint16(v))
	}
}

func opOutALDX(c *CPU, in *Instruction) {
	port := uint16(c.reg.Reg16(RegEDX))
	if !c.checkIOPermission(port, 1) {
		return
	}
	al, _ := regOperand(RegEAX).read8(c)
	c.bus.PortWrite(port, 1, uint32(al))
}

func opOutEAXDX(c *CPU, in *Instruction) {
	port := uint16(c.reg.Reg16(RegEDX))
	width := uint32(2)
	if in.OperandSize == Size32 {
		width = 4
	}
	if !c.checkIOPermission(port, width) {
		return
	}
	v, _ := regOperand(RegEAX).read32(c)
	c.bus.PortWrite(port, int(width), v&width32Mask(width))
}

func width32Mask(width uint32) uint32 {
	if width == 4 {
		return 0xFFFFFFFF
	}
	return 0xFFFF
}
