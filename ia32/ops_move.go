package ia32

func init() {
	opcodeTable[0x88] = opMovEbGb
	opcodeTable[0x89] = opMovEvGv
	opcodeTable[0x8A] = opMovGbEb
	opcodeTable[0x8B] = opMovGvEv
	opcodeTable[0x8D] = opLea
	opcodeTable[0xC6] = opMovEbImm
	opcodeTable[0xC7] = opMovEvImm
	for r := uint16(0xB0); r <= 0xB7; r++ {
		opcodeTable[r] = opMovRegImm8
	}
	for r := uint16(0xB8); r <= 0xBF; r++ {
		opcodeTable[r] = opMovRegImm
	}
	for r := uint16(0x50); r <= 0x57; r++ {
		opcodeTable[r] = opPushReg
	}
	for r := uint16(0x58); r <= 0x5F; r++ {
		opcodeTable[r] = opPopReg
	}
	opcodeTable[0x68] = opPushImm
	opcodeTable[0x6A] = opPushImm8
	opcodeTable[0x8E] = opMovSreg
	opcodeTable[0x8C] = opMovFromSreg
	opcodeTable[0x90] = opNop
}

func regOperand(i uint8) operand { return operand{kind: opReg, reg: i} }

func (c *CPU) regIndexFromOpcode(opcode uint16) uint8 { return uint8(opcode & 7) }

func opMovEbGb(c *CPU, in *Instruction) {
	v, ok := regOperand(in.Reg).read8(c)
	if !ok {
		return
	}
	in.RM.write8(c, v)
}

func opMovEvGv(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		v, ok := regOperand(in.Reg).read32(c)
		if !ok {
			return
		}
		in.RM.write32(c, v)
	} else {
		v, ok := regOperand(in.Reg).read16(c)
		if !ok {
			return
		}
		in.RM.write16(c, v)
	}
}

func opMovGbEb(c *CPU, in *Instruction) {
	v, ok := in.RM.read8(c)
	if !ok {
		return
	}
	regOperand(in.Reg).write8(c, v)
}

func opMovGvEv(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		v, ok := in.RM.read32(c)
		if !ok {
			return
		}
		regOperand(in.Reg).write32(c, v)
	} else {
		v, ok := in.RM.read16(c)
		if !ok {
			return
		}
		regOperand(in.Reg).write16(c, v)
	}
}

// opLea computes the effective address without dereferencing memory —
// the RM operand's .addr field already *is* that computed address.
func opLea(c *CPU, in *Instruction) {
	if in.RM.kind != opMem {
		c.raiseFault(excUD, 0)
		return
	}
	if in.OperandSize == Size32 {
		regOperand(in.Reg).write32(c, in.RM.addr)
	} else {
		regOperand(in.Reg).write16(c, uint16(in.RM.addr))
	}
}

func opMovEbImm(c *CPU, in *Instruction) { in.RM.write8(c, uint8(in.Imm)) }

func opMovEvImm(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		in.RM.write32(c, in.Imm)
	} else {
		in.RM.write16(c, uint16(in.Imm))
	}
}

func opMovRegImm8(c *CPU, in *Instruction) {
	r := c.regIndexFromOpcode(in.Opcode)
	c.reg.SetReg8(int(r), uint8(in.Imm))
}

func opMovRegImm(c *CPU, in *Instruction) {
	r := c.regIndexFromOpcode(in.Opcode)
	if in.OperandSize == Size32 {
		c.reg.SetReg32(int(r), in.Imm)
	} else {
		c.reg.SetReg16(int(r), uint16(in.Imm))
	}
}

func opPushReg(c *CPU, in *Instruction) {
	r := c.regIndexFromOpcode(in.Opcode)
	if in.OperandSize == Size32 {
		c.push32(c.reg.Reg32(int(r)))
	} else {
		c.push16(c.reg.Reg16(int(r)))
	}
}

func opPopReg(c *CPU, in *Instruction) {
	r := c.regIndexFromOpcode(in.Opcode)
	if in.OperandSize == Size32 {
		c.reg.SetReg32(int(r), c.pop32())
	} else {
		c.reg.SetReg16(int(r), c.pop16())
	}
}

func opPushImm(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		c.push32(in.Imm)
	} else {
		c.push16(uint16(in.Imm))
	}
}

func opPushImm8(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		c.push32(uint32(int32(int8(in.Imm))))
	} else {
		c.push16(uint16(int16(int8(in.Imm))))
	}
}

// opMovSreg loads a segment register from ModR/M's reg field (which for
// this opcode selects ES/CS/SS/DS/FS/GS rather than a general register).
func opMovSreg(c *CPU, in *Instruction) {
	v, ok := in.RM.read16(c)
	if !ok {
		return
	}
	c.LoadSegment(int(in.Reg), v)
}

func opMovFromSreg(c *CPU, in *Instruction) {
	in.RM.write16(c, c.seg[in.Reg].Selector)
}

func opNop(c *CPU, in *Instruction) {}
