package ia32

func init() {
	opcodeTable[0x84] = opTestEbGb
	opcodeTable[0x85] = opTestEvGv
	opcodeTable[0xA8] = opTestALImm
	opcodeTable[0xA9] = opTestEAXImm
	opcodeTable[0xF6] = opGroup3Eb
	opcodeTable[0xF7] = opGroup3Ev

	opcodeTable0F[0xA3] = opBT
	opcodeTable0F[0xAB] = opBTS
	opcodeTable0F[0xB3] = opBTR
	opcodeTable0F[0xBB] = opBTC
	opcodeTable0F[0xBC] = opBSF
	opcodeTable0F[0xBD] = opBSR

	for b := uint16(0x90); b <= 0x9F; b++ {
		opcodeTable0F[b] = opSetCC
	}
}

func opTestEbGb(c *CPU, in *Instruction) {
	g, _ := regOperand(in.Reg).read8(c)
	e, ok := in.RM.read8(c)
	if !ok {
		return
	}
	c.setFlagsLogical(uint32(e&g), Size8)
}

func opTestEvGv(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		g, _ := regOperand(in.Reg).read32(c)
		e, ok := in.RM.read32(c)
		if !ok {
			return
		}
		c.setFlagsLogical(e&g, Size32)
	} else {
		g, _ := regOperand(in.Reg).read16(c)
		e, ok := in.RM.read16(c)
		if !ok {
			return
		}
		c.setFlagsLogical(uint32(e&g), Size16)
	}
}

func opTestALImm(c *CPU, in *Instruction) {
	v, _ := regOperand(RegEAX).read8(c)
	c.setFlagsLogical(uint32(v)&in.Imm, Size8)
}

func opTestEAXImm(c *CPU, in *Instruction) {
	v, _ := regOperand(RegEAX).read32(c)
	c.setFlagsLogical(v&in.Imm, in.OperandSize)
}

// opGroup3Eb/Ev implement group 3 (0xF6/0xF7): TEST/NOT/NEG/MUL/IMUL/
// DIV/IDIV selected by ModR/M.reg; opGroup3Ev has no IMUL (reg 5) or
// IDIV (reg 7) case, and those encodings of 0xF7 leave state unchanged.
// Only TEST (reg 0/1) carries an
// immediate; DecodeAt special-cases that after decoding ModR/M so in.Imm
// is already populated by the time we get here.
func opGroup3Eb(c *CPU, in *Instruction) {
	switch in.Reg {
	case 0, 1: // TEST
		v, ok := in.RM.read8(c)
		if !ok {
			return
		}
		c.setFlagsLogical(uint32(v)&in.Imm, Size8)
	case 2: // NOT
		v, ok := in.RM.read8(c)
		if !ok {
			return
		}
		in.RM.write8(c, ^v)
	case 3: // NEG
		v, ok := in.RM.read8(c)
		if !ok {
			return
		}
		r := uint32(-int32(v)) & 0xFF
		c.setFlagsSub(uint32(v), 0, r, Size8)
		c.flagSet(flagCF, v != 0)
		in.RM.write8(c, uint8(r))
	case 4: // MUL
		v, ok := in.RM.read8(c)
		if !ok {
			return
		}
		al, _ := regOperand(RegEAX).read8(c)
		res := uint16(al) * uint16(v)
		c.reg.SetReg16(RegEAX, res)
		over := res>>8 != 0
		c.flagSet(flagCF, over)
		c.flagSet(flagOF, over)
	case 5: // IMUL
		v, ok := in.RM.read8(c)
		if !ok {
			return
		}
		al, _ := regOperand(RegEAX).read8(c)
		res := int16(int8(al)) * int16(int8(v))
		c.reg.SetReg16(RegEAX, uint16(res))
		over := res != int16(int8(uint8(res)))
		c.flagSet(flagCF, over)
		c.flagSet(flagOF, over)
	case 6: // DIV
		v, ok := in.RM.read8(c)
		if !ok || v == 0 {
			c.raiseFault(excDE, 0)
			return
		}
		ax, _ := regOperand(RegEAX).read16(c)
		q := ax / uint16(v)
		if q > 0xFF {
			c.raiseFault(excDE, 0)
			return
		}
		r := ax % uint16(v)
		c.reg.SetReg8(RegEAX, uint8(q))
		c.reg.SetReg8(RegEAX|4, uint8(r))
	case 7: // IDIV
		v, ok := in.RM.read8(c)
		if !ok || v == 0 {
			c.raiseFault(excDE, 0)
			return
		}
		ax, _ := regOperand(RegEAX).read16(c)
		q := int16(ax) / int16(int8(v))
		r := int16(ax) % int16(int8(v))
		if q > 127 || q < -128 {
			c.raiseFault(excDE, 0)
			return
		}
		c.reg.SetReg8(RegEAX, uint8(q))
		c.reg.SetReg8(RegEAX|4, uint8(r))
	}
}

func opGroup3Ev(c *CPU, in *Instruction) {
	sz := in.OperandSize
	switch in.Reg {
	case 0, 1: // TEST
		v, ok := in.RM.read32(c)
		if !ok {
			return
		}
		c.setFlagsLogical(v&in.Imm, sz)
	case 2: // NOT
		v, ok := in.RM.read32(c)
		if !ok {
			return
		}
		if sz == Size32 {
			in.RM.write32(c, ^v)
		} else {
			in.RM.write16(c, ^uint16(v))
		}
	case 3: // NEG
		v, ok := in.RM.read32(c)
		if !ok {
			return
		}
		r := uint32(-int32(v)) & sz.Mask()
		c.setFlagsSub(v, 0, r, sz)
		c.flagSet(flagCF, v != 0)
		if sz == Size32 {
			in.RM.write32(c, r)
		} else {
			in.RM.write16(c, uint16(r))
		}
	case 4: // MUL
		v, _ := in.RM.read32(c)
		if sz == Size32 {
			eax, _ := regOperand(RegEAX).read32(c)
			res := uint64(eax) * uint64(v)
			c.reg.SetReg32(RegEAX, uint32(res))
			c.reg.SetReg32(RegEDX, uint32(res>>32))
			over := uint32(res>>32) != 0
			c.flagSet(flagCF, over)
			c.flagSet(flagOF, over)
		} else {
			ax, _ := regOperand(RegEAX).read16(c)
			res := uint32(ax) * (v & 0xFFFF)
			c.reg.SetReg16(RegEAX, uint16(res))
			c.reg.SetReg16(RegEDX, uint16(res>>16))
			over := res>>16 != 0
			c.flagSet(flagCF, over)
			c.flagSet(flagOF, over)
		}
	case 6: // DIV
		v, _ := in.RM.read32(c)
		if v == 0 {
			c.raiseFault(excDE, 0)
			return
		}
		if sz == Size32 {
			eax, _ := regOperand(RegEAX).read32(c)
			edx, _ := regOperand(RegEDX).read32(c)
			dividend := uint64(edx)<<32 | uint64(eax)
			q := dividend / uint64(v)
			if q > 0xFFFFFFFF {
				c.raiseFault(excDE, 0)
				return
			}
			r := dividend % uint64(v)
			c.reg.SetReg32(RegEAX, uint32(q))
			c.reg.SetReg32(RegEDX, uint32(r))
		} else {
			ax, _ := regOperand(RegEAX).read16(c)
			dx, _ := regOperand(RegEDX).read16(c)
			dividend := uint32(dx)<<16 | uint32(ax)
			q := dividend / (v & 0xFFFF)
			if q > 0xFFFF {
				c.raiseFault(excDE, 0)
				return
			}
			r := dividend % (v & 0xFFFF)
			c.reg.SetReg16(RegEAX, uint16(q))
			c.reg.SetReg16(RegEDX, uint16(r))
		}
	}
}

// opBT/BTS/BTR/BTC implement the bit-test family: CF is set to the
// selected bit, then BTS/BTR/BTC additionally set/clear/toggle it.
func bitTestSelect(c *CPU, in *Instruction) (operand, uint32, uint32) {
	idx, _ := regOperand(in.Reg).read32(c)
	sz := in.OperandSize
	bits := uint32(16)
	if sz == Size32 {
		bits = 32
	}
	return in.RM, idx % bits, bits
}

func opBT(c *CPU, in *Instruction) {
	o, bit, _ := bitTestSelect(c, in)
	v, _ := o.read32(c)
	c.flagSet(flagCF, v&(1<<bit) != 0)
}

func opBTS(c *CPU, in *Instruction) {
	o, bit, _ := bitTestSelect(c, in)
	v, _ := o.read32(c)
	c.flagSet(flagCF, v&(1<<bit) != 0)
	if in.OperandSize == Size32 {
		o.write32(c, v|(1<<bit))
	} else {
		o.write16(c, uint16(v)|uint16(1<<bit))
	}
}

func opBTR(c *CPU, in *Instruction) {
	o, bit, _ := bitTestSelect(c, in)
	v, _ := o.read32(c)
	c.flagSet(flagCF, v&(1<<bit) != 0)
	if in.OperandSize == Size32 {
		o.write32(c, v&^(1<<bit))
	} else {
		o.write16(c, uint16(v)&^uint16(1<<bit))
	}
}

func opBTC(c *CPU, in *Instruction) {
	o, bit, _ := bitTestSelect(c, in)
	v, _ := o.read32(c)
	wasSet := v&(1<<bit) != 0
	c.flagSet(flagCF, wasSet)
	if in.OperandSize == Size32 {
		o.write32(c, v^(1<<bit))
	} else {
		o.write16(c, uint16(v)^uint16(1<<bit))
	}
}

func opBSF(c *CPU, in *Instruction) {
	var v uint32
	if in.OperandSize == Size32 {
		v, _ = in.RM.read32(c)
	} else {
		v16, _ := in.RM.read16(c)
		v = uint32(v16)
	}
	if v == 0 {
		c.flagSet(flagZF, true)
		return
	}
	c.flagSet(flagZF, false)
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}
	if in.OperandSize == Size32 {
		regOperand(in.Reg).write32(c, uint32(n))
	} else {
		regOperand(in.Reg).write16(c, uint16(n))
	}
}

func opBSR(c *CPU, in *Instruction) {
	var v uint32
	bits := 16
	if in.OperandSize == Size32 {
		v, _ = in.RM.read32(c)
		bits = 32
	} else {
		v16, _ := in.RM.read16(c)
		v = uint32(v16)
	}
	if v == 0 {
		c.flagSet(flagZF, true)
		return
	}
	c.flagSet(flagZF, false)
	n := bits - 1
	for v&(1<<uint(n)) == 0 {
		n--
	}
	if in.OperandSize == Size32 {
		regOperand(in.Reg).write32(c, uint32(n))
	} else {
		regOperand(in.Reg).write16(c, uint16(n))
	}
}

func opSetCC(c *CPU, in *Instruction) {
	cc := uint8(in.Opcode & 0xF)
	var v uint8
	if c.testCondition(cc) {
		v = 1
	}
	in.RM.write8(c, v)
}
