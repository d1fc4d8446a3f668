package ia32

// aluOp is one of the eight ALU-group operations selected by a ModR/M
// reg field in the 0x80/0x81/0x83 immediate-group encodings, or by the
// opcode's own bits 3-5 in the 0x00-0x3D direct forms.
type aluOp uint8

const (
	aluAdd aluOp = iota
	aluOr
	aluAdc
	aluSbb
	aluAnd
	aluSub
	aluXor
	aluCmp
)

func init() {
	// Direct Eb,Gb / Ev,Gv / Gb,Eb / Gv,Ev / AL,ib / eAX,iv forms for all
	// eight ALU ops occupy a uniform 8-entry-per-op block starting at
	// 0x00, 0x08, 0x10, ..., 0x38.
	for i, op := range []aluOp{aluAdd, aluOr, aluAdc, aluSbb, aluAnd, aluSub, aluXor, aluCmp} {
		base := uint16(i * 8)
		op := op
		opcodeTable[base+0] = aluHandlerEbGb(op)
		opcodeTable[base+1] = aluHandlerEvGv(op)
		opcodeTable[base+2] = aluHandlerGbEb(op)
		opcodeTable[base+3] = aluHandlerGvEv(op)
		opcodeTable[base+4] = aluHandlerALib(op)
		opcodeTable[base+5] = aluHandlerEAXiv(op)
	}
	opcodeTable[0x80] = opGroup1Eb
	opcodeTable[0x81] = opGroup1Ev
	opcodeTable[0x83] = opGroup1EvSignExtend
	opcodeTable[0xFE] = opIncDecEb
	opcodeTable[0xFF] = opGroup5
	for r := uint16(0x40); r <= 0x47; r++ {
		opcodeTable[r] = opIncReg
	}
	for r := uint16(0x48); r <= 0x4F; r++ {
		opcodeTable[r] = opDecReg
	}
}

// applyALU performs op on (dst, src) of width sz, writes the result back
// through dst unless op is CMP (compare-only), and updates flags.
func (c *CPU) applyALU(op aluOp, dst operand, src uint32, sz OperandSize) {
	var cur uint32
	switch sz {
	case Size8:
		v, _ := dst.read8(c)
		cur = uint32(v)
	case Size16:
		v, _ := dst.read16(c)
		cur = uint32(v)
	default:
		v, _ := dst.read32(c)
		cur = v
	}

	var result uint32
	cf := uint32(0)
	if c.flagIsSet(flagCF) {
		cf = 1
	}

	switch op {
	case aluAdd:
		result = cur + src
		c.setFlagsAdd(src, cur, result, sz)
	case aluAdc:
		result = cur + src + cf
		c.setFlagsAdd(src+cf, cur, result, sz)
	case aluOr:
		result = cur | src
		c.setFlagsLogical(result, sz)
	case aluAnd:
		result = cur & src
		c.setFlagsLogical(result, sz)
	case aluXor:
		result = cur ^ src
		c.setFlagsLogical(result, sz)
	case aluSub, aluCmp:
		result = cur - src
		c.setFlagsSub(src, cur, result, sz)
	case aluSbb:
		result = cur - src - cf
		c.setFlagsSub(src+cf, cur, result, sz)
	}

	if op == aluCmp {
		return
	}
	switch sz {
	case Size8:
		dst.write8(c, uint8(result))
	case Size16:
		dst.write16(c, uint16(result))
	default:
		dst.write32(c, result)
	}
}

func aluHandlerEbGb(op aluOp) opFunc {
	return func(c *CPU, in *Instruction) {
		src, ok := regOperand(in.Reg).read8(c)
		if !ok {
			return
		}
		c.applyALU(op, in.RM, uint32(src), Size8)
	}
}

func aluHandlerEvGv(op aluOp) opFunc {
	return func(c *CPU, in *Instruction) {
		if in.OperandSize == Size32 {
			src, ok := regOperand(in.Reg).read32(c)
			if !ok {
				return
			}
			c.applyALU(op, in.RM, src, Size32)
		} else {
			src, ok := regOperand(in.Reg).read16(c)
			if !ok {
				return
			}
			c.applyALU(op, in.RM, uint32(src), Size16)
		}
	}
}

func aluHandlerGbEb(op aluOp) opFunc {
	return func(c *CPU, in *Instruction) {
		src, ok := in.RM.read8(c)
		if !ok {
			return
		}
		c.applyALU(op, regOperand(in.Reg), uint32(src), Size8)
	}
}

func aluHandlerGvEv(op aluOp) opFunc {
	return func(c *CPU, in *Instruction) {
		if in.OperandSize == Size32 {
			src, ok := in.RM.read32(c)
			if !ok {
				return
			}
			c.applyALU(op, regOperand(in.Reg), src, Size32)
		} else {
			src, ok := in.RM.read16(c)
			if !ok {
				return
			}
			c.applyALU(op, regOperand(in.Reg), uint32(src), Size16)
		}
	}
}

func aluHandlerALib(op aluOp) opFunc {
	return func(c *CPU, in *Instruction) {
		c.applyALU(op, regOperand(RegEAX), in.Imm, Size8)
	}
}

func aluHandlerEAXiv(op aluOp) opFunc {
	return func(c *CPU, in *Instruction) {
		c.applyALU(op, regOperand(RegEAX), in.Imm, in.OperandSize)
	}
}

// opGroup1* decode the immediate-ALU group whose operation is selected
// by ModR/M's reg field rather than the opcode byte.
func opGroup1Eb(c *CPU, in *Instruction) {
	c.applyALU(aluOp(in.Reg), in.RM, in.Imm, Size8)
}

func opGroup1Ev(c *CPU, in *Instruction) {
	c.applyALU(aluOp(in.Reg), in.RM, in.Imm, in.OperandSize)
}

func opGroup1EvSignExtend(c *CPU, in *Instruction) {
	imm := uint32(int32(int8(in.Imm)))
	c.applyALU(aluOp(in.Reg), in.RM, imm, in.OperandSize)
}

func opIncReg(c *CPU, in *Instruction) {
	r := c.regIndexFromOpcode(in.Opcode)
	c.incDec(regOperand(r), in.OperandSize, 1)
}

func opDecReg(c *CPU, in *Instruction) {
	r := c.regIndexFromOpcode(in.Opcode)
	c.incDec(regOperand(r), in.OperandSize, -1)
}

// opIncDecEb is group 4 (0xFE): INC/DEC Eb selected by ModR/M.reg.
func opIncDecEb(c *CPU, in *Instruction) {
	if in.Reg == 0 {
		c.incDec(in.RM, Size8, 1)
	} else {
		c.incDec(in.RM, Size8, -1)
	}
}

// opGroup5 is 0xFF: INC/DEC/CALL/JMP/PUSH selected by ModR/M.reg.
func opGroup5(c *CPU, in *Instruction) {
	switch in.Reg {
	case 0:
		c.incDec(in.RM, in.OperandSize, 1)
	case 1:
		c.incDec(in.RM, in.OperandSize, -1)
	case 2: // CALL near indirect
		target, ok := in.RM.read32(c)
		if !ok {
			return
		}
		if in.OperandSize == Size32 {
			c.push32(c.reg.EIP)
		} else {
			c.push16(uint16(c.reg.EIP))
		}
		c.BranchTo(target)
	case 4: // JMP near indirect
		target, ok := in.RM.read32(c)
		if !ok {
			return
		}
		c.BranchTo(target)
	case 6: // PUSH
		v, ok := in.RM.read32(c)
		if !ok {
			return
		}
		if in.OperandSize == Size32 {
			c.push32(v)
		} else {
			c.push16(uint16(v))
		}
	default:
		c.raiseFault(excUD, 0)
	}
}

// incDec applies +1/-1 without touching CF, per the documented INC/DEC
// exception to the normal add/sub flag rules.
func (c *CPU) incDec(o operand, sz OperandSize, delta int32) {
	savedCF := c.flagIsSet(flagCF)
	switch sz {
	case Size8:
		v, _ := o.read8(c)
		r := uint32(v) + uint32(delta)
		if delta > 0 {
			c.setFlagsAdd(1, uint32(v), r, sz)
		} else {
			c.setFlagsSub(1, uint32(v), r, sz)
		}
		o.write8(c, uint8(r))
	case Size16:
		v, _ := o.read16(c)
		r := uint32(v) + uint32(delta)
		if delta > 0 {
			c.setFlagsAdd(1, uint32(v), r, sz)
		} else {
			c.setFlagsSub(1, uint32(v), r, sz)
		}
		o.write16(c, uint16(r))
	default:
		v, _ := o.read32(c)
		r := v + uint32(delta)
		if delta > 0 {
			c.setFlagsAdd(1, v, r, sz)
		} else {
			c.setFlagsSub(1, v, r, sz)
		}
		o.write32(c, r)
	}
	c.flagSet(flagCF, savedCF)
}
