package ia32

func init() {
	for cc := uint16(0x70); cc <= 0x7F; cc++ {
		opcodeTable[cc] = opJccRel8
	}
	for cc := uint16(0x80); cc <= 0x8F; cc++ {
		opcodeTable0F[cc] = opJccRel32
	}
	opcodeTable[0xEB] = opJmpRel8
	opcodeTable[0xE9] = opJmpRel32
	opcodeTable[0xE8] = opCallRel32
	opcodeTable[0xC3] = opRetNear
	opcodeTable[0xC2] = opRetNearImm
	opcodeTable[0xE0] = opLoopNZ
	opcodeTable[0xE1] = opLoopZ
	opcodeTable[0xE2] = opLoop
	opcodeTable[0xE3] = opJCXZ
	opcodeTable[0xCA] = opRetFarImm
	opcodeTable[0xCB] = opRetFar
	opcodeTable[0x9A] = opCallFar
	opcodeTable[0xEA] = opJmpFar
}

func opJccRel8(c *CPU, in *Instruction) {
	if !c.testCondition(uint8(in.Opcode & 0xF)) {
		return
	}
	disp := int32(int8(in.Imm))
	c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + disp))
}

func opJccRel32(c *CPU, in *Instruction) {
	if !c.testCondition(uint8(in.Opcode & 0xF)) {
		return
	}
	var disp int32
	if in.OperandSize == Size32 {
		disp = int32(in.Imm)
	} else {
		disp = int32(int16(in.Imm))
	}
	c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + disp))
}

func opJmpRel8(c *CPU, in *Instruction) {
	disp := int32(int8(in.Imm))
	c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + disp))
}

func opJmpRel32(c *CPU, in *Instruction) {
	var disp int32
	if in.OperandSize == Size32 {
		disp = int32(in.Imm)
	} else {
		disp = int32(int16(in.Imm))
	}
	c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + disp))
}

func opCallRel32(c *CPU, in *Instruction) {
	var disp int32
	if in.OperandSize == Size32 {
		disp = int32(in.Imm)
	} else {
		disp = int32(int16(in.Imm))
	}
	ret := c.reg.EIP + in.Length
	if in.OperandSize == Size32 {
		c.push32(ret)
	} else {
		c.push16(uint16(ret))
	}
	c.BranchTo(uint32(int32(ret) + disp))
}

func opRetNear(c *CPU, in *Instruction) {
	if in.OperandSize == Size32 {
		c.BranchTo(c.pop32())
	} else {
		c.BranchTo(uint32(c.pop16()))
	}
}

func opRetNearImm(c *CPU, in *Instruction) {
	var target uint32
	if in.OperandSize == Size32 {
		target = c.pop32()
	} else {
		target = uint32(c.pop16())
	}
	c.reg.GP[RegESP] += in.Imm
	c.BranchTo(target)
}

func opLoopNZ(c *CPU, in *Instruction) {
	cx := c.reg.Reg32(RegECX) - 1
	c.reg.SetReg32(RegECX, cx)
	if cx != 0 && !c.flagIsSet(flagZF) {
		c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + int32(int8(in.Imm))))
	}
}

func opLoopZ(c *CPU, in *Instruction) {
	cx := c.reg.Reg32(RegECX) - 1
	c.reg.SetReg32(RegECX, cx)
	if cx != 0 && c.flagIsSet(flagZF) {
		c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + int32(int8(in.Imm))))
	}
}

func opLoop(c *CPU, in *Instruction) {
	cx := c.reg.Reg32(RegECX) - 1
	c.reg.SetReg32(RegECX, cx)
	if cx != 0 {
		c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + int32(int8(in.Imm))))
	}
}

func opJCXZ(c *CPU, in *Instruction) {
	if c.reg.Reg32(RegECX) == 0 {
		c.BranchTo(uint32(int32(c.reg.EIP+in.Length) + int32(int8(in.Imm))))
	}
}

func opCallFar(c *CPU, in *Instruction) {
	offset := in.Imm
	sel := in.Imm2
	c.FarCall(sel, offset, in.OperandSize == Size32)
}

func opJmpFar(c *CPU, in *Instruction) {
	offset := in.Imm
	sel := in.Imm2
	c.FarJump(sel, offset)
}

func opRetFar(c *CPU, in *Instruction) {
	c.FarReturn(in.OperandSize == Size32, 0)
}

func opRetFarImm(c *CPU, in *Instruction) {
	c.FarReturn(in.OperandSize == Size32, uint16(in.Imm))
}
