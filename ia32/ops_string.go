package ia32

func init() {
	opcodeTable[0xA4] = opMovsb
	opcodeTable[0xA5] = opMovsv
	opcodeTable[0xAA] = opStosb
	opcodeTable[0xAB] = opStosv
	opcodeTable[0xAC] = opLodsb
	opcodeTable[0xAD] = opLodsv
	opcodeTable[0xA6] = opCmpsb
	opcodeTable[0xA7] = opCmpsv
	opcodeTable[0xAE] = opScasb
	opcodeTable[0xAF] = opScasv
}

// stringDelta returns the ESI/EDI step size (±size) for the current
// direction flag, per spec §4.1's string-instruction family; the index
// width is chosen by advanceIndex.
func (c *CPU) stringDelta(size uint32, addr32 bool) uint32 {
	if c.flagIsSet(flagDF) {
		return uint32(-int32(size))
	}
	return size
}

func (c *CPU) advanceIndex(reg int, delta uint32, addr32 bool) {
	if addr32 {
		c.reg.SetReg32(reg, c.reg.Reg32(reg)+delta)
	} else {
		c.reg.SetReg16(reg, c.reg.Reg16(reg)+uint16(delta))
	}
}

func (c *CPU) indexValue(reg int, addr32 bool) uint32 {
	if addr32 {
		return c.reg.Reg32(reg)
	}
	return uint32(c.reg.Reg16(reg))
}

// repeat runs body once, or under REP/REPE/REPNE while (E)CX != 0 and
// (for REPE/REPNE) the zero flag matches the prefix's termination
// condition, decrementing (E)CX each iteration (spec §4.1).
func (c *CPU) repeat(in *Instruction, body func()) {
	addr32 := in.AddressSize == Addr32
	if in.Rep == 0 {
		body()
		return
	}
	cmp := in.Opcode == 0xA6 || in.Opcode == 0xA7 || in.Opcode == 0xAE || in.Opcode == 0xAF
	for c.indexValue(RegECX, addr32) != 0 {
		body()
		c.advanceIndex(RegECX, uint32(0xFFFFFFFF), addr32) // -1
		if cmp && in.Rep == 0xF3 && !c.flagIsSet(flagZF) {
			break
		}
		if cmp && in.Rep == 0xF2 && c.flagIsSet(flagZF) {
			break
		}
	}
}

func movsSeg(in *Instruction) int {
	if in.SegOverride >= 0 {
		return in.SegOverride
	}
	return SegDS
}

func opMovsb(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	c.repeat(in, func() {
		v, ok := c.ReadByte(movsSeg(in), c.indexValue(RegESI, addr32))
		if !ok {
			return
		}
		c.WriteByte(SegES, c.indexValue(RegEDI, addr32), v)
		c.advanceIndex(RegESI, c.stringDelta(1, addr32), addr32)
		c.advanceIndex(RegEDI, c.stringDelta(1, addr32), addr32)
	})
}

func opMovsv(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	size := uint32(2)
	if in.OperandSize == Size32 {
		size = 4
	}
	c.repeat(in, func() {
		if size == 4 {
			v, ok := c.ReadDWord(movsSeg(in), c.indexValue(RegESI, addr32))
			if !ok {
				return
			}
			c.WriteDWord(SegES, c.indexValue(RegEDI, addr32), v)
		} else {
			v, ok := c.ReadWord(movsSeg(in), c.indexValue(RegESI, addr32))
			if !ok {
				return
			}
			c.WriteWord(SegES, c.indexValue(RegEDI, addr32), v)
		}
		c.advanceIndex(RegESI, c.stringDelta(size, addr32), addr32)
		c.advanceIndex(RegEDI, c.stringDelta(size, addr32), addr32)
	})
}

func opStosb(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	c.repeat(in, func() {
		al, _ := regOperand(RegEAX).read8(c)
		c.WriteByte(SegES, c.indexValue(RegEDI, addr32), al)
		c.advanceIndex(RegEDI, c.stringDelta(1, addr32), addr32)
	})
}

func opStosv(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	size := uint32(2)
	if in.OperandSize == Size32 {
		size = 4
	}
	c.repeat(in, func() {
		if size == 4 {
			eax, _ := regOperand(RegEAX).read32(c)
			c.WriteDWord(SegES, c.indexValue(RegEDI, addr32), eax)
		} else {
			ax, _ := regOperand(RegEAX).read16(c)
			c.WriteWord(SegES, c.indexValue(RegEDI, addr32), ax)
		}
		c.advanceIndex(RegEDI, c.stringDelta(size, addr32), addr32)
	})
}

func opLodsb(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	c.repeat(in, func() {
		v, ok := c.ReadByte(movsSeg(in), c.indexValue(RegESI, addr32))
		if !ok {
			return
		}
		c.reg.SetReg8(RegEAX, v)
		c.advanceIndex(RegESI, c.stringDelta(1, addr32), addr32)
	})
}

func opLodsv(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	size := uint32(2)
	if in.OperandSize == Size32 {
		size = 4
	}
	c.repeat(in, func() {
		if size == 4 {
			v, ok := c.ReadDWord(movsSeg(in), c.indexValue(RegESI, addr32))
			if !ok {
				return
			}
			c.reg.SetReg32(RegEAX, v)
		} else {
			v, ok := c.ReadWord(movsSeg(in), c.indexValue(RegESI, addr32))
			if !ok {
				return
			}
			c.reg.SetReg16(RegEAX, v)
		}
		c.advanceIndex(RegESI, c.stringDelta(size, addr32), addr32)
	})
}

func opCmpsb(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	c.repeat(in, func() {
		a, ok := c.ReadByte(movsSeg(in), c.indexValue(RegESI, addr32))
		if !ok {
			return
		}
		b, ok := c.ReadByte(SegES, c.indexValue(RegEDI, addr32))
		if !ok {
			return
		}
		c.setFlagsSub(uint32(b), uint32(a), uint32(a)-uint32(b), Size8)
		c.advanceIndex(RegESI, c.stringDelta(1, addr32), addr32)
		c.advanceIndex(RegEDI, c.stringDelta(1, addr32), addr32)
	})
}

func opCmpsv(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	size := uint32(2)
	sz := Size16
	if in.OperandSize == Size32 {
		size = 4
		sz = Size32
	}
	c.repeat(in, func() {
		var a, b uint32
		var ok1, ok2 bool
		if size == 4 {
			a, ok1 = c.ReadDWord(movsSeg(in), c.indexValue(RegESI, addr32))
			b, ok2 = c.ReadDWord(SegES, c.indexValue(RegEDI, addr32))
		} else {
			var a16, b16 uint16
			a16, ok1 = c.ReadWord(movsSeg(in), c.indexValue(RegESI, addr32))
			b16, ok2 = c.ReadWord(SegES, c.indexValue(RegEDI, addr32))
			a, b = uint32(a16), uint32(b16)
		}
		if !ok1 || !ok2 {
			return
		}
		c.setFlagsSub(b, a, a-b, sz)
		c.advanceIndex(RegESI, c.stringDelta(size, addr32), addr32)
		c.advanceIndex(RegEDI, c.stringDelta(size, addr32), addr32)
	})
}

func opScasb(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	c.repeat(in, func() {
		al, _ := regOperand(RegEAX).read8(c)
		b, ok := c.ReadByte(SegES, c.indexValue(RegEDI, addr32))
		if !ok {
			return
		}
		c.setFlagsSub(uint32(b), uint32(al), uint32(al)-uint32(b), Size8)
		c.advanceIndex(RegEDI, c.stringDelta(1, addr32), addr32)
	})
}

func opScasv(c *CPU, in *Instruction) {
	addr32 := in.AddressSize == Addr32
	size := uint32(2)
	sz := Size16
	if in.OperandSize == Size32 {
		size = 4
		sz = Size32
	}
	c.repeat(in, func() {
		var a uint32
		var b uint32
		var ok bool
		if size == 4 {
			a, _ = regOperand(RegEAX).read32(c)
			b, ok = c.ReadDWord(SegES, c.indexValue(RegEDI, addr32))
		} else {
			a16, _ := regOperand(RegEAX).read16(c)
			var b16 uint16
			b16, ok = c.ReadWord(SegES, c.indexValue(RegEDI, addr32))
			a, b = uint32(a16), uint32(b16)
		}
		if !ok {
			return
		}
		c.setFlagsSub(b, a, a-b, sz)
		c.advanceIndex(RegEDI, c.stringDelta(size, addr32), addr32)
	})
}
