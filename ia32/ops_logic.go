package ia32

// shiftOp selects one of the eight group-2 shift/rotate operations,
// chosen by ModR/M.reg in the 0xC0/0xC1/0xD0/0xD1/0xD2/0xD3 encodings.
type shiftOp uint8

const (
	shROL shiftOp = iota
	shROR
	shRCL
	shRCR
	shSHL
	shSHR
	shSHLUndoc
	shSAR
)

func init() {
	opcodeTable[0xC0] = opShiftEbImm8
	opcodeTable[0xC1] = opShiftEvImm8
	opcodeTable[0xD0] = opShiftEb1
	opcodeTable[0xD1] = opShiftEv1
	opcodeTable[0xD2] = opShiftEbCL
	opcodeTable[0xD3] = opShiftEvCL
}

func opShiftEbImm8(c *CPU, in *Instruction) { c.shift(shiftOp(in.Reg), in.RM, Size8, uint8(in.Imm)) }
func opShiftEvImm8(c *CPU, in *Instruction) {
	c.shift(shiftOp(in.Reg), in.RM, in.OperandSize, uint8(in.Imm))
}
func opShiftEb1(c *CPU, in *Instruction) { c.shift(shiftOp(in.Reg), in.RM, Size8, 1) }
func opShiftEv1(c *CPU, in *Instruction) { c.shift(shiftOp(in.Reg), in.RM, in.OperandSize, 1) }
func opShiftEbCL(c *CPU, in *Instruction) {
	c.shift(shiftOp(in.Reg), in.RM, Size8, uint8(c.reg.Reg8(RegECX)))
}
func opShiftEvCL(c *CPU, in *Instruction) {
	c.shift(shiftOp(in.Reg), in.RM, in.OperandSize, uint8(c.reg.Reg8(RegECX)))
}

// shift implements ROL/ROR/RCL/RCR/SHL/SHR/SAR with the documented
// count-masking (modulo 32 for every operand width on 386+) and the "OF defined
// only for count==1" rule.
func (c *CPU) shift(op shiftOp, o operand, sz OperandSize, count uint8) {
	bits := uint8(8)
	switch sz {
	case Size16:
		bits = 16
	case Size32:
		bits = 32
	}
	count &= 0x1F
	if count == 0 {
		return
	}

	var v uint32
	switch sz {
	case Size8:
		x, _ := o.read8(c)
		v = uint32(x)
	case Size16:
		x, _ := o.read16(c)
		v = uint32(x)
	default:
		x, _ := o.read32(c)
		v = x
	}

	mask := sz.Mask()
	msb := sz.MSB()
	var result uint32
	var cf bool

	var of bool

	switch op {
	case shSHL, shSHLUndoc:
		result = v << count
		if count <= bits {
			cf = (v>>(bits-count))&1 != 0
		}
		of = count == 1 && ((result&msb != 0) != cf)
	case shSHR:
		result = (v & mask) >> count
		cf = count <= bits && (v>>(count-1))&1 != 0
		of = count == 1 && v&msb != 0
	case shSAR:
		signExtended := v & mask
		if signExtended&msb != 0 {
			signExtended |= ^mask
		}
		result = uint32(int32(signExtended)>>count) & mask
		cf = count <= bits && (v>>(count-1))&1 != 0
		of = false
	case shROL:
		for i := uint8(0); i < count; i++ {
			top := (v >> (bits - 1)) & 1
			v = ((v << 1) | top) & mask
		}
		result = v
		cf = result&1 != 0
		of = count == 1 && ((result&msb != 0) != cf)
	case shROR:
		for i := uint8(0); i < count; i++ {
			bot := v & 1
			v = (v >> 1) | (bot << (bits - 1))
			v &= mask
		}
		result = v
		cf = result&msb != 0
		of = count == 1 && ((result>>(bits-1))&1 != (result>>(bits-2))&1)
	case shRCL:
		cfIn := uint32(0)
		if c.flagIsSet(flagCF) {
			cfIn = 1
		}
		for i := uint8(0); i < count; i++ {
			newCF := (v >> (bits - 1)) & 1
			v = ((v << 1) | cfIn) & mask
			cfIn = newCF
		}
		result = v
		cf = cfIn != 0
		of = count == 1 && ((result&msb != 0) != cf)
	case shRCR:
		cfIn := uint32(0)
		if c.flagIsSet(flagCF) {
			cfIn = 1
		}
		of = count == 1 && ((v&msb != 0) != (cfIn != 0))
		for i := uint8(0); i < count; i++ {
			newCF := v & 1
			v = (v >> 1) | (cfIn << (bits - 1))
			v &= mask
			cfIn = newCF
		}
		result = v
		cf = cfIn != 0
	}

	switch op {
	case shSHL, shSHLUndoc, shSHR, shSAR:
		c.setFlagsLogical(result, sz)
	}
	c.flagSet(flagCF, cf)
	c.flagSet(flagOF, of)

	switch sz {
	case Size8:
		o.write8(c, uint8(result))
	case Size16:
		o.write16(c, uint16(result))
	default:
		o.write32(c, result)
	}
}
