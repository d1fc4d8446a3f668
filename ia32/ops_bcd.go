package ia32

// Packed/unpacked BCD adjustment instructions: DAA, DAS (packed, operate
// on AL after ADD/SUB), and AAA, AAS, AAM, AAD (unpacked, operate on
// AL/AH around ADD/SUB/MUL/DIV of ASCII digits). All six are 16/32-bit-
// operand-size invariant and always address AL/AX regardless of the
// current operand size.
//
// Grounded on the teacher's ops_bcd.go (ABCD/SBCD/NBCD digit-correction
// helpers for the 68000): the same two-nibble correct-and-carry shape
// applies here, adapted to EFLAGS (CF/AF/SF/ZF/PF) instead of CCR
// (X/C/N/V/Z) and to the fixed-encoding x86 forms (original_source's
// opcodes.h: 0x27 DAA, 0x2F DAS, 0x37 AAA, 0x3F AAS, 0xD4 AAM, 0xD5 AAD).

func init() {
	opcodeTable[0x27] = opDAA
	opcodeTable[0x2F] = opDAS
	opcodeTable[0x37] = opAAA
	opcodeTable[0x3F] = opAAS
	opcodeTable[0xD4] = opAAM
	opcodeTable[0xD5] = opAAD
}

// setSZP8 sets SF/ZF/PF from an 8-bit result, leaving CF/AF/OF untouched
// — unlike setFlagsLogical, the BCD adjustments compute their own CF/AF
// and leave OF undefined per the SDM, so the shared ALU helper would
// clobber flags these instructions must control themselves.
func setSZP8(c *CPU, v uint8) {
	c.flagSet(flagZF, v == 0)
	c.flagSet(flagSF, v&0x80 != 0)
	c.flagSet(flagPF, parityTable8[v])
}

// opDAA adjusts AL into packed BCD after an ADD, per the documented
// Intel algorithm: correct the low nibble if it exceeds 9 or AF was
// already set, then the high nibble (against the pre-correction value)
// if it exceeds 0x99 or CF was already set, accumulating AF/CF across
// both corrections.
func opDAA(c *CPU, in *Instruction) {
	al := c.reg.Reg8(RegEAX)
	oldAL := al
	oldCF := c.flagIsSet(flagCF)

	newAF := false
	if al&0x0F > 9 || c.flagIsSet(flagAF) {
		al += 6
		newAF = true
	}
	newCF := oldCF
	if oldAL > 0x99 || oldCF {
		al += 0x60
		newCF = true
	}

	c.reg.SetReg8(RegEAX, al)
	c.flagSet(flagAF, newAF)
	c.flagSet(flagCF, newCF)
	setSZP8(c, al)
}

// opDAS adjusts AL into packed BCD after a SUB, mirroring opDAA with
// subtraction in place of addition.
func opDAS(c *CPU, in *Instruction) {
	al := c.reg.Reg8(RegEAX)
	oldAL := al
	oldCF := c.flagIsSet(flagCF)

	newAF := false
	if al&0x0F > 9 || c.flagIsSet(flagAF) {
		al -= 6
		newAF = true
	}
	newCF := oldCF
	if oldAL > 0x99 || oldCF {
		al -= 0x60
		newCF = true
	}

	c.reg.SetReg8(RegEAX, al)
	c.flagSet(flagAF, newAF)
	c.flagSet(flagCF, newCF)
	setSZP8(c, al)
}

// opAAA adjusts AL into an unpacked BCD digit after an ADD, carrying any
// overflow into AH — the ASCII-arithmetic analogue of opDAA. SF/ZF/PF
// are left undefined by the SDM for AAA/AAS; left unchanged here.
func opAAA(c *CPU, in *Instruction) {
	al := c.reg.Reg8(RegEAX)
	if al&0x0F > 9 || c.flagIsSet(flagAF) {
		c.reg.SetReg8(RegEAX, (al+6)&0x0F)
		c.reg.SetReg8(RegEAX|4, c.reg.Reg8(RegEAX|4)+1)
		c.flagSet(flagAF, true)
		c.flagSet(flagCF, true)
	} else {
		c.reg.SetReg8(RegEAX, al&0x0F)
		c.flagSet(flagAF, false)
		c.flagSet(flagCF, false)
	}
}

// opAAS adjusts AL into an unpacked BCD digit after a SUB, borrowing
// from AH on underflow — the ASCII-arithmetic analogue of opDAS.
func opAAS(c *CPU, in *Instruction) {
	al := c.reg.Reg8(RegEAX)
	if al&0x0F > 9 || c.flagIsSet(flagAF) {
		c.reg.SetReg8(RegEAX, (al-6)&0x0F)
		c.reg.SetReg8(RegEAX|4, c.reg.Reg8(RegEAX|4)-1)
		c.flagSet(flagAF, true)
		c.flagSet(flagCF, true)
	} else {
		c.reg.SetReg8(RegEAX, al&0x0F)
		c.flagSet(flagAF, false)
		c.flagSet(flagCF, false)
	}
}

// opAAM adjusts AX after a byte MUL into two unpacked BCD digits by
// dividing AL by the instruction's immediate base (10 for the documented
// encoding, though any nonzero base is legal): the quotient becomes AH,
// the remainder becomes AL. A zero base divides by zero and faults
// exactly like DIV.
func opAAM(c *CPU, in *Instruction) {
	base := uint8(in.Imm)
	if base == 0 {
		c.raiseFault(excDE, 0)
		return
	}
	al := c.reg.Reg8(RegEAX)
	c.reg.SetReg8(RegEAX|4, al/base)
	rem := al % base
	c.reg.SetReg8(RegEAX, rem)
	setSZP8(c, rem)
}

// opAAD adjusts AX before a byte DIV by folding two unpacked BCD digits
// (AH, AL) into a single binary byte in AL: AL = AH*base + AL, AH = 0.
func opAAD(c *CPU, in *Instruction) {
	base := uint8(in.Imm)
	al := c.reg.Reg8(RegEAX)
	ah := c.reg.Reg8(RegEAX | 4)
	result := ah*base + al
	c.reg.SetReg8(RegEAX, result)
	c.reg.SetReg8(RegEAX|4, 0)
	setSZP8(c, result)
}
