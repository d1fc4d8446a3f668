package ia32

// EFLAGS bit positions.
const (
	flagCF   uint32 = 1 << 0
	flagPF   uint32 = 1 << 2
	flagAF   uint32 = 1 << 4
	flagZF   uint32 = 1 << 6
	flagSF   uint32 = 1 << 7
	flagTF   uint32 = 1 << 8
	flagIF   uint32 = 1 << 9
	flagDF   uint32 = 1 << 10
	flagOF   uint32 = 1 << 11
	flagIOPL uint32 = 3 << 12
	flagNT   uint32 = 1 << 14
	flagRF   uint32 = 1 << 16
	flagVM   uint32 = 1 << 17
	flagAC   uint32 = 1 << 18
	flagVIF  uint32 = 1 << 19
	flagVIP  uint32 = 1 << 20
	flagID   uint32 = 1 << 21

	// eflagsFixedOnes are always set regardless of what's written (bit 1).
	eflagsFixedOnes uint32 = 1 << 1
)

// parityTable8 is precomputed even-parity-of-low-byte, matching the
// documented "P flag set iff the low byte has an even number of 1 bits".
var parityTable8 [256]bool

func init() {
	for i := range parityTable8 {
		bits := 0
		for v := i; v != 0; v >>= 1 {
			bits += v & 1
		}
		parityTable8[i] = bits%2 == 0
	}
}

// Flags returns the live EFLAGS value.
func (c *CPU) Flags() uint32 { return c.reg.EFLAGS }

// SetFlags applies v to EFLAGS through the model's writable mask: bits
// outside writableMask(model) keep their old value, matching property #2
// in spec.md §8 — SetFlags(v) yields
// EFLAGS = (v & writable_mask(model)) | (old & ^writable_mask(model)).
// Reserved bit 1 is additionally forced to one, and bits 3, 5 and 22-31
// to zero.
func (c *CPU) SetFlags(v uint32) {
	mask := c.model.eflagsWritableMask()
	c.reg.EFLAGS = (v & mask) | (c.reg.EFLAGS &^ mask)
	c.reg.EFLAGS |= eflagsFixedOnes
	c.reg.EFLAGS &^= 1 << 3 // reserved, always zero
	c.reg.EFLAGS &^= 1 << 5
	c.reg.EFLAGS &^= 1<<22 | 0xFFC00000 // reserved above VIP/ID on all models
}

func (c *CPU) flagSet(bit uint32, v bool) {
	if v {
		c.reg.EFLAGS |= bit
	} else {
		c.reg.EFLAGS &^= bit
	}
}

func (c *CPU) flagIsSet(bit uint32) bool { return c.reg.EFLAGS&bit != 0 }

func (c *CPU) cpl() uint8 { return uint8(c.reg.CPL) }

// setFlagsAdd sets OF/SF/ZF/AF/PF/CF after result = dst + src, per the
// documented Intel rules for ADD/ADC.
func (c *CPU) setFlagsAdd(src, dst, result uint32, sz OperandSize) {
	mask := sz.Mask()
	msb := sz.MSB()
	r, s, d := result&mask, src&mask, dst&mask
	c.setFlagsLogical(r, sz)

	// Carry: unsigned overflow out of the operand width.
	c.flagSet(flagCF, (uint64(s)+uint64(d)) > uint64(mask))
	c.flagSet(flagOF, (s^r)&(d^r)&msb != 0)
	c.flagSet(flagAF, (s^d^r)&0x10 != 0)
}

// setFlagsSub sets flags after result = dst - src, per SUB/CMP.
func (c *CPU) setFlagsSub(src, dst, result uint32, sz OperandSize) {
	mask := sz.Mask()
	msb := sz.MSB()
	r, s, d := result&mask, src&mask, dst&mask
	c.setFlagsLogical(r, sz)

	c.flagSet(flagCF, d < s)
	c.flagSet(flagOF, (s^d)&(r^d)&msb != 0)
	c.flagSet(flagAF, (s^d^r)&0x10 != 0)
}

// setFlagsLogical sets SF/ZF/PF from the result and clears CF/OF, per
// AND/OR/XOR/TEST. AF is left undefined by the SDM; we leave it unchanged.
func (c *CPU) setFlagsLogical(result uint32, sz OperandSize) {
	r := result & sz.Mask()
	c.flagSet(flagZF, r == 0)
	c.flagSet(flagSF, r&sz.MSB() != 0)
	c.flagSet(flagPF, parityTable8[r&0xFF])
	c.flagSet(flagCF, false)
	c.flagSet(flagOF, false)
}

// testCondition evaluates a Jcc/SETcc/CMOVcc 4-bit condition code.
func (c *CPU) testCondition(cc uint8) bool {
	cf := c.flagIsSet(flagCF)
	zf := c.flagIsSet(flagZF)
	sf := c.flagIsSet(flagSF)
	of := c.flagIsSet(flagOF)
	pf := c.flagIsSet(flagPF)

	switch cc & 0xF {
	case 0x0: // O
		return of
	case 0x1: // NO
		return !of
	case 0x2: // B/C/NAE
		return cf
	case 0x3: // NB/NC/AE
		return !cf
	case 0x4: // E/Z
		return zf
	case 0x5: // NE/NZ
		return !zf
	case 0x6: // BE/NA
		return cf || zf
	case 0x7: // NBE/A
		return !cf && !zf
	case 0x8: // S
		return sf
	case 0x9: // NS
		return !sf
	case 0xA: // P/PE
		return pf
	case 0xB: // NP/PO
		return !pf
	case 0xC: // L/NGE
		return sf != of
	case 0xD: // NL/GE
		return sf == of
	case 0xE: // LE/NG
		return zf || sf != of
	case 0xF: // NLE/G
		return !zf && sf == of
	}
	return false
}
