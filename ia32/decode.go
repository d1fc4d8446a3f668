package ia32

// Instruction is the decoded form of one x86 instruction: opcode, the
// resolved operands, and enough prefix/size state for the interpreter to
// apply the correct effective operand/address size. The cached-
// interpreter and recompiler backends wrap this in their own per-block
// record type via codecache's generic Block[I]/DecodedInstruction[I].
type Instruction struct {
	Opcode      uint16 // 0x00-0xFF for one-byte opcodes, 0x0F00|b for 0F-escape
	ModRM       bool
	Reg         uint8 // ModR/M reg field (or opcode-group selector)
	RM          operand
	Imm         uint32
	Imm2        uint16 // second immediate, for ENTER/far-call encodings
	OperandSize OperandSize
	AddressSize AddressSize
	SegOverride int // -1 if none
	Rep         byte // 0 none, 0xF2 REPNZ, 0xF3 REPZ
	Lock        bool
	Length      uint32
}

// opKind distinguishes the operand storage classes the interpreter must
// read/write through.
type opKind uint8

const (
	opNone opKind = iota
	opReg
	opMem
	opImm
)

// operand is a resolved ModR/M or opcode-embedded operand, mirroring the
// teacher's `ea` abstraction: one struct with a read/write pair instead
// of a decode-time switch scattered through every handler.
type operand struct {
	kind opKind
	reg  uint8  // register index, for opReg
	seg  int    // segment register governing a memory access
	addr uint32 // linear offset within seg, for opMem
	imm  uint32
}

func (o operand) read8(c *CPU) (uint8, bool) {
	switch o.kind {
	case opReg:
		return c.reg.Reg8(int(o.reg)), true
	case opImm:
		return uint8(o.imm), true
	case opMem:
		return c.ReadByte(o.seg, o.addr)
	}
	return 0, false
}

func (o operand) read16(c *CPU) (uint16, bool) {
	switch o.kind {
	case opReg:
		return c.reg.Reg16(int(o.reg)), true
	case opImm:
		return uint16(o.imm), true
	case opMem:
		return c.ReadWord(o.seg, o.addr)
	}
	return 0, false
}

func (o operand) read32(c *CPU) (uint32, bool) {
	switch o.kind {
	case opReg:
		return c.reg.Reg32(int(o.reg)), true
	case opImm:
		return o.imm, true
	case opMem:
		return c.ReadDWord(o.seg, o.addr)
	}
	return 0, false
}

func (o operand) write8(c *CPU, v uint8) bool {
	switch o.kind {
	case opReg:
		c.reg.SetReg8(int(o.reg), v)
		return true
	case opMem:
		return c.WriteByte(o.seg, o.addr, v)
	}
	return false
}

func (o operand) write16(c *CPU, v uint16) bool {
	switch o.kind {
	case opReg:
		c.reg.SetReg16(int(o.reg), v)
		return true
	case opMem:
		return c.WriteWord(o.seg, o.addr, v)
	}
	return false
}

func (o operand) write32(c *CPU, v uint32) bool {
	switch o.kind {
	case opReg:
		c.reg.SetReg32(int(o.reg), v)
		return true
	case opMem:
		return c.WriteDWord(o.seg, o.addr, v)
	}
	return false
}

// modrmDecoder fetches bytes from a byte-source (prefetch queue or raw
// slice) and advances a cursor; DecodeAt constructs one per instruction.
type modrmDecoder struct {
	c      *CPU
	phys   uint32 // physical address of the next undecoded byte
	cursor uint32 // bytes consumed so far
	seg    int
	segLin uint32 // linear base for relative branch target computation
}

func (d *modrmDecoder) u8() uint8 {
	b := d.c.prefetch.Fetch(d.c.bus, d.phys+d.cursor, 1)
	d.cursor++
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func (d *modrmDecoder) u16() uint16 {
	lo := d.u8()
	hi := d.u8()
	return uint16(lo) | uint16(hi)<<8
}

func (d *modrmDecoder) u32() uint32 {
	lo := d.u16()
	hi := d.u16()
	return uint32(lo) | uint32(hi)<<16
}

// DecodeAt decodes one instruction starting at the given physical
// address (already translated by the caller from CS:EIP), returning the
// decoded Instruction and its encoded length. This is the entry point
// shared by the pure interpreter and both codecache-backed backends.
func (c *CPU) DecodeAt(phys uint32) Instruction {
	d := &modrmDecoder{c: c, phys: phys, seg: SegDS}
	inst := Instruction{SegOverride: -1, Rep: 0}

	opSize32 := c.operandSize32
	addrSize32 := c.addressSize32

prefixes:
	for {
		b := d.u8()
		switch b {
		case 0x2E:
			d.seg = SegCS
			inst.SegOverride = SegCS
		case 0x36:
			d.seg = SegSS
			inst.SegOverride = SegSS
		case 0x3E:
			d.seg = SegDS
			inst.SegOverride = SegDS
		case 0x26:
			d.seg = SegES
			inst.SegOverride = SegES
		case 0x64:
			d.seg = SegFS
			inst.SegOverride = SegFS
		case 0x65:
			d.seg = SegGS
			inst.SegOverride = SegGS
		case 0x66:
			opSize32 = !c.operandSize32
		case 0x67:
			addrSize32 = !c.addressSize32
		case 0xF0:
			inst.Lock = true
		case 0xF2:
			inst.Rep = 0xF2
		case 0xF3:
			inst.Rep = 0xF3
		default:
			d.cursor--
			break prefixes
		}
	}

	if opSize32 {
		inst.OperandSize = Size32
	} else {
		inst.OperandSize = Size16
	}
	if addrSize32 {
		inst.AddressSize = Addr32
	} else {
		inst.AddressSize = Addr16
	}

	opcode := uint16(d.u8())
	if opcode == 0x0F {
		opcode = 0x0F00 | uint16(d.u8())
	}
	inst.Opcode = opcode

	if opcode == 0x9A || opcode == 0xEA {
		// Direct far CALL/JMP ptr16:16 or ptr16:32: offset then selector,
		// no ModR/M.
		if inst.OperandSize == Size32 {
			inst.Imm = d.u32()
		} else {
			inst.Imm = uint32(d.u16())
		}
		inst.Imm2 = d.u16()
		inst.Length = d.cursor
		return inst
	}

	if opcodeHasModRM(opcode) {
		inst.ModRM = true
		modrm := d.u8()
		mod := modrm >> 6
		reg := (modrm >> 3) & 7
		rm := modrm & 7
		inst.Reg = reg
		inst.RM = c.resolveModRM(d, mod, rm, addrSize32)
	}

	if imm, ok := opcodeImmediateSize(opcode, inst.OperandSize); ok {
		switch imm {
		case 1:
			inst.Imm = uint32(d.u8())
		case 2:
			inst.Imm = uint32(d.u16())
		case 4:
			inst.Imm = d.u32()
		}
	} else if (opcode == 0xF6 || opcode == 0xF7) && inst.Reg <= 1 {
		// Group 3 TEST Eb/Ev, imm: the only group-3 subop that carries an
		// immediate, selected by ModR/M.reg decoded just above.
		if opcode == 0xF6 {
			inst.Imm = uint32(d.u8())
		} else if inst.OperandSize == Size32 {
			inst.Imm = d.u32()
		} else {
			inst.Imm = uint32(d.u16())
		}
	}

	inst.Length = d.cursor
	return inst
}

// resolveModRM decodes the addressing-mode byte into an operand,
// following the teacher's ea.go structure: register-direct modes return
// immediately, memory modes compute a linear offset (SIB handled for
// 32-bit addressing, direct disp16 tables for 16-bit).
func (c *CPU) resolveModRM(d *modrmDecoder, mod, rm uint8, addr32 bool) operand {
	if mod == 3 {
		return operand{kind: opReg, reg: rm}
	}

	seg := d.seg
	var offset uint32

	if addr32 {
		base := rm
		if rm == 4 {
			sib := d.u8()
			scale := sib >> 6
			index := (sib >> 3) & 7
			baseReg := sib & 7
			var idxVal uint32
			if index != 4 {
				idxVal = c.reg.GP[index] << scale
			}
			if baseReg == 5 && mod == 0 {
				offset = idxVal + d.u32()
			} else {
				offset = idxVal + c.reg.GP[baseReg]
			}
			base = 0xFF // already consumed
		} else if rm == 5 && mod == 0 {
			offset = d.u32()
			base = 0xFF
		} else {
			offset = c.reg.GP[base]
		}
		switch mod {
		case 1:
			offset += uint32(int32(int8(d.u8())))
		case 2:
			offset += d.u32()
		}
		_ = base
	} else {
		switch rm {
		case 0:
			offset = uint32(c.reg.Reg16(RegEBX)) + uint32(c.reg.Reg16(RegESI))
		case 1:
			offset = uint32(c.reg.Reg16(RegEBX)) + uint32(c.reg.Reg16(RegEDI))
		case 2:
			offset = uint32(c.reg.Reg16(RegEBP)) + uint32(c.reg.Reg16(RegESI))
			if seg == SegDS {
				seg = SegSS
			}
		case 3:
			offset = uint32(c.reg.Reg16(RegEBP)) + uint32(c.reg.Reg16(RegEDI))
			if seg == SegDS {
				seg = SegSS
			}
		case 4:
			offset = uint32(c.reg.Reg16(RegESI))
		case 5:
			offset = uint32(c.reg.Reg16(RegEDI))
		case 6:
			if mod == 0 {
				offset = uint32(d.u16())
			} else {
				offset = uint32(c.reg.Reg16(RegEBP))
				if seg == SegDS {
					seg = SegSS
				}
			}
		case 7:
			offset = uint32(c.reg.Reg16(RegEBX))
		}
		switch mod {
		case 1:
			offset += uint32(int16(int8(d.u8())))
		case 2:
			offset += uint32(d.u16())
		}
		offset &= 0xFFFF
	}

	return operand{kind: opMem, seg: seg, addr: offset}
}

// opcodeHasModRM reports whether opcode's encoding includes a ModR/M
// byte, per the standard one-byte and 0F-escape tables.
func opcodeHasModRM(opcode uint16) bool {
	if opcode >= 0x0F00 {
		b := opcode & 0xFF
		switch {
		case b >= 0x80 && b <= 0x8F: // Jcc rel32
			return false
		case b == 0x05, b == 0x06, b == 0x07, b == 0x08, b == 0x09: // SYSCALL family, absent on IA-32
			return false
		default:
			return true
		}
	}
	switch {
	case opcode < 0x40 && opcode&7 < 4 && opcode&0xC0 != 0xC0:
		// ALU group 00-3F, low forms (Eb/Gb, Ev/Gv, Gb/Eb, Gv/Ev) have ModRM
		return true
	case opcode >= 0x50 && opcode <= 0x5F: // PUSH/POP reg
		return false
	case opcode >= 0x70 && opcode <= 0x7F: // Jcc rel8
		return false
	case opcode == 0xE8, opcode == 0xE9, opcode == 0xEB: // CALL/JMP rel
		return false
	case opcode == 0xC3, opcode == 0xCB, opcode == 0xC9, opcode == 0xCC, opcode == 0xCF: // RET/LEAVE/INT3/IRET
		return false
	case opcode == 0xF4: // HLT
		return false
	case opcode >= 0xB0 && opcode <= 0xBF: // MOV reg, imm
		return false
	case opcode == 0x90: // NOP
		return false
	case opcode >= 0x00 && opcode <= 0x3D:
		return opcode&0x7 < 4
	case opcode == 0x80, opcode == 0x81, opcode == 0x83: // group 1 (immediate ALU)
		return true
	case opcode == 0x88, opcode == 0x89, opcode == 0x8A, opcode == 0x8B, opcode == 0x8D, opcode == 0x8F:
		return true
	case opcode == 0xC0, opcode == 0xC1, opcode == 0xD0, opcode == 0xD1, opcode == 0xD2, opcode == 0xD3: // shift group
		return true
	case opcode == 0xF6, opcode == 0xF7: // group 3 (test/not/neg/mul/div)
		return true
	case opcode == 0xFE, opcode == 0xFF: // group 4/5 (inc/dec/call/jmp/push)
		return true
	case opcode == 0x8C, opcode == 0x8E: // MOV Sreg
		return true
	case opcode == 0xC6, opcode == 0xC7: // MOV Eb/Ev, imm
		return true
	case opcode >= 0xD8 && opcode <= 0xDF: // x87 escape opcodes
		return true
	}
	return false
}

// opcodeImmediateSize reports the immediate operand width for opcode
// given the current effective operand size, and whether it has one.
func opcodeImmediateSize(opcode uint16, sz OperandSize) (int, bool) {
	switch opcode {
	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C: // ALU AL, imm8
		return 1, true
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D: // ALU eAX, imm
		return int(sz.Bytes()), true
	case 0x80, 0x82, 0x83, 0xC0, 0xC1, 0x6A, 0xA8, 0xEB, 0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7E, 0x7F, 0xE0, 0xE1, 0xE2, 0xE3, 0xCD, 0xE4, 0xE5, 0xE6, 0xE7,
		0xD4, 0xD5: // AAM/AAD ib
		return 1, true
	case 0x81, 0x69, 0xA9, 0xC7, 0xE8, 0xE9, 0x68:
		return int(sz.Bytes()), true
	}
	if opcode >= 0xB0 && opcode <= 0xB7 {
		return 1, true
	}
	if opcode >= 0xB8 && opcode <= 0xBF {
		return int(sz.Bytes()), true
	}
	if opcode == 0xC6 {
		return 1, true
	}
	return 0, false
}
