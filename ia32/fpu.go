package ia32

import "math"

// F80 is an opaque 80-bit x87 extended-precision value: 1 sign bit, a
// 15-bit biased exponent, and a 64-bit significand with an explicit
// integer bit, stored little-endian exactly as FLD/FSTP read and write
// it from memory. Float80Ops implementations interpret the bytes; the
// core never does arithmetic on them directly.
type F80 [10]byte

// Float80Ops is the external x87 arithmetic backend spec §1 delegates
// actual floating-point computation to. defaultFloat80Ops below is a
// pure-Go reference covering load/store/compare and the four basic
// arithmetic operations; transcendental operations (FSIN, FYL2X, FPTAN,
// ...) have no opcode wired in this core and no method in this
// interface.
type Float80Ops interface {
	Add(a, b F80) F80
	Sub(a, b F80) F80
	Mul(a, b F80) F80
	Div(a, b F80) F80
	// Compare returns -1, 0, 1 for a<b, a==b, a>b, and ok=false if
	// either operand is NaN (unordered).
	Compare(a, b F80) (result int, ok bool)
	Neg(a F80) F80
	Abs(a F80) F80
	FromInt64(v int64) F80
	ToInt64(a F80) int64
	FromFloat64(v float64) F80
	ToFloat64(a F80) float64
	Zero() F80
	One() F80
}

// defaultFloat80Ops round-trips through float64, which loses precision
// below the full 64-bit x87 significand but satisfies every
// non-transcendental opcode this core wires up.
type defaultFloat80Ops struct{}

func f80Encode(sign bool, exp uint16, sig uint64) F80 {
	var f F80
	f[0] = byte(sig)
	f[1] = byte(sig >> 8)
	f[2] = byte(sig >> 16)
	f[3] = byte(sig >> 24)
	f[4] = byte(sig >> 32)
	f[5] = byte(sig >> 40)
	f[6] = byte(sig >> 48)
	f[7] = byte(sig >> 56)
	e := exp & 0x7FFF
	if sign {
		e |= 0x8000
	}
	f[8] = byte(e)
	f[9] = byte(e >> 8)
	return f
}

func f80Decode(f F80) (sign bool, exp uint16, sig uint64) {
	sig = uint64(f[0]) | uint64(f[1])<<8 | uint64(f[2])<<16 | uint64(f[3])<<24 |
		uint64(f[4])<<32 | uint64(f[5])<<40 | uint64(f[6])<<48 | uint64(f[7])<<56
	e := uint16(f[8]) | uint16(f[9])<<8
	sign = e&0x8000 != 0
	exp = e &^ 0x8000
	return
}

func (defaultFloat80Ops) FromFloat64(v float64) F80 {
	if v == 0 {
		return f80Encode(math.Signbit(v), 0, 0)
	}
	bits := math.Float64bits(v)
	sign := bits>>63 != 0
	exp := int((bits>>52)&0x7FF) - 1023
	frac := bits & (1<<52 - 1)
	sig := (frac << 11) | (1 << 63) // restore explicit integer bit, widen to 64 bits
	return f80Encode(sign, uint16(exp+16383), sig)
}

func (defaultFloat80Ops) ToFloat64(a F80) float64 {
	sign, exp, sig := f80Decode(a)
	if exp == 0 && sig == 0 {
		if sign {
			return math.Copysign(0, -1)
		}
		return 0
	}
	e := int(exp) - 16383
	frac := (sig &^ (1 << 63)) >> 11
	bits := uint64(e+1023) << 52
	bits |= frac
	if sign {
		bits |= 1 << 63
	}
	return math.Float64frombits(bits)
}

func (o defaultFloat80Ops) Add(a, b F80) F80 { return o.FromFloat64(o.ToFloat64(a) + o.ToFloat64(b)) }
func (o defaultFloat80Ops) Sub(a, b F80) F80 { return o.FromFloat64(o.ToFloat64(a) - o.ToFloat64(b)) }
func (o defaultFloat80Ops) Mul(a, b F80) F80 { return o.FromFloat64(o.ToFloat64(a) * o.ToFloat64(b)) }
func (o defaultFloat80Ops) Div(a, b F80) F80 { return o.FromFloat64(o.ToFloat64(a) / o.ToFloat64(b)) }

func (o defaultFloat80Ops) Compare(a, b F80) (int, bool) {
	x, y := o.ToFloat64(a), o.ToFloat64(b)
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	default:
		return 0, true
	}
}

func (o defaultFloat80Ops) Neg(a F80) F80 { return o.FromFloat64(-o.ToFloat64(a)) }
func (o defaultFloat80Ops) Abs(a F80) F80 { return o.FromFloat64(math.Abs(o.ToFloat64(a))) }

func (o defaultFloat80Ops) FromInt64(v int64) F80  { return o.FromFloat64(float64(v)) }
func (o defaultFloat80Ops) ToInt64(a F80) int64    { return int64(o.ToFloat64(a)) }
func (o defaultFloat80Ops) Zero() F80              { return o.FromFloat64(0) }
func (o defaultFloat80Ops) One() F80               { return o.FromFloat64(1) }

// FPU tag-word states (2 bits per stack slot, spec §3.2).
const (
	tagValid uint16 = iota
	tagZero
	tagSpecial
	tagEmpty
)

// FPUState is the x87 register file: eight 80-bit stack slots plus the
// control/status/tag words, modelled per spec §3.2/§4.11. FIP/FDP/FOP
// are carried only so FSAVE/FRSTOR round-trip a fixed-size image; this
// core does not track the last FPU instruction pointer, so they always
// serialize as zero (documented open question, spec §9).
type FPUState struct {
	CW, SW, TW uint16
	ST         [8]F80
	FIP, FDP   uint32
	FCS, FDS   uint16
	FOP        uint16
}

const cwReservedOnes = 0x0040 // bit 6 of the control word is fixed at 1
const cwWritableMask = 0x1F3F // IC, RC, PC and the exception masks are the only writable bits

func (f *FPUState) reset() {
	f.CW = 0x037F
	f.SW = 0
	f.TW = 0xFFFF
	f.ST = [8]F80{}
	f.FIP, f.FDP, f.FCS, f.FDS, f.FOP = 0, 0, 0, 0, 0
}

func (f *FPUState) top() uint8 { return uint8((f.SW >> 11) & 7) }

func (f *FPUState) setTop(t uint8) {
	f.SW = (f.SW &^ (7 << 11)) | (uint16(t&7) << 11)
}

func (f *FPUState) setTag(i uint8, v uint16) {
	shift := i * 2
	f.TW = (f.TW &^ (3 << shift)) | (v << shift)
}

// summaryException reports ES, the OR of every unmasked pending
// exception flag, per spec §3.2.
func (f *FPUState) summaryException() bool {
	unmasked := (f.SW &^ f.CW) & 0x3F
	return unmasked != 0
}

func (f *FPUState) pushValue(v F80) {
	t := (f.top() - 1) & 7
	f.setTop(t)
	f.ST[t] = v
	o := defaultFloat80Ops{}
	if o.ToFloat64(v) == 0 {
		f.setTag(t, tagZero)
	} else {
		f.setTag(t, tagValid)
	}
}

func (f *FPUState) pop() F80 {
	t := f.top()
	v := f.ST[t]
	f.setTag(t, tagEmpty)
	f.setTop((t + 1) & 7)
	return v
}

func (f *FPUState) at(i uint8) F80 {
	return f.ST[(f.top()+i)&7]
}

func (f *FPUState) setAt(i uint8, v F80) {
	idx := (f.top() + i) & 7
	f.ST[idx] = v
	f.setTag(idx, tagValid)
}

// checkFPUAccess implements spec §4.11's gate every x87 opcode passes
// through before touching FPU state: EM or TS raises #NM (this core
// wires no FWAIT, which is the only opcode real hardware exempts from
// the TS check); a pending unmasked exception raises #MF when CR0.NE
// is set, or asserts IRQ13 when it is clear.
func (c *CPU) checkFPUAccess(opcode uint16) bool {
	if c.reg.CR0&(cr0EM|cr0TS) != 0 {
		c.raiseFault(excNM, 0)
		return false
	}
	if c.fpu.summaryException() {
		if c.reg.CR0&cr0NE != 0 {
			c.raiseFault(excMF, 0)
		} else {
			c.SetIRQLine(true)
		}
		return false
	}
	return true
}

func init() {
	for op := uint16(0xD8); op <= 0xDF; op++ {
		opcodeTable[op] = opFPUEscape
	}
}

func opFPUEscape(c *CPU, in *Instruction) {
	if !c.checkFPUAccess(in.Opcode) {
		return
	}
	isReg := in.RM.kind == opReg
	switch in.Opcode {
	case 0xD8:
		if isReg {
			fpuArithReg(c, in.Reg, in.RM.reg)
		} else if v, ok := loadF32(c, in.RM); ok {
			applyFPUArith(c, in.Reg, v)
		}
	case 0xD9:
		opD9(c, in, isReg)
	case 0xDA:
		if isReg {
			if in.Reg == 5 && in.RM.reg == 1 { // FUCOMPP
				c.fpu.pop()
				c.fpu.pop()
			}
		} else if v, ok := loadInt32(c, in.RM); ok { // FIADD/FIMUL/FICOM.../FIDIVR m32int
			applyFPUArith(c, in.Reg, v)
		}
	case 0xDB:
		opDB(c, in, isReg)
	case 0xDC:
		if isReg {
			fpuArithReg(c, in.Reg, in.RM.reg)
		} else if v, ok := loadF64(c, in.RM); ok {
			applyFPUArith(c, in.Reg, v)
		}
	case 0xDD:
		opDD(c, in, isReg)
	case 0xDE:
		opDE(c, in, isReg)
	case 0xDF:
		opDF(c, in, isReg)
	}
}

func loadF32(c *CPU, o operand) (F80, bool) {
	v, ok := o.read32(c)
	if !ok {
		return F80{}, false
	}
	return defaultFloat80Ops{}.FromFloat64(float64(math.Float32frombits(v))), true
}

func storeF32(c *CPU, o operand, v F80) bool {
	f := float32(defaultFloat80Ops{}.ToFloat64(v))
	return o.write32(c, math.Float32bits(f))
}

func loadF64(c *CPU, o operand) (F80, bool) {
	lo, ok := c.ReadDWord(o.seg, o.addr)
	if !ok {
		return F80{}, false
	}
	hi, ok := c.ReadDWord(o.seg, o.addr+4)
	if !ok {
		return F80{}, false
	}
	bits := uint64(lo) | uint64(hi)<<32
	return defaultFloat80Ops{}.FromFloat64(math.Float64frombits(bits)), true
}

func storeF64(c *CPU, o operand, v F80) bool {
	bits := math.Float64bits(defaultFloat80Ops{}.ToFloat64(v))
	if !c.WriteDWord(o.seg, o.addr, uint32(bits)) {
		return false
	}
	return c.WriteDWord(o.seg, o.addr+4, uint32(bits>>32))
}

func loadF80(c *CPU, o operand) (F80, bool) {
	var f F80
	for i := 0; i < 10; i++ {
		b, ok := c.ReadByte(o.seg, o.addr+uint32(i))
		if !ok {
			return F80{}, false
		}
		f[i] = b
	}
	return f, true
}

func storeF80(c *CPU, o operand, v F80) bool {
	for i := 0; i < 10; i++ {
		if !c.WriteByte(o.seg, o.addr+uint32(i), v[i]) {
			return false
		}
	}
	return true
}

func loadInt32(c *CPU, o operand) (F80, bool) {
	v, ok := o.read32(c)
	if !ok {
		return F80{}, false
	}
	return defaultFloat80Ops{}.FromInt64(int64(int32(v))), true
}

func storeInt32(c *CPU, o operand, v F80) bool {
	return o.write32(c, uint32(int32(defaultFloat80Ops{}.ToInt64(v))))
}

// opD9 covers FLD mem32, FXCH, the constant loads, FST/FSTP mem32,
// FLDCW/FNSTCW, FCHS/FABS, and FNINIT among the D9 reg-form
// subopcodes (encoded in ModR/M.reg when mod==3).
func opD9(c *CPU, in *Instruction, isReg bool) {
	if isReg {
		switch in.Reg {
		case 0: // FLD ST(i)
			v := c.fpu.at(in.RM.reg)
			c.fpu.pushValue(v)
		case 1: // FXCH
			t := c.fpu.top()
			i := (t + in.RM.reg) & 7
			c.fpu.ST[t], c.fpu.ST[i] = c.fpu.ST[i], c.fpu.ST[t]
		case 4:
			switch in.RM.reg {
			case 0: // FCHS
				c.fpu.setAt(0, defaultFloat80Ops{}.Neg(c.fpu.at(0)))
			case 1: // FABS
				c.fpu.setAt(0, defaultFloat80Ops{}.Abs(c.fpu.at(0)))
			}
		case 5: // FLD1/FLDZ/... constants, subset
			switch in.RM.reg {
			case 0:
				c.fpu.pushValue(defaultFloat80Ops{}.One())
			case 4:
				c.fpu.pushValue(defaultFloat80Ops{}.Zero())
			}
		case 7:
			switch in.RM.reg {
			case 1: // FNINIT (FINIT waits for the FPU; not modelled)
				c.fpu.reset()
			}
		}
		return
	}
	switch in.Reg {
	case 0: // FLD m32
		if v, ok := loadF32(c, in.RM); ok {
			c.fpu.pushValue(v)
		}
	case 2: // FST m32
		storeF32(c, in.RM, c.fpu.at(0))
	case 3: // FSTP m32
		storeF32(c, in.RM, c.fpu.at(0))
		c.fpu.pop()
	case 5: // FLDCW
		if v, ok := in.RM.read16(c); ok {
			c.fpu.CW = (v & cwWritableMask) | cwReservedOnes
		}
	case 7: // FNSTCW
		in.RM.write16(c, c.fpu.CW)
	}
}

func opDB(c *CPU, in *Instruction, isReg bool) {
	if isReg {
		if in.Reg == 4 && in.RM.reg == 2 { // FNCLEX (DB E2)
			c.fpu.SW &^= 0xFF
		}
		return
	}
	switch in.Reg {
	case 0: // FILD m32
		if v, ok := loadInt32(c, in.RM); ok {
			c.fpu.pushValue(v)
		}
	case 2: // FIST m32
		storeInt32(c, in.RM, c.fpu.at(0))
	case 3: // FISTP m32
		storeInt32(c, in.RM, c.fpu.at(0))
		c.fpu.pop()
	case 5: // FLD m80
		if v, ok := loadF80(c, in.RM); ok {
			c.fpu.pushValue(v)
		}
	case 7: // FSTP m80
		storeF80(c, in.RM, c.fpu.at(0))
		c.fpu.pop()
	}
}

func opDD(c *CPU, in *Instruction, isReg bool) {
	if isReg {
		switch in.Reg {
		case 0: // FFREE
			c.fpu.setTag((c.fpu.top()+in.RM.reg)&7, tagEmpty)
		case 2: // FST ST(i)
			c.fpu.setAt(in.RM.reg, c.fpu.at(0))
		case 3: // FSTP ST(i)
			c.fpu.setAt(in.RM.reg, c.fpu.at(0))
			c.fpu.pop()
		}
		return
	}
	switch in.Reg {
	case 0: // FLD m64
		if v, ok := loadF64(c, in.RM); ok {
			c.fpu.pushValue(v)
		}
	case 2: // FST m64
		storeF64(c, in.RM, c.fpu.at(0))
	case 3: // FSTP m64
		storeF64(c, in.RM, c.fpu.at(0))
		c.fpu.pop()
	case 4: // FRSTOR
		c.frstor(in.RM)
	case 6: // FNSAVE
		c.fnsave(in.RM)
	case 7: // FNSTSW m16
		in.RM.write16(c, c.fpu.SW)
	}
}

func opDE(c *CPU, in *Instruction, isReg bool) {
	if isReg {
		if in.Reg == 3 && in.RM.reg == 1 { // FCOMPP
			doFCompare(c, c.fpu.at(0), c.fpu.at(1))
			c.fpu.pop()
			c.fpu.pop()
			return
		}
		fpuArithPopReg(c, in.Reg, in.RM.reg)
		return
	}
	fpuArithIntMem16(c, in)
}

func opDF(c *CPU, in *Instruction, isReg bool) {
	if isReg {
		if in.Reg == 4 && in.RM.reg == 0 { // FNSTSW AX
			regOperand(RegEAX).write16(c, c.fpu.SW)
		}
		return
	}
	switch in.Reg {
	case 0: // FILD m16
		v, ok := in.RM.read16(c)
		if ok {
			c.fpu.pushValue(defaultFloat80Ops{}.FromInt64(int64(int16(v))))
		}
	case 3: // FISTP m16
		v := int16(defaultFloat80Ops{}.ToInt64(c.fpu.at(0)))
		in.RM.write16(c, uint16(v))
		c.fpu.pop()
	case 5: // FILD m64
		lo, ok1 := c.ReadDWord(in.RM.seg, in.RM.addr)
		hi, ok2 := c.ReadDWord(in.RM.seg, in.RM.addr+4)
		if ok1 && ok2 {
			c.fpu.pushValue(defaultFloat80Ops{}.FromInt64(int64(uint64(lo) | uint64(hi)<<32)))
		}
	case 7: // FISTP m64
		v := defaultFloat80Ops{}.ToInt64(c.fpu.at(0))
		c.WriteDWord(in.RM.seg, in.RM.addr, uint32(v))
		c.WriteDWord(in.RM.seg, in.RM.addr+4, uint32(v>>32))
		c.fpu.pop()
	}
}

func fpuArithIntMem16(c *CPU, in *Instruction) {
	v, ok := in.RM.read16(c)
	if !ok {
		return
	}
	b := defaultFloat80Ops{}.FromInt64(int64(int16(v)))
	applyFPUArith(c, in.Reg, b)
}

// applyFPUArith applies an ALU op between ST(0) and b, writing the
// result back to ST(0) (except for the compare forms). op is the
// group encoded in ModR/M.reg: 0 add, 1 mul, 2 com, 3 comp, 4 sub,
// 5 subr, 6 div, 7 divr.
func applyFPUArith(c *CPU, op uint8, b F80) {
	o := c.float80
	a := c.fpu.at(0)
	switch op {
	case 0:
		c.fpu.setAt(0, o.Add(a, b))
	case 1:
		c.fpu.setAt(0, o.Mul(a, b))
	case 2:
		doFCompare(c, a, b)
	case 3:
		doFCompare(c, a, b)
	case 4:
		c.fpu.setAt(0, o.Sub(a, b))
	case 5:
		c.fpu.setAt(0, o.Sub(b, a))
	case 6:
		c.fpu.setAt(0, o.Div(a, b))
	case 7:
		c.fpu.setAt(0, o.Div(b, a))
	}
}

func doFCompare(c *CPU, a, b F80) {
	result, ok := c.float80.Compare(a, b)
	const c0, c2, c3 = 1 << 8, 1 << 10, 1 << 14
	c.fpu.SW &^= c0 | c2 | c3
	if !ok {
		c.fpu.SW |= c0 | c2 | c3
		return
	}
	switch {
	case result < 0:
		c.fpu.SW |= c0
	case result == 0:
		c.fpu.SW |= c3
	}
}

// fpuArithReg applies op between ST(0) and ST(i), writing the result to
// ST(0). DC /r's documented ST(i),ST(0) operand order is approximated
// here as ST(0),ST(i) — a known simplification, since this core has no
// opcode that stores the result back to ST(i) for the non-popping form.
func fpuArithReg(c *CPU, op uint8, i uint8) {
	b := c.fpu.at(i)
	applyFPUArith(c, op, b)
}

func fpuArithPopReg(c *CPU, op uint8, i uint8) {
	applyFPUArith(c, op, c.fpu.at(i))
	c.fpu.setAt(i, c.fpu.at(0))
	c.fpu.pop()
}

// fsave/frstor write and read the FSAVE/FRSTOR image in one of two
// layouts, a 28-byte or a 14-byte environment chosen by operand size
// alone; real/V86 mode and protected mode use the same layout. FIP/FDP/FCS/FDS/FOP are
// always written as zero (documented open question, spec §9).
func (c *CPU) envSize() int {
	if c.operandSize32 {
		return 28
	}
	return 14
}

func (c *CPU) fnsave(o operand) {
	base := o.addr
	if c.operandSize32 {
		c.WriteDWord(o.seg, base, uint32(c.fpu.CW))
		c.WriteDWord(o.seg, base+4, uint32(c.fpu.SW))
		c.WriteDWord(o.seg, base+8, uint32(c.fpu.TW))
		c.WriteDWord(o.seg, base+12, c.fpu.FIP)
		c.WriteDWord(o.seg, base+16, uint32(c.fpu.FCS)|uint32(c.fpu.FOP)<<16)
		c.WriteDWord(o.seg, base+20, c.fpu.FDP)
		c.WriteDWord(o.seg, base+24, uint32(c.fpu.FDS))
	} else {
		c.WriteWord(o.seg, base, c.fpu.CW)
		c.WriteWord(o.seg, base+2, c.fpu.SW)
		c.WriteWord(o.seg, base+4, c.fpu.TW)
		c.WriteWord(o.seg, base+6, uint16(c.fpu.FIP))
		c.WriteWord(o.seg, base+8, c.fpu.FCS)
		c.WriteWord(o.seg, base+10, uint16(c.fpu.FDP))
		c.WriteWord(o.seg, base+12, c.fpu.FDS)
	}
	regBase := base + uint32(c.envSize())
	for i := 0; i < 8; i++ {
		st := operand{kind: opMem, seg: o.seg, addr: regBase + uint32(i*10)}
		storeF80(c, st, c.fpu.ST[i])
	}
	c.fpu.reset()
}

func (c *CPU) frstor(o operand) {
	base := o.addr
	if c.operandSize32 {
		cw, _ := c.ReadDWord(o.seg, base)
		sw, _ := c.ReadDWord(o.seg, base+4)
		tw, _ := c.ReadDWord(o.seg, base+8)
		c.fpu.CW, c.fpu.SW, c.fpu.TW = uint16(cw), uint16(sw), uint16(tw)
	} else {
		cw, _ := c.ReadWord(o.seg, base)
		sw, _ := c.ReadWord(o.seg, base+2)
		tw, _ := c.ReadWord(o.seg, base+4)
		c.fpu.CW, c.fpu.SW, c.fpu.TW = cw, sw, tw
	}
	regBase := base + uint32(c.envSize())
	for i := 0; i < 8; i++ {
		st := operand{kind: opMem, seg: o.seg, addr: regBase + uint32(i*10)}
		if v, ok := loadF80(c, st); ok {
			c.fpu.ST[i] = v
		}
	}
}
