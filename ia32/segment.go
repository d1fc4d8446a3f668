package ia32

// SegmentCache is the CPU-private shadow of the last descriptor loaded
// into one of the six segment registers (spec §3.1). LimitLow/LimitHigh
// are already expanded from granularity+raw-limit at load time and
// oriented so a single `offset < low || offset > high` check handles both
// expand-up and expand-down segments.
type SegmentCache struct {
	Selector uint16
	Base     uint32
	LimitLow uint32
	LimitHigh uint32

	Present    bool
	DPL        uint8
	Executable bool
	Readable   bool // for code: readable; for data: always true
	Writable   bool // for data: writable; for code: always false
	Conforming bool
	ExpandDown bool
	Default32  bool // D/B bit: default operand/address size

	// accessMask precomputes which access types (read/write/execute) this
	// segment currently permits, so memory.go's hot path does one test
	// instead of re-deriving it from Executable/Readable/Writable each
	// access (spec §3.1: "a precomputed 3-bit access-type mask").
	accessMask uint8
}

const (
	accessRead uint8 = 1 << 0
	accessWrite uint8 = 1 << 1
	accessExecute uint8 = 1 << 2
)

func (s *SegmentCache) recomputeAccessMask() {
	var m uint8
	if s.Executable {
		m |= accessExecute
		if s.Readable {
			m |= accessRead
		}
	} else {
		m |= accessRead
		if s.Writable {
			m |= accessWrite
		}
	}
	s.accessMask = m
}

// Allows reports whether access (one of accessRead/Write/Execute) is
// permitted by this segment's cached type.
func (s *SegmentCache) Allows(access uint8) bool { return s.accessMask&access != 0 }

// InLimit reports whether offset lies within [LimitLow, LimitHigh]; both
// expand-up and expand-down segments use the same test since LimitLow/
// LimitHigh were already oriented at load time.
func (s *SegmentCache) InLimit(offset uint32) bool {
	return offset >= s.LimitLow && offset <= s.LimitHigh
}

// Seg returns the live descriptor cache for a segment register.
func (c *CPU) Seg(reg int) *SegmentCache { return &c.seg[reg] }

// inV8086Mode reports whether EFLAGS.VM is set.
func (c *CPU) inV8086Mode() bool { return c.flagIsSet(flagVM) }

// V8086Mode is the exported form of inV8086Mode, for callers outside the
// package (the cached-interpreter backend's block key construction).
func (c *CPU) V8086Mode() bool { return c.inV8086Mode() }

// inProtectedMode reports whether CR0.PE is set (V8086 is a submode of
// protected mode, so this is true there too).
func (c *CPU) inProtectedMode() bool { return c.reg.CR0&cr0PE != 0 }

// LoadSegment implements spec §4.4's three regimes. For CS loads the
// descriptor must already have been validated by the far-transfer path
// that's invoking this (far_jump/far_call/iret/task-switch); LoadSegment
// itself only re-derives the CPU-visible mode bits and flushes prefetch.
func (c *CPU) LoadSegment(reg int, selector uint16) bool {
	switch {
	case !c.inProtectedMode():
		return c.loadSegmentReal(reg, selector)
	case c.inV8086Mode():
		return c.loadSegmentV8086(reg, selector)
	default:
		return c.loadSegmentProtected(reg, selector)
	}
}

func (c *CPU) loadSegmentReal(reg int, selector uint16) bool {
	s := SegmentCache{
		Selector: selector,
		Base:     uint32(selector) << 4,
		LimitLow: 0, LimitHigh: 0xFFFF,
		Present: true, Readable: true, Writable: true, Executable: reg == SegCS,
		Default32: false,
	}
	if reg == SegCS {
		s.Readable = true
		s.Writable = false
	}
	s.recomputeAccessMask()
	c.seg[reg] = s

	if reg == SegCS {
		c.reg.CPL = 0
		c.applyCSSizeMode(false)
	}
	return true
}

func (c *CPU) loadSegmentV8086(reg int, selector uint16) bool {
	s := SegmentCache{
		Selector: selector,
		Base:     uint32(selector) << 4,
		LimitLow: 0, LimitHigh: 0xFFFF,
		Present: true, DPL: 3, Readable: true, Writable: true, Executable: reg == SegCS,
		Default32: false,
	}
	s.recomputeAccessMask()
	c.seg[reg] = s

	if reg == SegCS {
		c.applyCSSizeMode(false)
	}
	return true
}

// loadSegmentProtected handles null-selector policy, descriptor fetch,
// and per-register validation rules from spec §4.4.
func (c *CPU) loadSegmentProtected(reg int, selector uint16) bool {
	if selector&0xFFFC == 0 {
		if reg == SegSS {
			c.raiseFault(excGP, 0)
			return false
		}
		c.seg[reg] = SegmentCache{Selector: selector}
		return true
	}

	d, ok := c.fetchDescriptor(selector)
	if !ok {
		c.raiseSelectorFault(reg, selector)
		return false
	}

	rpl := uint8(selector & 3)

	switch reg {
	case SegSS:
		if !d.s || d.typ&typeExecutable != 0 || d.typ&typeWritable == 0 {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return false
		}
		if d.dpl != c.cpl() || rpl != c.cpl() {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return false
		}
		if !d.present {
			c.raiseFault(excSS, uint32(selector)&0xFFF8)
			return false
		}
	case SegCS:
		// Already validated by the far-transfer path; just install it.
	default: // DS/ES/FS/GS
		if !d.s {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return false
		}
		isCode := d.typ&typeExecutable != 0
		if isCode && d.typ&typeReadable == 0 {
			c.raiseFault(excGP, uint32(selector)&0xFFF8)
			return false
		}
		conforming := isCode && d.typ&typeConforming != 0
		if !conforming {
			maxPriv := c.cpl()
			if rpl > maxPriv {
				maxPriv = rpl
			}
			if d.dpl < maxPriv {
				c.raiseFault(excGP, uint32(selector)&0xFFF8)
				return false
			}
		}
		if !d.present {
			c.raiseFault(excNP, uint32(selector)&0xFFF8)
			return false
		}
	}

	already := d.typ&typeAccessed != 0
	c.setDescriptorAccessed(selector, already)

	low, high := expandLimit(d.limit, d.g, d.s && d.typ&typeExecutable == 0 && d.typ&typeExpandDown != 0)
	s := SegmentCache{
		Selector: selector, Base: d.base, LimitLow: low, LimitHigh: high,
		Present: d.present, DPL: d.dpl,
		Executable: d.s && d.typ&typeExecutable != 0,
		Readable:   !d.s || d.typ&typeExecutable == 0 || d.typ&typeReadable != 0,
		Writable:   d.s && d.typ&typeExecutable == 0 && d.typ&typeWritable != 0,
		Conforming: d.s && d.typ&typeExecutable != 0 && d.typ&typeConforming != 0,
		ExpandDown: d.s && d.typ&typeExecutable == 0 && d.typ&typeExpandDown != 0,
		Default32:  d.db,
	}
	s.recomputeAccessMask()
	c.seg[reg] = s

	if reg == SegCS {
		c.reg.CPL = uint32(rpl)
		c.applyCSSizeMode(d.db)
	}
	if reg == SegSS {
		c.stackSize32 = d.db
	}
	return true
}

// applyCSSizeMode updates the cached address/operand size mode and EIP
// mask after a CS load, and flushes the prefetch queue — spec §4.4's
// "for CS the current address/operand-size mode and EIP-mask are updated
// and the prefetch queue is flushed."
func (c *CPU) applyCSSizeMode(default32 bool) {
	c.operandSize32 = default32
	c.addressSize32 = default32
	if default32 {
		c.eipMask = 0xFFFFFFFF
	} else {
		c.eipMask = 0xFFFF
	}
	c.prefetch.Flush()
}

// raiseSelectorFault picks #SS vs #GP depending on which register was
// being loaded, per the SDM's convention for an out-of-limit selector.
func (c *CPU) raiseSelectorFault(reg int, selector uint16) {
	if reg == SegSS {
		c.raiseFault(excSS, uint32(selector)&0xFFF8)
	} else {
		c.raiseFault(excGP, uint32(selector)&0xFFF8)
	}
}
