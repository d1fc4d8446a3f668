package ia32

// readLinear/writeLinear implement spec §4.2's memory-access funnel:
// segment limit check, linear-address computation, alignment check,
// page-crossing split, and TLB-backed translation, in that order.

// checkSegmentAccess validates offset against seg's limit and access
// mask, raising #GP (or #SS for the stack segment) on failure. Returns
// the linear address (seg.Base + offset) on success.
func (c *CPU) checkSegmentAccess(reg int, offset uint32, access uint8) (uint32, bool) {
	s := &c.seg[reg]
	if !s.Allows(access) {
		c.raiseSegmentFault(reg, offset)
		return 0, false
	}
	if !s.InLimit(offset) {
		c.raiseSegmentFault(reg, offset)
		return 0, false
	}
	return s.Base + offset, true
}

func (c *CPU) raiseSegmentFault(reg int, offset uint32) {
	if reg == SegSS {
		c.raiseFault(excSS, 0)
	} else {
		c.raiseFault(excGP, 0)
	}
}

// checkAlignment raises #AC when CR0.AM, EFLAGS.AC, and CPL==3 are all
// set and linear isn't naturally aligned to size, per spec §4.2.
func (c *CPU) checkAlignment(linear uint32, size uint32) bool {
	if c.reg.CR0&cr0AM == 0 || !c.flagIsSet(flagAC) || c.cpl() != 3 {
		return true
	}
	if linear%size != 0 {
		c.raiseFault(excAC, 0)
		return false
	}
	return true
}

// translateForAccess resolves one linear address to physical for the
// current privilege level. It does not split page-crossing accesses; the
// multi-byte accessors do that before calling it, so a #PF mid-access is
// attributed to the correct half (spec §4.2/§4.3).
func (c *CPU) translateForAccess(linear uint32, size uint32, access uint8) (phys uint32, ok bool) {
	user := c.cpl() == 3
	return c.translateLinear(linear, access, user, false)
}

// ReadByte/Word/DWord read through segment reg at offset, performing the
// full funnel: limit check, alignment check, paging.
func (c *CPU) ReadByte(reg int, offset uint32) (uint8, bool) {
	linear, ok := c.checkSegmentAccess(reg, offset, accessRead)
	if !ok {
		return 0, false
	}
	phys, ok := c.translateForAccess(linear, 1, accessRead)
	if !ok {
		return 0, false
	}
	return c.bus.ReadByte(phys), true
}

func (c *CPU) ReadWord(reg int, offset uint32) (uint16, bool) {
	linear, ok := c.checkSegmentAccess(reg, offset, accessRead)
	if !ok {
		return 0, false
	}
	if !c.checkAlignment(linear, 2) {
		return 0, false
	}
	if linear&0xFFF == 0xFFF {
		lo, ok := c.translateForAccess(linear, 1, accessRead)
		if !ok {
			return 0, false
		}
		hi, ok := c.translateForAccess(linear+1, 1, accessRead)
		if !ok {
			return 0, false
		}
		return uint16(c.bus.ReadByte(lo)) | uint16(c.bus.ReadByte(hi))<<8, true
	}
	phys, ok := c.translateForAccess(linear, 2, accessRead)
	if !ok {
		return 0, false
	}
	return c.bus.ReadWord(phys), true
}

func (c *CPU) ReadDWord(reg int, offset uint32) (uint32, bool) {
	linear, ok := c.checkSegmentAccess(reg, offset, accessRead)
	if !ok {
		return 0, false
	}
	if !c.checkAlignment(linear, 4) {
		return 0, false
	}
	if linear&0xFFF > 0xFFC {
		var buf [4]byte
		for i := uint32(0); i < 4; i++ {
			phys, ok := c.translateForAccess(linear+i, 1, accessRead)
			if !ok {
				return 0, false
			}
			buf[i] = c.bus.ReadByte(phys)
		}
		return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, true
	}
	phys, ok := c.translateForAccess(linear, 4, accessRead)
	if !ok {
		return 0, false
	}
	return c.bus.ReadDWord(phys), true
}

func (c *CPU) WriteByte(reg int, offset uint32, v uint8) bool {
	linear, ok := c.checkSegmentAccess(reg, offset, accessWrite)
	if !ok {
		return false
	}
	phys, ok := c.translateForAccess(linear, 1, accessWrite)
	if !ok {
		return false
	}
	c.bus.WriteByte(phys, v)
	return true
}

func (c *CPU) WriteWord(reg int, offset uint32, v uint16) bool {
	linear, ok := c.checkSegmentAccess(reg, offset, accessWrite)
	if !ok {
		return false
	}
	if !c.checkAlignment(linear, 2) {
		return false
	}
	if linear&0xFFF == 0xFFF {
		lo, ok := c.translateForAccess(linear, 1, accessWrite)
		if !ok {
			return false
		}
		hi, ok := c.translateForAccess(linear+1, 1, accessWrite)
		if !ok {
			return false
		}
		c.bus.WriteByte(lo, uint8(v))
		c.bus.WriteByte(hi, uint8(v>>8))
		return true
	}
	phys, ok := c.translateForAccess(linear, 2, accessWrite)
	if !ok {
		return false
	}
	c.bus.WriteWord(phys, v)
	return true
}

func (c *CPU) WriteDWord(reg int, offset uint32, v uint32) bool {
	linear, ok := c.checkSegmentAccess(reg, offset, accessWrite)
	if !ok {
		return false
	}
	if !c.checkAlignment(linear, 4) {
		return false
	}
	if linear&0xFFF > 0xFFC {
		for i := uint32(0); i < 4; i++ {
			phys, ok := c.translateForAccess(linear+i, 1, accessWrite)
			if !ok {
				return false
			}
			c.bus.WriteByte(phys, uint8(v>>(8*i)))
		}
		return true
	}
	phys, ok := c.translateForAccess(linear, 4, accessWrite)
	if !ok {
		return false
	}
	c.bus.WriteDWord(phys, v)
	return true
}
