package ia32

// tlbSets is N in spec §3.3's `(linear_address >> 12) mod N`; a power of
// two so the modulo is a mask.
const tlbSets = 1024
const tlbSetMask = tlbSets - 1

// tlbEntry is a single (tagged_linear, physical) pair. generation is the
// TLB-wide counter captured at install time; a lookup whose stored
// generation doesn't match the live one is treated as a miss without
// needing to touch every entry (spec §3.3, property #4).
type tlbEntry struct {
	valid      bool
	generation uint16
	pageNumber uint32 // linear address >> 12
	physical   uint32 // physical page base (bits 12+)
}

// TLB indexes translations by (user/supervisor, access-type, set) per
// spec §3.3: a 3-dimensional array of entries with O(1) amortized flush
// via a generation counter instead of a full memset.
type TLB struct {
	entries    [2][3][tlbSets]tlbEntry
	generation uint16
}

const (
	tlbUser       = 0
	tlbSupervisor = 1

	tlbRead    = 0
	tlbWrite   = 1
	tlbExecute = 2
)

// InvalidateAll flushes the TLB in O(1) by bumping the generation; only
// when the counter saturates (wraps past 0xFFFF) does it fall back to a
// full memset, per spec §3.3 and property #4.
func (t *TLB) InvalidateAll() {
	t.generation++
	if t.generation == 0 {
		for u := range t.entries {
			for a := range t.entries[u] {
				for i := range t.entries[u][a] {
					t.entries[u][a][i] = tlbEntry{}
				}
			}
		}
		t.generation = 1
	}
}

func (t *TLB) lookup(user int, access int, linear uint32) (physical uint32, ok bool) {
	set := (linear >> 12) & tlbSetMask
	e := &t.entries[user][access][set]
	if !e.valid || e.generation != t.generation || e.pageNumber != linear>>12 {
		return 0, false
	}
	return e.physical | (linear & 0xFFF), true
}

func (t *TLB) install(user int, access int, linear, physicalPage uint32) {
	set := (linear >> 12) & tlbSetMask
	t.entries[user][access][set] = tlbEntry{
		valid: true, generation: t.generation,
		pageNumber: linear >> 12, physical: physicalPage,
	}
}

// PF error-code bits (spec §4.3, scenario c).
const (
	pfPresent = 1 << 0
	pfWrite   = 1 << 1
	pfUser    = 1 << 2
)

// translateLinear implements spec §4.3: TLB lookup first, then a
// two-level page walk on miss, composing the directory and table entries'
// permission bits by AND, installing a TLB entry on success (unless
// silent, used by the debugger and the prefetch optimiser to avoid
// disturbing accessed/dirty state).
func (c *CPU) translateLinear(linear uint32, access uint8, user bool, silent bool) (uint32, bool) {
	if c.reg.CR0&cr0PG == 0 {
		return linear, true
	}

	userIdx := tlbSupervisor
	if user {
		userIdx = tlbUser
	}
	accessIdx := tlbRead
	switch access {
	case accessWrite:
		accessIdx = tlbWrite
	case accessExecute:
		accessIdx = tlbExecute
	}

	if phys, ok := c.tlb.lookup(userIdx, accessIdx, linear); ok {
		return phys, true
	}

	dirBase := c.reg.CR3 &^ 0xFFF
	dirIndex := (linear >> 22) & 0x3FF
	tblIndex := (linear >> 12) & 0x3FF

	pdeAddr := dirBase + dirIndex*4
	pde := c.bus.ReadDWord(pdeAddr)
	if pde&1 == 0 {
		c.pageFault(linear, user, access == accessWrite, false)
		return 0, false
	}
	pdePerm := pagePermission(pde)

	tblBase := pde &^ 0xFFF
	pteAddr := tblBase + tblIndex*4
	pte := c.bus.ReadDWord(pteAddr)
	if pte&1 == 0 {
		c.pageFault(linear, user, access == accessWrite, false)
		return 0, false
	}
	ptePerm := pagePermission(pte)

	effective := andPermission(pdePerm, ptePerm)
	if !effective.allows(access, user, c.reg.CR0&cr0WP != 0) {
		c.pageFault(linear, user, access == accessWrite, true)
		return 0, false
	}

	physPage := pte &^ 0xFFF

	if !silent {
		if pde&0x20 == 0 { // accessed
			c.bus.WriteDWord(pdeAddr, pde|0x20)
		}
		newPTE := pte
		if pte&0x20 == 0 {
			newPTE |= 0x20
		}
		if access == accessWrite && pte&0x40 == 0 { // dirty
			newPTE |= 0x40
		}
		if newPTE != pte {
			c.bus.WriteDWord(pteAddr, newPTE)
		}
		c.tlb.install(userIdx, accessIdx, linear, physPage)
	}

	return physPage | (linear & 0xFFF), true
}

// permVector is the composed page permission (spec §4.3), kept as three
// flags: user write, supervisor write and user access. Read and execute are
// always allowed once present; only the W/U bits gate anything.
type permVector struct {
	userWrite bool
	supWrite  bool
	userAny   bool // U/S bit: 1 = accessible from user mode
}

func pagePermission(entry uint32) permVector {
	return permVector{
		userWrite: entry&2 != 0,
		supWrite:  entry&2 != 0, // R/W bit; allows() checks it for supervisor writes only when CR0.WP is set
		userAny:   entry&4 != 0,
	}
}

func andPermission(a, b permVector) permVector {
	return permVector{
		userWrite: a.userWrite && b.userWrite,
		supWrite:  a.supWrite && b.supWrite,
		userAny:   a.userAny && b.userAny,
	}
}

func (p permVector) allows(access uint8, user bool, wp bool) bool {
	if access == accessRead || access == accessExecute {
		if user {
			return p.userAny
		}
		return true
	}
	// write
	if user {
		return p.userAny && p.userWrite
	}
	if !wp {
		return true
	}
	return p.supWrite
}

// pageFault raises #PF with CR2 set to the faulting linear address and
// the documented three-bit error code (spec §4.3, scenario c).
func (c *CPU) pageFault(linear uint32, user, write, present bool) {
	c.reg.CR2 = linear
	var code uint32
	if present {
		code |= pfPresent
	}
	if write {
		code |= pfWrite
	}
	if user {
		code |= pfUser
	}
	c.raiseFault(excPF, code)
}
