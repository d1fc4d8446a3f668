package ia32

// CPUID implements spec §6.4's model-dependent leaves: leaf 0 returns
// max-leaf=1 and the ASCII vendor string "GenuineIntel"; leaf 1 returns
// a model-dependent stepping/family byte in EAX and the feature bitmap
// (enumerated by model.cpuidFeatures) in EDX. Any other leaf returns
// zeros, matching an unrecognised-leaf CPUID on real hardware pre-
// Pentium-4's leaf-clamping behaviour.
func (c *CPU) CPUID(leaf uint32) (eax, ebx, ecx, edx uint32) {
	switch leaf {
	case 0:
		return 1, 0x756E6547, 0x6C65746E, 0x49656E69 // "Genu", "ntel", "ineI"
	case 1:
		return uint32(c.model.cpuidStepping()), 0, 0, c.model.cpuidFeatures()
	default:
		return 0, 0, 0, 0
	}
}

func opCPUID(c *CPU, in *Instruction) {
	eax, ebx, ecx, edx := c.CPUID(c.reg.GP[RegEAX])
	c.reg.GP[RegEAX] = eax
	c.reg.GP[RegEBX] = ebx
	c.reg.GP[RegECX] = ecx
	c.reg.GP[RegEDX] = edx
}

// ReadMSR/WriteMSR implement the Pentium-only subset named in spec
// §6.4: TR1, TR12, TSC. Any other index — or any access pre-Pentium —
// raises #GP, matching real silicon's RDMSR/WRMSR behaviour for an
// unimplemented MSR.
func (c *CPU) ReadMSR(index uint32) (uint64, bool) {
	if !c.model.msrAvailable(index) {
		return 0, false
	}
	switch index {
	case msrTSC:
		return c.msrTSC, true
	case msrTR1:
		return uint64(c.msrTR1), true
	case msrTR12:
		return uint64(c.msrTR12), true
	}
	return 0, false
}

func (c *CPU) WriteMSR(index uint32, v uint64) bool {
	if !c.model.msrAvailable(index) {
		return false
	}
	switch index {
	case msrTSC:
		c.msrTSC = v
	case msrTR1:
		c.msrTR1 = uint32(v)
	case msrTR12:
		c.msrTR12 = uint32(v)
	default:
		return false
	}
	return true
}

func init() {
	opcodeTable0F[0x30] = opWRMSR
	opcodeTable0F[0x32] = opRDMSR
	opcodeTable0F[0x31] = opRDTSC
}

func opWRMSR(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	idx := c.reg.GP[RegECX]
	v := uint64(c.reg.GP[RegEDX])<<32 | uint64(c.reg.GP[RegEAX])
	if !c.WriteMSR(idx, v) {
		c.raiseFault(excGP, 0)
	}
}

func opRDMSR(c *CPU, in *Instruction) {
	if c.cpl() != 0 {
		c.raiseFault(excGP, 0)
		return
	}
	idx := c.reg.GP[RegECX]
	v, ok := c.ReadMSR(idx)
	if !ok {
		c.raiseFault(excGP, 0)
		return
	}
	c.reg.GP[RegEAX] = uint32(v)
	c.reg.GP[RegEDX] = uint32(v >> 32)
}

func opRDTSC(c *CPU, in *Instruction) {
	if !c.model.msrAvailable(msrTSC) {
		c.raiseFault(excUD, 0)
		return
	}
	if c.cpl() != 0 && !c.ioPrivilegeOK() {
		c.raiseFault(excGP, 0)
		return
	}
	c.reg.GP[RegEAX] = uint32(c.msrTSC)
	c.reg.GP[RegEDX] = uint32(c.msrTSC >> 32)
}
