package ia32

// Model selects the CPU generation, driving CPUID, the EFLAGS-writable
// mask, the CR0 change mask, CR4 availability, the accessed-bit write-
// elision optimisation, and the per-model MSR set (spec §6.4).
type Model int

const (
	Model386 Model = iota
	Model486
	ModelPentium
)

// eflagsWritableMask returns the bits of EFLAGS a MOV/POPF/IRET may
// change. The arithmetic and control flags, IOPL, NT and RF are writable
// on every model; AC is writable from 486 on; ID, VIP and VIF only on the
// Pentium.
func (m Model) eflagsWritableMask() uint32 {
	mask := uint32(flagCF | flagPF | flagAF | flagZF | flagSF | flagTF |
		flagIF | flagDF | flagOF | flagIOPL | flagNT | flagRF)
	switch m {
	case Model486:
		mask |= flagAC
	case ModelPentium:
		mask |= flagAC | flagID | flagVIP | flagVIF
	}
	return mask
}

// cr0ChangeMask returns the CR0 bits software is permitted to change via
// MOV CR0. WP (write-protect, enforced against supervisor writes to
// read-only pages) is only available from 486 on.
func (m Model) cr0ChangeMask() uint32 {
	mask := uint32(cr0PE | cr0MP | cr0EM | cr0TS | cr0ET | cr0NE | cr0PG)
	if m >= Model486 {
		mask |= cr0WP
	}
	return mask
}

// hasCR4 reports whether CR4 (and its dependent features: VME, PSE, PAE,
// ...) exists on this model.
func (m Model) hasCR4() bool { return m >= ModelPentium }

// elidesAccessedBitWrite reports whether a segment descriptor load may
// skip writing back the descriptor's accessed bit when it is already set — a 486+ optimisation the
// 386 does not perform (it always writes back, even redundantly).
func (m Model) elidesAccessedBitWrite() bool { return m >= Model486 }

// cpuidStepping returns the family/model/stepping byte CPUID leaf 1
// reports in EAX for this model.
func (m Model) cpuidStepping() uint32 {
	switch m {
	case Model386:
		return 0x00000303 // family 3, model 0, stepping 3
	case Model486:
		return 0x00000480 // family 4, model 8, stepping 0
	case ModelPentium:
		return 0x00000525 // family 5, model 2, stepping 5
	}
	return 0
}

// cpuidFeatures returns the CPUID leaf 1 EDX feature bitmap for this
// model. Bit assignments follow the Intel SDM: FPU=0, VME=1, PSE=3,
// TSC=4, MSR=5, PAE=6, MCE=7, CX8=8, APIC=9, MMX=23.
func (m Model) cpuidFeatures() uint32 {
	switch m {
	case Model386:
		return 0
	case Model486:
		return 1<<0 | 1<<1 // FPU, VME (486SX lacks FPU but we model a DX)
	case ModelPentium:
		return 1<<0 | 1<<1 | 1<<3 | 1<<4 | 1<<5 | 1<<7 | 1<<8 | 1<<9 | 1<<23
	}
	return 0
}

// msrAvailable reports whether msrIndex is implemented on this model.
// The Pentium introduces TR1/TR12 (test registers reused as perf-counter
// aliases in early steppings) and the TSC MSR.
func (m Model) msrAvailable(msrIndex uint32) bool {
	if m != ModelPentium {
		return false
	}
	switch msrIndex {
	case msrTR1, msrTR12, msrTSC:
		return true
	}
	return false
}

const (
	msrTR1  = 0x0002
	msrTR12 = 0x000E
	msrTSC  = 0x0010
)
