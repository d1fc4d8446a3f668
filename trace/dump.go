package trace

import (
	"github.com/davecgh/go-spew/spew"

	"github.com/kvexil/ia32core/ia32"
)

// dumpConfig differs from spew's defaults by a two-space indent, no
// pointer addresses, sorted map keys, and disabled method calls on the
// dumped value: ia32.CPU has no String()/GoString()
// worth invoking for a debug dump, and leaving DisableMethods at its
// default would silently swallow any future Stringer in favour of a
// one-line summary instead of the full field-by-field dump this is for.
var dumpConfig = &spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

// DumpState renders the CPU's full internal state (including its
// unexported register file, segment caches, TLB, and FPU state) for a
// fault log or the CodeCacheBackend-style crash dump
// original_source/src/pce/cpu_x86/code_cache_backend.cpp prints before
// aborting. go-spew reaches unexported fields the same way
// hejops-gone/cpu/debugger.go uses it for its own TUI state dump.
func DumpState(c *ia32.CPU) string {
	return dumpConfig.Sdump(c)
}
