// Command ia32bench is a flag-driven harness for the ia32 core: it loads
// a flat binary into a FlatBus, points real-mode CS:IP at it, and runs it
// for a fixed cycle budget against one of the three backends. It exists
// to exercise New/Reset/Step/backend.Cached/backend.Recompiler end to
// end without a BIOS, device models, or a UI — none of which are in
// scope (spec.md §1) — the same role the teacher's own CLI harness would
// play for the 68000 core, generalized to ia32's three interchangeable
// backends and its timing-manager-driven cycle budget (spec §5).
//
// Flag parsing follows bobuhiro11-gokvm/flag.go's stdlib-only
// flag.NewFlagSet convention rather than a third-party CLI framework.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kvexil/ia32core/ia32"
	"github.com/kvexil/ia32core/ia32/backend"
	"github.com/kvexil/ia32core/timing"
	"github.com/kvexil/ia32core/trace"
)

func main() {
	fs := flag.NewFlagSet("ia32bench", flag.ExitOnError)

	binPath := fs.String("load", "", "path to a flat binary to load (required)")
	org := fs.Uint("org", 0x7C00, "physical address to load the binary at and start CS:IP from")
	memSize := fs.Int("mem", 1<<20, "backing RAM size in bytes")
	cycles := fs.Int64("cycles", 1_000_000, "cycle budget to run before stopping")
	clockMHz := fs.Float64("clock-mhz", 25, "CPU clock used to convert committed cycles to timing-manager nanoseconds")
	modelName := fs.String("model", "386", "CPU model: 386, 486, or pentium")
	backendName := fs.String("backend", "interp", "execution backend: interp, cached, or recompiler")
	traceFlag := fs.Bool("trace", false, "print a disassembly line before each instruction (interp backend only)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
	if *binPath == "" {
		fmt.Fprintln(os.Stderr, "ia32bench: -load is required")
		fs.Usage()
		os.Exit(2)
	}

	model, err := parseModel(*modelName)
	if err != nil {
		log.Fatal(err)
	}

	data, err := os.ReadFile(*binPath)
	if err != nil {
		log.Fatalf("ia32bench: %v", err)
	}

	bus := NewFlatBus(*memSize)
	bus.LoadAt(uint32(*org), data)

	cpu := ia32.New(bus, model)
	cs := cpu.Seg(ia32.SegCS)
	cs.Base = uint32(*org)
	cpu.SetEIP(0)

	mgr := timing.NewManager()
	nsPerCycle := timing.SimulationTime(1000.0 / *clockMHz)

	spent, err := run(cpu, mgr, bus, *backendName, *cycles, nsPerCycle, *traceFlag)
	if err != nil {
		log.Fatalf("ia32bench: %v", err)
	}

	fmt.Printf("ran %d cycles (%d ns emulated), halted=%v\n", spent, mgr.TotalEmulatedTime(), cpu.Halted())
	if cpu.Halted() {
		if phys, ok := cpu.TranslateFetch(); ok {
			for _, line := range trace.DisassembleRange(bus, phys, cs.Default32, 8) {
				fmt.Println(line)
			}
		}
		fmt.Print(trace.DumpState(cpu))
	}
}

func parseModel(name string) (ia32.Model, error) {
	switch name {
	case "386":
		return ia32.Model386, nil
	case "486":
		return ia32.Model486, nil
	case "pentium":
		return ia32.ModelPentium, nil
	}
	return 0, fmt.Errorf("unknown -model %q (want 386, 486, or pentium)", name)
}

// run drives cpu for up to budget cycles through the selected backend,
// committing each slice of spent cycles to mgr exactly once per
// suspension point, per spec §5's commit_pending_cycles contract.
func run(cpu *ia32.CPU, mgr *timing.Manager, bus *FlatBus, backendName string, budget int64, nsPerCycle timing.SimulationTime, traceEach bool) (int64, error) {
	switch backendName {
	case "interp":
		return runInterp(cpu, mgr, bus, budget, nsPerCycle, traceEach), nil
	case "cached":
		return runBackend(backend.NewCached(cpu), mgr, budget, nsPerCycle), nil
	case "recompiler":
		return runBackend(backend.NewRecompiler(cpu), mgr, budget, nsPerCycle), nil
	}
	return 0, fmt.Errorf("unknown -backend %q (want interp, cached, or recompiler)", backendName)
}

// blockRunner is satisfied by both backend.Cached and backend.Recompiler.
type blockRunner interface {
	Run(budget int64) int64
}

func runBackend(r blockRunner, mgr *timing.Manager, budget int64, nsPerCycle timing.SimulationTime) int64 {
	var spent int64
	for spent < budget {
		n := r.Run(budget - spent)
		if n == 0 {
			break // halted with nothing left to run
		}
		spent += n
		mgr.AddPendingTime(timing.SimulationTime(n) * nsPerCycle)
	}
	return spent
}

func runInterp(cpu *ia32.CPU, mgr *timing.Manager, bus *FlatBus, budget int64, nsPerCycle timing.SimulationTime, traceEach bool) int64 {
	var spent int64
	for spent < budget {
		if cpu.Halted() {
			break
		}
		if traceEach {
			if phys, ok := cpu.TranslateFetch(); ok {
				fmt.Println(trace.Disassemble(bus, phys, false))
			}
		}
		n, _ := cpu.Step()
		spent += n
		mgr.AddPendingTime(timing.SimulationTime(n) * nsPerCycle)
	}
	return spent
}
