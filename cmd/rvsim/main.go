// Package main provides the rvsim command line: a cycle-accurate RV64GC
// system simulator.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/rvsim/config"
	"github.com/sarchlab/rvsim/loader"
	"github.com/sarchlab/rvsim/sim"
	"github.com/sarchlab/rvsim/soc"
)

var (
	configPath = flag.String("config", "", "Path to configuration JSON file")
	filePath   = flag.String("file", "", "Flat binary or ELF to run directly")
	diskPath   = flag.String("disk", "", "Kernel/disk image for full-system mode")
	dtbPath    = flag.String("dtb", "", "Device tree blob for full-system mode")
	maxCycles  = flag.Uint64("cycles", 0, "Cycle cap (0 = unlimited)")
	trace      = flag.Bool("trace", false, "Print a per-cycle pipeline diagram")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rvsim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.General.Trace = cfg.General.Trace || *trace

	if *filePath == "" && *diskPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: rvsim [options] -file <program> | -disk <image>\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts := []sim.Option{sim.WithUARTInput(os.Stdin)}
	if *verbose {
		opts = append(opts, sim.WithVerbose())
	}

	// The disk image backs the virtio block device; in full-system mode it
	// doubles as the kernel image.
	var disk []byte
	if *diskPath != "" {
		data, err := os.ReadFile(*diskPath)
		if err != nil {
			return err
		}
		disk = data
		opts = append(opts, sim.WithDisk(soc.NewMemDisk(data)))
	}

	system, err := sim.New(cfg, opts...)
	if err != nil {
		return err
	}

	if *filePath != "" {
		prog, err := loader.Load(*filePath, cfg.Memory.RAMBase)
		if err != nil {
			return err
		}
		if *verbose {
			fmt.Printf("Loaded: %s\n", *filePath)
			fmt.Printf("Entry point: %#x\n", prog.Entry)
			fmt.Printf("Segments: %d\n", len(prog.Segments))
		}
		if err := system.LoadDirect(prog); err != nil {
			return err
		}
	} else {
		var dtb []byte
		if *dtbPath != "" {
			dtb, err = os.ReadFile(*dtbPath)
			if err != nil {
				return err
			}
		}
		if err := system.LoadKernel(disk, dtb); err != nil {
			return err
		}
		if *verbose {
			fmt.Printf("Kernel staged at %#x\n",
				cfg.Memory.RAMBase+cfg.SoC.KernelOffset)
		}
	}

	status := system.Run(*maxCycles)

	switch status.Reason {
	case sim.ReasonShutdown:
		fmt.Println("\n[rvsim] shutdown requested")
	case sim.ReasonReboot:
		fmt.Println("\n[rvsim] reboot requested")
	case sim.ReasonGuestExit:
		fmt.Printf("\n[rvsim] guest exited with code %d\n", status.Code)
	case sim.ReasonCycleCap:
		fmt.Printf("\n[rvsim] cycle cap reached (%d)\n", *maxCycles)
	}

	system.Stats.Print(os.Stdout)

	if status.Reason == sim.ReasonGuestExit {
		os.Exit(int(status.Code))
	}
	return nil
}
