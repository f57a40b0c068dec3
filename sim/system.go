// Package sim assembles the full simulated machine from a configuration:
// bus and devices, memory hierarchy, MMU, pipeline, and statistics; and
// drives the run loop to one of the termination conditions.
package sim

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/sarchlab/rvsim/config"
	"github.com/sarchlab/rvsim/emu"
	"github.com/sarchlab/rvsim/insts"
	"github.com/sarchlab/rvsim/loader"
	"github.com/sarchlab/rvsim/soc"
	"github.com/sarchlab/rvsim/stats"
	"github.com/sarchlab/rvsim/timing/cache"
	"github.com/sarchlab/rvsim/timing/mmu"
	"github.com/sarchlab/rvsim/timing/pipeline"
)

// Option adjusts system construction.
type Option func(*options)

type options struct {
	uartOut io.Writer
	uartIn  io.Reader
	disk    soc.DiskBackend
	clock   func() int64
	verbose bool
}

// WithUARTOutput directs transmitted UART bytes to w.
func WithUARTOutput(w io.Writer) Option {
	return func(o *options) { o.uartOut = w }
}

// WithUARTInput feeds guest console input from r via a background reader.
func WithUARTInput(r io.Reader) Option {
	return func(o *options) { o.uartIn = r }
}

// WithDisk backs the virtio block device with the given image.
func WithDisk(d soc.DiskBackend) Option {
	return func(o *options) { o.disk = d }
}

// WithClock injects a deterministic RTC time source.
func WithClock(now func() int64) Option {
	return func(o *options) { o.clock = now }
}

// WithVerbose enables device-registration logging.
func WithVerbose() Option {
	return func(o *options) { o.verbose = true }
}

// System is the assembled machine.
type System struct {
	Config *config.Config

	Bus    *soc.Bus
	RAM    *soc.RAM
	CLINT  *soc.CLINT
	PLIC   *soc.PLIC
	UART   *soc.UART
	VirtIO *soc.VirtIOBlock
	Syscon *soc.Syscon
	RTC    *soc.RTC

	MemCtrl soc.MemoryController

	Regs   *emu.RegFile
	CSRs   *emu.CSRFile
	MMU    *mmu.MMU
	Caches *cache.Hierarchy
	Core   *pipeline.Pipeline

	Stats *stats.Sim
}

// New constructs a system. Configuration inconsistencies (overlapping device
// ranges, bad cache geometry) fail here, before any cycle runs.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	o.uartOut = os.Stdout
	for _, opt := range opts {
		opt(&o)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	bus := soc.NewBus(cfg.SoC.BusWidthBytes, cfg.SoC.BusLatency)
	bus.Verbose = o.verbose

	s := &System{
		Config: cfg,
		Bus:    bus,
		RAM:    soc.NewRAM(cfg.Memory.RAMBase, cfg.Memory.RAMSize),
		CLINT:  soc.NewCLINT(cfg.SoC.CLINTBase, cfg.SoC.CLINTDivider),
		PLIC:   soc.NewPLIC(cfg.SoC.PLICBase),
		UART:   soc.NewUART(cfg.SoC.UARTBase, o.uartOut),
		VirtIO: soc.NewVirtIOBlock(cfg.SoC.DiskBase, cfg.SoC.VirtQueueSize, o.disk),
		Syscon: soc.NewSyscon(cfg.SoC.SysconBase),
		RTC:    soc.NewRTC(cfg.SoC.RTCBase, o.clock),
		Stats:  &stats.Sim{Seed: cfg.Seed},
	}
	s.VirtIO.AttachMemory(bus)
	if o.uartIn != nil {
		s.UART.AttachInput(o.uartIn)
	}

	for _, dev := range []soc.Device{
		s.RAM, s.Syscon, s.CLINT, s.PLIC, s.UART, s.VirtIO, s.RTC,
	} {
		if err := bus.AddDevice(dev); err != nil {
			return nil, err
		}
	}

	switch cfg.Memory.Controller {
	case "", "DRAM":
		s.MemCtrl = soc.NewDRAMController(
			cfg.Memory.DRAM.TCAS, cfg.Memory.DRAM.TRAS, cfg.Memory.DRAM.TPRE)
	case "Simple":
		s.MemCtrl = soc.NewSimpleController(cfg.Memory.RowMissLatency)
	default:
		return nil, fmt.Errorf("sim: unknown memory controller %q", cfg.Memory.Controller)
	}

	caches, err := cache.NewHierarchy(cfg.Memory, rng, bus.CalculateTransitTime)
	if err != nil {
		return nil, err
	}
	s.Caches = caches

	s.Regs = &emu.RegFile{}
	s.CSRs = emu.NewCSRFile()
	if cfg.General.MISAOverride != 0 {
		s.CSRs.MISA = cfg.General.MISAOverride
	}
	s.MMU = mmu.New(cfg.Memory.TLBSize)

	core, err := pipeline.New(
		cfg.Pipeline, s.Regs, s.CSRs, bus, s.MemCtrl, caches, s.MMU, rng, s.Stats)
	if err != nil {
		return nil, err
	}
	core.Trace = cfg.General.Trace
	s.Core = core

	return s, nil
}

// placeProgram copies a loaded program's segments into RAM via the bus.
func (s *System) placeProgram(prog *loader.Program) error {
	for _, seg := range prog.Segments {
		if err := s.Bus.LoadBinaryAt(seg.Data, seg.PAddr); err != nil {
			return err
		}
		// Zero-fill the BSS tail.
		for addr := seg.PAddr + uint64(len(seg.Data)); addr < seg.PAddr+seg.MemSize; addr++ {
			if err := s.Bus.Write(addr, 1, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadDirect places a program and starts the core at its entry in machine
// mode with translation off. The stack pointer is set below the configured
// stack top.
func (s *System) LoadDirect(prog *loader.Program) error {
	if err := s.placeProgram(prog); err != nil {
		return err
	}
	s.Core.DirectMode = true
	s.CSRs.Priv = insts.PrivMachine
	s.Core.SetPC(prog.Entry)

	stackTop := s.Config.Memory.RAMBase + s.Config.General.UserStackSize
	s.Regs.Write(insts.RegSP, stackTop)
	return nil
}

// LoadKernel stages a supervisor-mode boot: the kernel image at the
// configured offset, an optional DTB above it, and an MRET trampoline at
// the RAM base that drops from M-mode into the kernel with full trap
// delegation.
func (s *System) LoadKernel(kernel []byte, dtb []byte) error {
	ramBase := s.Config.Memory.RAMBase
	kernelAddr := ramBase + s.Config.SoC.KernelOffset

	if err := s.Bus.LoadBinaryAt(kernel, kernelAddr); err != nil {
		return err
	}

	var dtbAddr uint64
	if len(dtb) > 0 {
		dtbAddr = ramBase + 0x200_0000
		if err := s.Bus.LoadBinaryAt(dtb, dtbAddr); err != nil {
			return err
		}
	}

	mret := uint32(insts.EncMRET)
	trampoline := []byte{
		byte(mret), byte(mret >> 8), byte(mret >> 16), byte(mret >> 24),
	}
	if err := s.Bus.LoadBinaryAt(trampoline, ramBase); err != nil {
		return err
	}

	s.CSRs.Priv = insts.PrivMachine
	s.CSRs.Write(insts.CSRMEPC, kernelAddr)
	s.CSRs.Write(insts.CSRMStatus,
		uint64(insts.PrivSupervisor)<<11|insts.MStatusMPIE|insts.MStatusFSInit)
	s.CSRs.Write(insts.CSRMEDeleg, ^uint64(0))
	s.CSRs.Write(insts.CSRMIDeleg, ^uint64(0))
	s.CSRs.Write(insts.CSRSATP, 0)

	s.Regs.Write(insts.RegA0, 0) // hart ID
	s.Regs.Write(insts.RegA1, dtbAddr)

	s.Core.SetPC(ramBase)
	return nil
}

// ExitReason says why a run ended.
type ExitReason int

// Run termination causes.
const (
	ReasonShutdown ExitReason = iota
	ReasonReboot
	ReasonGuestExit
	ReasonCycleCap
)

// ExitStatus is the outcome of a run.
type ExitStatus struct {
	Reason ExitReason
	Code   uint64
}

// Run ticks the machine until the syscon requests power-off, the guest
// exits, or the cycle cap is reached (0 means uncapped).
func (s *System) Run(maxCycles uint64) ExitStatus {
	for {
		switch s.Syscon.ExitRequest() {
		case soc.ExitShutdown:
			s.Core.RequestExit(0)
			return ExitStatus{Reason: ReasonShutdown}
		case soc.ExitReboot:
			s.Core.RequestExit(0)
			return ExitStatus{Reason: ReasonReboot}
		}

		if s.Core.Halted() {
			return ExitStatus{Reason: ReasonGuestExit, Code: s.Core.ExitCode()}
		}
		if maxCycles > 0 && s.Stats.Cycles >= maxCycles {
			s.Core.RequestExit(0)
			return ExitStatus{Reason: ReasonCycleCap}
		}

		s.Core.Tick()
	}
}
