// Package config defines the simulator configuration record and its JSON
// loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/rvsim/timing/bp"
)

// CacheConfig describes one cache level.
type CacheConfig struct {
	Enabled   bool   `json:"enabled"`
	SizeBytes int    `json:"size_bytes"`
	LineBytes int    `json:"line_bytes"`
	Ways      int    `json:"ways"`
	Policy    string `json:"policy"` // LRU, PLRU, FIFO, MRU, Random
	// Latency in cycles charged on a hit at this level.
	Latency uint64 `json:"latency"`

	Prefetcher        string `json:"prefetcher"` // None, NextLine, Stride, Stream, Tagged
	PrefetchTableSize int    `json:"prefetch_table_size"`
	PrefetchDegree    int    `json:"prefetch_degree"`
}

// DRAMConfig holds the row-buffer timing parameters.
type DRAMConfig struct {
	TRAS uint64 `json:"tras"`
	TCAS uint64 `json:"tcas"`
	TPRE uint64 `json:"tpre"`
}

// MemoryConfig describes RAM placement, the TLBs, and the memory hierarchy.
type MemoryConfig struct {
	RAMBase uint64 `json:"ram_base"`
	RAMSize uint64 `json:"ram_size"`
	TLBSize int    `json:"tlb_size"`

	// Controller selects "DRAM" (row-buffer model) or "Simple".
	Controller     string     `json:"controller"`
	RowMissLatency uint64     `json:"row_miss_latency"`
	DRAM           DRAMConfig `json:"dram"`

	L1I CacheConfig `json:"l1i"`
	L1D CacheConfig `json:"l1d"`
	L2  CacheConfig `json:"l2"`
	L3  CacheConfig `json:"l3"`
}

// SoCConfig places the memory-mapped devices and sizes the bus.
type SoCConfig struct {
	UARTBase   uint64 `json:"uart_base"`
	CLINTBase  uint64 `json:"clint_base"`
	PLICBase   uint64 `json:"plic_base"`
	DiskBase   uint64 `json:"disk_base"`
	SysconBase uint64 `json:"syscon_base"`
	RTCBase    uint64 `json:"rtc_base"`

	CLINTDivider  uint64 `json:"clint_divider"`
	BusWidthBytes uint64 `json:"bus_width_bytes"`
	BusLatency    uint64 `json:"bus_latency"`

	// KernelOffset is where kernel-mode boot places the image, relative to
	// the RAM base.
	KernelOffset uint64 `json:"kernel_offset"`

	// VirtQueueSize is the virtio block queue depth.
	VirtQueueSize int `json:"virt_queue_size"`
}

// PipelineConfig sizes the pipeline and its functional-unit latencies.
type PipelineConfig struct {
	Width int `json:"width"`

	BranchPredictor bp.Config `json:"branch_predictor"`

	// Extra execute-stage occupancy for multi-cycle operations.
	MulLatency       uint64 `json:"mul_latency"`
	DivLatency       uint64 `json:"div_latency"`
	FPDivSqrtLatency uint64 `json:"fp_div_sqrt_latency"`
}

// GeneralConfig holds run-level settings.
type GeneralConfig struct {
	StartPC       uint64 `json:"start_pc"`
	UserStackSize uint64 `json:"user_stack_size"`
	Trace         bool   `json:"trace"`

	// MISAOverride, when nonzero, replaces the default RV64IMAFDC misa value.
	MISAOverride uint64 `json:"misa_override"`
}

// Config is the root configuration record.
type Config struct {
	Seed     int64          `json:"seed"`
	General  GeneralConfig  `json:"general"`
	Pipeline PipelineConfig `json:"pipeline"`
	Memory   MemoryConfig   `json:"memory"`
	SoC      SoCConfig      `json:"soc"`
}

// Default returns the default machine: the conventional virt-style memory
// map, GShare prediction, split 32K L1s with a 512K L2, and DRAM timing.
func Default() *Config {
	return &Config{
		Seed: 1,
		General: GeneralConfig{
			StartPC:       0x8000_0000,
			UserStackSize: 8 * 1024 * 1024,
		},
		Pipeline: PipelineConfig{
			Width:            1,
			BranchPredictor:  bp.DefaultConfig(),
			MulLatency:       3,
			DivLatency:       12,
			FPDivSqrtLatency: 14,
		},
		Memory: MemoryConfig{
			RAMBase:    0x8000_0000,
			RAMSize:    128 * 1024 * 1024,
			TLBSize:    64,
			Controller: "DRAM",
			DRAM:       DRAMConfig{TRAS: 38, TCAS: 14, TPRE: 14},
			L1I: CacheConfig{
				Enabled: true, SizeBytes: 32 * 1024, LineBytes: 64, Ways: 4,
				Policy: "LRU", Latency: 1, Prefetcher: "NextLine",
				PrefetchDegree: 1,
			},
			L1D: CacheConfig{
				Enabled: true, SizeBytes: 32 * 1024, LineBytes: 64, Ways: 8,
				Policy: "LRU", Latency: 2, Prefetcher: "Stride",
				PrefetchTableSize: 64, PrefetchDegree: 2,
			},
			L2: CacheConfig{
				Enabled: true, SizeBytes: 512 * 1024, LineBytes: 64, Ways: 8,
				Policy: "PLRU", Latency: 12,
			},
			L3: CacheConfig{},
		},
		SoC: SoCConfig{
			SysconBase:    0x0010_0000,
			CLINTBase:     0x0200_0000,
			PLICBase:      0x0C00_0000,
			UARTBase:      0x1000_0000,
			DiskBase:      0x1000_1000,
			RTCBase:       0x1000_2000,
			CLINTDivider:  1,
			BusWidthBytes: 8,
			BusLatency:    2,
			KernelOffset:  0x20_0000,
			VirtQueueSize: 8,
		},
	}
}

// Load reads a configuration from a JSON file, applying defaults for any
// omitted section.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the simulator cannot be constructed from.
// These are fatal host errors, caught before any cycle runs.
func (c *Config) Validate() error {
	if c.Pipeline.Width < 1 {
		return fmt.Errorf("config: pipeline width must be at least 1")
	}
	if c.Memory.RAMSize == 0 {
		return fmt.Errorf("config: ram_size must be nonzero")
	}
	if c.Memory.TLBSize < 1 {
		return fmt.Errorf("config: tlb_size must be at least 1")
	}
	for _, lvl := range []struct {
		name string
		cfg  CacheConfig
	}{
		{"l1i", c.Memory.L1I},
		{"l1d", c.Memory.L1D},
		{"l2", c.Memory.L2},
		{"l3", c.Memory.L3},
	} {
		if err := validateCache(lvl.name, lvl.cfg); err != nil {
			return err
		}
	}
	if c.SoC.BusWidthBytes == 0 {
		return fmt.Errorf("config: bus_width_bytes must be nonzero")
	}
	return nil
}

func validateCache(name string, cfg CacheConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Ways < 1 {
		return fmt.Errorf("config: cache %s: ways must be at least 1", name)
	}
	if cfg.LineBytes == 0 || cfg.LineBytes&(cfg.LineBytes-1) != 0 {
		return fmt.Errorf("config: cache %s: line_bytes must be a power of two", name)
	}
	if cfg.SizeBytes == 0 || cfg.SizeBytes%(cfg.Ways*cfg.LineBytes) != 0 {
		return fmt.Errorf(
			"config: cache %s: size_bytes must be a multiple of ways*line_bytes", name)
	}
	sets := cfg.SizeBytes / (cfg.Ways * cfg.LineBytes)
	if sets&(sets-1) != 0 {
		return fmt.Errorf("config: cache %s: set count must be a power of two", name)
	}
	switch cfg.Policy {
	case "", "LRU", "PLRU", "FIFO", "MRU", "Random":
	default:
		return fmt.Errorf("config: cache %s: unknown policy %q", name, cfg.Policy)
	}
	switch cfg.Prefetcher {
	case "", "None", "NextLine", "Stride", "Stream", "Tagged":
	default:
		return fmt.Errorf("config: cache %s: unknown prefetcher %q", name, cfg.Prefetcher)
	}
	return nil
}
