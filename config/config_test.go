package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvsim/config"
)

var _ = Describe("Config", func() {
	It("should validate the defaults", func() {
		Expect(config.Default().Validate()).To(Succeed())
	})

	It("should reject zero cache ways", func() {
		cfg := config.Default()
		cfg.Memory.L1D.Ways = 0
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("should reject a non-power-of-two line size", func() {
		cfg := config.Default()
		cfg.Memory.L1I.LineBytes = 48
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("should reject a zero pipeline width", func() {
		cfg := config.Default()
		cfg.Pipeline.Width = 0
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("should reject unknown policies and prefetchers", func() {
		cfg := config.Default()
		cfg.Memory.L2.Policy = "Belady"
		Expect(cfg.Validate()).To(HaveOccurred())

		cfg = config.Default()
		cfg.Memory.L1D.Prefetcher = "Psychic"
		Expect(cfg.Validate()).To(HaveOccurred())
	})

	It("should ignore disabled cache levels during validation", func() {
		cfg := config.Default()
		cfg.Memory.L3.Enabled = false
		cfg.Memory.L3.Ways = 0
		Expect(cfg.Validate()).To(Succeed())
	})

	Describe("Load", func() {
		It("should overlay JSON onto the defaults", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.json")
			data := `{
				"seed": 999,
				"pipeline": {
					"branch_predictor": {"kind": "TAGE", "btb_size": 1024, "ras_size": 32}
				},
				"memory": {"tlb_size": 128}
			}`
			Expect(os.WriteFile(path, []byte(data), 0o644)).To(Succeed())

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Seed).To(Equal(int64(999)))
			Expect(string(cfg.Pipeline.BranchPredictor.Kind)).To(Equal("TAGE"))
			Expect(cfg.Pipeline.BranchPredictor.BTBSize).To(Equal(1024))
			Expect(cfg.Memory.TLBSize).To(Equal(128))
			// Untouched sections keep their defaults.
			Expect(cfg.Memory.RAMBase).To(Equal(uint64(0x8000_0000)))
		})

		It("should fail on malformed JSON", func() {
			path := filepath.Join(GinkgoT().TempDir(), "bad.json")
			Expect(os.WriteFile(path, []byte("{nope"), 0o644)).To(Succeed())
			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
		})

		It("should fail on a missing file", func() {
			_, err := config.Load("/does/not/exist.json")
			Expect(err).To(HaveOccurred())
		})
	})
})
