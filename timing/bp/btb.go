package bp

// btbEntry caches one resolved branch target.
type btbEntry struct {
	tag    uint64
	target uint64
	valid  bool
}

// BTB is a direct-mapped branch target buffer indexed by PC and tagged with
// the full PC so aliasing never returns a wrong target.
type BTB struct {
	table []btbEntry
	mask  uint64
}

// NewBTB creates a BTB with size entries (size must be a power of two).
func NewBTB(size int) *BTB {
	return &BTB{table: make([]btbEntry, size), mask: uint64(size - 1)}
}

func (b *BTB) index(pc uint64) uint64 {
	// The low bit distinguishes compressed half-words; keep it in the index.
	return (pc >> 1) & b.mask
}

// Lookup returns the cached target for pc.
func (b *BTB) Lookup(pc uint64) (uint64, bool) {
	e := b.table[b.index(pc)]
	if e.valid && e.tag == pc {
		return e.target, true
	}
	return 0, false
}

// Update caches a resolved target for pc.
func (b *BTB) Update(pc, target uint64) {
	b.table[b.index(pc)] = btbEntry{tag: pc, target: target, valid: true}
}
