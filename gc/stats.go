package gc

// MemStats records memory manager statistics.
type MemStats struct {
	// HeapSys is the total reserved heap in bytes.
	HeapSys uint64

	// YoungSys and OldSys are the generation capacities; the young
	// figure counts only the active semispace, matching the space
	// actually available to the mutator.
	YoungSys uint64
	OldSys   uint64

	// YoungInuse and OldInuse are the bytes below each generation's
	// allocation cursor.
	YoungInuse uint64
	OldInuse   uint64

	// Mallocs counts allocations over the heap's lifetime.
	Mallocs uint64

	// LiveObjects is the reachable object count as of the last major
	// collection's mark phase.
	LiveObjects uint64

	MinorCollections uint64
	MajorCollections uint64

	// Promotions counts objects copied into the old generation.
	Promotions uint64

	// DirtyCards is the current number of dirty write barrier cards.
	DirtyCards uint64
}

// ReadMemStats populates m with memory statistics. The figures are up to
// date as of the call; no collection is run implicitly.
func (h *Heap) ReadMemStats(m *MemStats) {
	*m = h.stats
	m.HeapSys = uint64(h.block.Size())
	m.YoungSys = uint64(h.activeYoung().size())
	m.YoungInuse = uint64(h.activeYoung().used())
	m.OldSys = uint64(h.old.size())
	m.OldInuse = uint64(h.old.used())
	m.DirtyCards = uint64(h.cards.dirtyCount())
}
