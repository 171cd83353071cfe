package gc

// cardTable is a flat side table with one dirty byte per fixed-size range
// ("card") of the old generation. The write barrier marks the card covering
// an old object's header whenever a young reference is stored into it.
// Marking is idempotent and commutative, so the barrier has no ordering
// requirements. The table over-approximates: a dirty card whose object no
// longer holds young references is re-scanned harmlessly, but a live
// old-to-young edge must always have its card dirty.
type cardTable struct {
	start Ref
	shift uint
	dirty []byte
}

func newCardTable(start Ref, size, cardSize uintptr) *cardTable {
	shift := uint(0)
	for cardSize>>shift != 1 {
		shift++
	}
	cards := (size + cardSize - 1) >> shift
	return &cardTable{
		start: start,
		shift: shift,
		dirty: make([]byte, cards),
	}
}

func (ct *cardTable) index(addr Ref) int {
	return int((uintptr(addr) - uintptr(ct.start)) >> ct.shift)
}

func (ct *cardTable) mark(addr Ref) {
	ct.dirty[ct.index(addr)] = 1
}

func (ct *cardTable) isDirty(addr Ref) bool {
	return ct.dirty[ct.index(addr)] != 0
}

func (ct *cardTable) clearAll() {
	clear(ct.dirty)
}

func (ct *cardTable) dirtyCount() int {
	n := 0
	for _, d := range ct.dirty {
		if d != 0 {
			n++
		}
	}
	return n
}
