package gc

// region is a contiguous address range with a bump allocation cursor.
// Generations are regions; the young generation uses two of them as
// semispaces. There is no free list: dead space is reclaimed wholesale by
// resetting the cursor (young) or by compaction (old).
type region struct {
	name  string
	start Ref
	end   Ref // exclusive
	top   Ref // allocation cursor, start <= top <= end
}

func (r *region) init(name string, start, size uintptr) {
	r.name = name
	r.start = Ref(start)
	r.end = Ref(start + size)
	r.top = r.start
}

// allocate carves words heap words off the cursor and zero-fills them.
// It returns Null when the region has insufficient space left.
func (r *region) allocate(words uintptr) Ref {
	bytes := words * WordSize
	if uintptr(r.end)-uintptr(r.top) < bytes {
		return Null
	}
	obj := r.top
	r.top = r.top.add(words)
	memzeroWords(obj, words)
	return obj
}

// contains reports whether ref lies anywhere inside the region's range,
// allocated or not.
func (r *region) contains(ref Ref) bool {
	return ref >= r.start && ref < r.end
}

// allocated reports whether ref lies inside the region's used prefix.
func (r *region) allocated(ref Ref) bool {
	return ref >= r.start && ref < r.top
}

// reset discards the region's contents by rewinding the cursor.
func (r *region) reset() {
	r.top = r.start
}

func (r *region) size() uintptr {
	return uintptr(r.end) - uintptr(r.start)
}

func (r *region) used() uintptr {
	return uintptr(r.top) - uintptr(r.start)
}

func (r *region) free() uintptr {
	return uintptr(r.end) - uintptr(r.top)
}
