// Package gc implements swiper, the Dora runtime's generational garbage
// collector. The heap is split into a young generation of two semispaces,
// collected by copying, and an old generation collected by mark-compact.
// Objects that survive enough minor collections are promoted into the old
// generation; a card table records old-to-young references so minor
// collections only scan a fraction of the old generation. Collection is
// stop-the-world: the mutator is paused at a safepoint for the whole cycle.
//
// More information:
// "The Garbage Collection Handbook" by Richard Jones, Antony Hosking, Eliot
// Moss.
package gc

import (
	"errors"
	"fmt"

	"github.com/playXE/dora/config"
	"github.com/playXE/dora/mem"
)

// gcAsserts enables cheap internal sanity checks. These guard against
// collector bugs, not mutator mistakes, and panic when tripped.
const gcAsserts = true

// ErrOutOfMemory is returned when an allocation cannot be satisfied even
// after a collection cycle. The heap never grows past its configured
// capacity, so callers must treat this as fatal for the running program.
var ErrOutOfMemory = errors.New("gc: out of memory")

// RootSource supplies live reference slots owned by the runtime, such as
// interpreter stack slots or globals. The collector reads every slot during
// a cycle and rewrites it in place when the referent has moved; it never
// mutates slots outside a cycle.
type RootSource interface {
	VisitRoots(visit func(slot *Ref))
}

// Heap owns the generation regions, the card table and the collection
// machinery. All methods must be called from the single mutator thread; the
// collector itself runs stop-the-world inside the triggering call.
type Heap struct {
	cfg     config.Config
	block   *mem.Block
	classes *ClassRegistry

	young  [2]region // semispaces; young[active] receives allocations
	active int
	old    region
	cards  *cardTable

	handles     []*Handle
	rootSources []RootSource

	// inCollection is set for the duration of a collection pass and
	// rejects reentrant collections, which a misbehaving RootSource could
	// otherwise trigger. Outside a pass no live object has a forwarding
	// word set.
	inCollection bool

	stats MemStats
}

// NewHeap reserves the configured heap and carves it into generations.
func NewHeap(cfg config.Config) (*Heap, error) {
	cfg, err := cfg.Normalized()
	if err != nil {
		return nil, err
	}
	block, err := mem.Reserve(uintptr(cfg.MaxHeapSize))
	if err != nil {
		return nil, err
	}

	h := &Heap{
		cfg:     cfg,
		block:   block,
		classes: NewClassRegistry(),
	}
	semi := uintptr(cfg.YoungSize) / 2
	base := block.Base()
	h.young[0].init("young-from", base, semi)
	h.young[1].init("young-to", base+semi, semi)
	h.old.init("old", base+2*semi, block.Size()-2*semi)
	h.cards = newCardTable(h.old.start, h.old.size(), uintptr(cfg.CardSize))
	return h, nil
}

// Close releases the heap's memory. All references into the heap become
// invalid.
func (h *Heap) Close() error {
	if h.block == nil {
		return nil
	}
	block := h.block
	h.block = nil
	return block.Release()
}

// Classes returns the heap's class registry. Classes must be registered
// before instances of them are allocated.
func (h *Heap) Classes() *ClassRegistry {
	return h.classes
}

// Config returns the effective, normalized configuration.
func (h *Heap) Config() config.Config {
	return h.cfg
}

func (h *Heap) activeYoung() *region {
	return &h.young[h.active]
}

func (h *Heap) inactiveYoung() *region {
	return &h.young[1-h.active]
}

// inYoung reports whether ref lies in the active young semispace.
func (h *Heap) inYoung(ref Ref) bool {
	return h.activeYoung().contains(ref)
}

// Allocate returns a new zero-initialized instance of cls. All reference
// fields start as Null. On young generation overflow it runs one minor
// collection and retries once; failure after that returns ErrOutOfMemory.
func (h *Heap) Allocate(cls *Class) (Ref, error) {
	if cls.kind != KindObject {
		panic("gc: Allocate called with an array class, use AllocateArray")
	}
	words := headerWords + uintptr(cls.fieldCount)
	obj, err := h.allocateWords(cls, words)
	if err != nil {
		return Null, err
	}
	return obj, nil
}

// AllocateArray returns a new array of length elements of cls. Reference
// elements start as Null, scalar elements as zero.
func (h *Heap) AllocateArray(cls *Class, length int) (Ref, error) {
	if cls.kind != KindArray {
		panic("gc: AllocateArray called with a non-array class")
	}
	if length < 0 {
		panic("gc: negative array length")
	}
	words := arrayHeaderWords + uintptr(length)
	obj, err := h.allocateWords(cls, words)
	if err != nil {
		return Null, err
	}
	store(obj.word(2), uintptr(length))
	return obj, nil
}

func (h *Heap) allocateWords(cls *Class, words uintptr) (Ref, error) {
	var obj Ref
	switch {
	case words > h.block.Size()/WordSize:
		// Larger than the whole heap; the byte count below would wrap.
		// Fail before any region sees the request.
	case words*WordSize > h.activeYoung().size():
		// The request can never fit in a semispace. Place it directly
		// in the old generation, with a full collection as the one
		// retry.
		obj = h.old.allocate(words)
		if obj == Null {
			h.ForceCollect()
			obj = h.old.allocate(words)
		}
	default:
		obj = h.activeYoung().allocate(words)
		if obj == Null {
			h.minorCollect()
			if h.oldOccupancy() > h.cfg.MajorThreshold {
				h.majorCollect()
			}
			obj = h.activeYoung().allocate(words)
		}
		if obj == Null {
			obj = h.old.allocate(words)
		}
	}
	if obj == Null {
		return Null, fmt.Errorf("allocating %d words of %s: %w", words, cls.name, ErrOutOfMemory)
	}
	store(obj, makeTypeWord(cls.id))
	h.stats.Mallocs++
	return obj, nil
}

func (h *Heap) oldOccupancy() float64 {
	return float64(h.old.used()) / float64(h.old.size())
}

// classOf decodes the class of a live object.
func (h *Heap) classOf(obj Ref) *Class {
	cls := h.classes.Lookup(classIDOf(obj))
	if cls == nil {
		panic(&IntegrityError{
			Check: "class",
			Addr:  obj,
			Msg:   fmt.Sprintf("type word %#x does not decode to a registered class", load(obj)),
		})
	}
	return cls
}

// ClassOf returns the class of a live object.
func (h *Heap) ClassOf(obj Ref) *Class {
	return h.classOf(obj)
}

// sizeWordsOf returns the total size of the object at obj, header included.
func (h *Heap) sizeWordsOf(obj Ref) uintptr {
	cls := h.classOf(obj)
	if cls.kind == KindArray {
		return arrayHeaderWords + uintptr(rawArrayLen(obj))
	}
	return headerWords + uintptr(cls.fieldCount)
}

// SizeOf returns the size in bytes of a live object, header included.
func (h *Heap) SizeOf(obj Ref) uintptr {
	return h.sizeWordsOf(obj) * WordSize
}

func (h *Heap) fieldAddr(obj Ref, i int) Ref {
	if gcAsserts {
		cls := h.classOf(obj)
		if cls.kind != KindObject || i < 0 || i >= cls.fieldCount {
			panic(fmt.Sprintf("gc: field %d out of range for %s", i, cls.name))
		}
	}
	return obj.word(headerWords + i)
}

func (h *Heap) elemAddr(arr Ref, i int) Ref {
	if gcAsserts {
		cls := h.classOf(arr)
		if cls.kind != KindArray || i < 0 || i >= rawArrayLen(arr) {
			panic(fmt.Sprintf("gc: element %d out of range for %s", i, cls.name))
		}
	}
	return arr.word(arrayHeaderWords + i)
}

// Field reads reference field i of obj.
func (h *Heap) Field(obj Ref, i int) Ref {
	return Ref(load(h.fieldAddr(obj, i)))
}

// SetField stores a reference into field i of obj, running the write
// barrier. Every compiled or interpreted reference store must go through
// this (or call RecordWrite itself).
func (h *Heap) SetField(obj Ref, i int, v Ref) {
	if gcAsserts && !h.classOf(obj).isRef[i] {
		panic(fmt.Sprintf("gc: field %d of %s is not a reference field", i, h.classOf(obj).name))
	}
	store(h.fieldAddr(obj, i), uintptr(v))
	h.RecordWrite(obj, v)
}

// FieldWord reads scalar field i of obj.
func (h *Heap) FieldWord(obj Ref, i int) uintptr {
	return load(h.fieldAddr(obj, i))
}

// SetFieldWord stores a scalar into field i of obj. No barrier is needed
// for scalar stores.
func (h *Heap) SetFieldWord(obj Ref, i int, v uintptr) {
	if gcAsserts && h.classOf(obj).isRef[i] {
		panic(fmt.Sprintf("gc: field %d of %s is a reference field", i, h.classOf(obj).name))
	}
	store(h.fieldAddr(obj, i), v)
}

// ArrayLen returns the element count of an array.
func (h *Heap) ArrayLen(arr Ref) int {
	if gcAsserts && h.classOf(arr).kind != KindArray {
		panic("gc: ArrayLen on a non-array")
	}
	return rawArrayLen(arr)
}

// Elem reads reference element i of arr.
func (h *Heap) Elem(arr Ref, i int) Ref {
	return Ref(load(h.elemAddr(arr, i)))
}

// SetElem stores a reference into element i of arr, running the write
// barrier.
func (h *Heap) SetElem(arr Ref, i int, v Ref) {
	if gcAsserts && !h.classOf(arr).elemRefs {
		panic(fmt.Sprintf("gc: %s is not a reference array", h.classOf(arr).name))
	}
	store(h.elemAddr(arr, i), uintptr(v))
	h.RecordWrite(arr, v)
}

// ElemWord reads scalar element i of arr.
func (h *Heap) ElemWord(arr Ref, i int) uintptr {
	return load(h.elemAddr(arr, i))
}

// SetElemWord stores a scalar into element i of arr.
func (h *Heap) SetElemWord(arr Ref, i int, v uintptr) {
	if gcAsserts && h.classOf(arr).elemRefs {
		panic(fmt.Sprintf("gc: %s is a reference array", h.classOf(arr).name))
	}
	store(h.elemAddr(arr, i), v)
}

// RecordWrite is the write barrier. It marks the card covering containing's
// header dirty when the store creates a potential old-to-young edge, and is
// a no-op otherwise. Safe to invoke on every reference store.
func (h *Heap) RecordWrite(containing, stored Ref) {
	if stored == Null {
		return
	}
	if h.old.contains(containing) && h.inYoung(stored) {
		h.cards.mark(containing)
	}
}

// Handle is an explicit strong root. The referent survives collections
// until the handle is released, and Get observes the referent's current
// address across moves.
type Handle struct {
	heap  *Heap
	ref   Ref
	index int
}

// NewHandle registers ref as a root and returns its handle.
func (h *Heap) NewHandle(ref Ref) *Handle {
	hd := &Handle{heap: h, ref: ref, index: len(h.handles)}
	h.handles = append(h.handles, hd)
	return hd
}

// Get returns the handle's referent.
func (hd *Handle) Get() Ref {
	if gcAsserts && hd.index < 0 {
		panic("gc: use of released handle")
	}
	return hd.ref
}

// Set replaces the handle's referent.
func (hd *Handle) Set(ref Ref) {
	if gcAsserts && hd.index < 0 {
		panic("gc: use of released handle")
	}
	hd.ref = ref
}

// Release drops the root. The referent becomes collectable unless it is
// reachable some other way.
func (hd *Handle) Release() {
	if hd.index < 0 {
		return
	}
	hs := hd.heap.handles
	last := len(hs) - 1
	hs[hd.index] = hs[last]
	hs[hd.index].index = hd.index
	hs[last] = nil
	hd.heap.handles = hs[:last]
	hd.index = -1
}

// AddRootSource registers a runtime root enumerator. Sources are visited on
// every collection.
func (h *Heap) AddRootSource(src RootSource) {
	h.rootSources = append(h.rootSources, src)
}

// visitRoots applies visit to every root slot: the handle table first, then
// all registered sources.
func (h *Heap) visitRoots(visit func(slot *Ref)) {
	for _, hd := range h.handles {
		visit(&hd.ref)
	}
	for _, src := range h.rootSources {
		src.VisitRoots(visit)
	}
}

// Roots returns a snapshot of the current root references, nulls excluded.
func (h *Heap) Roots() []Ref {
	var roots []Ref
	h.visitRoots(func(slot *Ref) {
		if *slot != Null {
			roots = append(roots, *slot)
		}
	})
	return roots
}

// References returns the reference slots of obj that are non-null.
func (h *Heap) References(obj Ref) []Ref {
	var refs []Ref
	h.refSlots(obj, func(addr Ref) {
		if v := Ref(load(addr)); v != Null {
			refs = append(refs, v)
		}
	})
	return refs
}

// refSlots applies visit to the address of every reference slot of obj.
func (h *Heap) refSlots(obj Ref, visit func(addr Ref)) {
	cls := h.classOf(obj)
	switch cls.kind {
	case KindObject:
		for _, fi := range cls.refFields {
			visit(obj.word(headerWords + fi))
		}
	case KindArray:
		if !cls.elemRefs {
			return
		}
		n := rawArrayLen(obj)
		for i := 0; i < n; i++ {
			visit(obj.word(arrayHeaderWords + i))
		}
	}
}

// walkRegion applies fn to every object in the region's used prefix, in
// address order. Regions are linearly parsable because they are bump
// allocated and compacted without holes.
func (h *Heap) walkRegion(r *region, fn func(obj Ref)) {
	end := r.top
	for obj := r.start; obj < end; obj = obj.add(h.sizeWordsOf(obj)) {
		fn(obj)
	}
}

// VisitLive applies fn to every object reachable from the roots, once each.
func (h *Heap) VisitLive(fn func(obj Ref, cls *Class)) {
	seen := map[Ref]bool{}
	var stack []Ref
	push := func(ref Ref) {
		if ref != Null && !seen[ref] {
			seen[ref] = true
			stack = append(stack, ref)
		}
	}
	h.visitRoots(func(slot *Ref) { push(*slot) })
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(obj, h.classOf(obj))
		h.refSlots(obj, func(addr Ref) { push(Ref(load(addr))) })
	}
}

// ForceMinorCollect synchronously performs exactly one minor collection.
func (h *Heap) ForceMinorCollect() {
	h.minorCollect()
}

// ForceCollect synchronously performs a minor collection followed by a full
// major collection. Repeated calls without intervening mutation converge on
// the same live set and occupancy.
func (h *Heap) ForceCollect() {
	h.minorCollect()
	h.majorCollect()
}

// VerifyNow runs the heap verifier regardless of the gc-verify setting.
func (h *Heap) VerifyNow() {
	h.verifyHeap("explicit")
}
