package gc

import (
	"time"

	"github.com/playXE/dora/diagnostics"
)

// majorCollect performs a full stop-the-world mark-compact collection of
// the old generation. It always runs right after a minor collection, so the
// young generation holds only live survivors at this point. The mark phase
// traverses the whole graph from the root set (the remembered set plays no
// part here); compaction slides surviving old objects down to eliminate
// fragmentation, rewriting every reference through the forwarding words.
func (h *Heap) majorCollect() {
	start := time.Now()
	if gcAsserts && h.inCollection {
		panic("gc: major collection started during another collection")
	}
	h.inCollection = true
	before := h.activeYoung().used() + h.old.used()

	h.markLive()
	h.compactOld()
	h.rebuildCards()

	h.inCollection = false
	h.stats.MajorCollections++
	h.logEvent(diagnostics.Event{
		Kind:     "major",
		Before:   uint64(before),
		After:    uint64(h.activeYoung().used() + h.old.used()),
		Duration: time.Since(start),
	})
	if h.cfg.Verify {
		h.verifyHeap("major")
	}
}

// markLive marks every object reachable from the full root set, in both
// generations, using an explicit worklist. It also recomputes the live
// object count reported by ReadMemStats.
func (h *Heap) markLive() {
	var gray []Ref
	push := func(ref Ref) {
		if ref == Null || isMarked(ref) {
			return
		}
		setMark(ref)
		gray = append(gray, ref)
	}

	h.visitRoots(func(slot *Ref) { push(*slot) })

	var live uint64
	for len(gray) > 0 {
		obj := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		live++
		h.refSlots(obj, func(addr Ref) { push(Ref(load(addr))) })
	}
	h.stats.LiveObjects = live
}

// compactOld slides marked old objects towards the region start (Lisp-2):
// first assign each survivor its destination in the forwarding word, then
// rewrite all references through the forwarding words, then move the
// objects and clear their mark and forwarding state.
func (h *Heap) compactOld() {
	// Pass 1: assign destinations.
	newTop := h.old.start
	h.walkRegion(&h.old, func(obj Ref) {
		if isMarked(obj) {
			setFwd(obj, newTop)
			newTop = newTop.add(h.sizeWordsOf(obj))
		}
	})

	// Pass 2: rewrite references in roots, young survivors and marked
	// old objects.
	fixSlot := func(addr Ref) {
		ref := Ref(load(addr))
		if ref != Null && h.old.contains(ref) && isMarked(ref) {
			store(addr, uintptr(fwdOf(ref)))
		}
	}
	h.visitRoots(func(slot *Ref) {
		ref := *slot
		if ref != Null && h.old.contains(ref) && isMarked(ref) {
			*slot = fwdOf(ref)
		}
	})
	h.walkRegion(h.activeYoung(), func(obj Ref) {
		h.refSlots(obj, fixSlot)
	})
	h.walkRegion(&h.old, func(obj Ref) {
		if isMarked(obj) {
			h.refSlots(obj, fixSlot)
		}
	})

	// Pass 3: move. The next object's header is read before the current
	// one moves, and destinations never overtake the scan cursor, so a
	// forward walk with memmove semantics is safe.
	scan := h.old.start
	top := h.old.top
	for scan < top {
		words := h.sizeWordsOf(scan)
		next := scan.add(words)
		if isMarked(scan) {
			dst := fwdOf(scan)
			clearMark(scan)
			clearFwd(scan)
			if dst != scan {
				memmoveWords(dst, scan, words)
			}
		}
		scan = next
	}
	h.old.top = newTop

	// Young survivors were marked during the traversal; unmark them.
	h.walkRegion(h.activeYoung(), func(obj Ref) {
		clearMark(obj)
	})
}

// rebuildCards derives the card table from scratch after compaction moved
// old objects away from their previously dirty cards.
func (h *Heap) rebuildCards() {
	h.cards.clearAll()
	h.walkRegion(&h.old, func(obj Ref) {
		h.refSlots(obj, func(addr Ref) {
			if h.inYoung(Ref(load(addr))) {
				h.cards.mark(obj)
			}
		})
	})
}
