package gc

import (
	"time"

	"github.com/playXE/dora/diagnostics"
)

// minorCollect copies every live young object out of the active semispace:
// into the other semispace if it is below the promotion age, into the old
// generation otherwise. Roots are the handle table, the registered root
// sources and the remembered set derived from dirty cards. The traversal is
// worklist driven; forwarding words collapse shared and cyclic structure so
// every object is copied at most once and sharing is preserved.
func (h *Heap) minorCollect() {
	start := time.Now()
	from := h.activeYoung()
	to := h.inactiveYoung()
	if gcAsserts && to.used() != 0 {
		panic("gc: inactive semispace not empty")
	}
	if gcAsserts && h.inCollection {
		panic("gc: minor collection started during another collection")
	}
	h.inCollection = true
	before := from.used() + h.old.used()
	promotedBefore := h.stats.Promotions

	// Snapshot the remembered set before any promotion grows the old
	// generation: old objects whose header card is dirty. Cards
	// over-approximate, so some of these hold no young reference; they
	// are re-scanned harmlessly.
	var remembered []Ref
	h.walkRegion(&h.old, func(obj Ref) {
		if h.cards.isDirty(obj) {
			remembered = append(remembered, obj)
		}
	})
	h.cards.clearAll()

	// gray holds copied objects whose own references have not been
	// scanned yet. An explicit worklist keeps the collector independent
	// of object graph depth.
	var gray []Ref

	h.visitRoots(func(slot *Ref) {
		*slot = h.evacuate(*slot, from, to, &gray)
	})
	for _, obj := range remembered {
		h.scanObjectEdges(obj, from, to, &gray)
	}
	for len(gray) > 0 {
		obj := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		h.scanObjectEdges(obj, from, to, &gray)
	}

	// Everything live has been copied out; the rest of from-space is
	// garbage. Discarding the space also discards the forwarding words
	// set during this pass.
	from.reset()
	h.active = 1 - h.active

	h.inCollection = false
	h.stats.MinorCollections++
	h.logEvent(diagnostics.Event{
		Kind:     "minor",
		Before:   uint64(before),
		After:    uint64(h.activeYoung().used() + h.old.used()),
		Promoted: h.stats.Promotions - promotedBefore,
		Duration: time.Since(start),
	})
	if h.cfg.Verify {
		h.verifyHeap("minor")
	}
}

// evacuate returns the post-collection address of ref. References outside
// from-space pass through unchanged. A from-space referent is copied on
// first visit and its forwarding word set; later visits resolve to the same
// copy, which keeps shared subgraphs shared and terminates cycles.
func (h *Heap) evacuate(ref Ref, from, to *region, gray *[]Ref) Ref {
	if ref == Null || !from.contains(ref) {
		return ref
	}
	if fwd := fwdOf(ref); fwd != Null {
		return fwd
	}

	words := h.sizeWordsOf(ref)
	age := ageOf(ref)
	var dst Ref
	if age >= h.cfg.PromotionAge {
		dst = h.old.allocate(words)
		if dst != Null {
			h.stats.Promotions++
		}
		// A full old generation is not fatal here: the survivor
		// stays in the young generation for another round and the
		// next major collection makes room.
	}
	if dst == Null {
		dst = to.allocate(words)
		if dst == Null {
			// The semispaces are equally sized, so survivors of
			// from-space always fit.
			panic("gc: to-space overflow during minor collection")
		}
	}
	memmoveWords(dst, ref, words)
	setAge(dst, age+1)
	clearFwd(dst)
	setFwd(ref, dst)
	*gray = append(*gray, dst)
	return dst
}

// scanObjectEdges rewrites every reference slot of obj through evacuate and
// maintains the card table: an old generation object left holding a young
// reference keeps (or regains) a dirty card, preserving the remembered set
// superset invariant for the next minor collection.
func (h *Heap) scanObjectEdges(obj Ref, from, to *region, gray *[]Ref) {
	inOld := h.old.contains(obj)
	h.refSlots(obj, func(addr Ref) {
		ref := Ref(load(addr))
		moved := h.evacuate(ref, from, to, gray)
		if moved != ref {
			store(addr, uintptr(moved))
		}
		if inOld && to.contains(moved) {
			h.cards.mark(obj)
		}
	})
}

func (h *Heap) logEvent(ev diagnostics.Event) {
	if h.cfg.Log == nil {
		return
	}
	ev.WriteTo(h.cfg.Log)
}
