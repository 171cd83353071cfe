package gc

import (
	"fmt"

	"github.com/playXE/dora/diagnostics"
)

// IntegrityError reports a broken heap invariant found by the verifier. It
// indicates a collector bug, so it is raised as a panic and must never be
// swallowed: continuing would run the mutator on corrupted state.
type IntegrityError struct {
	Check string // short name of the failed check
	Addr  Ref    // offending object, 0 if unknown
	Slot  Ref    // referring slot, 0 for root slots
	Msg   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("gc: integrity violation [%s] object=%#x slot=%#x: %s",
		e.Check, uintptr(e.Addr), uintptr(e.Slot), e.Msg)
}

// Diagnostic converts the error for rendering with the diagnostics package.
func (e *IntegrityError) Diagnostic() diagnostics.Integrity {
	return diagnostics.Integrity{
		Check: e.Check,
		Addr:  uint64(e.Addr),
		Slot:  uint64(e.Slot),
		Msg:   e.Msg,
	}
}

// verifyHeap walks the whole heap and panics with *IntegrityError on the
// first broken invariant. It runs after every collection when gc-verify is
// set. phase names the triggering cycle for the error message.
func (h *Heap) verifyHeap(phase string) {
	fail := func(check string, addr, slot Ref, format string, args ...interface{}) {
		panic(&IntegrityError{
			Check: check,
			Addr:  addr,
			Slot:  slot,
			Msg:   fmt.Sprintf("after %s collection: ", phase) + fmt.Sprintf(format, args...),
		})
	}

	// Both generations must be linearly parsable: every header decodes
	// to a registered class, objects lie within the used prefix, and no
	// forwarding word is set outside a collection pass.
	checkRegion := func(r *region) {
		for obj := r.start; obj < r.top; {
			cls := h.classes.Lookup(classIDOf(obj))
			if cls == nil {
				fail("class", obj, Null, "%s: type word %#x is not a registered class", r.name, load(obj))
			}
			words := headerWords + uintptr(cls.fieldCount)
			if cls.kind == KindArray {
				n := rawArrayLen(obj)
				if n < 0 || uintptr(n) > r.size()/WordSize {
					fail("array-len", obj, Null, "%s: implausible element count %d", r.name, n)
				}
				words = arrayHeaderWords + uintptr(n)
			}
			next := obj.add(words)
			if next > r.top {
				fail("object-size", obj, Null, "%s: object of %d words overruns the region", r.name, words)
			}
			if fwdOf(obj) != Null {
				fail("forwarding", obj, Null, "%s: forwarding word set outside a collection", r.name)
			}
			if isMarked(obj) {
				fail("mark", obj, Null, "%s: mark bit set outside a collection", r.name)
			}
			obj = next
		}
	}
	checkRegion(h.activeYoung())
	checkRegion(&h.old)

	// Every reference reachable from the roots must point at a live,
	// well-formed object and never into the inactive semispace.
	checkRef := func(slot, ref Ref) {
		if ref == Null {
			return
		}
		if h.inactiveYoung().contains(ref) {
			fail("stale-semispace", ref, slot, "reference into the inactive semispace")
		}
		if !h.activeYoung().allocated(ref) && !h.old.allocated(ref) {
			fail("ref-range", ref, slot, "reference outside any generation")
		}
		if (uintptr(ref)-h.block.Base())%WordSize != 0 {
			fail("alignment", ref, slot, "reference is not word aligned")
		}
		if h.classes.Lookup(classIDOf(ref)) == nil {
			fail("class", ref, slot, "referent type word %#x is not a registered class", load(ref))
		}
	}

	seen := map[Ref]bool{}
	var stack []Ref
	visit := func(slot, ref Ref) {
		checkRef(slot, ref)
		if ref != Null && !seen[ref] {
			seen[ref] = true
			stack = append(stack, ref)
		}
	}
	h.visitRoots(func(slot *Ref) { visit(Null, *slot) })
	for len(stack) > 0 {
		obj := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		h.refSlots(obj, func(addr Ref) {
			visit(addr, Ref(load(addr)))
		})
	}

	// Remembered set superset invariant: any old object holding a young
	// reference must have its header card dirty, or the next minor
	// collection would treat the young referent as garbage.
	h.walkRegion(&h.old, func(obj Ref) {
		h.refSlots(obj, func(addr Ref) {
			ref := Ref(load(addr))
			if h.inYoung(ref) && !h.cards.isDirty(obj) {
				fail("remembered-set", obj, addr, "old-to-young edge with a clean card")
			}
		})
	})
}
