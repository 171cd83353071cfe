package gc

import (
	"fmt"
	"io"

	"github.com/inhies/go-bytesize"
)

// DumpTo writes a human readable description of the heap to w, for
// debugging. One line per region, then one line per allocated object.
func (h *Heap) DumpTo(w io.Writer) {
	dumpRegion := func(r *region) {
		fmt.Fprintf(w, "%-10s %#x..%#x %s/%s\n", r.name,
			uintptr(r.start), uintptr(r.end),
			bytesize.ByteSize(r.used()), bytesize.ByteSize(r.size()))
		h.walkRegion(r, func(obj Ref) {
			cls := h.classOf(obj)
			switch cls.kind {
			case KindArray:
				fmt.Fprintf(w, "  %#x %s[%d] age=%d\n",
					uintptr(obj), cls.name, rawArrayLen(obj), ageOf(obj))
			default:
				fmt.Fprintf(w, "  %#x %s age=%d\n",
					uintptr(obj), cls.name, ageOf(obj))
			}
		})
	}
	dumpRegion(h.activeYoung())
	dumpRegion(&h.old)
	fmt.Fprintf(w, "dirty cards: %d\n", h.cards.dirtyCount())
}
