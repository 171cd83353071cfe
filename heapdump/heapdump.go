// Package heapdump serializes the live object graph of a heap into a JSON
// dump for offline analysis. Object IDs are heap addresses, so two dumps of
// an unchanged heap are identical.
package heapdump

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gofrs/flock"

	"github.com/playXE/dora/gc"
)

// Object is one live heap object.
type Object struct {
	ID    uint64   `json:"id"`
	Class string   `json:"class"`
	Kind  string   `json:"kind"`
	Size  uint64   `json:"size"` // bytes, header included
	Refs  []uint64 `json:"refs,omitempty"`
}

// Dump is a snapshot of the live object graph.
type Dump struct {
	Objects []Object `json:"objects"`
	Roots   []uint64 `json:"roots"`
}

// Capture walks the heap's live graph from its roots and returns a dump.
// The caller must not mutate the heap during the walk.
func Capture(h *gc.Heap) *Dump {
	d := &Dump{}
	h.VisitLive(func(obj gc.Ref, cls *gc.Class) {
		rec := Object{
			ID:    uint64(obj),
			Class: cls.Name(),
			Kind:  cls.Kind().String(),
			Size:  uint64(h.SizeOf(obj)),
		}
		for _, ref := range h.References(obj) {
			rec.Refs = append(rec.Refs, uint64(ref))
		}
		d.Objects = append(d.Objects, rec)
	})
	sort.Slice(d.Objects, func(i, j int) bool {
		return d.Objects[i].ID < d.Objects[j].ID
	})

	seen := map[uint64]bool{}
	for _, root := range h.Roots() {
		id := uint64(root)
		if !seen[id] {
			seen[id] = true
			d.Roots = append(d.Roots, id)
		}
	}
	sort.Slice(d.Roots, func(i, j int) bool { return d.Roots[i] < d.Roots[j] })
	return d
}

// WriteJSON writes the dump as indented JSON.
func (d *Dump) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// WriteFile writes the dump to path, holding an advisory lock on
// path+".lock" so that processes dumping to a shared location do not
// interleave their writes.
func (d *Dump) WriteFile(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("heapdump: lock %s: %w", lock.Path(), err)
	}
	defer lock.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
