package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationalReclamation(t *testing.T) {
	const arrays = 100
	const step = 5

	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	root, err := h.AllocateArray(cls.refArray, arrays)
	require.NoError(t, err)
	hd := h.NewHandle(root)
	defer hd.Release()
	for i := 0; i < arrays; i++ {
		arr, err := h.AllocateArray(cls.wordArray, 8)
		require.NoError(t, err)
		h.SetElemWord(arr, 0, uintptr(i))
		h.SetElem(hd.Get(), i, arr)
	}

	h.ForceCollect()
	var m MemStats
	h.ReadMemStats(&m)
	require.Equal(t, uint64(arrays+1), m.LiveObjects)

	for i := 0; i < arrays; i += step {
		h.SetElem(hd.Get(), i, Null)
	}
	h.ForceCollect()

	h.ReadMemStats(&m)
	assert.Equal(t, uint64(arrays+1-arrays/step), m.LiveObjects,
		"exactly the nulled arrays must be reclaimed")
	for i := 0; i < arrays; i++ {
		if i%step == 0 {
			assert.Equal(t, Null, h.Elem(hd.Get(), i), "slot %d stays null", i)
			continue
		}
		arr := h.Elem(hd.Get(), i)
		require.NotEqual(t, Null, arr, "slot %d must survive", i)
		assert.Equal(t, 8, h.ArrayLen(arr))
		assert.Equal(t, uintptr(i), h.ElemWord(arr, 0))
	}
}

func TestForceCollectIsIdempotent(t *testing.T) {
	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	root, err := h.AllocateArray(cls.refArray, 16)
	require.NoError(t, err)
	hd := h.NewHandle(root)
	defer hd.Release()
	for i := 0; i < 16; i++ {
		h.SetElem(hd.Get(), i, newRecord(t, h, cls, uintptr(i)))
	}

	// Converge: once every survivor has aged past the promotion
	// threshold the heap reaches a fixed point.
	h.ForceCollect()
	h.ForceCollect()
	h.ForceCollect()
	var first MemStats
	h.ReadMemStats(&first)

	h.ForceCollect()
	var second MemStats
	h.ReadMemStats(&second)

	assert.Equal(t, first.LiveObjects, second.LiveObjects)
	assert.Equal(t, first.YoungInuse, second.YoungInuse)
	assert.Equal(t, first.OldInuse, second.OldInuse)
	for i := 0; i < 16; i++ {
		assert.Equal(t, uintptr(i), h.FieldWord(h.Elem(hd.Get(), i), 0))
	}
}

func TestCompactionReclaimsAndSlides(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	a := h.NewHandle(newRecord(t, h, cls, 1))
	defer a.Release()
	b := h.NewHandle(newRecord(t, h, cls, 2))
	c := h.NewHandle(newRecord(t, h, cls, 3))
	defer c.Release()
	h.ForceMinorCollect() // promote all three
	require.True(t, h.old.contains(a.Get()))
	require.True(t, h.old.contains(c.Get()))

	var before MemStats
	h.ReadMemStats(&before)

	b.Release()
	h.ForceCollect()

	var after MemStats
	h.ReadMemStats(&after)
	assert.Equal(t, before.OldInuse-uint64(h.SizeOf(a.Get())), after.OldInuse,
		"the dead record's storage must be reclaimed")
	assert.Equal(t, uintptr(1), h.FieldWord(a.Get(), 0))
	assert.Equal(t, uintptr(3), h.FieldWord(c.Get(), 0))
	assert.Equal(t, a.Get().add(h.sizeWordsOf(a.Get())), c.Get(),
		"survivors must be packed without holes")
}

func TestMajorRewritesReferencesIntoCompactedObjects(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	garbage := h.NewHandle(newRecord(t, h, cls, 0))
	target := h.NewHandle(newRecord(t, h, cls, 42))
	defer target.Release()
	h.ForceMinorCollect() // promote both
	require.True(t, h.old.contains(target.Get()))

	// A young object holding the only other reference to the target.
	holder, err := h.Allocate(cls.node)
	require.NoError(t, err)
	h.SetField(holder, 0, target.Get())
	holderHd := h.NewHandle(holder)
	defer holderHd.Release()

	// Free the garbage record so the target slides down.
	garbage.Release()
	oldAddr := target.Get()
	h.ForceCollect()

	require.NotEqual(t, oldAddr, target.Get(), "target must have slid down")
	assert.Equal(t, target.Get(), h.Field(holderHd.Get(), 0),
		"young-to-old reference must be rewritten through the forwarding pass")
	assert.Equal(t, uintptr(42), h.FieldWord(target.Get(), 0))
}

func TestMajorPreservesSharingAcrossGenerations(t *testing.T) {
	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	shared := newRecord(t, h, cls, 7)
	x, err := h.Allocate(cls.node)
	require.NoError(t, err)
	y, err := h.Allocate(cls.node)
	require.NoError(t, err)
	h.SetField(x, 0, shared)
	h.SetField(y, 0, shared)
	xh, yh := h.NewHandle(x), h.NewHandle(y)
	defer xh.Release()
	defer yh.Release()

	h.ForceCollect()
	h.ForceCollect()
	h.ForceCollect()

	assert.Equal(t, h.Field(xh.Get(), 0), h.Field(yh.Get(), 0),
		"two edges into one object must resolve to identical storage")
	assert.Equal(t, uintptr(7), h.FieldWord(h.Field(xh.Get(), 0), 0))
}
