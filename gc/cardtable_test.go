package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardTableIndexing(t *testing.T) {
	ct := newCardTable(Ref(0x10000), 4096, 512)
	require.Len(t, ct.dirty, 8)

	ct.mark(Ref(0x10000))
	ct.mark(Ref(0x101ff)) // last byte of card 0
	ct.mark(Ref(0x10200)) // first byte of card 1
	assert.True(t, ct.isDirty(Ref(0x10000)))
	assert.True(t, ct.isDirty(Ref(0x10200)))
	assert.False(t, ct.isDirty(Ref(0x10400)))
	assert.Equal(t, 2, ct.dirtyCount())

	ct.clearAll()
	assert.Zero(t, ct.dirtyCount())
}

func TestCardTableMarkingIsIdempotent(t *testing.T) {
	ct := newCardTable(Ref(0x10000), 4096, 512)
	for i := 0; i < 10; i++ {
		ct.mark(Ref(0x10000))
	}
	assert.Equal(t, 1, ct.dirtyCount())
}

func TestBarrierIgnoresYoungToYoung(t *testing.T) {
	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	h.SetField(node, 0, newRecord(t, h, cls, 1))

	assert.Zero(t, h.cards.dirtyCount(), "young-to-young store must not dirty cards")
}

func TestBarrierIgnoresOldToOld(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	nodeHd := h.NewHandle(node)
	defer nodeHd.Release()
	recHd := h.NewHandle(newRecord(t, h, cls, 1))
	defer recHd.Release()
	h.ForceMinorCollect() // promotes both
	require.True(t, h.old.contains(nodeHd.Get()))
	require.True(t, h.old.contains(recHd.Get()))

	h.SetField(nodeHd.Get(), 0, recHd.Get())
	assert.Zero(t, h.cards.dirtyCount(), "old-to-old store must not dirty cards")
}

func TestBarrierMarksOldToYoung(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	nodeHd := h.NewHandle(node)
	defer nodeHd.Release()
	h.ForceMinorCollect()
	require.True(t, h.old.contains(nodeHd.Get()))

	h.SetField(nodeHd.Get(), 0, newRecord(t, h, cls, 1))
	assert.Equal(t, 1, h.cards.dirtyCount())
	assert.True(t, h.cards.isDirty(nodeHd.Get()))
}

func TestBarrierIgnoresNullStores(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	nodeHd := h.NewHandle(Null)
	defer nodeHd.Release()
	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	nodeHd.Set(node)
	h.ForceMinorCollect()

	h.SetField(nodeHd.Get(), 0, Null)
	assert.Zero(t, h.cards.dirtyCount())
}

func TestRecordWriteDirectly(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	oldHd := h.NewHandle(newRecord(t, h, cls, 1))
	defer oldHd.Release()
	h.ForceMinorCollect()
	young := newRecord(t, h, cls, 2)

	// A runtime that stores references without SetField must invoke the
	// barrier itself.
	h.RecordWrite(oldHd.Get(), young)
	assert.True(t, h.cards.isDirty(oldHd.Get()))
}
