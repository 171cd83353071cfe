package gc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playXE/dora/diagnostics"
)

// collectIntegrityError runs fn and returns the *IntegrityError it panics
// with, or nil if it returns normally.
func collectIntegrityError(t *testing.T, fn func()) (ie *IntegrityError) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var ok bool
		ie, ok = r.(*IntegrityError)
		require.True(t, ok, "panic value must be *IntegrityError, got %v", r)
	}()
	fn()
	return nil
}

func TestVerifierAcceptsLegalWorkload(t *testing.T) {
	// Every collection in this workload verifies; any invariant break
	// would panic.
	h := newTestHeap(t, "promotion-age=1")
	cls := newTestClasses(h)

	root, err := h.AllocateArray(cls.refArray, 32)
	require.NoError(t, err)
	hd := h.NewHandle(root)
	defer hd.Release()

	for round := 0; round < 8; round++ {
		for i := 0; i < 32; i++ {
			node, err := h.Allocate(cls.node)
			require.NoError(t, err)
			h.SetField(node, 0, newRecord(t, h, cls, uintptr(i)))
			h.SetElem(hd.Get(), i, node)
		}
		h.ForceMinorCollect()
		if round%3 == 0 {
			h.ForceCollect()
		}
	}
	h.VerifyNow()
}

func TestVerifierCatchesCorruptedReference(t *testing.T) {
	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	hd := h.NewHandle(node)
	defer hd.Release()

	// Bypass SetField and plant an address outside any generation.
	store(h.fieldAddr(hd.Get(), 0), 0x1000)

	ie := collectIntegrityError(t, h.ForceMinorCollect)
	require.NotNil(t, ie, "corruption must be caught by the post-collection verify pass")
	assert.Equal(t, "ref-range", ie.Check)
	assert.Equal(t, Ref(0x1000), ie.Addr)
}

func TestVerifierCatchesCorruptedHeader(t *testing.T) {
	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	hd := h.NewHandle(newRecord(t, h, cls, 1))
	defer hd.Release()

	// Smash the type word with a class id that was never registered.
	store(hd.Get(), makeTypeWord(0xffff))

	ie := collectIntegrityError(t, h.ForceMinorCollect)
	require.NotNil(t, ie)
	assert.Equal(t, "class", ie.Check)
}

func TestVerifierCatchesRememberedSetViolation(t *testing.T) {
	h := newTestHeap(t, "promotion-age=0")
	cls := newTestClasses(h)

	nodeHd := h.NewHandle(Null)
	defer nodeHd.Release()
	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	nodeHd.Set(node)
	h.ForceMinorCollect()
	require.True(t, h.old.contains(nodeHd.Get()))

	h.SetField(nodeHd.Get(), 0, newRecord(t, h, cls, 1))
	// Simulate a lost barrier by wiping the card table.
	h.cards.clearAll()

	ie := collectIntegrityError(t, h.VerifyNow)
	require.NotNil(t, ie)
	assert.Equal(t, "remembered-set", ie.Check)
	assert.Equal(t, nodeHd.Get(), ie.Addr)
}

func TestVerifierCatchesStaleSemispaceReference(t *testing.T) {
	h := newTestHeap(t, "")
	cls := newTestClasses(h)

	node, err := h.Allocate(cls.node)
	require.NoError(t, err)
	hd := h.NewHandle(node)
	defer hd.Release()

	// Plant a reference into the inactive semispace.
	store(h.fieldAddr(hd.Get(), 0), uintptr(h.inactiveYoung().start))

	ie := collectIntegrityError(t, h.VerifyNow)
	require.NotNil(t, ie)
	assert.Equal(t, "stale-semispace", ie.Check)
}

func TestIntegrityErrorRendering(t *testing.T) {
	ie := &IntegrityError{
		Check: "ref-range",
		Addr:  0x1000,
		Slot:  0x2008,
		Msg:   "reference outside any generation",
	}
	assert.Contains(t, ie.Error(), "[ref-range]")
	assert.Contains(t, ie.Error(), "0x1000")

	var buf bytes.Buffer
	ie.Diagnostic().WriteTo(diagnostics.NonColorable(&buf))
	assert.Contains(t, buf.String(), "integrity violation")
	assert.Contains(t, buf.String(), "reference outside any generation")
}
