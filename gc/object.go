package gc

import "unsafe"

// WordSize is the size in bytes of one heap word. Object sizes, field
// offsets and the allocation granularity are all expressed in words.
const WordSize = unsafe.Sizeof(uintptr(0))

// Ref is the address of an object's first header word inside the managed
// heap. The null reference is 0. Refs are only ever handed out by the
// allocator and rewritten by the collector; the mutator treats them as
// opaque.
type Ref uintptr

// Null is the null reference. Freshly allocated reference fields and array
// slots hold Null.
const Null Ref = 0

// Object header layout, in words:
//
//	word 0  type word: classID << 8 | flags
//	word 1  forwarding word: 0, or the object's new address mid-collection
//	word 2  element count (arrays only)
//
// Fields follow the header. The flag byte holds the mark bit used by major
// collections and a three bit age counter used by the promotion policy.
// Class ID 0 is reserved so a zeroed word never decodes to a valid header.
const (
	headerWords      = 2
	arrayHeaderWords = headerWords + 1

	flagMark     uintptr = 1 << 0
	ageShift             = 1
	ageMask      uintptr = 0x7 << ageShift
	maxAge               = 7
	flagBits             = 8
	flagMask     uintptr = 1<<flagBits - 1
	classIDShift         = flagBits
)

// load reads the word at addr.
func load(addr Ref) uintptr {
	return *(*uintptr)(unsafe.Pointer(uintptr(addr)))
}

// store writes the word at addr.
func store(addr Ref, v uintptr) {
	*(*uintptr)(unsafe.Pointer(uintptr(addr))) = v
}

// word returns the address of the i-th word of the object at r.
func (r Ref) word(i int) Ref {
	return Ref(uintptr(r) + uintptr(i)*WordSize)
}

// add returns the address words heap words past r.
func (r Ref) add(words uintptr) Ref {
	return Ref(uintptr(r) + words*WordSize)
}

func makeTypeWord(classID uint32) uintptr {
	return uintptr(classID) << classIDShift
}

func classIDOf(obj Ref) uint32 {
	return uint32(load(obj) >> classIDShift)
}

func ageOf(obj Ref) int {
	return int((load(obj) & ageMask) >> ageShift)
}

func setAge(obj Ref, age int) {
	if age > maxAge {
		age = maxAge
	}
	store(obj, load(obj)&^ageMask|uintptr(age)<<ageShift)
}

func isMarked(obj Ref) bool {
	return load(obj)&flagMark != 0
}

func setMark(obj Ref) {
	store(obj, load(obj)|flagMark)
}

func clearMark(obj Ref) {
	store(obj, load(obj)&^flagMark)
}

// fwdOf returns the forwarding address recorded for obj, or Null if the
// object has not been moved in the current pass.
func fwdOf(obj Ref) Ref {
	return Ref(load(obj.word(1)))
}

func setFwd(obj, to Ref) {
	store(obj.word(1), uintptr(to))
}

func clearFwd(obj Ref) {
	store(obj.word(1), 0)
}

// rawArrayLen reads an array's element count. The caller must know the
// object is an array.
func rawArrayLen(obj Ref) int {
	return int(load(obj.word(2)))
}

// memmoveWords copies words heap words from src to dst. Overlapping ranges
// are handled like memmove, which sliding compaction relies on.
func memmoveWords(dst, src Ref, words uintptr) {
	d := unsafe.Slice((*uintptr)(unsafe.Pointer(uintptr(dst))), words)
	s := unsafe.Slice((*uintptr)(unsafe.Pointer(uintptr(src))), words)
	copy(d, s)
}

// memzeroWords zeroes words heap words starting at addr.
func memzeroWords(addr Ref, words uintptr) {
	b := unsafe.Slice((*uintptr)(unsafe.Pointer(uintptr(addr))), words)
	clear(b)
}
