package gc

import "fmt"

// Kind distinguishes plain objects from arrays.
type Kind uint8

const (
	KindObject Kind = iota
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "!err"
	}
}

// Class is a type descriptor. It tells the collector how large instances
// are and which fields hold references, so scanning is precise and never
// guesses at pointers.
type Class struct {
	id   uint32
	name string
	kind Kind

	// fieldCount is the number of inline fields of a plain object.
	fieldCount int

	// refFields lists the field indexes that hold references, in
	// ascending order. isRef mirrors it for constant time lookups.
	refFields []int
	isRef     []bool

	// elemRefs marks an array class whose elements are references.
	elemRefs bool
}

func (c *Class) ID() uint32      { return c.id }
func (c *Class) Name() string    { return c.name }
func (c *Class) Kind() Kind      { return c.kind }
func (c *Class) FieldCount() int { return c.fieldCount }

// RefFields returns the reference holding field indexes. Callers must not
// modify the returned slice.
func (c *Class) RefFields() []int { return c.refFields }

// ElemRefs reports whether an array class stores references.
func (c *Class) ElemRefs() bool { return c.elemRefs }

// ClassRegistry maps class IDs to descriptors. IDs are dense and start at 1;
// ID 0 is reserved so a zeroed header word is never a valid object.
type ClassRegistry struct {
	classes []*Class
	byName  map[string]*Class
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{
		classes: []*Class{nil}, // slot 0 reserved
		byName:  map[string]*Class{},
	}
}

// NewClass registers a plain object class with the given number of inline
// fields. refFields names the fields that hold references.
func (r *ClassRegistry) NewClass(name string, fieldCount int, refFields ...int) *Class {
	cls := &Class{
		kind:       KindObject,
		fieldCount: fieldCount,
		refFields:  refFields,
		isRef:      make([]bool, fieldCount),
	}
	for _, fi := range refFields {
		if fi < 0 || fi >= fieldCount {
			panic(fmt.Sprintf("gc: class %s: ref field %d outside 0..%d", name, fi, fieldCount-1))
		}
		cls.isRef[fi] = true
	}
	r.register(name, cls)
	return cls
}

// NewArrayClass registers an array class. elemRefs selects reference
// elements; scalar arrays are skipped entirely during scanning.
func (r *ClassRegistry) NewArrayClass(name string, elemRefs bool) *Class {
	cls := &Class{
		kind:     KindArray,
		elemRefs: elemRefs,
	}
	r.register(name, cls)
	return cls
}

func (r *ClassRegistry) register(name string, cls *Class) {
	if _, ok := r.byName[name]; ok {
		panic(fmt.Sprintf("gc: class %s registered twice", name))
	}
	cls.id = uint32(len(r.classes))
	cls.name = name
	r.classes = append(r.classes, cls)
	r.byName[name] = cls
}

// Lookup returns the class with the given ID, or nil if the ID has never
// been registered. The verifier uses the nil return to detect corrupted
// headers.
func (r *ClassRegistry) Lookup(id uint32) *Class {
	if id == 0 || id >= uint32(len(r.classes)) {
		return nil
	}
	return r.classes[id]
}

// ByName returns the class with the given name, or nil.
func (r *ClassRegistry) ByName(name string) *Class {
	return r.byName[name]
}

// Len returns the number of registered classes.
func (r *ClassRegistry) Len() int {
	return len(r.classes) - 1
}
