package logical

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

var (
	// ErrDuplicateMapping is returned when a logical type or a runtime type is
	// mapped twice.
	ErrDuplicateMapping = errors.New("duplicate mapping")

	// ErrFrozen is returned when adding a mapping to a frozen Registry.
	ErrFrozen = errors.New("registry is frozen")
)

// MappingError is returned by Registry.AddMapping and
// Registry.AddGenericMapping when a mapping is rejected.
type MappingError struct {
	Logical Type
	Runtime any
	Err     error
}

func (err *MappingError) Error() string {
	return fmt.Sprintf("map %s to %v: %v", err.Logical, err.Runtime, err.Err)
}

func (err *MappingError) Unwrap() error {
	return err.Err
}

// Registry is a bidirectional mapping between logical types and runtime types.
// A Registry is populated once during startup and read concurrently
// afterwards; it is safe for concurrent use.
//
//	reg := logical.NewRegistry()
//	reg.AddMapping(logical.MustParse("core:String"), reflect.TypeOf(""))
//	reg.AddMapping(logical.MustParse("core:Int32"), reflect.TypeOf(int32(0)))
//	reg.AddGenericMapping(logical.MustParse("core:Dictionary`2"), logical.Map)
//
//	t, ok := reg.TryLookupActualType(logical.MustParse("core:Dictionary`2<core:String, core:Int32>"))
//	// t == reflect.TypeOf(map[string]int32{})
type Registry struct {
	mux    sync.RWMutex
	frozen bool

	toRuntime map[string]reflect.Type
	toLogical map[reflect.Type]Type

	toGeneric      map[string]Generic
	genericLogical map[Generic]Type
	generics       []Generic
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		toRuntime:      make(map[string]reflect.Type),
		toLogical:      make(map[reflect.Type]Type),
		toGeneric:      make(map[string]Generic),
		genericLogical: make(map[Generic]Type),
	}
}

// Freeze prevents further mappings from being added to the Registry.
func (r *Registry) Freeze() {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.frozen = true
}

// AddMapping maps the non-open logical type l to the concrete runtime type t.
// AddMapping fails if l is open, if l has type arguments whose count differs
// from its arity, or if either side is already mapped. A closed generic l
// must be mapped to an instantiation of the same arity: a type a registered
// Generic decomposes into l.Arity() arguments, an unnamed composite type or a
// named generic type with l.Arity() type parameters.
func (r *Registry) AddMapping(l Type, t reflect.Type) error {
	if t == nil {
		return &MappingError{Logical: l, Runtime: t, Err: fmt.Errorf("%w: nil runtime type", ErrMalformed)}
	}
	if err := l.validate(); err != nil {
		return &MappingError{Logical: l, Runtime: t, Err: err}
	}
	if l.IsOpen() {
		return &MappingError{Logical: l, Runtime: t, Err: fmt.Errorf("%w: open logical type mapped to concrete type", ErrArity)}
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if r.frozen {
		return &MappingError{Logical: l, Runtime: t, Err: ErrFrozen}
	}
	if _, ok := r.toRuntime[l.key()]; ok {
		return &MappingError{Logical: l, Runtime: t, Err: fmt.Errorf("%w: logical type already mapped", ErrDuplicateMapping)}
	}
	if _, ok := r.toLogical[t]; ok {
		return &MappingError{Logical: l, Runtime: t, Err: fmt.Errorf("%w: runtime type already mapped", ErrDuplicateMapping)}
	}
	if l.IsGeneric() && !r.instantiates(t, l.Arity()) {
		return &MappingError{Logical: l, Runtime: t, Err: fmt.Errorf("%w: %v is not an instantiation with %d type arguments", ErrArity, t, l.Arity())}
	}

	r.toRuntime[l.key()] = t
	r.toLogical[t] = l

	return nil
}

// instantiates reports whether t is an instantiation of a generic type with
// the given arity. r.mux must be held.
func (r *Registry) instantiates(t reflect.Type, arity int) bool {
	for _, g := range r.generics {
		if args, ok := g.Args(t); ok && len(args) == arity {
			return true
		}
	}
	n, ok := runtimeArity(t)
	return ok && n == arity
}

// runtimeArity returns the number of type arguments of t if t is an unnamed
// composite type or a named generic instantiation.
func runtimeArity(t reflect.Type) (int, bool) {
	if t.Name() == "" {
		switch t.Kind() {
		case reflect.Slice, reflect.Array, reflect.Pointer, reflect.Chan:
			return 1, true
		case reflect.Map:
			return 2, true
		}
		return 0, false
	}

	name := t.Name()
	start := strings.IndexByte(name, '[')
	if start < 0 || !strings.HasSuffix(name, "]") {
		return 0, false
	}

	n, depth := 1, 0
	for _, c := range name[start+1 : len(name)-1] {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				n++
			}
		}
	}
	return n, true
}

// AddGenericMapping maps the open logical type l to the open runtime type g.
// AddGenericMapping fails if l is not open, if the arities differ, or if
// either side is already mapped.
func (r *Registry) AddGenericMapping(l Type, g Generic) error {
	if g == nil {
		return &MappingError{Logical: l, Runtime: g, Err: fmt.Errorf("%w: nil generic", ErrMalformed)}
	}
	if err := l.validate(); err != nil {
		return &MappingError{Logical: l, Runtime: g, Err: err}
	}
	if !l.IsOpen() {
		return &MappingError{Logical: l, Runtime: g, Err: fmt.Errorf("%w: closed logical type mapped to open generic", ErrArity)}
	}
	if l.Arity() != g.Arity() {
		return &MappingError{Logical: l, Runtime: g, Err: fmt.Errorf("%w: logical arity %d, runtime arity %d", ErrArity, l.Arity(), g.Arity())}
	}

	r.mux.Lock()
	defer r.mux.Unlock()

	if r.frozen {
		return &MappingError{Logical: l, Runtime: g, Err: ErrFrozen}
	}
	if _, ok := r.toGeneric[l.key()]; ok {
		return &MappingError{Logical: l, Runtime: g, Err: fmt.Errorf("%w: logical type already mapped", ErrDuplicateMapping)}
	}
	if _, ok := r.genericLogical[g]; ok {
		return &MappingError{Logical: l, Runtime: g, Err: fmt.Errorf("%w: generic already mapped", ErrDuplicateMapping)}
	}

	r.toGeneric[l.key()] = g
	r.genericLogical[g] = l
	r.generics = append(r.generics, g)

	return nil
}

// TryLookupActualType returns the runtime type of the logical type l. If l
// has no direct mapping and is a closed generic type, TryLookupActualType
// resolves the open generic and each type argument recursively and composes
// the result.
func (r *Registry) TryLookupActualType(l Type) (reflect.Type, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.lookupActual(l)
}

func (r *Registry) lookupActual(l Type) (reflect.Type, bool) {
	if t, ok := r.toRuntime[l.key()]; ok {
		return t, true
	}

	if len(l.args) == 0 {
		return nil, false
	}

	g, ok := r.toGeneric[l.Open().key()]
	if !ok {
		return nil, false
	}

	args := make([]reflect.Type, len(l.args))
	for i, arg := range l.args {
		at, ok := r.lookupActual(arg)
		if !ok {
			return nil, false
		}
		args[i] = at
	}

	t, err := g.Make(args...)
	if err != nil {
		return nil, false
	}

	return t, true
}

// TryLookupLogicalType returns the logical type of the runtime type t. If t
// has no direct mapping but is an instantiation of a mapped Generic,
// TryLookupLogicalType resolves each type argument recursively and closes the
// open logical type of the Generic with them.
func (r *Registry) TryLookupLogicalType(t reflect.Type) (Type, bool) {
	if t == nil {
		return Type{}, false
	}

	r.mux.RLock()
	defer r.mux.RUnlock()

	return r.lookupLogical(t)
}

func (r *Registry) lookupLogical(t reflect.Type) (Type, bool) {
	if l, ok := r.toLogical[t]; ok {
		return l, true
	}

	for _, g := range r.generics {
		targs, ok := g.Args(t)
		if !ok {
			continue
		}

		args := make([]Type, len(targs))
		resolved := true
		for i, targ := range targs {
			l, ok := r.lookupLogical(targ)
			if !ok {
				resolved = false
				break
			}
			args[i] = l
		}
		if !resolved {
			continue
		}

		closed, err := r.genericLogical[g].Close(args...)
		if err != nil {
			continue
		}

		return closed, true
	}

	return Type{}, false
}

// TryLookupGeneric returns the Generic mapped to the open logical type l.
func (r *Registry) TryLookupGeneric(l Type) (Generic, bool) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	g, ok := r.toGeneric[l.Open().key()]
	return g, ok
}

// TypeOf returns the logical type of the dynamic type of v.
func (r *Registry) TypeOf(v any) (Type, bool) {
	return r.TryLookupLogicalType(reflect.TypeOf(v))
}
