package logical

import (
	"fmt"
	"reflect"
)

// A Generic is an open runtime type: a type constructor that builds concrete
// reflect.Types from type arguments and recognizes the types it built.
//
// Go cannot instantiate generic types at runtime, so the builtin Generics
// cover the composite kinds reflect can construct (slices, maps, pointers and
// arrays). User-defined generic types are mapped through an explicit
// instantiation table built with Instances.
type Generic interface {
	// Arity returns the number of type arguments.
	Arity() int

	// Make returns the concrete type for the given type arguments.
	Make(args ...reflect.Type) (reflect.Type, error)

	// Args decomposes t into its type arguments if t is an instantiation of
	// the Generic.
	Args(t reflect.Type) ([]reflect.Type, bool)
}

var (
	// Slice is the Generic of slice types ([]T).
	Slice Generic = &kindGeneric{
		name:  "slice",
		kind:  reflect.Slice,
		arity: 1,
		make:  func(args []reflect.Type) reflect.Type { return reflect.SliceOf(args[0]) },
		args:  func(t reflect.Type) []reflect.Type { return []reflect.Type{t.Elem()} },
	}

	// Map is the Generic of map types (map[K]V).
	Map Generic = &kindGeneric{
		name:  "map",
		kind:  reflect.Map,
		arity: 2,
		make: func(args []reflect.Type) reflect.Type {
			return reflect.MapOf(args[0], args[1])
		},
		args: func(t reflect.Type) []reflect.Type { return []reflect.Type{t.Key(), t.Elem()} },
		check: func(args []reflect.Type) error {
			if !args[0].Comparable() {
				return fmt.Errorf("map key %v is not comparable", args[0])
			}
			return nil
		},
	}

	// Pointer is the Generic of pointer types (*T).
	Pointer Generic = &kindGeneric{
		name:  "pointer",
		kind:  reflect.Pointer,
		arity: 1,
		make:  func(args []reflect.Type) reflect.Type { return reflect.PointerTo(args[0]) },
		args:  func(t reflect.Type) []reflect.Type { return []reflect.Type{t.Elem()} },
	}
)

// Array returns the Generic of array types with length n ([n]T).
func Array(n int) Generic {
	return &kindGeneric{
		name:  fmt.Sprintf("array[%d]", n),
		kind:  reflect.Array,
		arity: 1,
		len:   n,
		make:  func(args []reflect.Type) reflect.Type { return reflect.ArrayOf(n, args[0]) },
		args:  func(t reflect.Type) []reflect.Type { return []reflect.Type{t.Elem()} },
	}
}

type kindGeneric struct {
	name  string
	kind  reflect.Kind
	arity int
	len   int
	make  func([]reflect.Type) reflect.Type
	args  func(reflect.Type) []reflect.Type
	check func([]reflect.Type) error
}

func (g *kindGeneric) Arity() int { return g.arity }

func (g *kindGeneric) Make(args ...reflect.Type) (reflect.Type, error) {
	if len(args) != g.arity {
		return nil, fmt.Errorf("make %s: %w: want %d arguments, got %d", g.name, ErrArity, g.arity, len(args))
	}
	if g.check != nil {
		if err := g.check(args); err != nil {
			return nil, fmt.Errorf("make %s: %w", g.name, err)
		}
	}
	return g.make(args), nil
}

func (g *kindGeneric) Args(t reflect.Type) ([]reflect.Type, bool) {
	if t == nil || t.Kind() != g.kind || t.Name() != "" {
		return nil, false
	}
	if g.kind == reflect.Array && t.Len() != g.len {
		return nil, false
	}
	return g.args(t), true
}

func (g *kindGeneric) String() string { return g.name }

// Instance is a single instantiation of a user-defined generic type.
type Instance struct {
	Type reflect.Type
	Args []reflect.Type
}

// Instantiation returns the Instance for the type of v and the given type
// arguments.
//
//	type Envelope[K comparable, V any] struct { ... }
//	logical.Instantiation(Envelope[string, int]{}, reflect.TypeOf(""), reflect.TypeOf(0))
func Instantiation(v any, args ...reflect.Type) Instance {
	return Instance{Type: reflect.TypeOf(v), Args: args}
}

// Instances returns a Generic of the given arity over an explicit table of
// instantiations.
func Instances(arity int, instances ...Instance) (Generic, error) {
	g := &tableGeneric{arity: arity}
	for _, inst := range instances {
		if len(inst.Args) != arity {
			return nil, fmt.Errorf("instance %v: %w: want %d arguments, got %d", inst.Type, ErrArity, arity, len(inst.Args))
		}
		if _, ok := g.Args(inst.Type); ok {
			return nil, fmt.Errorf("instance %v: %w", inst.Type, ErrDuplicateMapping)
		}
		if _, err := g.Make(inst.Args...); err == nil {
			return nil, fmt.Errorf("instance arguments %v: %w", inst.Args, ErrDuplicateMapping)
		}
		g.instances = append(g.instances, Instance{
			Type: inst.Type,
			Args: append([]reflect.Type(nil), inst.Args...),
		})
	}
	return g, nil
}

type tableGeneric struct {
	arity     int
	instances []Instance
}

func (g *tableGeneric) Arity() int { return g.arity }

func (g *tableGeneric) Make(args ...reflect.Type) (reflect.Type, error) {
	if len(args) != g.arity {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ErrArity, g.arity, len(args))
	}
outer:
	for _, inst := range g.instances {
		for i, arg := range args {
			if inst.Args[i] != arg {
				continue outer
			}
		}
		return inst.Type, nil
	}
	return nil, fmt.Errorf("no instantiation for arguments %v", args)
}

func (g *tableGeneric) Args(t reflect.Type) ([]reflect.Type, bool) {
	for _, inst := range g.instances {
		if inst.Type == t {
			return append([]reflect.Type(nil), inst.Args...), true
		}
	}
	return nil, false
}
