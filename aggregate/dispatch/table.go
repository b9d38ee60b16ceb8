// Package dispatch routes events and snapshots to the apply handlers of an
// aggregate by the runtime type of their data.
//
// Every aggregate type declares its handlers once in a Table:
//
//	func (a *Account) DeclareHandlers(t *dispatch.Table) {
//		dispatch.On(t, (*Account).opened)
//		dispatch.On(t, (*Account).deposited)
//		dispatch.OnSnapshot(t, (*Account).restore)
//	}
//
// A handler may be declared for a concrete data type or for an interface.
// Resolution picks the exact concrete handler first, then the most specific
// interface handler, then the handlers of the extended aggregate type (see
// Extends). Data without a matching handler is ignored.
package dispatch

import (
	"fmt"
	"reflect"
)

// Declarer is implemented by aggregates. DeclareHandlers registers the apply
// handlers of the aggregate type in t. DeclareHandlers is called at most once
// per aggregate type and Cache and must not depend on the state of the
// receiver.
type Declarer interface {
	DeclareHandlers(t *Table)
}

// Table is the handler registration table of a single aggregate type.
type Table struct {
	typ       reflect.Type
	events    []handler
	snapshots []handler
	parent    *parent
}

type handler struct {
	data reflect.Type
	fn   func(agg, data any)
}

type parent struct {
	typ   reflect.Type
	up    func(any) any
	table *Table
}

// NewTable returns an empty Table for the aggregate type typ.
func NewTable(typ reflect.Type) *Table {
	return &Table{typ: typ}
}

// Type returns the aggregate type of the Table.
func (t *Table) Type() reflect.Type {
	return t.typ
}

// Len returns the number of event and snapshot handlers declared directly in
// the Table.
func (t *Table) Len() int {
	return len(t.events) + len(t.snapshots)
}

// On registers fn as the event handler for data of type D. D may be an
// interface type, in which case fn handles every data type that implements D
// and has no more specific handler. On panics if a handler for D was already
// registered in t.
func On[A, D any](t *Table, fn func(A, D)) {
	t.events = register(t, t.events, "event", fn)
}

// OnSnapshot registers fn as the snapshot handler for snapshot data of type D.
// The resolution rules of On apply.
func OnSnapshot[A, D any](t *Table, fn func(A, D)) {
	t.snapshots = register(t, t.snapshots, "snapshot", fn)
}

func register[A, D any](t *Table, handlers []handler, kind string, fn func(A, D)) []handler {
	dt := reflect.TypeOf((*D)(nil)).Elem()
	for _, h := range handlers {
		if h.data == dt {
			panic(fmt.Sprintf("[dispatch.On] %s handler for %v already registered in %v table", kind, dt, t.typ))
		}
	}
	return append(handlers, handler{
		data: dt,
		fn: func(agg, data any) {
			fn(agg.(A), data.(D))
		},
	})
}

// Extends makes the aggregate type of t inherit the handlers of the aggregate
// type B. Data that has no handler in t is resolved in the table of B and the
// handler is called with up(a), which must return the embedded B of a.
//
//	type SavingsAccount struct {
//		Account
//	}
//
//	func (s *SavingsAccount) DeclareHandlers(t *dispatch.Table) {
//		dispatch.Extends(t, func(s *SavingsAccount) *Account { return &s.Account })
//		dispatch.On(t, (*SavingsAccount).interestAccrued)
//	}
//
// Extends panics if t already extends another aggregate type.
func Extends[A any, B Declarer](t *Table, up func(A) B) {
	if t.parent != nil {
		panic(fmt.Sprintf("[dispatch.Extends] %v table already extends %v", t.typ, t.parent.typ))
	}

	bt := reflect.TypeOf((*B)(nil)).Elem()
	pt := NewTable(bt)
	declarer(bt).DeclareHandlers(pt)

	t.parent = &parent{
		typ: bt,
		up: func(agg any) any {
			return up(agg.(A))
		},
		table: pt,
	}
}

// declarer returns a fresh B to declare its handlers on.
func declarer(t reflect.Type) Declarer {
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(Declarer)
	}
	return reflect.New(t).Elem().Interface().(Declarer)
}

// resolve returns the handler of handlers(t) for the data type dt, or nil if
// no handler in t or its extended tables matches.
func resolve(t *Table, handlers func(*Table) []handler, dt reflect.Type) func(agg, data any) {
	if fn := match(handlers(t), dt); fn != nil {
		return fn
	}
	if t.parent == nil {
		return nil
	}
	fn := resolve(t.parent.table, handlers, dt)
	if fn == nil {
		return nil
	}
	up := t.parent.up
	return func(agg, data any) {
		fn(up(agg), data)
	}
}

func match(handlers []handler, dt reflect.Type) func(agg, data any) {
	var candidates []handler
	for _, h := range handlers {
		if h.data == dt {
			return h.fn
		}
		if h.data.Kind() == reflect.Interface && dt.Implements(h.data) {
			candidates = append(candidates, h)
		}
	}

	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0].fn
	}

	// An interface that implements every other candidate is the most
	// specific one. Ties go to the first declared handler.
	for _, c := range candidates {
		specific := true
		for _, o := range candidates {
			if !c.data.Implements(o.data) {
				specific = false
				break
			}
		}
		if specific {
			return c.fn
		}
	}
	return candidates[0].fn
}

func eventHandlers(t *Table) []handler    { return t.events }
func snapshotHandlers(t *Table) []handler { return t.snapshots }
