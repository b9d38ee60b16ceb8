package dispatch

import (
	"reflect"
	"sync"
)

// Dispatcher is the compiled handler resolution of a single aggregate type.
// Resolved handlers are cached per data type. A Dispatcher is safe for
// concurrent use.
type Dispatcher struct {
	table     *Table
	events    sync.Map
	snapshots sync.Map
}

type resolution struct {
	fn func(agg, data any)
}

// New returns the Dispatcher for the given Table.
func New(t *Table) *Dispatcher {
	return &Dispatcher{table: t}
}

// Type returns the aggregate type of the Dispatcher.
func (d *Dispatcher) Type() reflect.Type {
	return d.table.typ
}

// ApplyEvent calls the event handler of agg that matches the runtime type of
// data. ApplyEvent reports whether a handler was found.
func (d *Dispatcher) ApplyEvent(agg, data any) bool {
	return d.apply(&d.events, eventHandlers, agg, data)
}

// ApplySnapshot calls the snapshot handler of agg that matches the runtime
// type of data. ApplySnapshot reports whether a handler was found.
func (d *Dispatcher) ApplySnapshot(agg, data any) bool {
	return d.apply(&d.snapshots, snapshotHandlers, agg, data)
}

// HandlesEvent reports whether event data of type dt has a handler.
func (d *Dispatcher) HandlesEvent(dt reflect.Type) bool {
	return d.lookup(&d.events, eventHandlers, dt).fn != nil
}

// HandlesSnapshot reports whether snapshot data of type dt has a handler.
func (d *Dispatcher) HandlesSnapshot(dt reflect.Type) bool {
	return d.lookup(&d.snapshots, snapshotHandlers, dt).fn != nil
}

func (d *Dispatcher) apply(cache *sync.Map, handlers func(*Table) []handler, agg, data any) bool {
	if data == nil {
		return false
	}
	r := d.lookup(cache, handlers, reflect.TypeOf(data))
	if r.fn == nil {
		return false
	}
	r.fn(agg, data)
	return true
}

func (d *Dispatcher) lookup(cache *sync.Map, handlers func(*Table) []handler, dt reflect.Type) resolution {
	if r, ok := cache.Load(dt); ok {
		return r.(resolution)
	}
	r, _ := cache.LoadOrStore(dt, resolution{fn: resolve(d.table, handlers, dt)})
	return r.(resolution)
}

// Cache holds the Dispatchers of aggregate types. The Dispatcher of a type is
// built once, on first use. A Cache is safe for concurrent use.
type Cache struct {
	dispatchers sync.Map
}

// Default is the Cache used by aggregates that were not given one.
var Default = NewCache()

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// For returns the Dispatcher for the type of a. The handlers of the type are
// declared on the first call for that type.
func (c *Cache) For(a Declarer) *Dispatcher {
	typ := reflect.TypeOf(a)
	if d, ok := c.dispatchers.Load(typ); ok {
		return d.(*Dispatcher)
	}

	t := NewTable(typ)
	a.DeclareHandlers(t)

	d, _ := c.dispatchers.LoadOrStore(typ, New(t))
	return d.(*Dispatcher)
}

// Len returns the number of aggregate types in the Cache.
func (c *Cache) Len() int {
	var n int
	c.dispatchers.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}
