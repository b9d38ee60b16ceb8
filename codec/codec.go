// Package codec encodes event and snapshot payloads for storage. Payloads are
// tagged with the canonical string of their logical type, which is resolved
// back to a runtime type through a logical.Registry before decoding.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/modernice/mnemo/logical"
)

var (
	// ErrUnregistered is returned when a payload type or logical type name
	// has no mapping in the registry.
	ErrUnregistered = errors.New("type not registered. forgot to register?")
)

// Format is the payload encoding of a Codec.
type Format int

const (
	// JSON encodes payloads with encoding/json.
	JSON = Format(iota)

	// Gob encodes payloads with encoding/gob.
	Gob
)

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case Gob:
		return "gob"
	default:
		return fmt.Sprintf("<UnknownFormat %d>", int(f))
	}
}

// Codec encodes and decodes payloads. A Codec is safe for concurrent use if
// its Registry is.
type Codec struct {
	reg             *logical.Registry
	format          Format
	useMapstructure bool
	ignoreErrors    bool
}

// Option is a Codec option.
type Option func(*Codec)

// WithFormat returns an Option that sets the payload encoding. Defaults to
// JSON.
func WithFormat(f Format) Option {
	return func(c *Codec) {
		c.format = f
	}
}

// UseMapstructure returns an Option that decodes JSON payloads into a generic
// map first and then into the payload type with mapstructure, which tolerates
// payloads whose field types changed between versions.
func UseMapstructure(use bool) Option {
	return func(c *Codec) {
		c.useMapstructure = use
	}
}

// IgnoreDecodeErrors returns an Option that returns the partially decoded
// payload instead of a decoding error.
func IgnoreDecodeErrors(ignore bool) Option {
	return func(c *Codec) {
		c.ignoreErrors = ignore
	}
}

// New returns a Codec that names payload types with reg.
func New(reg *logical.Registry, opts ...Option) *Codec {
	c := &Codec{reg: reg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the logical type registry of the Codec.
func (c *Codec) Registry() *logical.Registry {
	return c.reg
}

// Format returns the payload encoding of the Codec.
func (c *Codec) Format() Format {
	return c.format
}

// TypeName returns the canonical logical type string of t.
func (c *Codec) TypeName(t reflect.Type) (string, error) {
	l, ok := c.reg.TryLookupLogicalType(t)
	if !ok {
		return "", fmt.Errorf("logical type of %v: %w", t, ErrUnregistered)
	}
	return l.String(), nil
}

// Resolve returns the runtime type of the logical type string name.
func (c *Codec) Resolve(name string) (reflect.Type, error) {
	l, err := logical.Parse(name)
	if err != nil {
		return nil, err
	}
	t, ok := c.reg.TryLookupActualType(l)
	if !ok {
		return nil, fmt.Errorf("runtime type of %q: %w", name, ErrUnregistered)
	}
	return t, nil
}

// Encode encodes data and returns the logical type string of its runtime
// type together with the encoded bytes.
func (c *Codec) Encode(data any) (string, []byte, error) {
	name, err := c.TypeName(reflect.TypeOf(data))
	if err != nil {
		return "", nil, err
	}

	var buf bytes.Buffer
	if err := encodeCustomMarshaler(&buf, data); !errors.Is(err, errNotCustomMarshaler) {
		if err != nil {
			return "", nil, fmt.Errorf("encode %s: %w", name, err)
		}
		return name, buf.Bytes(), nil
	}

	switch c.format {
	case Gob:
		err = gob.NewEncoder(&buf).Encode(data)
	default:
		err = json.NewEncoder(&buf).Encode(data)
	}
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", name, err)
	}

	return name, buf.Bytes(), nil
}

// Decode decodes b into a new value of the runtime type of the logical type
// string name.
func (c *Codec) Decode(name string, b []byte) (any, error) {
	t, err := c.Resolve(name)
	if err != nil {
		return nil, err
	}

	ptr := reflect.New(t)

	if ok, err := decodeCustomMarshaler(b, ptr.Interface()); ok {
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return ptr.Elem().Interface(), nil
	}

	switch c.format {
	case Gob:
		err = gob.NewDecoder(bytes.NewReader(b)).Decode(ptr.Interface())
	default:
		err = c.decodeJSON(b, ptr.Interface())
	}
	if err != nil && !c.ignoreErrors {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	return ptr.Elem().Interface(), nil
}

func (c *Codec) decodeJSON(b []byte, ptr any) error {
	if !c.useMapstructure {
		return json.Unmarshal(b, ptr)
	}

	var untyped any
	if err := json.Unmarshal(b, &untyped); err != nil {
		return err
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           ptr,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("mapstructure: %w", err)
	}

	if err := dec.Decode(untyped); err != nil {
		return fmt.Errorf("mapstructure: %w", err)
	}

	return nil
}
