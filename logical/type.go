// Package logical provides portable, version-aware type names for persisted
// payloads and a registry that maps them to in-process types.
//
// A logical type has the canonical form
//
//	alias:Name[`arity][<arg, arg, ...>][:vVersion]
//
// for example "core:Int32", "bank:Deposited:v2" or
// "core:Dictionary`2<core:String, core:Int32>".
package logical

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformed is returned when a logical type cannot be parsed or built
	// from its components.
	ErrMalformed = errors.New("malformed logical type")

	// ErrArity is returned when the number of type arguments does not match the
	// arity of a type.
	ErrArity = errors.New("arity mismatch")
)

// Type is an immutable logical type identifier. The zero Type is invalid.
type Type struct {
	alias      string
	name       string
	arity      int
	version    int
	hasVersion bool
	args       []Type
}

// Option is an option for New.
type Option func(*Type)

// Arity returns an Option that sets the generic arity of a type.
func Arity(n int) Option {
	return func(t *Type) {
		t.arity = n
	}
}

// Version returns an Option that sets the version of a type.
func Version(v int) Option {
	return func(t *Type) {
		t.version = v
		t.hasVersion = true
	}
}

// Args returns an Option that sets the type arguments of a type. If no arity
// is configured, the arity is derived from the number of arguments.
func Args(args ...Type) Option {
	return func(t *Type) {
		t.args = append([]Type(nil), args...)
	}
}

// New builds a logical type from its components.
func New(alias, name string, opts ...Option) (Type, error) {
	t := Type{alias: alias, name: name}
	for _, opt := range opts {
		opt(&t)
	}

	if len(t.args) > 0 && t.arity == 0 {
		t.arity = len(t.args)
	}

	if err := t.validate(); err != nil {
		return Type{}, err
	}

	return t, nil
}

// MustNew does the same as New but panics if the type is invalid.
func MustNew(alias, name string, opts ...Option) Type {
	t, err := New(alias, name, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Type) validate() error {
	if !validAlias(t.alias) {
		return fmt.Errorf("%w: invalid alias %q", ErrMalformed, t.alias)
	}
	if !validName(t.name) {
		return fmt.Errorf("%w: invalid name %q", ErrMalformed, t.name)
	}
	if t.arity < 0 {
		return fmt.Errorf("%w: negative arity %d", ErrMalformed, t.arity)
	}
	if t.hasVersion && t.version < 0 {
		return fmt.Errorf("%w: negative version %d", ErrMalformed, t.version)
	}
	if len(t.args) > 0 && len(t.args) != t.arity {
		return fmt.Errorf("%w: %d type arguments for arity %d", ErrArity, len(t.args), t.arity)
	}
	for _, arg := range t.args {
		if arg.IsZero() {
			return fmt.Errorf("%w: zero type argument", ErrMalformed)
		}
	}
	return nil
}

// Alias returns the namespace alias of the type.
func (t Type) Alias() string { return t.alias }

// Name returns the (possibly dot-qualified) name of the type.
func (t Type) Name() string { return t.name }

// Arity returns the number of generic parameters of the type.
func (t Type) Arity() int { return t.arity }

// Version returns the version of the type and whether a version is set.
func (t Type) Version() (int, bool) { return t.version, t.hasVersion }

// Args returns a copy of the type arguments.
func (t Type) Args() []Type {
	if len(t.args) == 0 {
		return nil
	}
	return append([]Type(nil), t.args...)
}

// IsZero returns whether t is the zero Type.
func (t Type) IsZero() bool {
	return t.alias == "" && t.name == ""
}

// IsOpen reports whether t is an open generic type: a type with a non-zero
// arity and no type arguments.
func (t Type) IsOpen() bool {
	return t.arity > 0 && len(t.args) == 0
}

// IsGeneric reports whether t has a non-zero arity.
func (t Type) IsGeneric() bool {
	return t.arity > 0
}

// Open returns the open generic form of t. The arity of the returned type is
// the number of type arguments of t. Types without arguments are returned
// unchanged.
func (t Type) Open() Type {
	if len(t.args) == 0 {
		return t
	}
	out := t
	out.arity = len(t.args)
	out.args = nil
	return out
}

// Close combines the open type t with the given type arguments. Close fails
// with ErrArity if t is not open or if the number of arguments differs from
// the arity of t.
func (t Type) Close(args ...Type) (Type, error) {
	if !t.IsOpen() {
		return Type{}, fmt.Errorf("close %s: %w: type is not open", t, ErrArity)
	}
	if len(args) != t.arity {
		return Type{}, fmt.Errorf("close %s: %w: want %d arguments, got %d", t, ErrArity, t.arity, len(args))
	}
	out := t
	out.args = append([]Type(nil), args...)
	if err := out.validate(); err != nil {
		return Type{}, fmt.Errorf("close %s: %w", t, err)
	}
	return out, nil
}

// Equal reports whether t and other denote the same logical type. Alias and
// name are compared case-insensitively.
func (t Type) Equal(other Type) bool {
	if !strings.EqualFold(t.alias, other.alias) ||
		!strings.EqualFold(t.name, other.name) ||
		t.arity != other.arity ||
		t.hasVersion != other.hasVersion ||
		t.version != other.version ||
		len(t.args) != len(other.args) {
		return false
	}
	for i, arg := range t.args {
		if !arg.Equal(other.args[i]) {
			return false
		}
	}
	return true
}

// String returns the canonical textual form of t.
func (t Type) String() string {
	if t.IsZero() {
		return ""
	}
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t Type) write(b *strings.Builder) {
	b.WriteString(t.alias)
	b.WriteByte(':')
	b.WriteString(t.name)
	if t.arity > 0 {
		b.WriteByte('`')
		b.WriteString(strconv.Itoa(t.arity))
	}
	if len(t.args) > 0 {
		b.WriteByte('<')
		for i, arg := range t.args {
			if i > 0 {
				b.WriteString(", ")
			}
			arg.write(b)
		}
		b.WriteByte('>')
	}
	if t.hasVersion {
		b.WriteString(":v")
		b.WriteString(strconv.Itoa(t.version))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// key returns a case-folded canonical string that identifies t in maps.
func (t Type) key() string {
	return strings.ToLower(t.String())
}

func validAlias(s string) bool {
	if s == "" || !isAlnum(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if c := s[i]; !isAlnum(c) && c != '_' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func validName(s string) bool {
	if s == "" || !isAlnum(s[0]) || s[len(s)-1] == '.' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if c := s[i]; !isAlnum(c) && c != '_' && c != '.' && c != '+' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
