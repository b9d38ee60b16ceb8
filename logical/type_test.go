package logical_test

import (
	"errors"
	"testing"

	"github.com/modernice/mnemo/logical"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		alias   string
		name    string
		arity   int
		version int
		hasV    bool
		args    int
	}{
		{input: "core:String", alias: "core", name: "String"},
		{input: "bank:Account.Opened", alias: "bank", name: "Account.Opened"},
		{input: "bank:Deposited:v2", alias: "bank", name: "Deposited", version: 2, hasV: true},
		{input: "core:List`1", alias: "core", name: "List", arity: 1},
		{input: "core:Dictionary`2<core:String, core:Int32>", alias: "core", name: "Dictionary", arity: 2, args: 2},
		{input: "core:Dictionary<core:String,core:Int32>:v3", alias: "core", name: "Dictionary", arity: 2, args: 2, version: 3, hasV: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			typ, err := logical.Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}

			if typ.Alias() != tt.alias {
				t.Errorf("Alias() should return %q; got %q", tt.alias, typ.Alias())
			}
			if typ.Name() != tt.name {
				t.Errorf("Name() should return %q; got %q", tt.name, typ.Name())
			}
			if typ.Arity() != tt.arity {
				t.Errorf("Arity() should return %d; got %d", tt.arity, typ.Arity())
			}
			if v, ok := typ.Version(); v != tt.version || ok != tt.hasV {
				t.Errorf("Version() should return (%d, %v); got (%d, %v)", tt.version, tt.hasV, v, ok)
			}
			if len(typ.Args()) != tt.args {
				t.Errorf("Args() should return %d arguments; got %d", tt.args, len(typ.Args()))
			}
		})
	}
}

func TestParse_malformed(t *testing.T) {
	inputs := []string{
		"",
		"String",
		":String",
		"core:",
		"_core:String",
		"core:.String",
		"core:String.",
		"core:List`",
		"core:List`x",
		"core:List`2<core:String>",
		"core:List<core:String",
		"core:List<>",
		"core:List<core:String;core:Int>",
		"core:String:x",
		"core:String:v",
		"core:String:v-1",
		"core:String extra",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := logical.Parse(input)
			if !errors.Is(err, logical.ErrMalformed) {
				t.Fatalf("Parse(%q) should fail with %q; got %v", input, logical.ErrMalformed, err)
			}

			var perr *logical.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse(%q) should return a *ParseError; got %T", input, err)
			}

			if _, ok := logical.TryParse(input); ok {
				t.Fatalf("TryParse(%q) should fail", input)
			}
		})
	}
}

func TestType_String_roundTrip(t *testing.T) {
	str := logical.MustNew("core", "String")
	i32 := logical.MustNew("core", "Int32", logical.Version(0))
	list := logical.MustNew("core", "List", logical.Arity(1))
	closedList := logical.MustNew("core", "List", logical.Args(i32))
	dict := logical.MustNew("core", "Dictionary", logical.Args(str, closedList), logical.Version(7))
	nested := logical.MustNew("app", "Envelope.Body+Inner", logical.Args(dict), logical.Version(1))

	types := []logical.Type{str, i32, list, closedList, dict, nested}

	for _, typ := range types {
		t.Run(typ.String(), func(t *testing.T) {
			parsed, err := logical.Parse(typ.String())
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", typ.String(), err)
			}
			if !parsed.Equal(typ) {
				t.Fatalf("Parse(%q) should be equal to the original type; got %q", typ.String(), parsed.String())
			}
		})
	}
}

func TestType_String(t *testing.T) {
	typ := logical.MustParse("core:Dictionary<core:String,   core:Int32>:v3")
	want := "core:Dictionary`2<core:String, core:Int32>:v3"
	if got := typ.String(); got != want {
		t.Fatalf("String() should return %q; got %q", want, got)
	}
}

func TestType_Equal(t *testing.T) {
	a := logical.MustParse("Core:Dictionary`2<core:STRING, core:Int32>")
	b := logical.MustParse("core:dictionary`2<Core:String, core:int32>")
	if !a.Equal(b) {
		t.Fatalf("%s should equal %s", a, b)
	}

	c := logical.MustParse("core:Dictionary`2<core:String, core:Int32>:v1")
	if a.Equal(c) {
		t.Fatalf("%s should not equal %s", a, c)
	}

	d := logical.MustParse("core:Dictionary`2")
	if a.Equal(d) {
		t.Fatalf("%s should not equal %s", a, d)
	}
}

func TestType_IsOpen(t *testing.T) {
	if !logical.MustParse("core:List`1").IsOpen() {
		t.Errorf("core:List`1 should be open")
	}
	if logical.MustParse("core:List`1<core:String>").IsOpen() {
		t.Errorf("core:List`1<core:String> should not be open")
	}
	if logical.MustParse("core:String").IsOpen() {
		t.Errorf("core:String should not be open")
	}
}

func TestType_Open(t *testing.T) {
	closed := logical.MustParse("core:Dictionary<core:String, core:Int32>:v2")
	open := closed.Open()

	if !open.IsOpen() {
		t.Fatalf("Open() should return an open type; got %s", open)
	}
	if open.Arity() != 2 {
		t.Fatalf("Open() should keep the arity; got %d", open.Arity())
	}
	if want := "core:Dictionary`2:v2"; open.String() != want {
		t.Fatalf("Open() should return %q; got %q", want, open.String())
	}
}

func TestType_Close(t *testing.T) {
	open := logical.MustParse("core:Dictionary`2")
	str := logical.MustParse("core:String")
	i32 := logical.MustParse("core:Int32")

	closed, err := open.Close(str, i32)
	if err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if want := logical.MustParse("core:Dictionary`2<core:String, core:Int32>"); !closed.Equal(want) {
		t.Fatalf("Close() should return %s; got %s", want, closed)
	}

	if _, err := open.Close(str); !errors.Is(err, logical.ErrArity) {
		t.Fatalf("Close() with too few arguments should fail with %q; got %v", logical.ErrArity, err)
	}

	if _, err := closed.Close(str, i32); !errors.Is(err, logical.ErrArity) {
		t.Fatalf("Close() on a closed type should fail with %q; got %v", logical.ErrArity, err)
	}

	if _, err := str.Close(); !errors.Is(err, logical.ErrArity) {
		t.Fatalf("Close() on a non-generic type should fail with %q; got %v", logical.ErrArity, err)
	}
}

func TestNew_invalid(t *testing.T) {
	if _, err := logical.New("", "Foo"); !errors.Is(err, logical.ErrMalformed) {
		t.Errorf("New() with empty alias should fail with %q; got %v", logical.ErrMalformed, err)
	}
	if _, err := logical.New("core", "Foo", logical.Version(-1)); !errors.Is(err, logical.ErrMalformed) {
		t.Errorf("New() with negative version should fail with %q; got %v", logical.ErrMalformed, err)
	}
	if _, err := logical.New("core", "Foo", logical.Arity(3), logical.Args(logical.MustParse("core:Bar"))); !errors.Is(err, logical.ErrArity) {
		t.Errorf("New() with mismatching arguments should fail with %q; got %v", logical.ErrArity, err)
	}
}

func TestType_MarshalText(t *testing.T) {
	typ := logical.MustParse("core:List`1<core:String>:v4")

	b, err := typ.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() failed: %v", err)
	}

	var out logical.Type
	if err := out.UnmarshalText(b); err != nil {
		t.Fatalf("UnmarshalText() failed: %v", err)
	}

	if !out.Equal(typ) {
		t.Fatalf("unmarshaled type should equal %s; got %s", typ, out)
	}
}
