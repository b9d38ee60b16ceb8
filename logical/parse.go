package logical

import (
	"fmt"
	"strconv"
)

// ParseError is returned by Parse for malformed input.
type ParseError struct {
	// Input is the complete text that was parsed.
	Input string
	// Offset is the byte offset at which parsing failed.
	Offset int
	// Reason describes what was expected.
	Reason string
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("parse logical type %q: %s at offset %d", err.Input, err.Reason, err.Offset)
}

// Unwrap returns ErrMalformed.
func (err *ParseError) Unwrap() error {
	return ErrMalformed
}

// Parse parses the canonical textual form of a logical type.
func Parse(text string) (Type, error) {
	p := parser{input: text}
	t, err := p.parseType()
	if err != nil {
		return Type{}, err
	}
	if p.pos != len(p.input) {
		return Type{}, p.fail("unexpected trailing input")
	}
	return t, nil
}

// TryParse parses text and reports whether it is a valid logical type.
func TryParse(text string) (Type, bool) {
	t, err := Parse(text)
	if err != nil {
		return Type{}, false
	}
	return t, true
}

// MustParse does the same as Parse but panics on malformed input.
func MustParse(text string) Type {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	input string
	pos   int
}

func (p *parser) fail(reason string) error {
	return &ParseError{Input: p.input, Offset: p.pos, Reason: reason}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseType() (Type, error) {
	var t Type

	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != ':' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		p.pos = start
		return Type{}, p.fail("missing ':' after alias")
	}
	t.alias = p.input[start:p.pos]
	if !validAlias(t.alias) {
		p.pos = start
		return Type{}, p.fail("invalid alias")
	}
	p.pos++ // ':'

	start = p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if !isAlnum(c) && c != '_' && c != '.' && c != '+' {
			break
		}
		p.pos++
	}
	t.name = p.input[start:p.pos]
	if !validName(t.name) {
		p.pos = start
		return Type{}, p.fail("invalid type name")
	}

	hasArity := false
	if c, ok := p.peek(); ok && c == '`' {
		p.pos++
		n, err := p.parseInt()
		if err != nil {
			return Type{}, err
		}
		t.arity = n
		hasArity = true
	}

	if c, ok := p.peek(); ok && c == '<' {
		p.pos++
		args, err := p.parseArgs()
		if err != nil {
			return Type{}, err
		}
		t.args = args
		if !hasArity {
			t.arity = len(args)
		} else if t.arity != len(args) {
			return Type{}, p.fail(fmt.Sprintf("arity %d does not match %d type arguments", t.arity, len(args)))
		}
	}

	if p.pos+1 < len(p.input) && p.input[p.pos] == ':' && p.input[p.pos+1] == 'v' {
		p.pos += 2
		v, err := p.parseInt()
		if err != nil {
			return Type{}, err
		}
		t.version = v
		t.hasVersion = true
	}

	return t, nil
}

func (p *parser) parseArgs() ([]Type, error) {
	var args []Type
	for {
		p.skipSpace()
		arg, err := p.parseType()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipSpace()

		c, ok := p.peek()
		if !ok {
			return nil, p.fail("unterminated type argument list")
		}
		p.pos++
		switch c {
		case ',':
			continue
		case '>':
			return args, nil
		default:
			p.pos--
			return nil, p.fail("expected ',' or '>'")
		}
	}
}

func (p *parser) parseInt() (int, error) {
	start := p.pos
	for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return 0, p.fail("expected digits")
	}
	n, err := strconv.Atoi(p.input[start:p.pos])
	if err != nil {
		p.pos = start
		return 0, p.fail("number out of range")
	}
	return n, nil
}
