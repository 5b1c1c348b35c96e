package condition

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

// ErrSyntax is returned by Parse for malformed expressions.
var ErrSyntax = errors.New("condition syntax error")

// Parse reads a condition in the form produced by String:
//
//	thread=7
//	kind=field-write
//	object[1]=3/arg1
//	and(thread=1, or(field=4, variable=2))
//	and[roles](object=12/target, behavior=5/called)
//
// Values may be decimal or 0x-prefixed hexadecimal. A role dimension given
// without a role matches any role.
func Parse(s string) (Condition, error) {
	p := &parser{src: s}
	c, err := p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return c, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

// word reads a run of name characters.
func (p *parser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == '-' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) expr() (Condition, error) {
	start := p.pos
	name := p.word()
	if name == "" {
		return nil, p.errorf("expected a condition")
	}
	switch name {
	case "and", "or":
		roles := name == "and" && p.accept("[roles]")
		if !p.accept("(") {
			// A dimension may not be named and/or, so this is an error.
			return nil, p.errorf("expected ( after %s", name)
		}
		children, err := p.children()
		if err != nil {
			return nil, err
		}
		if name == "or" {
			return Or(children...), nil
		}
		return &Conjunction{Children: children, MatchRoles: roles}, nil
	}
	p.pos = start
	return p.simple()
}

func (p *parser) children() ([]Condition, error) {
	var out []Condition
	if p.accept(")") {
		return out, nil
	}
	for {
		c, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if p.accept(")") {
			return out, nil
		}
		if !p.accept(",") {
			return nil, p.errorf("expected , or )")
		}
	}
}

func (p *parser) simple() (*Simple, error) {
	name := p.word()
	dim, ok := registry.ParseDimension(name)
	if !ok {
		return nil, p.errorf("unknown dimension %q", name)
	}
	s := &Simple{Dim: dim, Part: registry.WholeValue}

	if p.accept("[") {
		n, err := strconv.Atoi(p.word())
		if err != nil || !p.accept("]") {
			return nil, p.errorf("malformed part of %s", name)
		}
		s.Part = n
	}
	if !p.accept("=") {
		return nil, p.errorf("expected = after %s", name)
	}

	raw := p.word()
	if dim == registry.DimKind {
		k, ok := event.ParseKind(raw)
		if !ok {
			return nil, p.errorf("unknown event kind %q", raw)
		}
		s.Value = uint64(k)
	} else {
		v, err := strconv.ParseUint(raw, 0, 64)
		if err != nil {
			return nil, p.errorf("bad value %q for %s", raw, name)
		}
		s.Value = v
	}

	switch {
	case p.accept("/"):
		role := p.word()
		r, ok := event.ParseRole(role)
		if !ok {
			return nil, p.errorf("unknown role %q", role)
		}
		s.Role = r
	case dim == registry.DimObject:
		s.Role = event.RoleAnyObject
	case dim == registry.DimBehavior:
		s.Role = event.RoleAnyBehavior
	}
	return s, nil
}
