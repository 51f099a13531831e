package selector

import (
	"strings"
)

// Program is a compiled selector
type Program struct {
	source string
	root   Node
}

// Compile parses a selector. The empty selector compiles to a program that
// always matches.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return &Program{source: src}, nil
	}
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{source: src, root: root}, nil
}

// Source returns the selector text
func (p *Program) Source() string {
	return p.source
}

// Eval evaluates the program against a tag map
func (p *Program) Eval(tags map[string]string) (bool, error) {
	if p.root == nil {
		return true, nil
	}
	v, err := p.root.eval(newEnv(tags))
	if err != nil {
		return false, err
	}
	return v.Truthy(), nil
}

func newEnv(tags map[string]string) env {
	e := make(env, len(tags))
	for k, v := range tags {
		e[SanitizeIdentifier(k)] = v
	}
	return e
}

// SanitizeIdentifier turns a tag key into the identifier used in selectors
func SanitizeIdentifier(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for _, c := range key {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			sb.WriteRune(c)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// Synthesize returns the selector matching records tagged key=value
func Synthesize(key, value string) string {
	ident := SanitizeIdentifier(key)
	return quote(ident) + " in globals() and " + ident + " == " + quote(value)
}
