package selector

import (
	"fmt"
	"strings"
)

// ErrorKind classifies selector failures
type ErrorKind string

const (
	ErrSyntax            ErrorKind = "syntax"
	ErrUnknownIdentifier ErrorKind = "unknown_identifier"
	ErrType              ErrorKind = "type"
)

// Error is returned by Compile and Eval
type Error struct {
	Kind    ErrorKind
	Pos     int
	Message string
}

func (e *Error) Error() string {
	if e.Kind == ErrSyntax {
		return fmt.Sprintf("%s error at offset %d: %s", e.Kind, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func syntaxError(pos int, msg string) *Error {
	return &Error{Kind: ErrSyntax, Pos: pos, Message: msg}
}

// env resolves identifiers against the sanitized tags of one record
type env map[string]string

// Node is an AST node
type Node interface {
	eval(e env) (Value, error)
	String() string
}

// Literal is a string or boolean constant
type Literal struct {
	Value Value
}

func (n *Literal) eval(env) (Value, error) { return n.Value, nil }
func (n *Literal) String() string          { return n.Value.String() }

// Var references a tag by its sanitized key
type Var struct {
	Name string
}

func (n *Var) eval(e env) (Value, error) {
	v, ok := e[n.Name]
	if !ok {
		return Value{}, &Error{Kind: ErrUnknownIdentifier, Message: fmt.Sprintf("name '%s' is not defined", n.Name)}
	}
	return String(v), nil
}
func (n *Var) String() string { return n.Name }

// Globals is the tag namespace, only usable on the right of `in`
type Globals struct{}

func (n *Globals) eval(env) (Value, error) { return Value{kind: KindGlobals}, nil }
func (n *Globals) String() string          { return "globals()" }

// Eq compares two operands; Negate turns it into !=
type Eq struct {
	Left, Right Node
	Negate      bool
}

func (n *Eq) eval(e env) (Value, error) {
	l, err := n.Left.eval(e)
	if err != nil {
		return Value{}, err
	}
	r, err := n.Right.eval(e)
	if err != nil {
		return Value{}, err
	}
	return Bool(l.Equal(r) != n.Negate), nil
}

func (n *Eq) String() string {
	op := "=="
	if n.Negate {
		op = "!="
	}
	return "(" + n.Left.String() + " " + op + " " + n.Right.String() + ")"
}

// And short-circuits and yields the deciding operand
type And struct {
	Left, Right Node
}

func (n *And) eval(e env) (Value, error) {
	l, err := n.Left.eval(e)
	if err != nil || !l.Truthy() {
		return l, err
	}
	return n.Right.eval(e)
}
func (n *And) String() string { return "(" + n.Left.String() + " and " + n.Right.String() + ")" }

// Or short-circuits and yields the deciding operand
type Or struct {
	Left, Right Node
}

func (n *Or) eval(e env) (Value, error) {
	l, err := n.Left.eval(e)
	if err != nil || l.Truthy() {
		return l, err
	}
	return n.Right.eval(e)
}
func (n *Or) String() string { return "(" + n.Left.String() + " or " + n.Right.String() + ")" }

// Not negates the truthiness of its operand
type Not struct {
	Operand Node
}

func (n *Not) eval(e env) (Value, error) {
	v, err := n.Operand.eval(e)
	if err != nil {
		return Value{}, err
	}
	return Bool(!v.Truthy()), nil
}
func (n *Not) String() string { return "(not " + n.Operand.String() + ")" }

// Exists tests whether a tag is present: `'key' in globals()`
type Exists struct {
	Name Node
}

func (n *Exists) eval(e env) (Value, error) {
	v, err := n.Name.eval(e)
	if err != nil {
		return Value{}, err
	}
	if v.kind != KindString {
		return Value{}, &Error{Kind: ErrType, Message: "globals() membership needs a string, got " + v.String()}
	}
	_, ok := e[v.stringVal]
	return Bool(ok), nil
}
func (n *Exists) String() string { return "(" + n.Name.String() + " in globals())" }

// In tests membership in a list, or substring membership in a string
type In struct {
	Needle   Node
	Haystack Node
}

func (n *In) eval(e env) (Value, error) {
	needle, err := n.Needle.eval(e)
	if err != nil {
		return Value{}, err
	}
	haystack, err := n.Haystack.eval(e)
	if err != nil {
		return Value{}, err
	}
	switch haystack.kind {
	case KindList:
		for _, item := range haystack.listVal {
			if needle.Equal(item) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case KindString:
		if needle.kind != KindString {
			return Value{}, &Error{Kind: ErrType, Message: "string membership needs a string, got " + needle.String()}
		}
		return Bool(strings.Contains(haystack.stringVal, needle.stringVal)), nil
	}
	return Value{}, &Error{Kind: ErrType, Message: "argument of 'in' is not a container: " + haystack.String()}
}
func (n *In) String() string { return "(" + n.Needle.String() + " in " + n.Haystack.String() + ")" }

// ListExpr builds a list from its elements
type ListExpr struct {
	Elements []Node
}

func (n *ListExpr) eval(e env) (Value, error) {
	values := make([]Value, 0, len(n.Elements))
	for _, el := range n.Elements {
		v, err := el.eval(e)
		if err != nil {
			return Value{}, err
		}
		values = append(values, v)
	}
	return List(values...), nil
}

func (n *ListExpr) String() string {
	parts := make([]string, len(n.Elements))
	for i, el := range n.Elements {
		parts[i] = el.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
