// Package selector evaluates provider tag selectors.
//
// A selector is a boolean expression over the tags of a cost record, where
// each tag key is referenced as an identifier (characters outside [a-z0-9_]
// replaced by '_'):
//
//	'env' in globals() and env == 'prod'
//	team in ('core', 'data') or not 'owner' in globals()
//
// Selectors are parsed by a small recursive descent parser into an AST and
// evaluated against a tag map; nothing else is reachable from an expression.
package selector

import "strings"

// ValueKind represents the type of a value
type ValueKind int

const (
	KindBool ValueKind = iota
	KindString
	KindList
	KindGlobals
)

// Value is the result of evaluating a node
type Value struct {
	kind      ValueKind
	boolVal   bool
	stringVal string
	listVal   []Value
}

// Bool creates a boolean value
func Bool(v bool) Value {
	return Value{kind: KindBool, boolVal: v}
}

// String creates a string value
func String(v string) Value {
	return Value{kind: KindString, stringVal: v}
}

// List creates a list value
func List(elements ...Value) Value {
	return Value{kind: KindList, listVal: elements}
}

// Kind returns the value kind
func (v Value) Kind() ValueKind {
	return v.kind
}

// Truthy follows the usual rules: false, "" and empty lists are false
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.boolVal
	case KindString:
		return v.stringVal != ""
	case KindList:
		return len(v.listVal) > 0
	case KindGlobals:
		return true
	}
	return false
}

// Equal compares kind and content
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.boolVal == other.boolVal
	case KindString:
		return v.stringVal == other.stringVal
	case KindList:
		if len(v.listVal) != len(other.listVal) {
			return false
		}
		for i := range v.listVal {
			if !v.listVal[i].Equal(other.listVal[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// String returns a readable form of the value
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		if v.boolVal {
			return "True"
		}
		return "False"
	case KindString:
		return quote(v.stringVal)
	case KindList:
		parts := make([]string, len(v.listVal))
		for i, e := range v.listVal {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindGlobals:
		return "globals()"
	}
	return "?"
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		if r == '\'' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('\'')
	return sb.String()
}
