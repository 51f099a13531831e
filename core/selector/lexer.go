package selector

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
	tokEq
	tokNotEq
	tokAnd
	tokOr
	tokNot
	tokIn
	tokTrue
	tokFalse
)

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"in":    tokIn,
	"True":  tokTrue,
	"False": tokFalse,
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of selector"
	case tokString:
		return quote(t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

// lex splits a selector into tokens
func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBrack, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBrack, "]", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokEq, "==", i})
				i += 2
				continue
			}
			return nil, syntaxError(i, "unexpected '=', use '=='")
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokNotEq, "!=", i})
				i += 2
				continue
			}
			return nil, syntaxError(i, "unexpected '!'")
		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, text, i})
			i = next
		case isIdentPart(c):
			// No numeric literals exist, so identifiers may start with a digit
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			kind, ok := keywords[word]
			if !ok {
				kind = tokIdent
			}
			tokens = append(tokens, token{kind, word, start})
		default:
			return nil, syntaxError(i, fmt.Sprintf("unexpected character %q", c))
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

func lexString(src string, start int) (string, int, error) {
	quoteChar := src[start]
	var sb strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			next := src[i+1]
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(next)
			}
			i += 2
		case c == quoteChar:
			return sb.String(), i + 1, nil
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", 0, syntaxError(start, "unterminated string")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
