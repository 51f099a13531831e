package selector

import "fmt"

type parser struct {
	tokens []token
	pos    int
}

// Parse parses a selector into an AST
func Parse(src string) (Node, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, syntaxError(tok.pos, "unexpected "+tok.String())
	}
	return node, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, syntaxError(tok.pos, fmt.Sprintf("expected %s, got %s", what, tok))
	}
	return tok, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	switch tok := p.peek(); tok.kind {
	case tokEq, tokNotEq:
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Eq{Left: left, Right: right, Negate: tok.kind == tokNotEq}, nil
	case tokIn:
		p.next()
		return p.parseMembership(left)
	case tokNot:
		if p.peekAt(1).kind != tokIn {
			return nil, syntaxError(tok.pos, "expected 'in' after 'not'")
		}
		p.next()
		p.next()
		node, err := p.parseMembership(left)
		if err != nil {
			return nil, err
		}
		return &Not{Operand: node}, nil
	}
	return left, nil
}

func (p *parser) parseMembership(needle Node) (Node, error) {
	haystack, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, ok := haystack.(*Globals); ok {
		return &Exists{Name: needle}, nil
	}
	return &In{Needle: needle, Haystack: haystack}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokIdent:
		if tok.text == "globals" && p.peek().kind == tokLParen {
			p.next()
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return &Globals{}, nil
		}
		return &Var{Name: tok.text}, nil
	case tokString:
		return &Literal{Value: String(tok.text)}, nil
	case tokTrue:
		return &Literal{Value: Bool(true)}, nil
	case tokFalse:
		return &Literal{Value: Bool(false)}, nil
	case tokLBrack:
		elements, err := p.parseElements(tokRBrack, "']'")
		if err != nil {
			return nil, err
		}
		return &ListExpr{Elements: elements}, nil
	case tokLParen:
		if p.peek().kind == tokRParen {
			p.next()
			return &ListExpr{}, nil
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind == tokComma {
			p.next()
			rest, err := p.parseElements(tokRParen, "')'")
			if err != nil {
				return nil, err
			}
			return &ListExpr{Elements: append([]Node{inner}, rest...)}, nil
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, syntaxError(tok.pos, "unexpected "+tok.String())
}

// parseElements parses `a, b, c` up to the closing token, allowing a trailing comma
func (p *parser) parseElements(closing tokenKind, what string) ([]Node, error) {
	var elements []Node
	for {
		if p.peek().kind == closing {
			p.next()
			return elements, nil
		}
		el, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
		switch p.peek().kind {
		case tokComma:
			p.next()
		case closing:
		default:
			tok := p.peek()
			return nil, syntaxError(tok.pos, fmt.Sprintf("expected ',' or %s, got %s", what, tok))
		}
	}
}
