// SPDX-License-Identifier: MIT

package expr

import (
	"strconv"
	"strings"
)

// Parse lexes and parses an expression string into its AST. Errors carry
// the 1-based position of the offending token.
//
// Grammar (lowest precedence first):
//
//	expr    = or
//	or      = and { "or" and }
//	and     = not { "and" not }
//	not     = "not" not | cmp
//	cmp     = primary [ (==|!=|<|<=|>|>=|in) primary ]
//	primary = call | ident | literal | list | "(" expr ")"
func Parse(input string) (Node, error) {
	toks, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != EOF {
		return nil, errAt(p.peek().Pos, "unexpected %s after expression", p.peek().Type)
	}
	return node, nil
}

type parser struct {
	toks []Token
	pos  int
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) next() Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(tt TokenType) (Token, error) {
	t := p.peek()
	if t.Type != tt {
		return t, errAt(t.Pos, "expected %s, found %s", tt, t.Type)
	}
	return p.next(), nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == KwOr {
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
	for p.peek().Type == KwAnd {
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
	if p.peek().Type == KwNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Operand: operand}, nil
	}
	return p.parseCompare()
}

func isCompareOp(tt TokenType) bool {
	switch tt {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpIn:
		return true
	default:
		return false
	}
}

func (p *parser) parseCompare() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if !isCompareOp(p.peek().Type) {
		return left, nil
	}
	op := p.next()
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	// Numeric comparison operators require at least one numeric operand.
	switch op.Type {
	case OpLt, OpLte, OpGt, OpGte:
		if !isNumeric(left) && !isNumeric(right) {
			return nil, errAt(op.Pos, "%s requires a numeric operand", op.Type)
		}
	case OpIn:
		if _, ok := right.(*List); !ok {
			return nil, errAt(op.Pos, "'in' requires a list on the right-hand side")
		}
	}
	return &Compare{Op: op.Type, Left: left, Right: right}, nil
}

func isNumeric(n Node) bool {
	switch x := n.(type) {
	case *Num, *Size:
		return true
	case *Call:
		// count() and the metadata accessors may yield numbers.
		name := strings.ToLower(x.Name)
		return name == "count" || name == "plugin_metadata" || name == "container_metadata"
	case *Ident:
		// Field references (channels, width, ...) resolve numerically.
		return true
	}
	return false
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.Type {
	case IDENT:
		p.next()
		if p.peek().Type == LPAREN {
			return p.parseCallArgs(t.Text)
		}
		return &Ident{Name: t.Text}, nil

	case STRING:
		p.next()
		return &Str{Value: t.Text}, nil

	case NUMBER:
		p.next()
		v, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, errAt(t.Pos, "invalid number %q", t.Text)
		}
		return &Num{Raw: t.Text, Value: v}, nil

	case SIZE:
		p.next()
		bytes, err := parseSize(t.Text)
		if err != nil {
			return nil, errAt(t.Pos, "%v", err)
		}
		return &Size{Raw: t.Text, Bytes: bytes}, nil

	case BOOLEAN:
		p.next()
		return &Bool{Value: t.Text == "true"}, nil

	case LBRACKET:
		return p.parseList()

	case LPAREN:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return inner, nil

	default:
		return nil, errAt(t.Pos, "unexpected %s", t.Type)
	}
}

func (p *parser) parseCallArgs(name string) (Node, error) {
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	call := &Call{Name: name}
	if p.peek().Type == RPAREN {
		p.next()
		return call, nil
	}
	for {
		// Arguments are full sub-expressions so filters like
		// language==eng or not_commentary parse in place.
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if p.peek().Type == COMMA {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseList() (Node, error) {
	if _, err := p.expect(LBRACKET); err != nil {
		return nil, err
	}
	list := &List{}
	if p.peek().Type == RBRACKET {
		p.next()
		return list, nil
	}
	for {
		item, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
		if p.peek().Type == COMMA {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(RBRACKET); err != nil {
		return nil, err
	}
	return list, nil
}

// parseSize converts a size literal (15M, 192k, 1.5GB) to bytes.
func parseSize(raw string) (int64, error) {
	i := 0
	for i < len(raw) && (raw[i] >= '0' && raw[i] <= '9' || raw[i] == '.') {
		i++
	}
	num, err := strconv.ParseFloat(raw[:i], 64)
	if err != nil {
		return 0, errAt(1, "invalid size literal %q", raw)
	}
	mult, ok := sizeUnits[strings.ToUpper(raw[i:])]
	if !ok {
		return 0, errAt(1, "invalid size unit in %q", raw)
	}
	return int64(num * float64(mult)), nil
}
