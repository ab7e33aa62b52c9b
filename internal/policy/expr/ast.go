// SPDX-License-Identifier: MIT

package expr

import (
	"strconv"
	"strings"
	"unicode"
)

// Node is an expression AST node. The set of implementations is closed;
// consumers switch on the concrete type.
type Node interface {
	// String unparses the node. For every parsed expression e,
	// Parse(e.String()) yields a tree equal to e.
	String() string
}

// Or is the boolean disjunction of two operands.
type Or struct{ Left, Right Node }

// And is the boolean conjunction of two operands.
type And struct{ Left, Right Node }

// Not negates its operand.
type Not struct{ Operand Node }

// Compare applies a comparison operator. Op is one of OpEq, OpNeq,
// OpLt, OpLte, OpGt, OpGte, OpIn.
type Compare struct {
	Op    TokenType
	Left  Node
	Right Node
}

// Call is a predicate function invocation: exists(...), count(...),
// plugin_metadata(...), container_metadata(...).
type Call struct {
	Name string
	Args []Node
}

// Ident is a bare name: a track kind, a field, or an unquoted value
// such as eng or dts-hd.
type Ident struct{ Name string }

// Str is a quoted string literal.
type Str struct{ Value string }

// Num is a numeric literal. Raw preserves the source spelling so
// unparsing is lossless.
type Num struct {
	Raw   string
	Value float64
}

// Size is a size literal such as 15M or 1.5GB.
type Size struct {
	Raw   string
	Bytes int64
}

// Bool is a boolean literal.
type Bool struct{ Value bool }

// List is a bracketed value list: [eng, jpn].
type List struct{ Items []Node }

func (n *Or) String() string  { return n.Left.String() + " or " + n.Right.String() }
func (n *And) String() string { return wrapOr(n.Left) + " and " + wrapOr(n.Right) }

func (n *Not) String() string {
	switch n.Operand.(type) {
	case *Or, *And:
		return "not (" + n.Operand.String() + ")"
	default:
		return "not " + n.Operand.String()
	}
}

func (n *Compare) String() string {
	op := map[TokenType]string{
		OpEq: "==", OpNeq: "!=", OpLt: "<", OpLte: "<=",
		OpGt: ">", OpGte: ">=", OpIn: " in ",
	}[n.Op]
	if n.Op == OpIn {
		return n.Left.String() + op + n.Right.String()
	}
	return n.Left.String() + op + n.Right.String()
}

func (n *Call) String() string {
	parts := make([]string, len(n.Args))
	for i, a := range n.Args {
		parts[i] = a.String()
	}
	return n.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (n *Ident) String() string { return n.Name }

func (n *Str) String() string {
	// Quote only when the value would not lex back as an identifier.
	return `"` + strings.ReplaceAll(n.Value, `"`, `\"`) + `"`
}

func (n *Num) String() string {
	if n.Raw != "" {
		return n.Raw
	}
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *Size) String() string { return n.Raw }

func (n *Bool) String() string {
	if n.Value {
		return "true"
	}
	return "false"
}

func (n *List) String() string {
	parts := make([]string, len(n.Items))
	for i, it := range n.Items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// wrapOr parenthesizes or-nodes appearing under an and, preserving the
// parsed precedence on round-trip.
func wrapOr(n Node) string {
	if _, ok := n.(*Or); ok {
		return "(" + n.String() + ")"
	}
	return n.String()
}

// Equal reports structural equality of two expression trees.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case *Or:
		y, ok := b.(*Or)
		return ok && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *And:
		y, ok := b.(*And)
		return ok && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Not:
		y, ok := b.(*Not)
		return ok && Equal(x.Operand, y.Operand)
	case *Compare:
		y, ok := b.(*Compare)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *Call:
		y, ok := b.(*Call)
		if !ok || !strings.EqualFold(x.Name, y.Name) || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	case *Ident:
		y, ok := b.(*Ident)
		return ok && strings.EqualFold(x.Name, y.Name)
	case *Str:
		y, ok := b.(*Str)
		return ok && x.Value == y.Value
	case *Num:
		y, ok := b.(*Num)
		return ok && x.Value == y.Value
	case *Size:
		y, ok := b.(*Size)
		return ok && x.Bytes == y.Bytes
	case *Bool:
		y, ok := b.(*Bool)
		return ok && x.Value == y.Value
	case *List:
		y, ok := b.(*List)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// isBareWord reports whether s would lex back as a single identifier.
func isBareWord(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !unicode.IsLetter(r) && r != '_' {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' {
			return false
		}
	}
	switch s {
	case "and", "or", "not", "in", "true", "false":
		return false
	}
	return true
}
