// SPDX-License-Identifier: MIT

// Package expr implements the predicate expression language used by
// conditional policy rules, e.g.
//
//	exists(audio, language==eng) and count(audio, not_commentary)>=2
//
// The package is pure syntax: lexing, parsing, and unparsing. Semantic
// evaluation against a probed file lives in the evaluate package.
package expr

import "fmt"

// TokenType identifies a lexical token.
type TokenType int

const (
	EOF TokenType = iota
	IDENT
	NUMBER
	SIZE // size literal such as 15M, 192k, 1.5GB
	STRING
	BOOLEAN
	LPAREN
	RPAREN
	LBRACKET
	RBRACKET
	COMMA
	OpEq  // ==
	OpNeq // !=
	OpLt  // <
	OpLte // <=
	OpGt  // >
	OpGte // >=
	OpIn  // in
	KwAnd
	KwOr
	KwNot
)

var tokenNames = map[TokenType]string{
	EOF: "end of input", IDENT: "identifier", NUMBER: "number",
	SIZE: "size literal", STRING: "string", BOOLEAN: "boolean",
	LPAREN: "'('", RPAREN: "')'", LBRACKET: "'['", RBRACKET: "']'",
	COMMA: "','", OpEq: "'=='", OpNeq: "'!='", OpLt: "'<'",
	OpLte: "'<='", OpGt: "'>'", OpGte: "'>='", OpIn: "'in'",
	KwAnd: "'and'", KwOr: "'or'", KwNot: "'not'",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexical unit with its source position (1-based column).
type Token struct {
	Type TokenType
	Text string
	Pos  int
}

// SyntaxError carries the offending position within the expression.
type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("position %d: %s", e.Pos, e.Message)
}

func errAt(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}
