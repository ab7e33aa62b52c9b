// SPDX-License-Identifier: MIT

package expr

import (
	"strings"
	"unicode"
)

// Lex tokenizes an expression string. Keywords (and, or, not, in, true,
// false) are case-sensitive; identifiers are matched case-insensitively
// later, during evaluation. Identifiers may contain hyphens so codec
// names like dts-hd lex as a single token.
func Lex(input string) ([]Token, error) {
	var toks []Token
	runes := []rune(input)
	i := 0

	emit := func(t TokenType, text string, pos int) {
		toks = append(toks, Token{Type: t, Text: text, Pos: pos + 1})
	}

	for i < len(runes) {
		c := runes[i]
		switch {
		case unicode.IsSpace(c):
			i++

		case c == '(':
			emit(LPAREN, "(", i)
			i++
		case c == ')':
			emit(RPAREN, ")", i)
			i++
		case c == '[':
			emit(LBRACKET, "[", i)
			i++
		case c == ']':
			emit(RBRACKET, "]", i)
			i++
		case c == ',':
			emit(COMMA, ",", i)
			i++

		case c == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(OpEq, "==", i)
				i += 2
			} else {
				return nil, errAt(i+1, "unexpected '='; comparison uses '=='")
			}
		case c == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(OpNeq, "!=", i)
				i += 2
			} else {
				return nil, errAt(i+1, "unexpected '!'; negation uses 'not'")
			}
		case c == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(OpLte, "<=", i)
				i += 2
			} else {
				emit(OpLt, "<", i)
				i++
			}
		case c == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				emit(OpGte, ">=", i)
				i += 2
			} else {
				emit(OpGt, ">", i)
				i++
			}

		case c == '"' || c == '\'':
			quote := c
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, errAt(start+1, "unterminated string")
			}
			emit(STRING, sb.String(), start)

		case unicode.IsDigit(c):
			start := i
			sawDot := false
			for i < len(runes) && (unicode.IsDigit(runes[i]) || (runes[i] == '.' && !sawDot)) {
				if runes[i] == '.' {
					sawDot = true
				}
				i++
			}
			// Trailing unit letters make a size literal: 15M, 192k, 1.5GB.
			unitStart := i
			for i < len(runes) && unicode.IsLetter(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			if unitStart == i {
				emit(NUMBER, text, start)
			} else {
				unit := strings.ToUpper(string(runes[unitStart:i]))
				if _, ok := sizeUnits[unit]; !ok {
					return nil, errAt(start+1, "invalid size unit %q in %q", string(runes[unitStart:i]), text)
				}
				emit(SIZE, text, start)
			}

		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '-' || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			switch text {
			case "and":
				emit(KwAnd, text, start)
			case "or":
				emit(KwOr, text, start)
			case "not":
				emit(KwNot, text, start)
			case "in":
				emit(OpIn, text, start)
			case "true", "false":
				emit(BOOLEAN, text, start)
			default:
				emit(IDENT, text, start)
			}

		default:
			return nil, errAt(i+1, "unexpected character %q", string(c))
		}
	}

	toks = append(toks, Token{Type: EOF, Pos: len(runes) + 1})
	return toks, nil
}

// sizeUnits maps a size-literal suffix to its byte multiplier.
var sizeUnits = map[string]int64{
	"K": 1 << 10, "KB": 1 << 10,
	"M": 1 << 20, "MB": 1 << 20,
	"G": 1 << 30, "GB": 1 << 30,
	"T": 1 << 40, "TB": 1 << 40,
}
