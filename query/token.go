package query

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokDot
	tokComma
	tokLParen
	tokRParen
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keyword reports whether the token is the given keyword. Keywords are
// matched case-insensitively, so both `AND` and `and` work.
func (t token) keyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

// lex splits src into tokens, ending with a tokEOF entry.
func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '.':
			toks = append(toks, token{tokDot, ".", i})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokEq, "==", i})
				i += 2
			} else {
				return nil, &CompileError{Pos: i, Token: "=", Message: "expected =="}
			}
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokNe, "!=", i})
				i += 2
			} else {
				return nil, &CompileError{Pos: i, Token: "!", Message: "expected !="}
			}
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokLe, "<=", i})
				i += 2
			} else {
				toks = append(toks, token{tokLt, "<", i})
				i++
			}
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokGe, ">=", i})
				i += 2
			} else {
				toks = append(toks, token{tokGt, ">", i})
				i++
			}
		case r == '"' || r == '\'':
			text, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, text, i})
			i = next
		case r == '-' || unicode.IsDigit(r):
			start := i
			if r == '-' {
				i++
				if i >= len(runes) || !unicode.IsDigit(runes[i]) {
					return nil, &CompileError{Pos: start, Token: "-", Message: "expected digits after sign"}
				}
			}
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			if i+1 < len(runes) && runes[i] == '.' && unicode.IsDigit(runes[i+1]) {
				i++
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			toks = append(toks, token{tokNumber, string(runes[start:i]), start})
		case r == '@' || r == '_' || unicode.IsLetter(r):
			start := i
			i++
			for i < len(runes) && (runes[i] == '_' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			toks = append(toks, token{tokIdent, string(runes[start:i]), start})
		default:
			return nil, &CompileError{Pos: i, Token: string(r), Message: "unexpected character"}
		}
	}
	toks = append(toks, token{tokEOF, "", len(runes)})
	return toks, nil
}

func lexString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	var b strings.Builder
	i := start + 1
	for i < len(runes) {
		r := runes[i]
		switch r {
		case quote:
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(runes) {
				return "", 0, &CompileError{Pos: i, Token: "\\", Message: "unterminated escape"}
			}
			next := runes[i+1]
			switch next {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(next)
			}
			i += 2
		default:
			b.WriteRune(r)
			i++
		}
	}
	return "", 0, &CompileError{Pos: start, Token: string(quote), Message: "unterminated string literal"}
}

// CompileError reports a malformed or schema-inconsistent filter expression.
// It carries the offending token or property name and its byte offset in the
// source.
type CompileError struct {
	Pos     int
	Token   string
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("vantage: cannot compile filter: %s: %q at offset %d", e.Message, e.Token, e.Pos)
}
