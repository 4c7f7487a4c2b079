package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/braudabaugh/vantage/store"
)

// Compile parses and validates a filter expression against one table of a
// schema. The grammar:
//
//	predicate  = comparison | predicate AND|OR predicate | NOT predicate
//	           | TRUEPREDICATE | "(" predicate ")"
//	comparison = path (== != < <= > >=) literal
//	path       = segment {"." segment}       with optional leading
//	             "@links" "." table "." property backlink form
//	modifiers  = {SORT "(" path [ASC|DESC] {"," ...} ")"
//	           |  DISTINCT "(" path {"," path} ")"}
//
// Unknown property names, to-many paths in SORT/DISTINCT, and literals whose
// type does not match the property all fail here with a *CompileError; a
// compiled Query never silently matches zero rows.
func Compile(schema *store.Schema, table, src string) (*Query, error) {
	if schema == nil {
		return nil, &CompileError{Token: "", Message: "nil schema"}
	}
	if _, ok := schema.Table(table); !ok {
		return nil, &CompileError{Token: table, Message: "unknown table"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{
		q: &Query{schema: schema, table: table, source: src},

		toks: toks,
	}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.q.pred = pred
	if err := p.parseModifiers(); err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &CompileError{Pos: tok.pos, Token: tok.text, Message: "unexpected trailing input"}
	}
	return p.q, nil
}

type parser struct {
	q    *Query
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return token{}, &CompileError{Pos: t.pos, Token: t.text, Message: "expected " + what}
	}
	return t, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	switch {
	case tok.keyword("NOT"):
		p.next()
		sub, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{sub: sub}, nil
	case tok.keyword("TRUEPREDICATE"):
		p.next()
		return truePred{}, nil
	case tok.kind == tokLParen:
		p.next()
		sub, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return sub, nil
	case tok.kind == tokIdent:
		return p.parseComparison()
	}
	return nil, &CompileError{Pos: tok.pos, Token: tok.text, Message: "expected a comparison"}
}

func (p *parser) parseComparison() (node, error) {
	pth, err := p.parsePath(false)
	if err != nil {
		return nil, err
	}
	var op cmpOp
	opTok := p.next()
	switch opTok.kind {
	case tokEq:
		op = opEq
	case tokNe:
		op = opNe
	case tokLt:
		op = opLt
	case tokLe:
		op = opLe
	case tokGt:
		op = opGt
	case tokGe:
		op = opGe
	default:
		return nil, &CompileError{Pos: opTok.pos, Token: opTok.text, Message: "expected a comparison operator"}
	}
	lit, err := p.parseLiteral(pth.leaf, op)
	if err != nil {
		return nil, err
	}
	return cmpNode{path: pth, op: op, lit: lit}, nil
}

// parseLiteral reads a literal and checks it against the declared type of
// the compared property.
func (p *parser) parseLiteral(leaf *store.Property, op cmpOp) (literal, error) {
	tok := p.next()
	mismatch := func() (literal, error) {
		return literal{}, &CompileError{
			Pos:     tok.pos,
			Token:   tok.text,
			Message: fmt.Sprintf("literal does not match %s property %q", leaf.Type, leaf.Name),
		}
	}
	switch tok.kind {
	case tokString:
		switch leaf.Type {
		case store.TypeString:
			return literal{kind: litString, s: tok.text}, nil
		case store.TypeDate:
			t, err := time.Parse(time.RFC3339, tok.text)
			if err != nil {
				return literal{}, &CompileError{Pos: tok.pos, Token: tok.text, Message: "date literal is not RFC 3339"}
			}
			return literal{kind: litDate, t: t}, nil
		}
		return mismatch()
	case tokNumber:
		switch leaf.Type {
		case store.TypeInt:
			if !strings.Contains(tok.text, ".") {
				i, err := strconv.ParseInt(tok.text, 10, 64)
				if err != nil {
					return literal{}, &CompileError{Pos: tok.pos, Token: tok.text, Message: "integer literal out of range"}
				}
				return literal{kind: litInt, i: i}, nil
			}
			f, _ := strconv.ParseFloat(tok.text, 64)
			return literal{kind: litFloat, f: f}, nil
		case store.TypeFloat:
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return literal{}, &CompileError{Pos: tok.pos, Token: tok.text, Message: "malformed number"}
			}
			return literal{kind: litFloat, f: f}, nil
		}
		return mismatch()
	case tokIdent:
		if tok.keyword("true") || tok.keyword("false") {
			if leaf.Type != store.TypeBool {
				return mismatch()
			}
			if op != opEq && op != opNe {
				return literal{}, &CompileError{Pos: tok.pos, Token: tok.text, Message: "bool supports only == and !="}
			}
			return literal{kind: litBool, b: tok.keyword("true")}, nil
		}
	}
	return literal{}, &CompileError{Pos: tok.pos, Token: tok.text, Message: "expected a literal"}
}

// parsePath reads and resolves a property path starting at the base table.
// forSort restricts the path to to-one traversals.
func (p *parser) parsePath(forSort bool) (*path, error) {
	type segment struct {
		text string
		pos  int
	}
	first, err := p.expect(tokIdent, "a property path")
	if err != nil {
		return nil, err
	}
	segs := []segment{{first.text, first.pos}}
	for p.peek().kind == tokDot {
		p.next()
		seg, err := p.expect(tokIdent, "a path segment")
		if err != nil {
			return nil, err
		}
		segs = append(segs, segment{seg.text, seg.pos})
	}

	pth := &path{}
	var raw []string
	for _, s := range segs {
		raw = append(raw, s.text)
	}
	pth.raw = strings.Join(raw, ".")

	cur := p.q.table
	i := 0
	for i < len(segs) {
		seg := segs[i]
		if strings.EqualFold(seg.text, "@links") {
			if i+2 >= len(segs) {
				return nil, &CompileError{Pos: seg.pos, Token: seg.text, Message: "@links takes a table and a property"}
			}
			srcTable, srcProp := segs[i+1], segs[i+2]
			origin, ok := p.q.schema.Property(srcTable.text, srcProp.text)
			if !ok {
				return nil, &CompileError{Pos: srcProp.pos, Token: srcTable.text + "." + srcProp.text, Message: "unknown backlink origin"}
			}
			if (origin.Type != store.TypeLink && origin.Type != store.TypeList) || origin.Target != cur {
				return nil, &CompileError{Pos: srcProp.pos, Token: srcTable.text + "." + srcProp.text, Message: "property does not link to " + cur}
			}
			pth.steps = append(pth.steps, step{backlink: true, srcTable: srcTable.text, srcProp: srcProp.text})
			cur = srcTable.text
			i += 3
			continue
		}
		prop, ok := p.q.schema.Property(cur, seg.text)
		if !ok {
			return nil, &CompileError{Pos: seg.pos, Token: seg.text, Message: "no property " + seg.text + " on table " + cur}
		}
		switch prop.Type {
		case store.TypeLink, store.TypeList:
			pth.steps = append(pth.steps, step{prop: prop})
			cur = prop.Target
		case store.TypeBacklink:
			pth.steps = append(pth.steps, step{backlink: true, srcTable: prop.Target, srcProp: prop.Origin})
			cur = prop.Target
		default:
			if i != len(segs)-1 {
				return nil, &CompileError{Pos: seg.pos, Token: seg.text, Message: "property " + seg.text + " is not a relationship"}
			}
			pth.leaf = prop
		}
		i++
	}
	if pth.leaf == nil {
		last := segs[len(segs)-1]
		return nil, &CompileError{Pos: last.pos, Token: last.text, Message: "path must end in a value property"}
	}
	if forSort && pth.toMany() {
		first := segs[0]
		return nil, &CompileError{Pos: first.pos, Token: pth.raw, Message: "to-many path cannot be used in SORT or DISTINCT"}
	}
	return pth, nil
}

// parseModifiers reads trailing SORT(...) and DISTINCT(...) clauses.
func (p *parser) parseModifiers() error {
	for {
		tok := p.peek()
		switch {
		case tok.keyword("SORT"):
			p.next()
			if _, err := p.expect(tokLParen, "("); err != nil {
				return err
			}
			for {
				pth, err := p.parsePath(true)
				if err != nil {
					return err
				}
				key := sortKey{path: pth}
				if p.peek().keyword("ASC") {
					p.next()
				} else if p.peek().keyword("DESC") {
					p.next()
					key.desc = true
				}
				p.q.sort = append(p.q.sort, key)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return err
			}
		case tok.keyword("DISTINCT"):
			p.next()
			if _, err := p.expect(tokLParen, "("); err != nil {
				return err
			}
			for {
				pth, err := p.parsePath(true)
				if err != nil {
					return err
				}
				p.q.distinct = append(p.q.distinct, pth)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
