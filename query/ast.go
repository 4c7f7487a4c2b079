package query

import (
	"time"

	"github.com/braudabaugh/vantage/store"
)

// The predicate is a tagged-variant tree interpreted by a single evaluator;
// no per-type dispatch.

type node interface {
	isNode()
}

type truePred struct{}

type notNode struct {
	sub node
}

type andNode struct {
	left, right node
}

type orNode struct {
	left, right node
}

type cmpOp int

const (
	opEq cmpOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

type cmpNode struct {
	path *path
	op   cmpOp
	lit  literal
}

func (truePred) isNode() {}
func (notNode) isNode()  {}
func (andNode) isNode()  {}
func (orNode) isNode()   {}
func (cmpNode) isNode()  {}

type litKind int

const (
	litString litKind = iota
	litInt
	litFloat
	litBool
	litDate
)

// literal is a typed constant, resolved against the compared property's
// declared type at compile time.
type literal struct {
	kind litKind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

// step is one traversal hop of a property path. Forward link and list steps
// carry prop; backlink steps (explicit `@links.Table.Prop` or a declared
// inverse relationship) carry the source table and origin property instead.
type step struct {
	prop     *store.Property
	backlink bool
	srcTable string
	srcProp  string
}

// toMany reports whether the step can expand to more than one row.
func (s step) toMany() bool {
	return s.backlink || s.prop.Type == store.TypeList
}

// path is a resolved property path: zero or more traversal steps ending in a
// value-typed leaf property.
type path struct {
	raw   string
	steps []step
	leaf  *store.Property
}

func (p *path) toMany() bool {
	for _, s := range p.steps {
		if s.toMany() {
			return true
		}
	}
	return false
}

// sortKey is one (path, direction) pair of a SORT modifier.
type sortKey struct {
	path *path
	desc bool
}

// Query is a compiled, immutable filter/sort/distinct expression bound to
// one base table of a schema.
type Query struct {
	schema   *store.Schema
	table    string
	source   string
	pred     node
	sort     []sortKey
	distinct []*path
}

// Table returns the base table the query was compiled against.
func (q *Query) Table() string { return q.table }

// Source returns the original filter expression.
func (q *Query) Source() string { return q.source }

// Sorted reports whether the query carries a SORT modifier.
func (q *Query) Sorted() bool { return len(q.sort) > 0 }

// Distinct reports whether the query carries a DISTINCT modifier.
func (q *Query) Distinct() bool { return len(q.distinct) > 0 }
