package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/braudabaugh/vantage/store"
)

// Match evaluates the predicate for one row at the snapshot's version.
// To-many hops (lists and backlinks) have existential semantics: the
// comparison holds if any reachable terminal value satisfies it. A null
// intermediate link yields no value, which compares as false.
func (q *Query) Match(sn *store.Snapshot, ref store.RowRef) (bool, error) {
	return q.evalNode(sn, ref, q.pred)
}

func (q *Query) evalNode(sn *store.Snapshot, ref store.RowRef, n node) (bool, error) {
	switch n := n.(type) {
	case truePred:
		return true, nil
	case notNode:
		ok, err := q.evalNode(sn, ref, n.sub)
		return !ok, err
	case andNode:
		ok, err := q.evalNode(sn, ref, n.left)
		if err != nil || !ok {
			return false, err
		}
		return q.evalNode(sn, ref, n.right)
	case orNode:
		ok, err := q.evalNode(sn, ref, n.left)
		if err != nil || ok {
			return ok, err
		}
		return q.evalNode(sn, ref, n.right)
	case cmpNode:
		values, err := pathValues(sn, ref, n.path)
		if err != nil {
			return false, err
		}
		for _, v := range values {
			if satisfies(n.path.leaf.Type, v, n.op, n.lit) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("vantage: unknown predicate node %T", n)
}

// pathValues collects every terminal value reachable through the path's
// traversal steps. Null links contribute nothing.
func pathValues(sn *store.Snapshot, ref store.RowRef, p *path) ([]any, error) {
	var out []any
	err := collectValues(sn, ref, p.steps, p.leaf, &out)
	return out, err
}

func collectValues(sn *store.Snapshot, ref store.RowRef, steps []step, leaf *store.Property, out *[]any) error {
	if len(steps) == 0 {
		v, err := sn.Value(ref, leaf.Name)
		if err != nil {
			return err
		}
		if v != nil {
			*out = append(*out, v)
		}
		return nil
	}
	st := steps[0]
	var targets []store.RowRef
	switch {
	case st.backlink:
		refs, err := sn.Backlinks(ref, st.srcTable, st.srcProp)
		if err != nil {
			return err
		}
		targets = refs
	case st.prop.Type == store.TypeList:
		refs, err := sn.List(ref, st.prop.Name)
		if err != nil {
			return err
		}
		targets = refs
	default:
		v, err := sn.Value(ref, st.prop.Name)
		if err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		targets = []store.RowRef{v.(store.RowRef)}
	}
	for _, next := range targets {
		if err := collectValues(sn, next, steps[1:], leaf, out); err != nil {
			return err
		}
	}
	return nil
}

func satisfies(t store.PropType, v any, op cmpOp, lit literal) bool {
	c, ok := compareToLiteral(t, v, lit)
	if !ok {
		return false
	}
	switch op {
	case opEq:
		return c == 0
	case opNe:
		return c != 0
	case opLt:
		return c < 0
	case opLe:
		return c <= 0
	case opGt:
		return c > 0
	case opGe:
		return c >= 0
	}
	return false
}

func compareToLiteral(t store.PropType, v any, lit literal) (int, bool) {
	switch t {
	case store.TypeString:
		s, ok := v.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(s, lit.s), true
	case store.TypeInt:
		i, ok := v.(int64)
		if !ok {
			return 0, false
		}
		if lit.kind == litInt {
			return cmpOrdered(i, lit.i), true
		}
		return cmpOrdered(float64(i), lit.f), true
	case store.TypeFloat:
		f, ok := v.(float64)
		if !ok {
			return 0, false
		}
		lf := lit.f
		if lit.kind == litInt {
			lf = float64(lit.i)
		}
		return cmpOrdered(f, lf), true
	case store.TypeBool:
		b, ok := v.(bool)
		if !ok {
			return 0, false
		}
		if b == lit.b {
			return 0, true
		}
		return 1, true
	case store.TypeDate:
		d, ok := v.(time.Time)
		if !ok {
			return 0, false
		}
		return d.Compare(lit.t), true
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare orders two rows by the query's SORT keys, applied
// lexicographically. A missing value (null link along the path, or unset
// property) sorts before any present value. Rows equal under every key
// return 0, so a stable sort preserves their prior relative order.
func (q *Query) Compare(sn *store.Snapshot, a, b store.RowRef) (int, error) {
	for _, key := range q.sort {
		va, okA, err := sortValue(sn, a, key.path)
		if err != nil {
			return 0, err
		}
		vb, okB, err := sortValue(sn, b, key.path)
		if err != nil {
			return 0, err
		}
		var c int
		switch {
		case !okA && !okB:
			c = 0
		case !okA:
			c = -1
		case !okB:
			c = 1
		default:
			c = compareValues(key.path.leaf.Type, va, vb)
		}
		if key.desc {
			c = -c
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

// sortValue resolves a to-one path to its terminal value.
func sortValue(sn *store.Snapshot, ref store.RowRef, p *path) (any, bool, error) {
	cur := ref
	for _, st := range p.steps {
		v, err := sn.Value(cur, st.prop.Name)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			return nil, false, nil
		}
		cur = v.(store.RowRef)
	}
	v, err := sn.Value(cur, p.leaf.Name)
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func compareValues(t store.PropType, a, b any) int {
	switch t {
	case store.TypeString:
		return strings.Compare(a.(string), b.(string))
	case store.TypeInt:
		return cmpOrdered(a.(int64), b.(int64))
	case store.TypeFloat:
		return cmpOrdered(a.(float64), b.(float64))
	case store.TypeBool:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case store.TypeDate:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return 0
}

// DistinctKey builds the composite deduplication key for a row. Missing
// values get a dedicated marker so null and zero values stay distinct.
func (q *Query) DistinctKey(sn *store.Snapshot, ref store.RowRef) (string, error) {
	var b strings.Builder
	for i, p := range q.distinct {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		v, ok, err := sortValue(sn, ref, p)
		if err != nil {
			return "", err
		}
		if !ok {
			b.WriteByte(0x00)
			continue
		}
		switch t := v.(type) {
		case time.Time:
			b.WriteString(t.UTC().Format(time.RFC3339Nano))
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}
	return b.String(), nil
}
