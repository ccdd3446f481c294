package segment

import (
	"strings"
	"time"
)

/*
 * Predicate evaluation.
 *
 * A rule matches when record[field] compared to the rule value with the
 * rule operator holds, under the semantics of the field's declared type.
 * A group with AND matches when every child matches (an empty AND group
 * matches everything); with OR when at least one child matches (an empty OR
 * group matches nothing). Children are evaluated left to right and
 * short-circuit.
 *
 * Evaluation fails closed and never returns an error: an unknown field, a
 * missing or null attribute, an operator the field does not allow, or a
 * value that cannot be coerced all make the rule non-matching. A bad record
 * must not abort a bulk count.
 */

// Record is one member of the population: attribute id -> value.
type Record map[string]any

// Evaluator matches trees against records using a catalog's field types.
type Evaluator struct {
	catalog *Catalog
}

func NewEvaluator(c *Catalog) *Evaluator {
	return &Evaluator{catalog: c}
}

// Catalog returns the catalog the evaluator resolves fields against.
func (e *Evaluator) Catalog() *Catalog { return e.catalog }

// Matches reports whether the record satisfies the tree.
func (e *Evaluator) Matches(tree *Group, rec Record) bool {
	if tree == nil {
		return false
	}
	return e.matchGroup(tree, rec)
}

// EstimateSize counts the population records matching the tree.
func (e *Evaluator) EstimateSize(tree *Group, population []Record) int {
	n := 0
	for _, rec := range population {
		if e.Matches(tree, rec) {
			n++
		}
	}
	return n
}

func (e *Evaluator) matchNode(n Node, rec Record) bool {
	switch x := n.(type) {
	case *Group:
		return e.matchGroup(x, rec)
	case *Rule:
		return e.matchRule(x, rec)
	default:
		return false
	}
}

func (e *Evaluator) matchGroup(g *Group, rec Record) bool {
	if g.Combinator == Or {
		for _, c := range g.Rules {
			if e.matchNode(c, rec) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Rules {
		if !e.matchNode(c, rec) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchRule(r *Rule, rec Record) bool {
	f, ok := e.catalog.Field(r.Field)
	if !ok || !f.Allows(r.Operator) {
		return false
	}
	raw, ok := rec[r.Field]
	if !ok || raw == nil {
		return false
	}
	actual, err := coerce(raw, f.Type)
	if err != nil {
		return false
	}

	if f.Type == TypeDate && r.Operator == OpBetween {
		from, to, err := dateRange(r.Value)
		if err != nil {
			return false
		}
		t := actual.(time.Time)
		return !t.Before(from) && !t.After(to)
	}

	target, err := coerce(r.Value, f.Type)
	if err != nil {
		return false
	}

	switch f.Type {
	case TypeNumber:
		return compareOrdered(r.Operator, cmpFloat(actual.(float64), target.(float64)))
	case TypeDate:
		return compareDate(r.Operator, actual.(time.Time).Compare(target.(time.Time)))
	case TypeString:
		return compareString(r.Operator, actual.(string), target.(string))
	case TypeBoolean:
		return compareBool(r.Operator, actual.(bool), target.(bool))
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareOrdered applies a relational operator to a three-way comparison.
func compareOrdered(op Operator, c int) bool {
	switch op {
	case OpGt:
		return c > 0
	case OpLt:
		return c < 0
	case OpGte:
		return c >= 0
	case OpLte:
		return c <= 0
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	default:
		return false
	}
}

func compareDate(op Operator, c int) bool {
	switch op {
	case OpBefore:
		return c < 0
	case OpAfter:
		return c > 0
	default:
		return compareOrdered(op, c)
	}
}

func compareString(op Operator, actual, target string) bool {
	switch op {
	case OpContains:
		return strings.Contains(actual, target)
	case OpStartsWith:
		return strings.HasPrefix(actual, target)
	case OpEndsWith:
		return strings.HasSuffix(actual, target)
	default:
		return compareOrdered(op, strings.Compare(actual, target))
	}
}

func compareBool(op Operator, actual, target bool) bool {
	switch op {
	case OpEq:
		return actual == target
	case OpNeq:
		return actual != target
	default:
		return false
	}
}
