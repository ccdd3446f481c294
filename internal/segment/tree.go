package segment

/*
 * Predicate tree.
 *
 * A predicate is a tree rooted at one *Group. Children are *Rule leaves or
 * nested *Group nodes, told apart by Kind(), never by probing attributes.
 *
 * Nodes are values once built: the mutation engine in mutate.go never writes
 * into an existing node, it copies the path from the root to the edited node
 * and shares every other subtree with the previous version. Callers must
 * treat a returned tree as read-only.
 */

import (
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates the two node shapes.
type Kind uint8

const (
	KindRule Kind = iota + 1
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindRule:
		return "rule"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Combinator is the boolean operator a group applies to its direct children.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// Valid reports whether c is AND or OR.
func (c Combinator) Valid() bool { return c == And || c == Or }

// ParseCombinator accepts "and"/"or" in any case.
func ParseCombinator(s string) (Combinator, bool) {
	c := Combinator(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Node is either a *Rule or a *Group.
type Node interface {
	Kind() Kind
	NodeID() string
}

// Rule is a single condition: record[Field] <Operator> Value.
// Value holds a string, float64, bool, or []string (the two bounds of between).
type Rule struct {
	ID       string
	Field    string
	Operator Operator
	Value    any
}

func (*Rule) Kind() Kind { return KindRule }
func (r *Rule) NodeID() string { return r.ID }

// Group combines its children with one combinator.
type Group struct {
	ID         string
	Combinator Combinator
	Rules      []Node
}

func (*Group) Kind() Kind { return KindGroup }
func (g *Group) NodeID() string { return g.ID }

// Empty reports whether the group has no children.
func (g *Group) Empty() bool { return len(g.Rules) == 0 }

// NewID issues a random node id. Random ids keep subtrees authored
// independently from colliding when they are merged.
func NewID() string {
	return uuid.NewString()
}

// NewGroup returns an empty group with a fresh id. An invalid combinator
// falls back to AND.
func NewGroup(c Combinator) *Group {
	if !c.Valid() {
		c = And
	}
	return &Group{ID: NewID(), Combinator: c, Rules: []Node{}}
}

// NewRule returns a rule on the catalog's first field, with that field's
// first operator and its type's default value.
func NewRule(c *Catalog) *Rule {
	f := c.fields[0]
	return &Rule{
		ID:       NewID(),
		Field:    f.ID,
		Operator: f.Operators[0],
		Value:    f.DefaultValue(),
	}
}

// Walk visits nodes depth-first in pre-order. Returning false from fn stops
// the walk.
func Walk(n Node, fn func(n Node, depth int) bool) {
	walk(n, 0, fn)
}

func walk(n Node, depth int, fn func(Node, int) bool) bool {
	if !fn(n, depth) {
		return false
	}
	if g, ok := n.(*Group); ok {
		for _, c := range g.Rules {
			if !walk(c, depth+1, fn) {
				return false
			}
		}
	}
	return true
}

// Find returns the first node with the given id in depth-first order.
func Find(root *Group, id string) (Node, bool) {
	var found Node
	Walk(root, func(n Node, _ int) bool {
		if n.NodeID() == id {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}

// CountRules returns the number of leaf rules anywhere in the tree.
func CountRules(root *Group) int {
	n := 0
	Walk(root, func(node Node, _ int) bool {
		if node.Kind() == KindRule {
			n++
		}
		return true
	})
	return n
}

// Reissue deep-copies a tree giving every node a fresh id. Used when one
// tree seeds another (a saved segment applied to a campaign) so the two can
// be edited independently.
func Reissue(g *Group) *Group {
	out := &Group{ID: NewID(), Combinator: g.Combinator, Rules: make([]Node, len(g.Rules))}
	for i, c := range g.Rules {
		switch n := c.(type) {
		case *Group:
			out.Rules[i] = Reissue(n)
		case *Rule:
			out.Rules[i] = &Rule{ID: NewID(), Field: n.Field, Operator: n.Operator, Value: cloneValue(n.Value)}
		}
	}
	return out
}

func cloneValue(v any) any {
	if s, ok := v.([]string); ok {
		return append([]string(nil), s...)
	}
	return v
}
