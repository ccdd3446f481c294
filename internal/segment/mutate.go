package segment

/*
 * Tree mutation engine.
 *
 * Every operation takes a root and returns a root. The input is never
 * written to: the nodes on the path from the root to the target are copied,
 * everything else is shared with the input tree.
 *
 * Targets are addressed by id, searched depth-first in pre-order over the
 * whole tree. The first match wins. An id that is not in the tree, or that
 * names a node of the wrong kind, is a no-op and the input root is returned
 * as is; stale ids from an earlier version are expected and never an error.
 *
 * Search and rebuild are O(tree size). Interactive trees are small; an id
 * index with parent links would bring edits down to O(depth).
 */

// RulePatch is a partial update of a rule. Nil fields are left untouched.
type RulePatch struct {
	Field    *string
	Operator *Operator
	Value    any
}

// GroupPatch is a partial update of a group. Nil fields are left untouched.
type GroupPatch struct {
	Combinator *Combinator
	Rules      *[]Node
}

// SetCombinator replaces the combinator of the group with the given id.
func SetCombinator(root *Group, groupID string, c Combinator) *Group {
	if !c.Valid() {
		return root
	}
	return UpdateGroup(root, groupID, GroupPatch{Combinator: &c})
}

// AddRule appends a default rule (see NewRule) to the group with the given id.
func AddRule(root *Group, catalog *Catalog, groupID string) *Group {
	return AppendChild(root, groupID, NewRule(catalog))
}

// AddGroup appends an empty AND group to the group with the given id.
func AddGroup(root *Group, groupID string) *Group {
	return AppendChild(root, groupID, NewGroup(And))
}

// AppendChild appends an already built node to the group with the given id.
// The caller keeps the id-uniqueness invariant.
func AppendChild(root *Group, groupID string, child Node) *Group {
	return editGroup(root, groupID, func(g *Group) *Group {
		rules := make([]Node, len(g.Rules), len(g.Rules)+1)
		copy(rules, g.Rules)
		return &Group{ID: g.ID, Combinator: g.Combinator, Rules: append(rules, child)}
	})
}

// UpdateRule applies the patch to the rule with the given id only. A Field
// in the patch is set as is; use ChangeField to reset operator and value.
func UpdateRule(root *Group, ruleID string, p RulePatch) *Group {
	return editRule(root, ruleID, func(r *Rule) *Rule {
		out := *r
		if p.Field != nil {
			out.Field = *p.Field
		}
		if p.Operator != nil {
			out.Operator = *p.Operator
		}
		if p.Value != nil {
			out.Value = p.Value
		}
		return &out
	})
}

// ChangeField points a rule at another field, resetting its operator to the
// field's first operator and its value to the field type's default. An
// unknown field id is a no-op.
func ChangeField(root *Group, catalog *Catalog, ruleID, fieldID string) *Group {
	f, ok := catalog.Field(fieldID)
	if !ok {
		return root
	}
	op := f.Operators[0]
	return UpdateRule(root, ruleID, RulePatch{Field: &f.ID, Operator: &op, Value: f.DefaultValue()})
}

// UpdateGroup applies the patch to the group with the given id, which may be
// the root.
func UpdateGroup(root *Group, groupID string, p GroupPatch) *Group {
	return editGroup(root, groupID, func(g *Group) *Group {
		out := *g
		if p.Combinator != nil && p.Combinator.Valid() {
			out.Combinator = *p.Combinator
		}
		if p.Rules != nil {
			out.Rules = append([]Node{}, (*p.Rules)...)
		}
		return &out
	})
}

// DeleteNode removes the node with the given id from its parent, wherever it
// sits. The root itself cannot be deleted; asking for it is a no-op.
func DeleteNode(root *Group, nodeID string) *Group {
	mustRoot(root)
	if root.ID == nodeID {
		return root
	}
	if out, found := remove(root, nodeID); found {
		return out
	}
	return root
}

func mustRoot(root *Group) {
	if root == nil {
		panic("segment: mutation on a tree without a root")
	}
}

func editRule(root *Group, id string, fn func(*Rule) *Rule) *Group {
	return edit(root, id, func(n Node) Node {
		if r, ok := n.(*Rule); ok {
			return fn(r)
		}
		return n
	})
}

func editGroup(root *Group, id string, fn func(*Group) *Group) *Group {
	return edit(root, id, func(n Node) Node {
		if g, ok := n.(*Group); ok {
			return fn(g)
		}
		return n
	})
}

func edit(root *Group, id string, fn func(Node) Node) *Group {
	mustRoot(root)
	out, _ := replace(root, id, fn)
	return out.(*Group)
}

// replace rewrites the first node matching id. The bool reports whether the
// search is over (a match was found, even if fn left it unchanged).
func replace(n Node, id string, fn func(Node) Node) (Node, bool) {
	if n.NodeID() == id {
		return fn(n), true
	}
	g, ok := n.(*Group)
	if !ok {
		return n, false
	}
	for i, c := range g.Rules {
		nc, done := replace(c, id, fn)
		if !done {
			continue
		}
		if nc == c {
			return g, true
		}
		return g.withChild(i, nc), true
	}
	return g, false
}

func remove(g *Group, id string) (*Group, bool) {
	for i, c := range g.Rules {
		if c.NodeID() == id {
			rules := make([]Node, 0, len(g.Rules)-1)
			rules = append(rules, g.Rules[:i]...)
			rules = append(rules, g.Rules[i+1:]...)
			return &Group{ID: g.ID, Combinator: g.Combinator, Rules: rules}, true
		}
		if cg, ok := c.(*Group); ok {
			if ng, found := remove(cg, id); found {
				return g.withChild(i, ng), true
			}
		}
	}
	return g, false
}

func (g *Group) withChild(i int, n Node) *Group {
	rules := make([]Node, len(g.Rules))
	copy(rules, g.Rules)
	rules[i] = n
	return &Group{ID: g.ID, Combinator: g.Combinator, Rules: rules}
}
