package campaign

import (
	"errors"
	"fmt"

	"campaign-targeting/internal/segment"
)

// MutationOp names one edit of the predicate tree.
type MutationOp string

const (
	OpSetCombinator MutationOp = "set_combinator"
	OpAddRule       MutationOp = "add_rule"
	OpAddGroup      MutationOp = "add_group"
	OpUpdateRule    MutationOp = "update_rule"
	OpChangeField   MutationOp = "change_field"
	OpDeleteNode    MutationOp = "delete_node"
)

var ErrUnknownMutation = errors.New("unknown mutation")

// Mutation is the single entry point through which editors change a tree.
// Target is the id of the group or rule the edit addresses.
type Mutation struct {
	Op         MutationOp         `json:"op"`
	Target     string             `json:"target"`
	Combinator segment.Combinator `json:"combinator,omitempty"`
	Field      *string            `json:"field,omitempty"`
	Operator   *segment.Operator  `json:"operator,omitempty"`
	Value      any                `json:"value,omitempty"`
}

// Apply runs the mutation against tree. A target that is not in the tree
// leaves it unchanged; only a malformed mutation is an error.
func (m Mutation) Apply(tree *segment.Group, c *segment.Catalog) (*segment.Group, error) {
	switch m.Op {
	case OpSetCombinator:
		if !m.Combinator.Valid() {
			return nil, fmt.Errorf("%w: combinator %q", ErrUnknownMutation, m.Combinator)
		}
		return segment.SetCombinator(tree, m.Target, m.Combinator), nil
	case OpAddRule:
		return segment.AddRule(tree, c, m.Target), nil
	case OpAddGroup:
		return segment.AddGroup(tree, m.Target), nil
	case OpUpdateRule:
		// A new field resets operator and value first, as change_field
		// does; an explicit operator or value then applies on top.
		if m.Field != nil {
			if n, ok := segment.Find(tree, m.Target); ok {
				if r, ok := n.(*segment.Rule); ok && r.Field != *m.Field {
					tree = segment.ChangeField(tree, c, m.Target, *m.Field)
				}
			}
		}
		p := segment.RulePatch{Operator: m.Operator}
		if m.Value != nil {
			v, err := segment.NormalizeValue(m.Value)
			if err != nil {
				return nil, err
			}
			p.Value = v
		}
		if p.Operator == nil && p.Value == nil {
			return tree, nil
		}
		return segment.UpdateRule(tree, m.Target, p), nil
	case OpChangeField:
		if m.Field == nil {
			return nil, fmt.Errorf("%w: change_field without field", ErrUnknownMutation)
		}
		return segment.ChangeField(tree, c, m.Target, *m.Field), nil
	case OpDeleteNode:
		return segment.DeleteNode(tree, m.Target), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMutation, m.Op)
	}
}
