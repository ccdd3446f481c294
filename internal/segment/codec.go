package segment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire shapes stored in the campaigns.rules / audience_segments.rules JSONB
// columns. Groups are recognised on the wire by their "combinator" key; in
// memory the Kind discriminant takes over.

type wireRule struct {
	ID       string   `json:"id"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

type wireGroup struct {
	ID         string            `json:"id"`
	Combinator Combinator        `json:"combinator"`
	Rules      []json.RawMessage `json:"rules"`
}

var ErrMalformedTree = errors.New("malformed rule tree")

// MarshalJSON encodes the rule in its persisted shape.
func (r *Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRule{ID: r.ID, Field: r.Field, Operator: r.Operator, Value: r.Value})
}

// UnmarshalJSON decodes a rule, normalising the value to string, float64,
// bool or []string.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v, err := NormalizeValue(w.Value)
	if err != nil {
		return fmt.Errorf("rule %s: %w", w.ID, err)
	}
	*r = Rule{ID: w.ID, Field: w.Field, Operator: w.Operator, Value: v}
	return nil
}

// MarshalJSON encodes the group and its children recursively.
func (g *Group) MarshalJSON() ([]byte, error) {
	children := make([]json.RawMessage, len(g.Rules))
	for i, c := range g.Rules {
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		children[i] = b
	}
	return json.Marshal(wireGroup{ID: g.ID, Combinator: g.Combinator, Rules: children})
}

// UnmarshalJSON decodes a group, dispatching each child on the presence of
// a "combinator" key.
func (g *Group) UnmarshalJSON(data []byte) error {
	var w wireGroup
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Combinator.Valid() {
		return fmt.Errorf("%w: group %s has combinator %q", ErrMalformedTree, w.ID, w.Combinator)
	}
	out := Group{ID: w.ID, Combinator: w.Combinator, Rules: make([]Node, 0, len(w.Rules))}
	for _, raw := range w.Rules {
		n, err := decodeNode(raw)
		if err != nil {
			return err
		}
		out.Rules = append(out.Rules, n)
	}
	*g = out
	return nil
}

func decodeNode(raw json.RawMessage) (Node, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTree, err)
	}
	if _, isGroup := keys["combinator"]; isGroup {
		g := &Group{}
		if err := g.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return g, nil
	}
	r := &Rule{}
	if err := r.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseTree decodes a persisted tree. A JSON null or empty document yields a
// fresh empty AND group.
func ParseTree(data []byte) (*Group, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return NewGroup(And), nil
	}
	g := &Group{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, err
	}
	return g, nil
}

// NormalizeValue converts a decoded JSON value to the representation rules
// hold: string, float64, bool or []string. Null becomes "".
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string, float64, bool:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: list values must be strings", ErrMalformedTree)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value %T", ErrMalformedTree, v)
	}
}
