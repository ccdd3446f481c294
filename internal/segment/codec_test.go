package segment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_JSONRoundTrip(t *testing.T) {
	// depth 4, mixed rules and groups at the same level, every value type
	tree := &Group{ID: "g0", Combinator: And, Rules: []Node{
		&Rule{ID: "r1", Field: "spend", Operator: OpGt, Value: 10000.5},
		&Group{ID: "g1", Combinator: Or, Rules: []Node{
			&Rule{ID: "r2", Field: "subscribed", Operator: OpEq, Value: false},
			&Group{ID: "g2", Combinator: And, Rules: []Node{
				&Rule{ID: "r3", Field: "lastPurchase", Operator: OpBetween, Value: []string{"2025-01-01", "2025-03-31"}},
				&Group{ID: "g3", Combinator: Or, Rules: []Node{
					&Rule{ID: "r4", Field: "email", Operator: OpEndsWith, Value: "@example.com"},
				}},
			}},
			&Rule{ID: "r5", Field: "lastPurchase", Operator: OpBefore, Value: "2025-03-01"},
		}},
		&Group{ID: "g4", Combinator: And, Rules: []Node{}},
	}}

	raw, err := json.Marshal(tree)
	require.NoError(t, err)

	got, err := ParseTree(raw)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestTree_WireShape(t *testing.T) {
	tree := &Group{ID: "g", Combinator: Or, Rules: []Node{
		&Rule{ID: "r1", Field: "subscribed", Operator: OpEq, Value: true},
		&Rule{ID: "r2", Field: "lastPurchase", Operator: OpAfter, Value: "2025-01-01"},
	}}
	raw, err := json.Marshal(tree)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id": "g",
		"combinator": "OR",
		"rules": [
			{"id": "r1", "field": "subscribed", "operator": "=", "value": true},
			{"id": "r2", "field": "lastPurchase", "operator": "after", "value": "2025-01-01"}
		]
	}`, string(raw))
}

func TestParseTree(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, g *Group)
	}{
		{name: "null yields empty AND", input: "null", check: func(t *testing.T, g *Group) {
			assert.Equal(t, And, g.Combinator)
			assert.True(t, g.Empty())
			assert.NotEmpty(t, g.ID)
		}},
		{name: "group detected by combinator key", input: `{"id":"a","combinator":"AND","rules":[{"id":"b","combinator":"OR","rules":[]}]}`,
			check: func(t *testing.T, g *Group) {
				require.Len(t, g.Rules, 1)
				assert.Equal(t, KindGroup, g.Rules[0].Kind())
			}},
		{name: "bad combinator", input: `{"id":"a","combinator":"XOR","rules":[]}`, wantErr: true},
		{name: "non-string list value", input: `{"id":"a","combinator":"AND","rules":[{"id":"r","field":"f","operator":"between","value":[1,2]}]}`, wantErr: true},
		{name: "object value", input: `{"id":"a","combinator":"AND","rules":[{"id":"r","field":"f","operator":"=","value":{}}]}`, wantErr: true},
		{name: "not json", input: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseTree([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, g)
		})
	}
}
