package segment

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture:
//
//	g0 AND
//	├── r1 spend > 10000
//	├── g1 OR
//	│   ├── r2 purchaseCount > 3
//	│   └── g2 AND
//	│       └── r3 location contains "NY"
//	└── r4 subscribed = true
func fixtureTree() *Group {
	return &Group{ID: "g0", Combinator: And, Rules: []Node{
		&Rule{ID: "r1", Field: "spend", Operator: OpGt, Value: 10000.0},
		&Group{ID: "g1", Combinator: Or, Rules: []Node{
			&Rule{ID: "r2", Field: "purchaseCount", Operator: OpGt, Value: 3.0},
			&Group{ID: "g2", Combinator: And, Rules: []Node{
				&Rule{ID: "r3", Field: "location", Operator: OpContains, Value: "NY"},
			}},
		}},
		&Rule{ID: "r4", Field: "subscribed", Operator: OpEq, Value: true},
	}}
}

func snapshot(t *testing.T, g *Group) string {
	t.Helper()
	b, err := json.Marshal(g)
	require.NoError(t, err)
	return string(b)
}

func TestUpdateRule_ChangesOnlyTarget(t *testing.T) {
	before := fixtureTree()
	frozen := snapshot(t, before)

	v := "Boston"
	after := UpdateRule(before, "r3", RulePatch{Value: v})

	// input untouched
	assert.Equal(t, frozen, snapshot(t, before))

	// path root -> g1 -> g2 -> r3 is new
	assert.NotSame(t, before, after)
	assert.NotSame(t, before.Rules[1], after.Rules[1])
	g1Before, g1After := before.Rules[1].(*Group), after.Rules[1].(*Group)
	assert.NotSame(t, g1Before.Rules[1], g1After.Rules[1])

	// everything off the path is shared
	assert.Same(t, before.Rules[0], after.Rules[0])
	assert.Same(t, before.Rules[2], after.Rules[2])
	assert.Same(t, g1Before.Rules[0], g1After.Rules[0])

	// the only difference is r3's value
	want := fixtureTree()
	want.Rules[1].(*Group).Rules[1].(*Group).Rules[0].(*Rule).Value = "Boston"
	if diff := cmp.Diff(want, after); diff != "" {
		t.Errorf("UpdateRule() mismatch (-want +got):\n%s", diff)
	}
}

func TestMutations_UnknownIDIsNoop(t *testing.T) {
	cat := DefaultCatalog()
	field := "email"
	c := Or
	tests := []struct {
		name string
		fn   func(*Group) *Group
	}{
		{"SetCombinator", func(g *Group) *Group { return SetCombinator(g, "nope", Or) }},
		{"AddRule", func(g *Group) *Group { return AddRule(g, cat, "nope") }},
		{"AddGroup", func(g *Group) *Group { return AddGroup(g, "nope") }},
		{"UpdateRule", func(g *Group) *Group { return UpdateRule(g, "nope", RulePatch{Field: &field}) }},
		{"UpdateGroup", func(g *Group) *Group { return UpdateGroup(g, "nope", GroupPatch{Combinator: &c}) }},
		{"ChangeField", func(g *Group) *Group { return ChangeField(g, cat, "nope", "email") }},
		{"DeleteNode", func(g *Group) *Group { return DeleteNode(g, "nope") }},
		{"UpdateRule on a group", func(g *Group) *Group { return UpdateRule(g, "g1", RulePatch{Field: &field}) }},
		{"AddRule on a rule", func(g *Group) *Group { return AddRule(g, cat, "r1") }},
		{"DeleteNode on root", func(g *Group) *Group { return DeleteNode(g, "g0") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := fixtureTree()
			after := tt.fn(before)
			assert.Same(t, before, after)
			assert.Equal(t, fixtureTree(), after)
		})
	}
}

func TestSetCombinator(t *testing.T) {
	before := fixtureTree()

	root := SetCombinator(before, "g0", Or)
	assert.Equal(t, Or, root.Combinator)
	assert.Equal(t, And, before.Combinator)

	nested := SetCombinator(before, "g2", Or)
	g2 := nested.Rules[1].(*Group).Rules[1].(*Group)
	assert.Equal(t, Or, g2.Combinator)

	assert.Same(t, before, SetCombinator(before, "g0", "XOR"))
}

func TestAddRuleAndGroup(t *testing.T) {
	cat := DefaultCatalog()
	before := fixtureTree()

	after := AddRule(before, cat, "g2")
	g2 := after.Rules[1].(*Group).Rules[1].(*Group)
	require.Len(t, g2.Rules, 2)
	assert.Equal(t, "r3", g2.Rules[0].NodeID())

	added := g2.Rules[1].(*Rule)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "spend", added.Field)
	assert.Equal(t, OpGt, added.Operator)
	assert.Equal(t, "", added.Value)

	after = AddGroup(after, "g0")
	require.Len(t, after.Rules, 4)
	sub, ok := after.Rules[3].(*Group)
	require.True(t, ok)
	assert.Equal(t, And, sub.Combinator)
	assert.True(t, sub.Empty())
	assert.NotEqual(t, added.ID, sub.ID)
}

func TestAddRuleThenDelete_IsIdentity(t *testing.T) {
	cat := DefaultCatalog()
	before := fixtureTree()

	added := AddRule(before, cat, "g1")
	g1 := added.Rules[1].(*Group)
	newID := g1.Rules[len(g1.Rules)-1].NodeID()

	restored := DeleteNode(added, newID)
	assert.Equal(t, before, restored)
}

func TestDeleteNode(t *testing.T) {
	tests := []struct {
		name   string
		target string
		check  func(t *testing.T, g *Group)
	}{
		{"top-level rule", "r1", func(t *testing.T, g *Group) {
			require.Len(t, g.Rules, 2)
			assert.Equal(t, "g1", g.Rules[0].NodeID())
		}},
		{"nested rule", "r3", func(t *testing.T, g *Group) {
			g2 := g.Rules[1].(*Group).Rules[1].(*Group)
			assert.True(t, g2.Empty())
		}},
		{"whole subgroup", "g1", func(t *testing.T, g *Group) {
			require.Len(t, g.Rules, 2)
			_, found := Find(g, "r3")
			assert.False(t, found)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := fixtureTree()
			after := DeleteNode(before, tt.target)
			tt.check(t, after)
			assert.Equal(t, fixtureTree(), before)
		})
	}
}

func TestChangeField_ResetsOperatorAndValue(t *testing.T) {
	cat := DefaultCatalog()

	after := ChangeField(fixtureTree(), cat, "r1", "subscribed")
	r1 := after.Rules[0].(*Rule)
	assert.Equal(t, "subscribed", r1.Field)
	assert.Equal(t, OpEq, r1.Operator)
	assert.Equal(t, true, r1.Value)

	after = ChangeField(after, cat, "r1", "lastPurchase")
	r1 = after.Rules[0].(*Rule)
	assert.Equal(t, OpBefore, r1.Operator)
	assert.Equal(t, "", r1.Value)

	before := fixtureTree()
	assert.Same(t, before, ChangeField(before, cat, "r1", "shoeSize"))
}

func TestUpdateGroup_ReplacesChildren(t *testing.T) {
	before := fixtureTree()
	rules := []Node{&Rule{ID: "r9", Field: "email", Operator: OpEndsWith, Value: "@example.com"}}

	after := UpdateGroup(before, "g1", GroupPatch{Rules: &rules})
	g1 := after.Rules[1].(*Group)
	require.Len(t, g1.Rules, 1)
	assert.Equal(t, "r9", g1.Rules[0].NodeID())
	assert.Equal(t, Or, g1.Combinator)

	// the patch slice is copied
	rules[0] = &Rule{ID: "r10"}
	assert.Equal(t, "r9", g1.Rules[0].NodeID())
}

func TestDuplicateID_FirstDepthFirstMatchWins(t *testing.T) {
	tree := &Group{ID: "root", Combinator: And, Rules: []Node{
		&Group{ID: "inner", Combinator: And, Rules: []Node{
			&Rule{ID: "dup", Field: "spend", Operator: OpGt, Value: 1.0},
		}},
		&Rule{ID: "dup", Field: "spend", Operator: OpGt, Value: 2.0},
	}}

	after := UpdateRule(tree, "dup", RulePatch{Value: 99.0})

	assert.Equal(t, 99.0, after.Rules[0].(*Group).Rules[0].(*Rule).Value)
	assert.Equal(t, 2.0, after.Rules[1].(*Rule).Value)
	assert.Error(t, Validate(tree, DefaultCatalog()))
}

func TestMutation_NilRootPanics(t *testing.T) {
	assert.Panics(t, func() { DeleteNode(nil, "x") })
	assert.Panics(t, func() { AddGroup(nil, "x") })
}

// buildTree grows a tree from a sequence of add operations spread over the
// groups that exist at each step.
func buildTree(cat *Catalog, ops []int) *Group {
	root := NewGroup(And)
	for i, op := range ops {
		var groups []string
		Walk(root, func(n Node, _ int) bool {
			if n.Kind() == KindGroup {
				groups = append(groups, n.NodeID())
			}
			return true
		})
		target := groups[i%len(groups)]
		if op%2 == 0 {
			root = AddRule(root, cat, target)
		} else {
			root = AddGroup(root, target)
		}
	}
	return root
}

func TestMutation_PropertyUnknownIDReturnsInput(t *testing.T) {
	cat := DefaultCatalog()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("mutations addressed to a stale id return the input tree", prop.ForAll(
		func(ops []int) bool {
			tree := buildTree(cat, ops)
			stale := NewID()
			c := Or
			return DeleteNode(tree, stale) == tree &&
				AddRule(tree, cat, stale) == tree &&
				AddGroup(tree, stale) == tree &&
				SetCombinator(tree, stale, Or) == tree &&
				UpdateGroup(tree, stale, GroupPatch{Combinator: &c}) == tree &&
				UpdateRule(tree, stale, RulePatch{Value: 1.0}) == tree
		},
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

func TestMutation_PropertyAddThenDeleteIsIdentity(t *testing.T) {
	cat := DefaultCatalog()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("deleting the last appended child restores the tree", prop.ForAll(
		func(ops []int, pick int, asGroup bool) bool {
			tree := buildTree(cat, ops)
			var groups []*Group
			Walk(tree, func(n Node, _ int) bool {
				if g, ok := n.(*Group); ok {
					groups = append(groups, g)
				}
				return true
			})
			target := groups[pick%len(groups)].ID

			var grown *Group
			if asGroup {
				grown = AddGroup(tree, target)
			} else {
				grown = AddRule(tree, cat, target)
			}
			n, _ := Find(grown, target)
			children := n.(*Group).Rules
			added := children[len(children)-1].NodeID()

			return reflect.DeepEqual(tree, DeleteNode(grown, added))
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.IntRange(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestReissue_FreshIDsSameShape(t *testing.T) {
	before := fixtureTree()
	copied := Reissue(before)

	assert.Equal(t, Describe(before, DefaultCatalog()), Describe(copied, DefaultCatalog()))
	Walk(copied, func(n Node, _ int) bool {
		_, found := Find(before, n.NodeID())
		assert.False(t, found, "id %s reused", n.NodeID())
		return true
	})
}
