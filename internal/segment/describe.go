package segment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Describe renders the tree as text, e.g.
//
//	Total Spend > 10000 AND (Purchase Count > 3 OR Is Subscribed = true)
//
// If a rule references a field the catalog does not know, the JSON form of
// the tree is returned instead.
func Describe(root *Group, c *Catalog) string {
	var b strings.Builder
	if !describeGroup(&b, root, c, false) {
		raw, err := json.Marshal(root)
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return b.String()
}

func describeGroup(b *strings.Builder, g *Group, c *Catalog, nested bool) bool {
	if g.Empty() {
		// Empty AND matches every record, empty OR none.
		if g.Combinator == Or {
			b.WriteString("no one")
		} else {
			b.WriteString("everyone")
		}
		return true
	}
	if nested && len(g.Rules) > 1 {
		b.WriteByte('(')
	}
	for i, n := range g.Rules {
		if i > 0 {
			b.WriteString(" " + string(g.Combinator) + " ")
		}
		switch x := n.(type) {
		case *Group:
			if !describeGroup(b, x, c, true) {
				return false
			}
		case *Rule:
			f, ok := c.Field(x.Field)
			if !ok {
				return false
			}
			fmt.Fprintf(b, "%s %s %s", f.Label, x.Operator, formatValue(x.Value))
		}
	}
	if nested && len(g.Rules) > 1 {
		b.WriteByte(')')
	}
	return true
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []string:
		return strings.Join(x, " and ")
	default:
		return fmt.Sprintf("%v", x)
	}
}
