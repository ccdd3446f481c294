package segment

import (
	"fmt"
	"testing"
)

func BenchmarkEstimateSize(b *testing.B) {
	eval := NewEvaluator(DefaultCatalog())
	tree := fixtureTree()
	population := make([]Record, 10000)
	for i := range population {
		population[i] = Record{
			"spend":         float64(i),
			"purchaseCount": i % 7,
			"location":      fmt.Sprintf("city-%d NY", i%50),
			"subscribed":    i%2 == 0,
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eval.EstimateSize(tree, population)
	}
}
