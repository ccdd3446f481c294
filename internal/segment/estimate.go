package segment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Estimate is an audience size figure. Authoritative is false for
// placeholder figures, which must never be reported as real counts.
type Estimate struct {
	Size          int  `json:"audience_size"`
	Authoritative bool `json:"authoritative"`
}

// Estimator sizes the audience described by a tree. Implementations may
// block (a database round trip, simulated latency) and must honour ctx.
type Estimator interface {
	Estimate(ctx context.Context, tree *Group) (Estimate, error)
}

// PopulationSource supplies the records an audience is counted against.
type PopulationSource interface {
	Population(ctx context.Context) ([]Record, error)
}

// PopulationEstimator counts matching records of a real population.
type PopulationEstimator struct {
	eval *Evaluator
	src  PopulationSource
}

func NewPopulationEstimator(eval *Evaluator, src PopulationSource) *PopulationEstimator {
	return &PopulationEstimator{eval: eval, src: src}
}

func (p *PopulationEstimator) Estimate(ctx context.Context, tree *Group) (Estimate, error) {
	if tree == nil || tree.Empty() {
		return Estimate{Authoritative: true}, nil
	}
	pop, err := p.src.Population(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("load population: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	return Estimate{Size: p.eval.EstimateSize(tree, pop), Authoritative: true}, nil
}

// PlaceholderEstimator stands in when no population is available: after a
// simulated round trip it returns a random size in [Min, Max). An empty tree
// is sized zero immediately.
type PlaceholderEstimator struct {
	Min, Max int
	Latency  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPlaceholderEstimator builds a placeholder estimator. A zero seed picks
// a random one.
func NewPlaceholderEstimator(lo, hi int, latency time.Duration, seed uint64) *PlaceholderEstimator {
	if seed == 0 {
		seed = rand.Uint64()
	}
	if hi <= lo {
		hi = lo + 1
	}
	return &PlaceholderEstimator{
		Min:     lo,
		Max:     hi,
		Latency: latency,
		rnd:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (p *PlaceholderEstimator) Estimate(ctx context.Context, tree *Group) (Estimate, error) {
	if tree == nil || tree.Empty() {
		return Estimate{}, nil
	}
	if p.Latency > 0 {
		t := time.NewTimer(p.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Estimate{}, ctx.Err()
		case <-t.C:
		}
	}
	p.mu.Lock()
	n := p.Min + p.rnd.IntN(p.Max-p.Min)
	p.mu.Unlock()
	return Estimate{Size: n}, nil
}
