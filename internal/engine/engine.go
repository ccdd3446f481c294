package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-targeting/internal/cache"
	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/segment"
)

// ActiveLoader reads every campaign currently in the active status.
type ActiveLoader interface {
	LoadActiveCampaigns(ctx context.Context) ([]*campaign.Campaign, error)
}

// Indexes for fast candidate narrowing
type indexes struct {
	Campaigns []compiled // backing array; indexes reference this

	ByOwner map[string][]int
}

type snapshot struct{ idx indexes }

// DeliveryEngine answers which active campaigns target a customer record.
// Reads are lock-free against the last built snapshot.
type DeliveryEngine struct {
	eval   *segment.Evaluator
	loader ActiveLoader
	snap   cache.Snapshot[snapshot]
}

func NewEngine(eval *segment.Evaluator, loader ActiveLoader) *DeliveryEngine {
	return &DeliveryEngine{eval: eval, loader: loader}
}

// BuildSnapshot loads active campaigns and builds the owner index.
func (e *DeliveryEngine) BuildSnapshot(ctx context.Context) error {
	rows, err := e.loader.LoadActiveCampaigns(ctx)
	if err != nil {
		return err
	}
	cs := make([]compiled, 0, len(rows))
	for _, c := range rows {
		if c.Status != campaign.StatusActive || c.Rules == nil {
			continue
		}
		cs = append(cs, compiled{
			ID:       c.ID,
			OwnerID:  c.OwnerID,
			Name:     c.Name,
			Message:  c.Message,
			Rules:    c.Rules,
			Required: requiredFields(c.Rules),
		})
	}
	e.snap.Store(snapshot{idx: buildIndexes(cs)})
	log.Debug().Int("active_campaigns", len(cs)).Msg("delivery snapshot built")
	return nil
}

// Refresh rebuilds the snapshot; it lets the engine follow change
// notifications.
func (e *DeliveryEngine) Refresh(ctx context.Context) error { return e.BuildSnapshot(ctx) }

// RefreshEvery rebuilds the snapshot on a fixed interval until ctx is done.
func (e *DeliveryEngine) RefreshEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.BuildSnapshot(ctx); err != nil {
				log.Error().Err(err).Msg("refresh delivery snapshot")
			}
		}
	}
}

func buildIndexes(cs []compiled) indexes {
	ix := indexes{Campaigns: cs, ByOwner: map[string][]int{}}
	for i, c := range cs {
		ix.ByOwner[c.OwnerID] = append(ix.ByOwner[c.OwnerID], i)
	}
	return ix
}

func requiredFields(root *segment.Group) []string {
	if root.Combinator != segment.And {
		return nil
	}
	var out []string
	for _, n := range root.Rules {
		if r, ok := n.(*segment.Rule); ok && !slices.Contains(out, r.Field) {
			out = append(out, r.Field)
		}
	}
	return out
}

// Match returns the owner's active campaigns whose audience includes rec.
func (e *DeliveryEngine) Match(_ context.Context, ownerID string, rec segment.Record) []Match {
	s, _ := e.snap.Load()
	ix := s.idx

	out := []Match{}
	for _, i := range ix.ByOwner[ownerID] {
		c := ix.Campaigns[i]
		if !hasAll(rec, c.Required) {
			continue
		}
		if e.eval.Matches(c.Rules, rec) {
			out = append(out, Match{ID: c.ID, Name: c.Name, Message: c.Message})
		}
	}

	// deterministic order
	slices.SortFunc(out, func(a, b Match) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Size is the number of active campaigns in the snapshot.
func (e *DeliveryEngine) Size() int {
	s, _ := e.snap.Load()
	return len(s.idx.Campaigns)
}

func hasAll(rec segment.Record, fields []string) bool {
	for _, f := range fields {
		if _, ok := rec[f]; !ok {
			return false
		}
	}
	return true
}
