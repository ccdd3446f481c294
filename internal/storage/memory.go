package storage

import (
	"context"
	"sort"
	"sync"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/segment"
)

// Memory is an in-process store for local runs without Postgres. Trees are
// immutable values, so stored campaigns share them with callers.
type Memory struct {
	mu         sync.RWMutex
	campaigns  map[string]campaign.Campaign
	segments   map[string]campaign.Segment
	analytics  map[string][]campaign.Analytics
	population []segment.Record
}

func NewMemory() *Memory {
	return &Memory{
		campaigns: map[string]campaign.Campaign{},
		segments:  map[string]campaign.Segment{},
		analytics: map[string][]campaign.Analytics{},
	}
}

func (m *Memory) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = *c
	return nil
}

func (m *Memory) GetCampaign(ctx context.Context, ownerID, id string) (*campaign.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok || c.OwnerID != ownerID {
		return nil, campaign.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) ListCampaigns(ctx context.Context, ownerID string) ([]*campaign.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*campaign.Campaign{}
	for _, c := range m.campaigns {
		if c.OwnerID == ownerID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateCampaign(ctx context.Context, c *campaign.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.campaigns[c.ID]
	if !ok || cur.OwnerID != c.OwnerID {
		return campaign.ErrNotFound
	}
	next := *c
	next.AudienceSize = cur.AudienceSize
	m.campaigns[c.ID] = next
	return nil
}

func (m *Memory) SetAudienceSize(ctx context.Context, ownerID, id string, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.campaigns[id]
	if !ok || cur.OwnerID != ownerID {
		return campaign.ErrNotFound
	}
	cur.AudienceSize = size
	m.campaigns[id] = cur
	return nil
}

func (m *Memory) DeleteCampaign(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.campaigns[id]
	if !ok || cur.OwnerID != ownerID {
		return campaign.ErrNotFound
	}
	delete(m.campaigns, id)
	delete(m.analytics, id)
	return nil
}

func (m *Memory) LoadActiveCampaigns(ctx context.Context) ([]*campaign.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*campaign.Campaign{}
	for _, c := range m.campaigns {
		if c.Status == campaign.StatusActive {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAnalytics(ctx context.Context, ownerID, campaignID string) ([]campaign.Analytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.campaigns[campaignID]
	if !ok || cur.OwnerID != ownerID {
		return nil, campaign.ErrNotFound
	}
	out := append([]campaign.Analytics{}, m.analytics[campaignID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// AddAnalytics records a day of delivery figures.
func (m *Memory) AddAnalytics(a campaign.Analytics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics[a.CampaignID] = append(m.analytics[a.CampaignID], a)
}

func (m *Memory) CreateSegment(ctx context.Context, s *campaign.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[s.ID] = *s
	return nil
}

func (m *Memory) GetSegment(ctx context.Context, ownerID, id string) (*campaign.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.segments[id]
	if !ok || s.OwnerID != ownerID {
		return nil, campaign.ErrNotFound
	}
	return &s, nil
}

func (m *Memory) ListSegments(ctx context.Context, ownerID string) ([]*campaign.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*campaign.Segment{}
	for _, s := range m.segments {
		if s.OwnerID == ownerID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateSegment(ctx context.Context, s *campaign.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.segments[s.ID]
	if !ok || cur.OwnerID != s.OwnerID {
		return campaign.ErrNotFound
	}
	m.segments[s.ID] = *s
	return nil
}

func (m *Memory) DeleteSegment(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.segments[id]
	if !ok || cur.OwnerID != ownerID {
		return campaign.ErrNotFound
	}
	delete(m.segments, id)
	return nil
}

// SetPopulation replaces the customer records LoadPopulation returns.
func (m *Memory) SetPopulation(recs []segment.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.population = recs
}

func (m *Memory) LoadPopulation(ctx context.Context) ([]segment.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]segment.Record(nil), m.population...), nil
}
