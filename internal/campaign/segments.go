package campaign

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-targeting/internal/segment"
)

// CreateSegment validates and stores a reusable audience segment.
func (s *Service) CreateSegment(ctx context.Context, ownerID, name, description string, rules *segment.Group) (*Segment, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	seg := NewSegment(ownerID, strings.TrimSpace(name), description)
	if rules != nil {
		seg.Rules = rules
	}
	if err := s.validate(seg.Validate(), seg.Rules); err != nil {
		return nil, err
	}
	if err := s.segments.CreateSegment(ctx, seg); err != nil {
		return nil, persistErr("create segment", err)
	}
	log.Info().Str("segment_id", seg.ID).Str("owner", ownerID).Msg("segment created")
	return seg, nil
}

func (s *Service) GetSegment(ctx context.Context, ownerID, id string) (*Segment, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	seg, err := s.segments.GetSegment(ctx, ownerID, id)
	if err != nil {
		return nil, persistErr("get segment", err)
	}
	return seg, nil
}

func (s *Service) ListSegments(ctx context.Context, ownerID string) ([]*Segment, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	out, err := s.segments.ListSegments(ctx, ownerID)
	if err != nil {
		return nil, persistErr("list segments", err)
	}
	return out, nil
}

func (s *Service) UpdateSegment(ctx context.Context, ownerID, id string, p SegmentPatch) (*Segment, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	mu := s.segmentLock(ownerID, id)
	mu.Lock()
	defer mu.Unlock()

	cur, err := s.segments.GetSegment(ctx, ownerID, id)
	if err != nil {
		return nil, s.segmentLookupErr(ownerID, id, err)
	}
	next := *cur
	p.Apply(&next)
	return s.saveSegment(ctx, &next)
}

// MutateSegment applies one tree edit to a saved segment. Segments are never
// frozen; campaigns seeded from them hold their own copy. Edits of the same
// segment are serialised so each applies to the tree the previous one stored.
func (s *Service) MutateSegment(ctx context.Context, ownerID, id string, m Mutation) (*Segment, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	mu := s.segmentLock(ownerID, id)
	mu.Lock()
	defer mu.Unlock()

	cur, err := s.segments.GetSegment(ctx, ownerID, id)
	if err != nil {
		return nil, s.segmentLookupErr(ownerID, id, err)
	}
	tree, err := m.Apply(cur.Rules, s.catalog)
	if err != nil {
		return nil, err
	}
	if tree == cur.Rules {
		return cur, nil
	}
	next := *cur
	next.Rules = tree
	next.UpdatedAt = time.Now().UTC()
	if err := s.segments.UpdateSegment(ctx, &next); err != nil {
		return nil, persistErr("update segment", err)
	}
	return &next, nil
}

func (s *Service) DeleteSegment(ctx context.Context, ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	mu := s.segmentLock(ownerID, id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.segments.DeleteSegment(ctx, ownerID, id); err != nil {
		return persistErr("delete segment", err)
	}
	s.dropSegmentLock(ownerID, id)
	return nil
}

// SegmentSize estimates the audience of a saved segment.
func (s *Service) SegmentSize(ctx context.Context, ownerID, id string) (segment.Estimate, error) {
	seg, err := s.GetSegment(ctx, ownerID, id)
	if err != nil {
		return segment.Estimate{}, err
	}
	return s.estimate(ctx, seg.Rules)
}

func (s *Service) saveSegment(ctx context.Context, seg *Segment) (*Segment, error) {
	if err := s.validate(seg.Validate(), seg.Rules); err != nil {
		return nil, err
	}
	seg.UpdatedAt = time.Now().UTC()
	if err := s.segments.UpdateSegment(ctx, seg); err != nil {
		return nil, persistErr("update segment", err)
	}
	return seg, nil
}

// segmentLock returns the mutex serialising the owner's edits of a segment.
func (s *Service) segmentLock(ownerID, id string) *sync.Mutex {
	key := editKey{ownerID, id}
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.segLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.segLocks[key] = mu
	}
	return mu
}

func (s *Service) dropSegmentLock(ownerID, id string) {
	s.mu.Lock()
	delete(s.segLocks, editKey{ownerID, id})
	s.mu.Unlock()
}

func (s *Service) segmentLookupErr(ownerID, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		s.dropSegmentLock(ownerID, id)
	}
	return persistErr("get segment", err)
}
