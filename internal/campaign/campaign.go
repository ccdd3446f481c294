package campaign

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"campaign-targeting/internal/segment"
)

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// transitions lists the statuses reachable from each status. Everything
// past draft is driven by the send pipeline.
var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive},
	StatusActive: {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused: {StatusActive, StatusCompleted},
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted, StatusFailed:
		return st, true
	}
	return "", false
}

// Campaign is the aggregate persisted by the campaign store.
type Campaign struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"user_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Rules        *segment.Group `json:"rules"`
	Message      string         `json:"message"`
	Status       Status         `json:"status"`
	AudienceSize int            `json:"audience_size"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewDraft returns a draft campaign with an empty AND predicate.
func NewDraft(ownerID, name string) *Campaign {
	now := time.Now().UTC()
	return &Campaign{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Rules:     segment.NewGroup(segment.And),
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the campaign is complete enough to be saved or sent.
func (c *Campaign) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(c.Name) == "" {
		verr.add("name", "Campaign name is required")
	}
	if strings.TrimSpace(c.Message) == "" {
		verr.add("message", "Campaign message is required")
	}
	if c.Rules == nil || c.Rules.Empty() {
		verr.add("rules", "At least one rule is required")
	}
	return verr.orNil()
}

// Editable reports whether the predicate may still change.
func (c *Campaign) Editable() bool { return c.Status == StatusDraft }

// EditRules replaces the predicate with fn's result. Outside draft the
// predicate is frozen for audit and ErrFrozen is returned.
func (c *Campaign) EditRules(fn func(*segment.Group) *segment.Group) error {
	if !c.Editable() {
		return ErrFrozen
	}
	c.Rules = fn(c.Rules)
	return nil
}

// ApplySegment seeds the predicate from a saved segment. The segment's tree
// is copied with fresh ids so the two can be edited independently.
func (c *Campaign) ApplySegment(s *Segment) error {
	return c.EditRules(func(*segment.Group) *segment.Group {
		return segment.Reissue(s.Rules)
	})
}

// Transition moves the campaign to another status if the move is allowed.
func (c *Campaign) Transition(to Status) error {
	for _, next := range transitions[c.Status] {
		if next == to {
			c.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
}

// Patch is a partial update of the campaign's editable attributes.
type Patch struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Message     *string        `json:"message"`
	Rules       *segment.Group `json:"rules"`
}

// Apply writes the patch into c. Replacing the rules obeys EditRules.
func (p Patch) Apply(c *Campaign) error {
	if p.Rules != nil {
		if err := c.EditRules(func(*segment.Group) *segment.Group { return p.Rules }); err != nil {
			return err
		}
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.Message != nil {
		c.Message = *p.Message
	}
	return nil
}

// Segment is a named predicate saved for reuse across campaigns.
type Segment struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"user_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Rules       *segment.Group `json:"rules"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewSegment returns a segment with an empty AND predicate.
func NewSegment(ownerID, name, description string) *Segment {
	now := time.Now().UTC()
	return &Segment{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		Description: description,
		Rules:       segment.NewGroup(segment.And),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the segment has a name and at least one rule.
func (s *Segment) Validate() error {
	verr := &ValidationError{}
	if strings.TrimSpace(s.Name) == "" {
		verr.add("name", "Segment name is required")
	}
	if s.Rules == nil || s.Rules.Empty() {
		verr.add("rules", "At least one rule is required")
	}
	return verr.orNil()
}

// Analytics is one day of delivery figures for a campaign.
type Analytics struct {
	ID          string    `json:"id"`
	CampaignID  string    `json:"campaign_id"`
	Impressions int       `json:"impressions"`
	Clicks      int       `json:"clicks"`
	Conversions int       `json:"conversions"`
	Date        time.Time `json:"date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SegmentPatch is a partial update of a saved segment.
type SegmentPatch struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Rules       *segment.Group `json:"rules"`
}

func (p SegmentPatch) Apply(s *Segment) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Rules != nil {
		s.Rules = p.Rules
	}
}
