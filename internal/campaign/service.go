package campaign

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"campaign-targeting/internal/generation"
	"campaign-targeting/internal/observability"
	"campaign-targeting/internal/segment"
)

// CampaignRepository is the narrow CRUD contract of the campaign store.
// Lookups are scoped to the owner and return ErrNotFound for foreign ids.
type CampaignRepository interface {
	CreateCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, ownerID, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context, ownerID string) ([]*Campaign, error)
	UpdateCampaign(ctx context.Context, c *Campaign) error
	SetAudienceSize(ctx context.Context, ownerID, id string, size int) error
	DeleteCampaign(ctx context.Context, ownerID, id string) error
	ListAnalytics(ctx context.Context, ownerID, campaignID string) ([]Analytics, error)
}

// SegmentRepository stores saved audience segments.
type SegmentRepository interface {
	CreateSegment(ctx context.Context, s *Segment) error
	GetSegment(ctx context.Context, ownerID, id string) (*Segment, error)
	ListSegments(ctx context.Context, ownerID string) ([]*Segment, error)
	UpdateSegment(ctx context.Context, s *Segment) error
	DeleteSegment(ctx context.Context, ownerID, id string) error
}

// Generator writes campaign copy.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Message, error)
}

// Draft is the input of Create.
type Draft struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Message     string         `json:"message"`
	Rules       *segment.Group `json:"rules"`
	// SegmentID seeds the rules from a saved segment and wins over Rules.
	SegmentID string `json:"segment_id"`
}

// editKey scopes an editor to the owner that reached it through a
// successful lookup. Another owner probing the same id gets its own key.
type editKey struct{ ownerID, id string }

// editor serialises tree edits of one campaign and conflates the audience
// estimates they trigger.
type editor struct {
	mu      sync.Mutex
	tracker *segment.Tracker

	sizeMu  sync.Mutex
	written uint64
}

// Service is the authoring surface: campaign and segment CRUD, tree
// mutation with live audience sizing, and message generation.
type Service struct {
	campaigns CampaignRepository
	segments  SegmentRepository
	catalog   *segment.Catalog
	estimator segment.Estimator
	generator Generator

	bg     context.Context
	stop   context.CancelFunc
	mu       sync.Mutex
	edits    map[editKey]*editor
	segLocks map[editKey]*sync.Mutex
	closed   bool
}

func NewService(campaigns CampaignRepository, segments SegmentRepository, catalog *segment.Catalog,
	estimator segment.Estimator, generator Generator) *Service {
	bg, stop := context.WithCancel(context.Background())
	return &Service{
		campaigns: campaigns,
		segments:  segments,
		catalog:   catalog,
		estimator: estimator,
		generator: generator,
		bg:        bg,
		stop:      stop,
		edits:     map[editKey]*editor{},
		segLocks:  map[editKey]*sync.Mutex{},
	}
}

// Catalog returns the field catalog rules are authored against.
func (s *Service) Catalog() *segment.Catalog { return s.catalog }

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrAuthRequired
	}
	return nil
}

// Create validates and stores a new draft campaign.
func (s *Service) Create(ctx context.Context, ownerID string, d Draft) (*Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	c := NewDraft(ownerID, strings.TrimSpace(d.Name))
	c.Description = d.Description
	c.Message = d.Message
	switch {
	case d.SegmentID != "":
		seg, err := s.segments.GetSegment(ctx, ownerID, d.SegmentID)
		if err != nil {
			return nil, persistErr("get segment", err)
		}
		if err := c.ApplySegment(seg); err != nil {
			return nil, err
		}
	case d.Rules != nil:
		c.Rules = d.Rules
	}
	if err := s.validate(c.Validate(), c.Rules); err != nil {
		return nil, err
	}
	if err := s.campaigns.CreateCampaign(ctx, c); err != nil {
		return nil, persistErr("create campaign", err)
	}
	log.Info().Str("campaign_id", c.ID).Str("owner", ownerID).Msg("campaign created")
	s.schedule(ownerID, c.ID, c.Rules)
	return c, nil
}

func (s *Service) Get(ctx context.Context, ownerID, id string) (*Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	c, err := s.campaigns.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return nil, persistErr("get campaign", err)
	}
	return c, nil
}

// List returns the owner's campaigns, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	out, err := s.campaigns.ListCampaigns(ctx, ownerID)
	if err != nil {
		return nil, persistErr("list campaigns", err)
	}
	return out, nil
}

// Update applies a partial update. The stored campaign is replaced only if
// the patched copy validates.
func (s *Service) Update(ctx context.Context, ownerID, id string, p Patch) (*Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	ed := s.editor(ownerID, id)
	ed.mu.Lock()
	defer ed.mu.Unlock()

	cur, err := s.campaigns.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return nil, s.lookupErr(ownerID, id, err)
	}
	next := *cur
	if err := p.Apply(&next); err != nil {
		return nil, err
	}
	if err := s.validate(next.Validate(), next.Rules); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.UpdateCampaign(ctx, &next); err != nil {
		return nil, persistErr("update campaign", err)
	}
	if next.Rules != cur.Rules {
		s.schedule(ownerID, id, next.Rules)
	}
	return &next, nil
}

// Mutate applies one tree edit to a draft campaign and persists the result.
// Incomplete rules are kept as authored; they match nobody until completed.
// Edits of the same campaign are serialised, and each schedules an audience
// estimate; only the estimate of the newest tree reaches audience_size.
func (s *Service) Mutate(ctx context.Context, ownerID, id string, m Mutation) (*Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	ed := s.editor(ownerID, id)
	ed.mu.Lock()
	defer ed.mu.Unlock()

	cur, err := s.campaigns.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return nil, s.lookupErr(ownerID, id, err)
	}
	if !cur.Editable() {
		return nil, ErrFrozen
	}
	tree, err := m.Apply(cur.Rules, s.catalog)
	if err != nil {
		return nil, err
	}
	if tree == cur.Rules {
		return cur, nil
	}
	next := *cur
	if err := next.EditRules(func(*segment.Group) *segment.Group { return tree }); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.UpdateCampaign(ctx, &next); err != nil {
		return nil, persistErr("update campaign", err)
	}
	s.schedule(ownerID, id, tree)
	return &next, nil
}

// SetStatus moves the campaign through its lifecycle. Activating requires a
// campaign that passes Validate.
func (s *Service) SetStatus(ctx context.Context, ownerID, id string, to Status) (*Campaign, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	ed := s.editor(ownerID, id)
	ed.mu.Lock()
	defer ed.mu.Unlock()

	cur, err := s.campaigns.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return nil, s.lookupErr(ownerID, id, err)
	}
	next := *cur
	if to == StatusActive {
		if err := s.validate(next.Validate(), next.Rules); err != nil {
			return nil, err
		}
	}
	if err := next.Transition(to); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.UpdateCampaign(ctx, &next); err != nil {
		return nil, persistErr("update campaign", err)
	}
	log.Info().Str("campaign_id", id).Str("from", string(cur.Status)).Str("to", string(to)).Msg("campaign status changed")
	return &next, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if err := s.campaigns.DeleteCampaign(ctx, ownerID, id); err != nil {
		return persistErr("delete campaign", err)
	}
	s.drop(ownerID, id)
	return nil
}

// GenerateMessage asks the generator for copy matching the campaign and
// its audience, and stores it as the campaign message.
func (s *Service) GenerateMessage(ctx context.Context, ownerID, id string) (generation.Message, error) {
	if err := requireOwner(ownerID); err != nil {
		return generation.Message{}, err
	}
	cur, err := s.campaigns.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return generation.Message{}, persistErr("get campaign", err)
	}
	if strings.TrimSpace(cur.Name) == "" {
		verr := &ValidationError{}
		verr.add("name", "Please enter a campaign name first")
		return generation.Message{}, verr
	}
	msg, err := s.generator.Generate(ctx, generation.Request{
		Name:        cur.Name,
		Description: cur.Description,
		Audience:    segment.Describe(cur.Rules, s.catalog),
	})
	if err != nil {
		return generation.Message{}, err
	}

	ed := s.editor(ownerID, id)
	ed.mu.Lock()
	defer ed.mu.Unlock()
	latest, err := s.campaigns.GetCampaign(ctx, ownerID, id)
	if err != nil {
		return generation.Message{}, persistErr("get campaign", err)
	}
	next := *latest
	next.Message = msg.Text
	next.UpdatedAt = time.Now().UTC()
	if err := s.campaigns.UpdateCampaign(ctx, &next); err != nil {
		return generation.Message{}, persistErr("update campaign", err)
	}
	return msg, nil
}

// Estimate sizes an arbitrary tree synchronously.
func (s *Service) Estimate(ctx context.Context, ownerID string, tree *segment.Group) (segment.Estimate, error) {
	if err := requireOwner(ownerID); err != nil {
		return segment.Estimate{}, err
	}
	if tree == nil {
		tree = segment.NewGroup(segment.And)
	}
	return s.estimate(ctx, tree)
}

// Audience returns the settled estimate of the campaign's newest tree. ok is
// false when there is none; pending is then true if it is still in flight.
func (s *Service) Audience(ownerID, id string) (res segment.Result, ok, pending bool) {
	s.mu.Lock()
	ed := s.edits[editKey{ownerID, id}]
	s.mu.Unlock()
	if ed == nil {
		return segment.Result{}, false, false
	}
	if res, ok := ed.tracker.Latest(); ok {
		return res, true, false
	}
	return segment.Result{}, false, ed.tracker.Version() > 0
}

// Analytics lists the campaign's daily delivery figures.
func (s *Service) Analytics(ctx context.Context, ownerID, id string) ([]Analytics, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	out, err := s.campaigns.ListAnalytics(ctx, ownerID, id)
	if err != nil {
		return nil, persistErr("list analytics", err)
	}
	return out, nil
}

// Close cancels pending estimates and waits for them to return.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	eds := make([]*editor, 0, len(s.edits))
	for _, ed := range s.edits {
		eds = append(eds, ed)
	}
	s.mu.Unlock()
	s.stop()
	for _, ed := range eds {
		ed.tracker.Close()
	}
}

// Wait blocks until every scheduled estimate has settled.
func (s *Service) Wait() {
	s.mu.Lock()
	eds := make([]*editor, 0, len(s.edits))
	for _, ed := range s.edits {
		eds = append(eds, ed)
	}
	s.mu.Unlock()
	for _, ed := range eds {
		ed.tracker.Wait()
	}
}

// editor returns the campaign's editor, creating it with its estimate
// tracker on first use.
func (s *Service) editor(ownerID, id string) *editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := editKey{ownerID, id}
	ed, ok := s.edits[key]
	if ok {
		return ed
	}
	ed = &editor{}
	ed.tracker = segment.NewTracker(estimatorFunc(s.estimate),
		segment.OnResult(func(r segment.Result) { s.record(ed, ownerID, id, r) }),
		segment.OnDiscard(func(v uint64) {
			observability.EstimateDiscards.Inc()
			log.Debug().Str("campaign_id", id).Uint64("version", v).Msg("stale estimate discarded")
		}),
	)
	s.edits[key] = ed
	return ed
}

// drop forgets the owner's editor of the campaign and cancels its pending
// estimate.
func (s *Service) drop(ownerID, id string) {
	key := editKey{ownerID, id}
	s.mu.Lock()
	ed := s.edits[key]
	delete(s.edits, key)
	s.mu.Unlock()
	if ed != nil {
		go ed.tracker.Close()
	}
}

// schedule submits tree for estimation. The result is written back only if
// no newer version has been written first.
func (s *Service) schedule(ownerID, id string, tree *segment.Group) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.editor(ownerID, id).tracker.Submit(s.bg, tree)
}

func (s *Service) record(ed *editor, ownerID, id string, r segment.Result) {
	if r.Err != nil {
		if !errors.Is(r.Err, context.Canceled) {
			log.Warn().Err(r.Err).Str("campaign_id", id).Msg("audience estimate failed")
		}
		return
	}
	ed.sizeMu.Lock()
	defer ed.sizeMu.Unlock()
	if r.Version <= ed.written {
		return
	}
	if err := s.campaigns.SetAudienceSize(s.bg, ownerID, id, r.Estimate.Size); err != nil {
		log.Error().Err(err).Str("campaign_id", id).Msg("store audience size")
		return
	}
	ed.written = r.Version
	log.Debug().Str("campaign_id", id).Int("audience_size", r.Estimate.Size).Uint64("version", r.Version).Msg("audience size updated")
}

func (s *Service) estimate(ctx context.Context, tree *segment.Group) (segment.Estimate, error) {
	start := time.Now()
	est, err := s.estimator.Estimate(ctx, tree)
	observability.ObserveEstimate(est.Authoritative, err, time.Since(start))
	return est, err
}

// lookupErr wraps a failed campaign lookup made while holding the caller's
// editor. Only that editor is dropped; the owner's is never reachable here.
func (s *Service) lookupErr(ownerID, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		s.drop(ownerID, id)
	}
	return persistErr("get campaign", err)
}

// validate folds structural tree problems into base, which is nil or the
// *ValidationError returned by a Validate method.
func (s *Service) validate(base error, tree *segment.Group) error {
	if tree == nil {
		return base
	}
	terr := segment.Validate(tree, s.catalog)
	if terr == nil {
		return base
	}
	var verr *ValidationError
	if !errors.As(base, &verr) {
		verr = &ValidationError{}
	}
	verr.add("rules", terr.Error())
	return verr
}

type estimatorFunc func(context.Context, *segment.Group) (segment.Estimate, error)

func (f estimatorFunc) Estimate(ctx context.Context, tree *segment.Group) (segment.Estimate, error) {
	return f(ctx, tree)
}
