package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/segment"
)

const queryTimeout = 5 * time.Second

const campaignColumns = `id, user_id, name, coalesce(description, ''), rules,
	coalesce(message, ''), status, audience_size, created_at, updated_at`

func scanCampaign(row pgx.Row) (*campaign.Campaign, error) {
	var (
		c      campaign.Campaign
		rules  []byte
		status string
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Description, &rules,
		&c.Message, &status, &c.AudienceSize, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, campaign.ErrNotFound
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	tree, err := segment.ParseTree(rules)
	if err != nil {
		return nil, fmt.Errorf("campaign %s rules: %w", c.ID, err)
	}
	c.Rules = tree
	c.Status = campaign.Status(status)
	return &c, nil
}

func encodeRules(g *segment.Group) ([]byte, error) {
	if g == nil {
		g = segment.NewGroup(segment.And)
	}
	b, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return b, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rules, err := encodeRules(c.Rules)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO campaigns (id, user_id, name, description, rules, message, status, audience_size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.OwnerID, c.Name, c.Description, rules, c.Message, string(c.Status), c.AudienceSize, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, ownerID, id string) (*campaign.Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND user_id = $2`, id, ownerID)
	return scanCampaign(row)
}

// ListCampaigns returns the owner's campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, ownerID string) ([]*campaign.Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	out := []*campaign.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpdateCampaign writes every editable column. audience_size is left to
// SetAudienceSize.
func (s *Store) UpdateCampaign(ctx context.Context, c *campaign.Campaign) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rules, err := encodeRules(c.Rules)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE campaigns
		SET name = $3, description = $4, rules = $5, message = $6, status = $7, updated_at = $8
		WHERE id = $1 AND user_id = $2`,
		c.ID, c.OwnerID, c.Name, c.Description, rules, c.Message, string(c.Status), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (s *Store) SetAudienceSize(ctx context.Context, ownerID, id string, size int) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE campaigns SET audience_size = $3 WHERE id = $1 AND user_id = $2`, id, ownerID, size)
	if err != nil {
		return fmt.Errorf("update audience size: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCampaign(ctx context.Context, ownerID, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// ListAnalytics returns the campaign's daily figures in date order. A
// campaign owned by someone else yields ErrNotFound.
func (s *Store) ListAnalytics(ctx context.Context, ownerID, campaignID string) ([]campaign.Analytics, error) {
	if _, err := s.GetCampaign(ctx, ownerID, campaignID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, impressions, clicks, conversions, date, created_at, updated_at
		FROM campaign_analytics
		WHERE campaign_id = $1
		ORDER BY date DESC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	defer rows.Close()

	out := []campaign.Analytics{}
	for rows.Next() {
		var a campaign.Analytics
		if err := rows.Scan(&a.ID, &a.CampaignID, &a.Impressions, &a.Clicks, &a.Conversions, &a.Date, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics: %w", err)
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// LoadActiveCampaigns loads every owner's active campaigns for delivery
// matching.
func (s *Store) LoadActiveCampaigns(ctx context.Context) ([]*campaign.Campaign, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY id`, string(campaign.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("query active campaigns: %w", err)
	}
	defer rows.Close()

	out := []*campaign.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
