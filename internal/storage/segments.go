package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"campaign-targeting/internal/campaign"
	"campaign-targeting/internal/segment"
)

const segmentColumns = `id, user_id, name, coalesce(description, ''), rules, created_at, updated_at`

func scanSegment(row pgx.Row) (*campaign.Segment, error) {
	var (
		sg    campaign.Segment
		rules []byte
	)
	if err := row.Scan(&sg.ID, &sg.OwnerID, &sg.Name, &sg.Description, &rules, &sg.CreatedAt, &sg.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, campaign.ErrNotFound
		}
		return nil, fmt.Errorf("scan segment: %w", err)
	}
	tree, err := segment.ParseTree(rules)
	if err != nil {
		return nil, fmt.Errorf("segment %s rules: %w", sg.ID, err)
	}
	sg.Rules = tree
	return &sg, nil
}

func (s *Store) CreateSegment(ctx context.Context, sg *campaign.Segment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rules, err := encodeRules(sg.Rules)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audience_segments (id, user_id, name, description, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sg.ID, sg.OwnerID, sg.Name, sg.Description, rules, sg.CreatedAt, sg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (s *Store) GetSegment(ctx context.Context, ownerID, id string) (*campaign.Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM audience_segments WHERE id = $1 AND user_id = $2`, id, ownerID)
	return scanSegment(row)
}

func (s *Store) ListSegments(ctx context.Context, ownerID string) ([]*campaign.Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+segmentColumns+` FROM audience_segments WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	out := []*campaign.Segment{}
	for rows.Next() {
		sg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Store) UpdateSegment(ctx context.Context, sg *campaign.Segment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rules, err := encodeRules(sg.Rules)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE audience_segments
		SET name = $3, description = $4, rules = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2`,
		sg.ID, sg.OwnerID, sg.Name, sg.Description, rules, sg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSegment(ctx context.Context, ownerID, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM audience_segments WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return campaign.ErrNotFound
	}
	return nil
}
