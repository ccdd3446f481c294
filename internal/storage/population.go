package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"campaign-targeting/internal/segment"
)

// LoadPopulation reads every customer's attribute document. Keys of the
// document are catalog field ids.
func (s *Store) LoadPopulation(ctx context.Context) ([]segment.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT id, attributes FROM customers`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	out := []segment.Record{}
	for rows.Next() {
		var (
			id    string
			attrs []byte
		)
		if err := rows.Scan(&id, &attrs); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		rec := segment.Record{}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec); err != nil {
				return nil, fmt.Errorf("customer %s attributes: %w", id, err)
			}
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
