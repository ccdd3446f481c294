package engine

import "campaign-targeting/internal/segment"

// Match is an active campaign whose audience includes the record.
type Match struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// compiled is an active campaign prepared for matching.
type compiled struct {
	ID      string
	OwnerID string
	Name    string
	Message string
	Rules   *segment.Group
	// Required lists fields a record must carry to possibly match: the
	// fields of rules directly under an AND root. Rules fail closed on
	// missing fields, so records without them are skipped unevaluated.
	Required []string
}
