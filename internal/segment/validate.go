package segment

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID     = errors.New("duplicate node id")
	ErrInvalidOperator = errors.New("operator not allowed for field")
	ErrInvalidValue    = errors.New("value does not match field type")
	ErrBadCombinator   = errors.New("invalid combinator")
)

// NodeError ties a validation failure to the node it was found on.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %s: %v", e.NodeID, e.Err) }
func (e *NodeError) Unwrap() error { return e.Err }

// Validate checks every node of the tree against the catalog and the id
// uniqueness invariant. All problems are reported, joined; nil means the
// tree is valid. Evaluation does not depend on it.
func Validate(root *Group, c *Catalog) error {
	var errs []error
	seen := map[string]bool{}
	Walk(root, func(n Node, _ int) bool {
		id := n.NodeID()
		if seen[id] {
			errs = append(errs, &NodeError{NodeID: id, Err: ErrDuplicateID})
		}
		seen[id] = true
		switch x := n.(type) {
		case *Group:
			if !x.Combinator.Valid() {
				errs = append(errs, &NodeError{NodeID: id, Err: fmt.Errorf("%w: %q", ErrBadCombinator, x.Combinator)})
			}
		case *Rule:
			if err := validateRule(x, c); err != nil {
				errs = append(errs, &NodeError{NodeID: id, Err: err})
			}
		}
		return true
	})
	return errors.Join(errs...)
}

func validateRule(r *Rule, c *Catalog) error {
	f, ok := c.Field(r.Field)
	if !ok {
		return fmt.Errorf("%w: %q", ErrFieldNotFound, r.Field)
	}
	if !f.Allows(r.Operator) {
		return fmt.Errorf("%w: %q on %s", ErrInvalidOperator, r.Operator, f.ID)
	}
	if f.Type == TypeDate && r.Operator == OpBetween {
		if _, _, err := dateRange(r.Value); err != nil {
			return fmt.Errorf("%w: between needs two dates", ErrInvalidValue)
		}
		return nil
	}
	if _, err := coerce(r.Value, f.Type); err != nil {
		return fmt.Errorf("%w: %v is not a %s", ErrInvalidValue, r.Value, f.Type)
	}
	return nil
}
