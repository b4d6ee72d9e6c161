package draw

import "fmt"

// Verify checks that pairs form a closed permutation of the roster with no
// self-assignment and no forbidden pair. Every failure wraps
// ErrInvariantViolation.
func (r *Rules) Verify(pairs []Pair) error {
	if len(pairs) != r.n {
		return fmt.Errorf("%w: %d pairs for %d participants", ErrInvariantViolation, len(pairs), r.n)
	}

	gives := make([]bool, r.n)
	receives := make([]bool, r.n)
	for _, p := range pairs {
		g, ok := r.index[p.Giver]
		if !ok {
			return fmt.Errorf("%w: giver %s not in roster", ErrInvariantViolation, p.Giver)
		}
		rec, ok := r.index[p.Recipient]
		if !ok {
			return fmt.Errorf("%w: recipient %s not in roster", ErrInvariantViolation, p.Recipient)
		}
		if gives[g] {
			return fmt.Errorf("%w: %s gives twice", ErrInvariantViolation, p.Giver)
		}
		if receives[rec] {
			return fmt.Errorf("%w: %s receives twice", ErrInvariantViolation, p.Recipient)
		}
		if g == rec {
			return fmt.Errorf("%w: %s draws themself", ErrInvariantViolation, p.Giver)
		}
		if r.forbidden(g, rec) {
			return fmt.Errorf("%w: %s may not draw %s", ErrInvariantViolation, p.Giver, p.Recipient)
		}
		gives[g] = true
		receives[rec] = true
	}
	return nil
}
