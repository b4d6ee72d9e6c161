package draw

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/djlord-it/wichtel/internal/domain"
)

// Rules is the constraint model for one roster. It is immutable after
// NewRules and safe for concurrent readers.
type Rules struct {
	n     int
	ids   []uuid.UUID
	index map[uuid.UUID]int

	// forbid[g*n+r] is set when giver g must not draw recipient r.
	forbid []bool

	// allowed[g] lists the recipients g may draw, in roster order.
	allowed [][]int
}

// NewRules builds the forbidden recipient sets for roster.
//
// Exclusions are symmetric unless marked OneWay. Exclusions that mention a
// participant outside the roster (declined or still invited) are ignored.
func NewRules(roster domain.Roster) (*Rules, error) {
	n := len(roster.Participants)
	if n < 2 {
		return nil, &ValidationError{Reason: ReasonInsufficientParticipants}
	}

	r := &Rules{
		n:      n,
		ids:    make([]uuid.UUID, n),
		index:  make(map[uuid.UUID]int, n),
		forbid: make([]bool, n*n),
	}

	for i, id := range roster.Participants {
		if id == uuid.Nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("participant %d has no identifier", i)}
		}
		if _, dup := r.index[id]; dup {
			return nil, &ValidationError{Reason: fmt.Sprintf("participant %s listed twice", id)}
		}
		r.ids[i] = id
		r.index[id] = i
		r.forbid[i*n+i] = true
	}

	for _, x := range roster.Exclusions {
		if x.GiverID == uuid.Nil || x.RecipientID == uuid.Nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("exclusion %s is missing a participant", x.ID)}
		}
		if x.GiverID == x.RecipientID {
			return nil, &ValidationError{Reason: fmt.Sprintf("exclusion %s names the same participant twice", x.ID)}
		}

		g, gok := r.index[x.GiverID]
		rec, rok := r.index[x.RecipientID]
		if !gok || !rok {
			continue
		}
		r.forbid[g*n+rec] = true
		if !x.OneWay {
			r.forbid[rec*n+g] = true
		}
	}

	r.allowed = make([][]int, n)
	for g := 0; g < n; g++ {
		for rec := 0; rec < n; rec++ {
			if !r.forbid[g*n+rec] {
				r.allowed[g] = append(r.allowed[g], rec)
			}
		}
	}

	return r, nil
}

// Len returns the number of eligible participants.
func (r *Rules) Len() int { return r.n }

// Participants returns the roster in registry order.
func (r *Rules) Participants() []uuid.UUID {
	out := make([]uuid.UUID, r.n)
	copy(out, r.ids)
	return out
}

// Forbidden returns the recipients giver must not draw, self included.
// It returns nil for a participant outside the roster.
func (r *Rules) Forbidden(giver uuid.UUID) []uuid.UUID {
	g, ok := r.index[giver]
	if !ok {
		return nil
	}
	var out []uuid.UUID
	for rec := 0; rec < r.n; rec++ {
		if r.forbid[g*r.n+rec] {
			out = append(out, r.ids[rec])
		}
	}
	return out
}

// Allows reports whether giver may draw recipient.
func (r *Rules) Allows(giver, recipient uuid.UUID) bool {
	g, gok := r.index[giver]
	rec, rok := r.index[recipient]
	return gok && rok && !r.forbid[g*r.n+rec]
}

// Check fails fast when some participant can draw nobody, or nobody can draw
// some participant. Passing Check does not imply feasibility.
func (r *Rules) Check() error {
	drawable := make([]int, r.n)
	for g := 0; g < r.n; g++ {
		if len(r.allowed[g]) == 0 {
			return &InfeasibleError{
				Reason: ReasonOverRestricted,
				Detail: fmt.Sprintf("participant %s may not draw anyone", r.ids[g]),
			}
		}
		for _, rec := range r.allowed[g] {
			drawable[rec]++
		}
	}
	for rec, count := range drawable {
		if count == 0 {
			return &InfeasibleError{
				Reason: ReasonOverRestricted,
				Detail: fmt.Sprintf("nobody may draw participant %s", r.ids[rec]),
			}
		}
	}
	return nil
}

func (r *Rules) forbidden(g, rec int) bool {
	return r.forbid[g*r.n+rec]
}
