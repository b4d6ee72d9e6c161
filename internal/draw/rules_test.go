package draw

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/wichtel/internal/domain"
)

func newIDs(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
	}
	return ids
}

func exclude(giver, recipient uuid.UUID) domain.Exclusion {
	return domain.Exclusion{ID: uuid.New(), GiverID: giver, RecipientID: recipient}
}

func excludeOneWay(giver, recipient uuid.UUID) domain.Exclusion {
	x := exclude(giver, recipient)
	x.OneWay = true
	return x
}

func TestNewRules_InsufficientParticipants(t *testing.T) {
	for _, n := range []int{0, 1} {
		_, err := NewRules(domain.Roster{Participants: newIDs(n)})

		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "n=%d: expected ValidationError, got %v", n, err)
		assert.Equal(t, ReasonInsufficientParticipants, verr.Reason)
	}
}

func TestNewRules_RejectsMalformedRoster(t *testing.T) {
	ids := newIDs(3)

	tests := []struct {
		name   string
		roster domain.Roster
	}{
		{"duplicate participant", domain.Roster{Participants: []uuid.UUID{ids[0], ids[1], ids[0]}}},
		{"nil participant", domain.Roster{Participants: []uuid.UUID{ids[0], uuid.Nil}}},
		{"self exclusion", domain.Roster{Participants: ids, Exclusions: []domain.Exclusion{exclude(ids[0], ids[0])}}},
		{"exclusion without giver", domain.Roster{Participants: ids, Exclusions: []domain.Exclusion{exclude(uuid.Nil, ids[1])}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRules(tt.roster)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
		})
	}
}

func TestRules_ForbiddenAlwaysContainsSelf(t *testing.T) {
	ids := newIDs(4)
	rules, err := NewRules(domain.Roster{Participants: ids})
	require.NoError(t, err)

	for _, id := range ids {
		assert.Equal(t, []uuid.UUID{id}, rules.Forbidden(id))
		assert.False(t, rules.Allows(id, id))
	}
	assert.Nil(t, rules.Forbidden(uuid.New()))
}

func TestRules_SymmetricAndOneWayExclusions(t *testing.T) {
	ids := newIDs(4)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	rules, err := NewRules(domain.Roster{
		Participants: ids,
		Exclusions: []domain.Exclusion{
			exclude(a, b),
			excludeOneWay(c, d),
		},
	})
	require.NoError(t, err)

	assert.False(t, rules.Allows(a, b))
	assert.False(t, rules.Allows(b, a))
	assert.False(t, rules.Allows(c, d))
	assert.True(t, rules.Allows(d, c))
	assert.ElementsMatch(t, []uuid.UUID{a, b}, rules.Forbidden(a))
}

func TestRules_IgnoresExclusionsOutsideRoster(t *testing.T) {
	ids := newIDs(3)
	declined := uuid.New()

	rules, err := NewRules(domain.Roster{
		Participants: ids,
		Exclusions:   []domain.Exclusion{exclude(ids[0], declined)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0]}, rules.Forbidden(ids[0]))
}

func TestRules_CheckFailsFast(t *testing.T) {
	ids := newIDs(3)

	t.Run("giver with no option", func(t *testing.T) {
		rules, err := NewRules(domain.Roster{
			Participants: ids,
			Exclusions:   []domain.Exclusion{excludeOneWay(ids[0], ids[1]), excludeOneWay(ids[0], ids[2])},
		})
		require.NoError(t, err)

		var ierr *InfeasibleError
		require.True(t, errors.As(rules.Check(), &ierr))
		assert.Equal(t, ReasonOverRestricted, ierr.Reason)
	})

	t.Run("recipient nobody may draw", func(t *testing.T) {
		rules, err := NewRules(domain.Roster{
			Participants: ids,
			Exclusions:   []domain.Exclusion{excludeOneWay(ids[1], ids[0]), excludeOneWay(ids[2], ids[0])},
		})
		require.NoError(t, err)

		var ierr *InfeasibleError
		require.True(t, errors.As(rules.Check(), &ierr))
		assert.Contains(t, ierr.Detail, "nobody may draw")
	})
}

func TestRules_Verify(t *testing.T) {
	ids := newIDs(3)
	a, b, c := ids[0], ids[1], ids[2]
	rules, err := NewRules(domain.Roster{
		Participants: ids,
		Exclusions:   []domain.Exclusion{excludeOneWay(a, c)},
	})
	require.NoError(t, err)

	assert.NoError(t, rules.Verify([]Pair{{a, b}, {b, c}, {c, a}}))

	bad := map[string][]Pair{
		"too few pairs":    {{a, b}, {b, a}},
		"self assignment":  {{a, a}, {b, c}, {c, b}},
		"duplicate giver":  {{a, b}, {a, c}, {c, a}},
		"duplicate recip":  {{a, b}, {b, a}, {c, a}},
		"forbidden pair":   {{a, c}, {b, a}, {c, b}},
		"unknown giver":    {{uuid.New(), b}, {b, c}, {c, a}},
		"unknown receiver": {{a, uuid.New()}, {b, c}, {c, a}},
	}
	for name, pairs := range bad {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, rules.Verify(pairs), ErrInvariantViolation)
		})
	}
}
