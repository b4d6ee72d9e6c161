package draw

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/wichtel/internal/domain"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func mustRules(t *testing.T, roster domain.Roster) *Rules {
	t.Helper()
	rules, err := NewRules(roster)
	require.NoError(t, err)
	return rules
}

// ring returns a roster in which participant i may only draw participant i+1.
func ring(n int) domain.Roster {
	ids := newIDs(n)
	roster := domain.Roster{Participants: ids}
	for i := range ids {
		for j := range ids {
			if j != i && j != (i+1)%n {
				roster.Exclusions = append(roster.Exclusions, excludeOneWay(ids[i], ids[j]))
			}
		}
	}
	return roster
}

func TestGenerate_UnconstrainedIsDerangement(t *testing.T) {
	for n := 2; n <= 40; n++ {
		rules := mustRules(t, domain.Roster{Participants: newIDs(n)})
		for seed := uint64(0); seed < 5; seed++ {
			res, err := Generate(rules, seeded(seed))
			require.NoError(t, err, "n=%d seed=%d", n, seed)
			require.NoError(t, rules.Verify(res.Pairs))
			for _, p := range res.Pairs {
				assert.NotEqual(t, p.Giver, p.Recipient)
			}
		}
	}
}

func TestGenerate_FourParticipants(t *testing.T) {
	ids := newIDs(4)
	rules := mustRules(t, domain.Roster{Participants: ids})

	res, err := Generate(rules, seeded(42))
	require.NoError(t, err)
	require.Len(t, res.Pairs, 4)

	givers := map[uuid.UUID]int{}
	recipients := map[uuid.UUID]int{}
	for _, p := range res.Pairs {
		givers[p.Giver]++
		recipients[p.Recipient]++
		assert.NotEqual(t, p.Giver, p.Recipient)
	}
	for _, id := range ids {
		assert.Equal(t, 1, givers[id])
		assert.Equal(t, 1, recipients[id])
	}
}

func TestGenerate_MutualExclusionRoutesAroundPair(t *testing.T) {
	ids := newIDs(4)
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]
	roster := domain.Roster{
		Participants: ids,
		Exclusions:   []domain.Exclusion{excludeOneWay(a, b), excludeOneWay(b, a)},
	}
	rules := mustRules(t, roster)

	for seed := uint64(0); seed < 200; seed++ {
		res, err := Generate(rules, seeded(seed))
		require.NoError(t, err)

		for _, p := range res.Pairs {
			for _, x := range roster.Exclusions {
				assert.False(t, x.Forbids(p.Giver, p.Recipient), "seed=%d realised excluded pair", seed)
			}
		}
		ra, _ := res.RecipientOf(a)
		rb, _ := res.RecipientOf(b)
		assert.Contains(t, []uuid.UUID{c, d}, ra)
		assert.Contains(t, []uuid.UUID{c, d}, rb)
	}
}

func TestGenerate_TwoMutuallyExcludedIsInfeasible(t *testing.T) {
	ids := newIDs(2)
	rules := mustRules(t, domain.Roster{
		Participants: ids,
		Exclusions:   []domain.Exclusion{exclude(ids[0], ids[1])},
	})

	_, err := Generate(rules, seeded(1))
	var ierr *InfeasibleError
	require.True(t, errors.As(err, &ierr), "expected InfeasibleError, got %v", err)
	assert.Equal(t, ReasonOverRestricted, ierr.Reason)
}

func TestGenerate_InfeasibleBeyondFailFast(t *testing.T) {
	// a and b may only draw c; every participant still has an option, so only
	// the exhaustive search can prove there is no assignment.
	ids := newIDs(3)
	a, b, c := ids[0], ids[1], ids[2]
	rules := mustRules(t, domain.Roster{
		Participants: ids,
		Exclusions:   []domain.Exclusion{excludeOneWay(a, b), excludeOneWay(b, a)},
	})
	require.NoError(t, rules.Check())
	assert.True(t, rules.Allows(c, a))

	_, err := Generate(rules, seeded(7))
	var ierr *InfeasibleError
	require.True(t, errors.As(err, &ierr), "expected InfeasibleError, got %v", err)
	assert.Contains(t, ierr.Detail, "2 of 3")
}

func TestGenerate_IsReproducibleWithSeed(t *testing.T) {
	rules := mustRules(t, domain.Roster{Participants: newIDs(12)})

	first, err := Generate(rules, seeded(99))
	require.NoError(t, err)
	second, err := Generate(rules, seeded(99))
	require.NoError(t, err)

	assert.Equal(t, first.Pairs, second.Pairs)
}

func TestGenerate_NotAlwaysRoundRobin(t *testing.T) {
	ids := newIDs(6)
	rules := mustRules(t, domain.Roster{Participants: ids})

	shift := 0
	for seed := uint64(0); seed < 100; seed++ {
		res, err := Generate(rules, seeded(seed))
		require.NoError(t, err)

		isShift := true
		for i, p := range res.Pairs {
			if p.Recipient != ids[(i+1)%len(ids)] {
				isShift = false
				break
			}
		}
		if isShift {
			shift++
		}
	}
	assert.Less(t, shift, 20)
}

// TestGenerate_Uniformity runs a chi-square goodness-of-fit test on the
// recipient of every giver over an unconstrained roster of five.
func TestGenerate_Uniformity(t *testing.T) {
	const (
		n    = 5
		runs = 20000
		// chi-square critical value for 3 degrees of freedom at p ≈ 0.0002
		critical = 20.0
	)
	ids := newIDs(n)
	rules := mustRules(t, domain.Roster{Participants: ids})
	rng := seeded(2024)

	counts := make([][]int, n)
	for i := range counts {
		counts[i] = make([]int, n)
	}
	for run := 0; run < runs; run++ {
		res, err := Generate(rules, rng)
		require.NoError(t, err)
		for g, p := range res.Pairs {
			counts[g][rules.index[p.Recipient]]++
		}
	}

	expected := float64(runs) / float64(n-1)
	for g := 0; g < n; g++ {
		assert.Zero(t, counts[g][g])

		var chi2 float64
		for rec := 0; rec < n; rec++ {
			if rec == g {
				continue
			}
			diff := float64(counts[g][rec]) - expected
			chi2 += diff * diff / expected
		}
		assert.Less(t, chi2, critical, "giver %d counts %v", g, counts[g])
	}
}

func TestGenerate_UniqueCycleUsesFallback(t *testing.T) {
	rules := mustRules(t, ring(12))

	res, err := Generate(rules, seeded(3))
	require.NoError(t, err)
	assert.NotEqual(t, StrategyRejection, res.Strategy)
	for i, p := range res.Pairs {
		assert.Equal(t, rules.ids[(i+1)%12], p.Recipient)
	}
}

func TestGenerate_ExhaustiveWhenBudgetsExhausted(t *testing.T) {
	ids := newIDs(8)
	rules := mustRules(t, domain.Roster{
		Participants: ids,
		Exclusions:   []domain.Exclusion{exclude(ids[0], ids[1]), exclude(ids[2], ids[3])},
	})

	res, err := generate(rules, seeded(5), limits{})
	require.NoError(t, err)
	assert.Equal(t, StrategyExhaustive, res.Strategy)
	assert.NoError(t, rules.Verify(res.Pairs))
}

func TestGenerate_GreedyWhenRejectionExhausted(t *testing.T) {
	ids := newIDs(10)
	roster := domain.Roster{Participants: ids}
	for i := 0; i+1 < len(ids); i += 2 {
		roster.Exclusions = append(roster.Exclusions, exclude(ids[i], ids[i+1]))
	}
	rules := mustRules(t, roster)

	for seed := uint64(0); seed < 50; seed++ {
		res, err := generate(rules, seeded(seed), limits{greedy: greedyBudget(rules.n)})
		require.NoError(t, err)
		assert.Equal(t, StrategyGreedy, res.Strategy)
		assert.NoError(t, rules.Verify(res.Pairs))
	}
}

func TestGenerate_LargeRosterTerminates(t *testing.T) {
	ids := newIDs(500)
	roster := domain.Roster{Participants: ids}
	rng := seeded(11)
	for i := 0; i < 400; i++ {
		a, b := rng.IntN(len(ids)), rng.IntN(len(ids))
		if a != b {
			roster.Exclusions = append(roster.Exclusions, exclude(ids[a], ids[b]))
		}
	}
	rules := mustRules(t, roster)

	res, err := Generate(rules, rng)
	require.NoError(t, err)
	assert.NoError(t, rules.Verify(res.Pairs))
}
