package draw

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/google/uuid"
)

// Strategy names the generator stage that produced a result.
type Strategy string

const (
	StrategyRejection  Strategy = "rejection"
	StrategyGreedy     Strategy = "greedy"
	StrategyExhaustive Strategy = "exhaustive"
)

// greedyLookback is how many picks a greedy dead end undoes.
const greedyLookback = 3

// Pair is one giver→recipient edge of a generated assignment.
type Pair struct {
	Giver     uuid.UUID
	Recipient uuid.UUID
}

// Result is a verified assignment. Pairs are ordered like the roster.
type Result struct {
	Pairs    []Pair
	Strategy Strategy
	Attempts int
}

// RecipientOf returns the recipient drawn by giver.
func (res Result) RecipientOf(giver uuid.UUID) (uuid.UUID, bool) {
	for _, p := range res.Pairs {
		if p.Giver == giver {
			return p.Recipient, true
		}
	}
	return uuid.Nil, false
}

type limits struct {
	rejection int
	greedy    int
}

func rejectionBudget(n int) int { return 64 + 4*n }

func greedyBudget(n int) int { return 256 + 8*n }

// Generate draws a recipient for every participant in rules.
//
// It returns *InfeasibleError when no valid permutation exists and an error
// wrapping ErrInvariantViolation if the result fails verification.
// rng must not be shared with concurrent callers.
func Generate(rules *Rules, rng *rand.Rand) (Result, error) {
	return generate(rules, rng, limits{
		rejection: rejectionBudget(rules.n),
		greedy:    greedyBudget(rules.n),
	})
}

func generate(rules *Rules, rng *rand.Rand, lim limits) (Result, error) {
	if err := rules.Check(); err != nil {
		return Result{}, err
	}

	fallback, matched := rules.match(rng)
	if matched < rules.n {
		return Result{}, &InfeasibleError{
			Reason: ReasonOverRestricted,
			Detail: fmt.Sprintf("at most %d of %d participants can be matched", matched, rules.n),
		}
	}

	var (
		recipientOf []int
		strategy    Strategy
		attempts    int
		ok          bool
	)
	if recipientOf, attempts, ok = rules.sample(rng, lim.rejection); ok {
		strategy = StrategyRejection
	} else if recipientOf, attempts, ok = rules.greedy(rng, lim.greedy); ok {
		strategy = StrategyGreedy
	} else {
		recipientOf, strategy, attempts = fallback, StrategyExhaustive, 1
	}

	res := Result{
		Pairs:    make([]Pair, rules.n),
		Strategy: strategy,
		Attempts: attempts,
	}
	for g, rec := range recipientOf {
		res.Pairs[g] = Pair{Giver: rules.ids[g], Recipient: rules.ids[rec]}
	}

	if err := rules.Verify(res.Pairs); err != nil {
		return Result{}, fmt.Errorf("%s strategy: %w", strategy, err)
	}
	return res, nil
}

// sample shuffles recipients and rejects the shuffle at the first forbidden
// pair. Aborting early does not change the distribution of accepted draws.
func (r *Rules) sample(rng *rand.Rand, budget int) ([]int, int, bool) {
	perm := make([]int, r.n)
	for attempt := 1; attempt <= budget; attempt++ {
		for i := range perm {
			perm[i] = i
		}
		valid := true
		for i := 0; i < r.n; i++ {
			j := i + rng.IntN(r.n-i)
			perm[i], perm[j] = perm[j], perm[i]
			if r.forbidden(i, perm[i]) {
				valid = false
				break
			}
		}
		if valid {
			return perm, attempt, true
		}
	}
	return nil, budget, false
}

// greedy assigns givers most-constrained first. budget bounds the number of
// dead ends tolerated before giving up.
func (r *Rules) greedy(rng *rand.Rand, budget int) ([]int, int, bool) {
	if budget <= 0 {
		return nil, 0, false
	}
	n := r.n

	order := rng.Perm(n)
	sort.SliceStable(order, func(a, b int) bool {
		return len(r.allowed[order[a]]) < len(r.allowed[order[b]])
	})

	recipientOf := make([]int, n)
	givenBy := make([]int, n)
	demand := make([]int, n) // unassigned givers still allowed to draw each recipient
	for i := range recipientOf {
		recipientOf[i] = -1
		givenBy[i] = -1
	}
	for g := 0; g < n; g++ {
		for _, rec := range r.allowed[g] {
			demand[rec]++
		}
	}

	// banned[g] holds recipients that led g into a dead end under its current prefix.
	banned := make([]map[int]struct{}, n)
	deadEnds := 0

	for pos := 0; pos < n; {
		g := order[pos]
		if rec := r.pick(rng, g, givenBy, demand, banned[g]); rec >= 0 {
			recipientOf[g] = rec
			givenBy[rec] = g
			for _, x := range r.allowed[g] {
				demand[x]--
			}
			pos++
			continue
		}

		deadEnds++
		if deadEnds > budget {
			return nil, deadEnds, false
		}
		banned[g] = nil

		undo := min(greedyLookback, pos)
		for i := 0; i < undo; i++ {
			pos--
			h := order[pos]
			prev := recipientOf[h]
			recipientOf[h] = -1
			givenBy[prev] = -1
			for _, x := range r.allowed[h] {
				demand[x]++
			}
			if i < undo-1 {
				banned[h] = nil
				continue
			}
			if banned[h] == nil {
				banned[h] = make(map[int]struct{})
			}
			banned[h][prev] = struct{}{}
		}
	}
	return recipientOf, deadEnds + 1, true
}

// pick chooses an unused recipient for g, preferring the one with the lowest
// remaining demand. Ties are broken uniformly at random.
func (r *Rules) pick(rng *rand.Rand, g int, givenBy, demand []int, banned map[int]struct{}) int {
	best, bestDemand, ties := -1, 0, 0
	for _, rec := range r.allowed[g] {
		if givenBy[rec] >= 0 {
			continue
		}
		if _, skip := banned[rec]; skip {
			continue
		}
		switch d := demand[rec]; {
		case best < 0 || d < bestDemand:
			best, bestDemand, ties = rec, d, 1
		case d == bestDemand:
			ties++
			if rng.IntN(ties) == 0 {
				best = rec
			}
		}
	}
	return best
}

// match computes a maximum bipartite matching between givers and allowed
// recipients using augmenting paths, visiting givers and edges in random
// order. It returns recipientOf (−1 for unmatched givers) and the matching
// size; a size of n is a complete valid assignment.
func (r *Rules) match(rng *rand.Rand) ([]int, int) {
	n := r.n

	adj := make([][]int, n)
	for g := 0; g < n; g++ {
		adj[g] = slices.Clone(r.allowed[g])
		rng.Shuffle(len(adj[g]), func(i, j int) {
			adj[g][i], adj[g][j] = adj[g][j], adj[g][i]
		})
	}

	givenBy := make([]int, n)
	for i := range givenBy {
		givenBy[i] = -1
	}
	seen := make([]int, n)
	stamp := 0

	var augment func(g int) bool
	augment = func(g int) bool {
		for _, rec := range adj[g] {
			if seen[rec] == stamp {
				continue
			}
			seen[rec] = stamp
			if givenBy[rec] < 0 || augment(givenBy[rec]) {
				givenBy[rec] = g
				return true
			}
		}
		return false
	}

	matched := 0
	for _, g := range rng.Perm(n) {
		stamp++
		if augment(g) {
			matched++
		}
	}

	recipientOf := make([]int, n)
	for i := range recipientOf {
		recipientOf[i] = -1
	}
	for rec, g := range givenBy {
		if g >= 0 {
			recipientOf[g] = rec
		}
	}
	return recipientOf, matched
}
