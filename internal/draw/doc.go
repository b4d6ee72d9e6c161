// Package draw computes gift exchange assignments.
//
// Rules is the constraint model: for every eligible participant it holds the
// set of recipients that participant must not draw (always including the
// participant itself). Generate returns a permutation of the roster with no
// fixed points and no forbidden pair, or reports that none exists.
//
// Generation runs in three stages:
//
//  1. Rejection sampling. Recipients are shuffled with Fisher–Yates and the
//     shuffle is discarded as soon as it places a forbidden pair. Accepted
//     results are uniformly distributed over all valid permutations.
//  2. Greedy construction. Givers are visited most-constrained first and pick
//     the unused recipient fewest remaining givers could still take, with
//     random tie breaks. Dead ends undo the last few picks.
//  3. Exhaustive augmenting-path search over the bipartite giver/recipient
//     graph. It always finds a valid permutation when one exists and is also
//     used up front to prove infeasibility.
//
// Stages 2 and 3 only run when stage 1 exhausted its budget, which for
// unconstrained rosters happens with negligible probability.
//
// The package is pure: no I/O, no goroutines, and all randomness comes from
// the *rand.Rand handed to Generate.
package draw
