package markov

import (
	"math"
	"math/rand/v2"
)

// maxPoolMultiplier caps the replication factor so that len*k cannot
// overflow. The draw is uniform over the replicated pool, so the cap does not
// change the output distribution.
const maxPoolMultiplier = 1 << 16

// RandSource is the source of uniform integers used for sampling. Both
// *rand.Rand from math/rand/v2 and DefaultRand satisfy it.
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand returns a RandSource backed by the process-level math/rand/v2
// generator. It is safe for concurrent use.
func DefaultRand() RandSource {
	return globalRand{}
}

// PoolMultiplier returns k = max(1, floor(1 + temperature*3)), the number of
// times the successor list is replicated before a uniform draw.
func PoolMultiplier(temperature float64) int {
	if math.IsNaN(temperature) {
		return 1
	}
	k := math.Floor(1 + temperature*3)
	if k < 1 {
		return 1
	}
	if k > maxPoolMultiplier {
		return maxPoolMultiplier
	}
	return int(k)
}

// Sample selects one successor. The list is conceptually replicated k times,
// where k is PoolMultiplier(temperature) recomputed on every call, and one
// element of the replicated bag is drawn uniformly. This widens the sample
// pool rather than reshaping relative probabilities, and is not a
// softmax temperature. Sample returns "" for an empty list.
func Sample(rng RandSource, successors []string, temperature float64) string {
	n := len(successors)
	if n == 0 {
		return ""
	}
	if rng == nil {
		rng = DefaultRand()
	}
	k := PoolMultiplier(temperature)
	return successors[rng.IntN(n*k)%n]
}
