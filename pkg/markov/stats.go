package markov

// ChainStats holds aggregated statistics for a chain.
type ChainStats struct {
	States        int `json:"states"`         // The number of distinct states.
	Links         int `json:"links"`          // The total number of recorded transitions, duplicates included.
	UniqueLinks   int `json:"unique_links"`   // The number of distinct state->token transitions.
	Vocabulary    int `json:"vocabulary"`     // The number of distinct tokens seen in states or successors.
	TerminalLinks int `json:"terminal_links"` // Transitions whose successor is terminal punctuation.
	DeadEnds      int `json:"dead_ends"`      // Successor tokens that lead to a state with no successors.
}

// Stats returns a snapshot of statistics for the chain.
func (c *Chain) Stats() ChainStats {
	var stats ChainStats
	stats.States = len(c.states)

	vocab := make(map[string]struct{})
	for _, s := range c.states {
		vocab[s[0]] = struct{}{}
		vocab[s[1]] = struct{}{}

		successors := c.links[s]
		stats.Links += len(successors)

		unique := make(map[string]struct{}, len(successors))
		for _, next := range successors {
			unique[next] = struct{}{}
			vocab[next] = struct{}{}
			if IsTerminal(next) {
				stats.TerminalLinks++
			}
		}
		stats.UniqueLinks += len(unique)
		for next := range unique {
			if !c.Has(s.Next(next)) {
				stats.DeadEnds++
			}
		}
	}
	stats.Vocabulary = len(vocab)
	return stats
}
