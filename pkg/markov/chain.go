package markov

import (
	"errors"
	"fmt"
	"io"
)

// Order is the number of preceding tokens that make up a chain state.
const Order = 2

// FallbackState is the seed used when a chain has no states at all. It never
// has successors, so generation from it terminates immediately.
var FallbackState = State{"The", "art"}

// State is an ordered pair of two consecutive tokens, (prev2, prev1), used as
// the lookup key of a Chain.
type State [Order]string

// Next returns the state that follows s once token has been generated.
func (s State) Next(token string) State {
	return State{s[1], token}
}

// Chain maps each observed State to the ordered list of tokens that followed
// it in the corpus. Duplicates are kept, so a successor's frequency is its
// repetition count. A Chain is immutable once built and safe for concurrent
// use.
type Chain struct {
	links  map[State][]string
	states []State // first-seen order
}

func newChain() *Chain {
	return &Chain{links: make(map[State][]string)}
}

// add appends next to the successor list of s. It is only called while a chain
// is being built.
func (c *Chain) add(s State, next string) {
	successors, ok := c.links[s]
	if !ok {
		c.states = append(c.states, s)
	}
	c.links[s] = append(successors, next)
}

// NewChain builds a chain from an already tokenized sequence. For every index
// i in [0, len(tokens)-3], tokens[i+2] is recorded as a successor of
// (tokens[i], tokens[i+1]). Fewer than three tokens produce an empty chain.
func NewChain(tokens []string) *Chain {
	c := newChain()
	for i := 0; i+Order < len(tokens); i++ {
		c.add(State{tokens[i], tokens[i+1]}, tokens[i+Order])
	}
	return c
}

// BuildChain tokenizes corpus with the default rules and builds a chain from
// the result.
func BuildChain(corpus string) *Chain {
	return NewChain(Tokenize(corpus))
}

// BuildChainFromReader builds a chain from a stream of text, tokenizing it with
// tokenizer as it is read. The corpus is never held in memory as a whole.
func BuildChainFromReader(r io.Reader, tokenizer Tokenizer) (*Chain, error) {
	if tokenizer == nil {
		tokenizer = NewDefaultTokenizer()
	}
	c := newChain()
	stream := tokenizer.NewStream(r)

	var window State
	var seen int
	for {
		token, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("tokenizer error: %w", err)
		}
		if seen >= Order {
			c.add(window, token.Text)
		}
		window = window.Next(token.Text)
		seen++
	}
	return c, nil
}

// Len returns the number of distinct states in the chain.
func (c *Chain) Len() int {
	return len(c.states)
}

// Empty reports whether the chain has no states.
func (c *Chain) Empty() bool {
	return len(c.states) == 0
}

// Has reports whether s is a known state.
func (c *Chain) Has(s State) bool {
	_, ok := c.links[s]
	return ok
}

// Successors returns the recorded successors of s in insertion order, or nil
// if s is unknown. The returned slice is shared with the chain and must not be
// modified.
func (c *Chain) Successors(s State) []string {
	return c.links[s]
}

// States returns a copy of all states in first-seen order.
func (c *Chain) States() []State {
	states := make([]State, len(c.states))
	copy(states, c.states)
	return states
}

// RandomState picks a state uniformly at random. It returns false if the chain
// is empty.
func (c *Chain) RandomState(rng RandSource) (State, bool) {
	if len(c.states) == 0 {
		return State{}, false
	}
	if rng == nil {
		rng = DefaultRand()
	}
	return c.states[rng.IntN(len(c.states))], true
}
