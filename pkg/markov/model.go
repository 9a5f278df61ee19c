package markov

import (
	"encoding/json"
	"fmt"
	"io"
)

// ExportedChain is the serializable representation of a built chain, used
// for JSON-based import and export. States are listed in first-seen order and
// successor lists keep their order and duplicates, so an export followed by an
// import reproduces the chain exactly.
type ExportedChain struct {
	Order  int             `json:"order"`
	States []ExportedState `json:"states"`
}

// ExportedState is the serializable representation of a single state and its
// successors, used within an ExportedChain.
type ExportedState struct {
	Prefix []string `json:"prefix"`
	Next   []string `json:"next"`
}

// ToExported converts the chain into its serializable form.
func (c *Chain) ToExported() ExportedChain {
	exported := ExportedChain{
		Order:  Order,
		States: make([]ExportedState, 0, len(c.states)),
	}
	for _, s := range c.states {
		exported.States = append(exported.States, ExportedState{
			Prefix: []string{s[0], s[1]},
			Next:   c.links[s],
		})
	}
	return exported
}

// Export serializes the chain as indented JSON and writes it to w. This is
// useful for backups, or for starting a server without re-reading its corpus.
func (c *Chain) Export(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c.ToExported())
}

// FromExported rebuilds a chain from its serializable form. It rejects any
// order other than 2, prefixes that are not exactly two tokens long, and
// states without successors.
func FromExported(exported ExportedChain) (*Chain, error) {
	if exported.Order != Order {
		return nil, fmt.Errorf("unsupported chain order %d, want %d", exported.Order, Order)
	}
	c := newChain()
	for i, entry := range exported.States {
		if len(entry.Prefix) != Order {
			return nil, fmt.Errorf("import consistency error: state %d has a prefix of %d tokens", i, len(entry.Prefix))
		}
		if len(entry.Next) == 0 {
			return nil, fmt.Errorf("import consistency error: state %d (%q) has no successors", i, entry.Prefix)
		}
		s := State{entry.Prefix[0], entry.Prefix[1]}
		for _, next := range entry.Next {
			c.add(s, next)
		}
	}
	return c, nil
}

// ImportChain reads a JSON representation of a chain from r, as written by
// Export, and rebuilds it.
func ImportChain(r io.Reader) (*Chain, error) {
	var imported ExportedChain
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return nil, fmt.Errorf("failed to decode json chain: %w", err)
	}
	return FromExported(imported)
}
