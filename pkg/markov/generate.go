package markov

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/CTAG07/Quill/pkg/stream"
)

const (
	// DefaultMaxTokens is the token budget used when none is given.
	DefaultMaxTokens = 400
	// DefaultTemperature is the temperature used when none is given.
	DefaultTemperature = 0.7
)

// Generator drives token-by-token generation over a read-only Chain. A single
// Generator serves any number of concurrent generations; all per-generation
// state lives inside each call.
type Generator struct {
	chain     *Chain
	tokenizer Tokenizer
	logger    *slog.Logger
}

// NewGenerator creates a Generator over chain. A nil chain is treated as an
// empty one and a nil tokenizer as NewDefaultTokenizer().
func NewGenerator(chain *Chain, tokenizer Tokenizer) *Generator {
	if chain == nil {
		chain = newChain()
	}
	if tokenizer == nil {
		tokenizer = NewDefaultTokenizer()
	}
	return &Generator{
		chain:     chain,
		tokenizer: tokenizer,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Generator. By default, all logs are discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Chain returns the chain the generator reads from.
func (g *Generator) Chain() *Chain {
	return g.chain
}

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	maxTokens   int
	temperature float64
	rand        RandSource
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithMaxTokens sets the maximum number of tokens to generate. Generation stops
// earlier if the chain runs out of successors.
func WithMaxTokens(n int) GenerateOption {
	return func(o *generateOptions) { o.maxTokens = n }
}

// WithTemperature sets the sampling temperature passed to Sample on every draw.
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithRand sets the random source for a single generation. It is mostly useful
// for reproducible tests; the default is the process-level source.
func WithRand(rng RandSource) GenerateOption {
	return func(o *generateOptions) {
		if rng != nil {
			o.rand = rng
		}
	}
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		rand:        DefaultRand(),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate runs a full generation and returns the concatenated text without its
// trailing separator. It returns the context's error if ctx is cancelled before the terminal event.
func (g *Generator) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	text, _, ok := stream.Collect(g.GenerateStream(ctx, prompt, opts...))
	if !ok {
		if err := ctx.Err(); err != nil {
			return text, err
		}
		return text, errors.New("generation stream closed without a terminal event")
	}
	return strings.TrimRight(text, " "), nil
}

// InitialState picks the state generation starts from: the last two prompt
// tokens when they form a known state, otherwise a random state of the chain,
// otherwise FallbackState.
func (g *Generator) InitialState(prompt string, rng RandSource) State {
	if state, ok := g.promptState(prompt); ok && g.chain.Has(state) {
		return state
	}
	if state, ok := g.chain.RandomState(rng); ok {
		return state
	}
	return FallbackState
}

// promptState returns the last two tokens of prompt.
func (g *Generator) promptState(prompt string) (State, bool) {
	tokens := g.tokenizer.NewStream(strings.NewReader(prompt))
	var window State
	var seen int
	for {
		token, err := tokens.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				g.logger.Debug("Prompt tokenization stopped early", slog.Any("error", err))
			}
			break
		}
		window = window.Next(token.Text)
		seen++
	}
	return window, seen >= Order
}
