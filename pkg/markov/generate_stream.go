package markov

import (
	"context"
	"log/slog"

	"github.com/CTAG07/Quill/pkg/stream"
)

// GenerateStream starts a generation seeded by prompt and returns a read-only
// channel of events: one text event per generated token followed by a single
// terminal event. The channel is unbuffered, so each token is handed to the
// consumer before the next one is sampled.
//
// Generation stops when the budget is reached or the current state has no
// successors; both end with the terminal event. If ctx is cancelled the
// channel is closed at the next token boundary without a terminal event.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, opts ...GenerateOption) <-chan stream.Event {
	options := newGenerateOptions(opts)
	events := make(chan stream.Event)

	go func() {
		defer close(events)

		state := g.InitialState(prompt, options.rand)
		generated := 0

		for generated < options.maxTokens {
			if ctx.Err() != nil {
				g.logger.DebugContext(ctx, "Generation stream cancelled by context",
					slog.Int("generated_length", generated),
				)
				return
			}

			successors := g.chain.Successors(state)
			if len(successors) == 0 { // Dead end in chain
				g.logger.DebugContext(ctx, "Generation terminated due to dead-end",
					slog.String("last_state", state[0]+" "+state[1]),
					slog.Int("generated_length", generated),
				)
				break
			}

			next := Sample(options.rand, successors, options.temperature)
			select {
			case <-ctx.Done():
				return
			case events <- stream.Text(next + g.tokenizer.Suffix(next)):
			}

			// Shift the window and add the new token.
			state = state.Next(next)
			generated++
		}

		if generated == options.maxTokens {
			g.logger.DebugContext(ctx, "Generation terminated by reaching max tokens",
				slog.Int("max_tokens", options.maxTokens),
			)
		}

		select {
		case <-ctx.Done():
		case events <- stream.Done():
		}
	}()

	return events
}
