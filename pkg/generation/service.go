package generation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/CTAG07/Quill/pkg/markov"
	"github.com/CTAG07/Quill/pkg/stream"
)

// LocalModel is the model name reported for requests served by the local engine.
const LocalModel = "markov-order2"

// RemoteGenerator is the capability of streaming text from a remote model.
// Generate calls consumer once per text chunk, in order, and returns when the
// remote stream ends. A non-nil error from consumer must abort the stream and
// be returned.
type RemoteGenerator interface {
	Generate(ctx context.Context, req Request, consumer func(text string) error) error
}

// Result summarizes a finished request for an Observer.
type Result struct {
	RequestID string
	Provider  ProviderKind
	Model     string
	Tokens    int
	Err       error
	Cancelled bool
	Duration  time.Duration
}

// Observer receives one Result per request handled by a Service.
type Observer func(Result)

// Service dispatches validated requests to the local generator or the remote
// provider and presents both as a stream of events.
type Service struct {
	local    *markov.Generator
	remote   RemoteGenerator
	logger   *slog.Logger
	observer Observer
}

// NewService creates a Service. A nil remote means no remote provider is
// configured; a nil local generator is replaced by one over an empty chain.
// A nil logger discards all logs.
func NewService(local *markov.Generator, remote RemoteGenerator, logger *slog.Logger) *Service {
	if local == nil {
		local = markov.NewGenerator(nil, nil)
	}
	s := &Service{local: local, remote: remote}
	s.SetLogger(logger)
	return s
}

// SetLogger sets the logger for the Service.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.logger = logger.With(slog.String("component", "generation"))
}

// SetObserver registers fn to receive a Result after every request. It must be
// called before the Service starts handling requests.
func (s *Service) SetObserver(fn Observer) {
	s.observer = fn
}

// HasRemote reports whether a remote provider is configured.
func (s *Service) HasRemote() bool {
	return s.remote != nil
}

// Local returns the local generator.
func (s *Service) Local() *markov.Generator {
	return s.local
}

// Stream handles req and returns its events. Unless ctx is cancelled the
// channel carries zero or more text events followed by exactly one terminal
// event, which holds the error, if any. A cancelled request is closed without
// a terminal event.
func (s *Service) Stream(ctx context.Context, req Request) <-chan stream.Event {
	events := make(chan stream.Event)

	go func() {
		defer close(events)

		start := time.Now()
		out := &emitter{ctx: ctx, events: events}
		res := Result{RequestID: req.ID, Provider: DecideProvider(req.Provider, s.HasRemote())}

		switch res.Provider {
		case ProviderRemote:
			res.Model = req.Model
			if s.remote == nil {
				res.Err = ErrProviderUnavailable
				out.send(stream.Failure(res.Err))
				break
			}
			res.Err = s.streamRemote(req, out)
		case ProviderLocal:
			res.Model = LocalModel
			s.streamLocal(req, out)
		default:
			res.Err = &ValidationError{Field: "provider", Message: "Unknown provider " + string(req.Provider)}
			out.send(stream.Failure(res.Err))
		}

		res.Tokens = out.tokens
		res.Cancelled = !out.terminated
		res.Duration = time.Since(start)
		s.finish(ctx, res)
	}()

	return events
}

func (s *Service) streamRemote(req Request, out *emitter) error {
	err := s.remote.Generate(out.ctx, req, func(text string) error {
		if text == "" {
			return nil
		}
		if !out.send(stream.Text(text)) {
			return out.ctx.Err()
		}
		return nil
	})
	if out.ctx.Err() != nil {
		return nil
	}
	if err != nil {
		transportErr := &RemoteTransportError{Err: err}
		out.send(stream.Failure(transportErr))
		return transportErr
	}
	out.send(stream.Done())
	return nil
}

func (s *Service) streamLocal(req Request, out *emitter) {
	local := s.local.GenerateStream(out.ctx, req.Prompt,
		markov.WithMaxTokens(req.MaxTokens),
		markov.WithTemperature(req.Temperature),
	)
	for ev := range local {
		if !out.send(ev) {
			return
		}
	}
}

func (s *Service) finish(ctx context.Context, res Result) {
	attrs := []any{
		slog.String("request_id", res.RequestID),
		slog.String("provider", string(res.Provider)),
		slog.String("model", res.Model),
		slog.Int("tokens", res.Tokens),
		slog.Duration("duration", res.Duration),
	}
	switch {
	case res.Cancelled:
		s.logger.DebugContext(ctx, "Generation cancelled", attrs...)
	case res.Err != nil:
		var validationErr *ValidationError
		if errors.As(res.Err, &validationErr) || errors.Is(res.Err, ErrProviderUnavailable) {
			s.logger.WarnContext(ctx, "Generation rejected", append(attrs, slog.Any("error", res.Err))...)
		} else {
			s.logger.ErrorContext(ctx, "Generation failed", append(attrs, slog.Any("error", res.Err))...)
		}
	default:
		s.logger.DebugContext(ctx, "Generation completed", attrs...)
	}

	if s.observer != nil {
		s.observer(res)
	}
}

// emitter forwards events to a request's channel and counts what it delivered.
type emitter struct {
	ctx        context.Context
	events     chan<- stream.Event
	tokens     int
	terminated bool
}

// send delivers ev unless ctx is done first.
func (e *emitter) send(ev stream.Event) bool {
	select {
	case <-e.ctx.Done():
		return false
	case e.events <- ev:
		if ev.IsTerminal() {
			e.terminated = true
		} else {
			e.tokens++
		}
		return true
	}
}
