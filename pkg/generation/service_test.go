package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/CTAG07/Quill/pkg/markov"
	"github.com/CTAG07/Quill/pkg/stream"
)

// fakeRemote replays chunks and then returns err.
type fakeRemote struct {
	chunks []string
	err    error
	got    Request
}

func (f *fakeRemote) Generate(_ context.Context, req Request, consumer func(string) error) error {
	f.got = req
	for _, chunk := range f.chunks {
		if err := consumer(chunk); err != nil {
			return err
		}
	}
	return f.err
}

// endlessRemote produces chunks until the consumer refuses one.
type endlessRemote struct{}

func (endlessRemote) Generate(_ context.Context, _ Request, consumer func(string) error) error {
	for {
		if err := consumer("more "); err != nil {
			return err
		}
	}
}

func newTestService(t *testing.T, remote RemoteGenerator) (*Service, *[]Result) {
	t.Helper()
	local := markov.NewGenerator(markov.BuildChain("one fish two fish."), nil)
	var results []Result
	svc := NewService(local, remote, nil)
	svc.SetObserver(func(r Result) { results = append(results, r) })
	return svc, &results
}

func drain(events <-chan stream.Event) (texts []string, terminals []stream.Event) {
	for ev := range events {
		if ev.IsTerminal() {
			terminals = append(terminals, ev)
		} else {
			texts = append(texts, ev.Text)
		}
	}
	return texts, terminals
}

func TestServiceStreamLocal(t *testing.T) {
	svc, results := newTestService(t, nil)
	req := Request{Prompt: "one fish", Provider: ProviderAuto, MaxTokens: 10, Temperature: 0.7}

	texts, terminals := drain(svc.Stream(context.Background(), req))

	if got := strings.Join(texts, ""); got != "two fish ." {
		t.Errorf("text = %q, want %q", got, "two fish .")
	}
	if len(terminals) != 1 || terminals[0].Failed() {
		t.Fatalf("expected one successful terminal event, got %+v", terminals)
	}
	if len(*results) != 1 {
		t.Fatalf("expected one observed result, got %d", len(*results))
	}
	res := (*results)[0]
	if res.Provider != ProviderLocal || res.Model != LocalModel || res.Tokens != 3 || res.Err != nil || res.Cancelled {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestServiceStreamRemote(t *testing.T) {
	remote := &fakeRemote{chunks: []string{"Hello", "", ", world"}}
	svc, results := newTestService(t, remote)
	req := Request{Prompt: "hi", Provider: ProviderAuto, Model: "gpt-4o-mini", MaxTokens: 5, Temperature: 0.7}

	texts, terminals := drain(svc.Stream(context.Background(), req))

	if got := strings.Join(texts, "|"); got != "Hello|, world" {
		t.Errorf("texts = %q, want empty chunks skipped", got)
	}
	if len(terminals) != 1 || terminals[0].Failed() {
		t.Fatalf("expected one successful terminal event, got %+v", terminals)
	}
	if remote.got != req {
		t.Errorf("remote received %+v, want %+v", remote.got, req)
	}
	res := (*results)[0]
	if res.Provider != ProviderRemote || res.Model != "gpt-4o-mini" || res.Tokens != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestServiceStreamRemoteFailure(t *testing.T) {
	cause := errors.New("connection reset")
	svc, results := newTestService(t, &fakeRemote{chunks: []string{"partial "}, err: cause})

	texts, terminals := drain(svc.Stream(context.Background(), Request{Prompt: "hi", Provider: ProviderRemote}))

	if len(texts) != 1 || texts[0] != "partial " {
		t.Errorf("texts = %q, want the partial output kept", texts)
	}
	if len(terminals) != 1 || !terminals[0].Failed() {
		t.Fatalf("expected one error terminal event, got %+v", terminals)
	}
	if !strings.Contains(terminals[0].Error, "connection reset") {
		t.Errorf("error event %q does not mention the cause", terminals[0].Error)
	}

	var transportErr *RemoteTransportError
	res := (*results)[0]
	if !errors.As(res.Err, &transportErr) || !errors.Is(res.Err, cause) {
		t.Errorf("result error = %v, want a RemoteTransportError wrapping the cause", res.Err)
	}
}

func TestServiceStreamProviderUnavailable(t *testing.T) {
	svc, results := newTestService(t, nil)

	texts, terminals := drain(svc.Stream(context.Background(), Request{Prompt: "hi", Provider: ProviderRemote}))

	if len(texts) != 0 {
		t.Errorf("expected no text events, got %q", texts)
	}
	if len(terminals) != 1 || terminals[0].Error != ErrProviderUnavailable.Error() {
		t.Fatalf("expected one %q event, got %+v", ErrProviderUnavailable, terminals)
	}
	if !errors.Is((*results)[0].Err, ErrProviderUnavailable) {
		t.Errorf("result error = %v, want ErrProviderUnavailable", (*results)[0].Err)
	}
}

func TestServiceStreamUnknownProvider(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, terminals := drain(svc.Stream(context.Background(), Request{Prompt: "hi", Provider: "bogus"}))

	if len(terminals) != 1 || !terminals[0].Failed() {
		t.Fatalf("expected one error terminal event, got %+v", terminals)
	}
}

func TestServiceStreamCancelled(t *testing.T) {
	svc, results := newTestService(t, endlessRemote{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := svc.Stream(ctx, Request{Prompt: "hi", Provider: ProviderRemote})
	<-events
	cancel()

	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				res := (*results)[0]
				if !res.Cancelled || res.Err != nil {
					t.Errorf("unexpected result %+v, want cancelled without error", res)
				}
				return
			}
			if ev.IsTerminal() {
				t.Error("cancelled stream should not emit a terminal event")
			}
		case <-timeout:
			t.Fatal("timed out waiting for the stream to close")
		}
	}
}

func TestServiceHasRemote(t *testing.T) {
	if NewService(nil, nil, nil).HasRemote() {
		t.Error("HasRemote() = true with no remote")
	}
	if !NewService(nil, &fakeRemote{}, nil).HasRemote() {
		t.Error("HasRemote() = false with a remote")
	}
}
