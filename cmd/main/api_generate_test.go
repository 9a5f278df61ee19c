package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CTAG07/Quill/pkg/generation"
)

// scriptedRemote replays chunks and then returns err.
type scriptedRemote struct {
	chunks []string
	err    error
}

func (s scriptedRemote) Generate(_ context.Context, _ generation.Request, consumer func(string) error) error {
	for _, chunk := range s.chunks {
		if err := consumer(chunk); err != nil {
			return err
		}
	}
	return s.err
}

func postGenerate(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.PublicHandler().ServeHTTP(rec, req)
	return rec
}

func TestHandleGenerateLocal(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postGenerate(t, s, `{"prompt":"one fish","maxTokens":10}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	for header, want := range map[string]string{
		"Cache-Control":     "no-cache",
		"X-Accel-Buffering": "no",
		"Connection":        "keep-alive",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 3 text events and 1 terminal event, got %+v", events)
	}
	var text strings.Builder
	for _, ev := range events[:3] {
		text.WriteString(ev.Text)
	}
	if text.String() != "two fish ." {
		t.Errorf("text = %q, want %q", text.String(), "two fish .")
	}
	if last := events[3]; !last.Done || last.Error != "" {
		t.Errorf("last event = %+v, want a successful terminal event", last)
	}
}

func TestHandleGenerateRejections(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "Invalid JSON", body: `{"prompt":`, wantErr: "Invalid JSON"},
		{name: "Not an object", body: `["prompt"]`, wantErr: "Invalid JSON"},
		{name: "Missing prompt", body: `{}`, wantErr: "Prompt is required"},
		{name: "Null body", body: `null`, wantErr: "Prompt is required"},
		{name: "Unknown provider", body: `{"prompt":"hi","provider":"gemini"}`, wantErr: "Unknown provider"},
		{name: "Remote without credentials", body: `{"prompt":"hi","provider":"openai"}`, wantErr: generation.ErrProviderUnavailable.Error()},
	}

	s := newTestServer(t, nil)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postGenerate(t, s, tc.body)
			events := parseSSE(t, rec.Body.String())
			if len(events) != 1 {
				t.Fatalf("expected a single event, got %+v", events)
			}
			if !events[0].Done || !strings.Contains(events[0].Error, tc.wantErr) {
				t.Errorf("event = %+v, want a terminal error containing %q", events[0], tc.wantErr)
			}
		})
	}
}

func TestHandleGenerateRemote(t *testing.T) {
	s := newTestServer(t, scriptedRemote{chunks: []string{"Bright ", "sparks"}, err: errors.New("stream reset")})

	rec := postGenerate(t, s, `{"prompt":"hi"}`)
	events := parseSSE(t, rec.Body.String())

	if len(events) != 3 {
		t.Fatalf("expected 2 text events and 1 error event, got %+v", events)
	}
	if events[0].Text != "Bright " || events[1].Text != "sparks" {
		t.Errorf("partial output not forwarded: %+v", events[:2])
	}
	if !events[2].Failed() || !strings.Contains(events[2].Error, "stream reset") {
		t.Errorf("last event = %+v, want the transport error", events[2])
	}

	records, err := s.statsAPI.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != outcomeFailed || records[0].Tokens != 2 || records[0].RequestID == "" {
		t.Errorf("unexpected generation log %+v", records)
	}
}

func TestHandleGenerateMethod(t *testing.T) {
	s := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	s.PublicHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/generate", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	testCases := []struct {
		name   string
		remote generation.RemoteGenerator
		want   bool
	}{
		{name: "Local only", remote: nil, want: false},
		{name: "With remote", remote: scriptedRemote{}, want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.remote)
			rec := httptest.NewRecorder()
			s.PublicHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			var health HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
				t.Fatalf("failed to decode health response: %v", err)
			}
			if !health.OK || health.Remote != tc.want || health.States != 3 {
				t.Errorf("health = %+v, want ok, remote=%v, 3 states", health, tc.want)
			}
		})
	}
}
