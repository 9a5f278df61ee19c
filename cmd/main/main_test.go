package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/CTAG07/Quill/pkg/markov"
	"github.com/CTAG07/Quill/pkg/stream"
)

const testCorpus = "one fish two fish."

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// isolateEnv clears the variables read by applyEnvOverrides.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"HOST", "PORT", "LOG_LEVEL", "QUILL_REMOTE_BACKEND", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(key, "")
	}
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := initDB(filepath.Join(t.TempDir(), "quill.db"))
	if err != nil {
		t.Fatalf("initDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestConfigManager(t *testing.T) *ConfigManager {
	t.Helper()
	isolateEnv(t)
	cm, err := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager() failed: %v", err)
	}
	cm.SetLogger(discardLogger())
	return cm
}

func newTestServer(t *testing.T, remote generation.RemoteGenerator) *Server {
	t.Helper()
	cm := newTestConfigManager(t)
	telemetry, err := setupTelemetry(context.Background(), &TelemetryConfig{Enabled: false}, discardLogger())
	if err != nil {
		t.Fatalf("setupTelemetry() failed: %v", err)
	}
	return NewServer(cm, discardLogger(), newTestDB(t), make(chan string, 1), markov.BuildChain(testCorpus), remote, telemetry)
}

// parseSSE decodes every `data:` frame of an event stream body.
func parseSSE(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected line in event stream: %q", line)
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("failed to decode event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}
