package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CTAG07/Quill/pkg/generation"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS generation_log (
    id            INTEGER  PRIMARY KEY,
    request_id    TEXT     NOT NULL DEFAULT '',
    provider      TEXT     NOT NULL,
    model         TEXT     NOT NULL,
    tokens        INTEGER  NOT NULL,
    outcome       TEXT     NOT NULL,
    error         TEXT     NOT NULL DEFAULT '',
    duration_ms   INTEGER  NOT NULL,
    created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_log_created_at ON generation_log (created_at);
`

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
	outcomeCancelled = "cancelled"

	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// GenerationRecord is a single row of the generation log.
type GenerationRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Tokens     int       `json:"tokens"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProviderSummary aggregates the log for one provider.
type ProviderSummary struct {
	Provider      string  `json:"provider"`
	Requests      int64   `json:"requests"`
	Tokens        int64   `json:"tokens"`
	Failures      int64   `json:"failures"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRequests int64             `json:"total_requests"`
	TotalTokens   int64             `json:"total_tokens"`
	Outcomes      map[string]int64  `json:"outcomes"`
	Providers     []ProviderSummary `json:"providers"`
}

// StatsAPI records finished generations and serves the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger.With(slog.String("component", "stats")),
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/recent", s.handleRecent)
}

// outcomeOf classifies a finished generation.
func outcomeOf(res generation.Result) string {
	var validationErr *generation.ValidationError
	switch {
	case res.Cancelled:
		return outcomeCancelled
	case errors.As(res.Err, &validationErr), errors.Is(res.Err, generation.ErrProviderUnavailable):
		return outcomeRejected
	case res.Err != nil:
		return outcomeFailed
	default:
		return outcomeCompleted
	}
}

// Record writes res to the generation log. It is used as a generation.Observer
// and so never blocks longer than a short timeout.
func (s *StatsAPI) Record(res generation.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.insert(ctx, res, time.Now().UTC()); err != nil {
		s.logger.Error("Failed to record generation", "error", err)
	}
}

func (s *StatsAPI) insert(ctx context.Context, res generation.Result, at time.Time) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO generation_log (request_id, provider, model, tokens, outcome, error, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, res.RequestID, string(res.Provider), res.Model, res.Tokens, outcomeOf(res), errText, res.Duration.Milliseconds(), at)
	if err != nil {
		return fmt.Errorf("failed to insert generation_log row: %w", err)
	}
	return nil
}

// Summary aggregates the whole generation log.
func (s *StatsAPI) Summary(ctx context.Context) (*GlobalStatsSummary, error) {
	summary := &GlobalStatsSummary{Outcomes: map[string]int64{}, Providers: []ProviderSummary{}}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(tokens), 0) FROM generation_log").
		Scan(&summary.TotalRequests, &summary.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to count generations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM generation_log GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to group outcomes: %w", err)
	}
	for rows.Next() {
		var outcome string
		var n int64
		if err = rows.Scan(&outcome, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		summary.Outcomes[outcome] = n
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
        SELECT provider, COUNT(*), COALESCE(SUM(tokens), 0),
               SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), COALESCE(AVG(duration_ms), 0)
        FROM generation_log GROUP BY provider ORDER BY provider
    `, outcomeFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to group providers: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)
	for rows.Next() {
		var p ProviderSummary
		if err = rows.Scan(&p.Provider, &p.Requests, &p.Tokens, &p.Failures, &p.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan provider row: %w", err)
		}
		summary.Providers = append(summary.Providers, p)
	}
	return summary, rows.Err()
}

// Recent returns the latest limit records, newest first.
func (s *StatsAPI) Recent(ctx context.Context, limit int) ([]GenerationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, request_id, provider, model, tokens, outcome, error, duration_ms, created_at
        FROM generation_log ORDER BY id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent generations: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	records := []GenerationRecord{}
	for rows.Next() {
		var rec GenerationRecord
		if err = rows.Scan(&rec.ID, &rec.RequestID, &rec.Provider, &rec.Model, &rec.Tokens, &rec.Outcome, &rec.Error, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to summarize stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	records, err := s.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to query recent generations", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, records)
}
