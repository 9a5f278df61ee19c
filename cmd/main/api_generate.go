package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/CTAG07/Quill/pkg/stream"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxRequestBody bounds the size of a generation request body.
const maxRequestBody = 1 << 20

// GenerateAPI serves the public generation endpoints.
type GenerateAPI struct {
	svc    *generation.Service
	cm     *ConfigManager
	tracer trace.Tracer
	logger *slog.Logger
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK     bool `json:"ok"`
	Remote bool `json:"remote"`
	States int  `json:"states"`
}

func NewGenerateAPI(svc *generation.Service, cm *ConfigManager, tracer trace.Tracer, logger *slog.Logger) *GenerateAPI {
	return &GenerateAPI{
		svc:    svc,
		cm:     cm,
		tracer: tracer,
		logger: logger.With(slog.String("component", "http")),
	}
}

// RegisterRoutes sets up the public generation routes.
func (g *GenerateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/generate", g.handleGenerate)
	mux.HandleFunc("/health", g.handleHealth)
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Connection", "keep-alive")
}

// handleGenerate streams a generation as server-sent events. Every response,
// including a rejected one, is a 200 event stream whose last frame has done set.
func (g *GenerateAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, span := g.tracer.Start(r.Context(), "generate")
	defer span.End()

	setSSEHeaders(w)
	clientIP := getClientIP(r, g.cm)

	var raw generation.RawRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		g.logger.Debug("Rejected generation request body", "remote_addr", clientIP, "error", err)
		span.SetStatus(codes.Error, "invalid json")
		g.write(w, stream.Event{Error: "Invalid JSON", Done: true})
		return
	}
	if raw == nil {
		raw = generation.RawRequest{}
	}

	cfg := g.cm.Get()
	req, err := cfg.Generation.RequestDefaults().Normalize(raw)
	if err != nil {
		g.logger.Debug("Rejected generation request", "remote_addr", clientIP, "error", err)
		span.SetStatus(codes.Error, err.Error())
		g.write(w, stream.Failure(err))
		return
	}

	req.ID = uuid.NewString()
	span.SetAttributes(
		attribute.String("quill.request_id", req.ID),
		attribute.String("quill.provider.requested", string(req.Provider)),
		attribute.String("quill.model", req.Model),
		attribute.Int("quill.max_tokens", req.MaxTokens),
		attribute.Float64("quill.temperature", req.Temperature),
	)
	g.logger.Info("Serving generation", "request_id", req.ID, "remote_addr", clientIP, "provider", req.Provider, "max_tokens", req.MaxTokens)

	var chunks int
	for ev := range g.svc.Stream(ctx, req) {
		if !ev.IsTerminal() {
			chunks++
		} else if ev.Failed() {
			span.SetStatus(codes.Error, ev.Error)
		}
		if err = stream.WriteSSE(w, ev); err != nil {
			// The client is gone; the request context stops the producer.
			g.logger.Debug("Failed to write event to client", "remote_addr", clientIP, "error", err)
			span.RecordError(err)
			return
		}
	}
	span.SetAttributes(attribute.Int("quill.chunks", chunks))
}

func (g *GenerateAPI) write(w http.ResponseWriter, ev stream.Event) {
	if err := stream.WriteSSE(w, ev); err != nil {
		g.logger.Debug("Failed to write event to client", "error", err)
	}
}

func (g *GenerateAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, HealthResponse{
		OK:     true,
		Remote: g.svc.HasRemote(),
		States: g.svc.Local().Chain().Len(),
	})
}
