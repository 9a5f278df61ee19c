package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/CTAG07/Quill/pkg/markov"
)

// MarkovAPI holds the dependencies for the chain inspection handlers.
type MarkovAPI struct {
	gen    *markov.Generator
	cm     *ConfigManager
	logger *slog.Logger
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(gen *markov.Generator, cm *ConfigManager, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		gen:    gen,
		cm:     cm,
		logger: logger.With(slog.String("component", "chain")),
	}
}

// RegisterRoutes sets up the routing for all /api/chain endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/chain/stats", m.handleStats)
	mux.HandleFunc("/api/chain/export", m.handleExport)
	mux.HandleFunc("/api/chain/successors", m.handleSuccessors)
	mux.HandleFunc("/api/chain/generate", m.handleGenerate)
}

func (m *MarkovAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeChainRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, m.gen.Chain().Stats())
}

// handleExport streams the chain in the format accepted by markov.ImportChain.
func (m *MarkovAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="chain.json"`)
	if err := m.gen.Chain().Export(w); err != nil {
		// Headers are already sent; all that is left is to log it.
		m.logger.Error("Failed to export chain", "error", err)
	}
}

// handleSuccessors returns the successor list of the state named by the
// "state" query parameter, two tokens separated by a space.
func (m *MarkovAPI) handleSuccessors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	tokens := strings.Fields(r.URL.Query().Get("state"))
	if len(tokens) != markov.Order {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("state must hold exactly %d tokens", markov.Order))
		return
	}
	state := markov.State{tokens[0], tokens[1]}
	if !m.gen.Chain().Has(state) {
		respondWithError(w, http.StatusNotFound, "State not found")
		return
	}
	respondWithJSON(w, http.StatusOK, markov.ExportedState{
		Prefix: tokens,
		Next:   m.gen.Chain().Successors(state),
	})
}

// handleGenerate runs a local generation to completion and returns the text,
// for checking the chain without an event stream. The body takes the fields of
// POST /api/generate and gets the same defaults and limits.
func (m *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeChainRead) {
		return
	}

	var raw generation.RawRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil || raw == nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	raw["provider"] = string(generation.ProviderLocal)

	cfg := m.cm.Get()
	req, err := cfg.Generation.RequestDefaults().Normalize(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := m.gen.Generate(r.Context(), req.Prompt,
		markov.WithMaxTokens(req.MaxTokens),
		markov.WithTemperature(req.Temperature),
	)
	if err != nil {
		m.logger.Debug("Local generation aborted", "error", err)
		respondWithError(w, http.StatusServiceUnavailable, fmt.Sprintf("Generation aborted: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"text": text})
}
