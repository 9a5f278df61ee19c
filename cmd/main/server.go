package main

import (
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Quill/pkg/generation"
	"github.com/CTAG07/Quill/pkg/markov"
	"github.com/CTAG07/Quill/pkg/remote/claude"
	"github.com/CTAG07/Quill/pkg/remote/openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wires the generation service and the admin API onto two muxes: the
// public one serving clients and the admin one serving operators.
type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	svc         *generation.Service
	telemetry   *Telemetry
	authAPI     *AuthAPI
	markovAPI   *MarkovAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	generateAPI *GenerateAPI
	publicMux   *http.ServeMux
	apiMux      *http.ServeMux
}

// newRemote builds the configured remote provider, or returns nil when the
// backend is disabled or has no credentials.
func newRemote(cfg *RemoteConfig, logger *slog.Logger) generation.RemoteGenerator {
	switch strings.ToLower(cfg.Backend) {
	case backendOpenAI:
		if cfg.OpenAI.APIKey == "" {
			logger.Info("OpenAI backend selected without an API key; remote generation disabled")
			return nil
		}
		return openai.New(cfg.OpenAI)
	case backendClaude:
		if cfg.Claude.APIKey == "" {
			logger.Info("Claude backend selected without an API key; remote generation disabled")
			return nil
		}
		return claude.New(cfg.Claude)
	default:
		return nil
	}
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string, chain *markov.Chain, remote generation.RemoteGenerator, telemetry *Telemetry) *Server {
	config := cm.Get()

	gen := markov.NewGenerator(chain, markov.NewDefaultTokenizer())
	gen.SetLogger(logger.With(slog.String("component", "markov")))
	svc := generation.NewService(gen, remote, logger)

	server := &Server{
		cm:          cm,
		db:          db,
		logger:      logger,
		svc:         svc,
		telemetry:   telemetry,
		authAPI:     NewAuthAPI(db, logger),
		markovAPI:   NewMarkovAPI(gen, cm, logger),
		statsAPI:    NewStatsAPI(db, logger),
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		generateAPI: NewGenerateAPI(svc, cm, telemetry.Tracer(), logger),
		publicMux:   http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	svc.SetObserver(func(res generation.Result) {
		server.statsAPI.Record(res)
		server.telemetry.Record(res)
	})

	// public routes
	server.generateAPI.RegisterRoutes(server.publicMux)
	staticFs := http.FileServer(http.Dir(config.Server.StaticPath))
	server.publicMux.Handle("/static/", http.StripPrefix("/static/", staticFs))
	server.publicMux.HandleFunc("/", server.handleIndex)

	// admin routes
	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.markovAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))
	// ... except for the health check and metrics, which scrapers and orchestrators read
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	if handler := telemetry.MetricsHandler(); handler != nil {
		server.apiMux.Handle("/metrics", handler)
	}

	return server
}

// PublicHandler returns the client-facing handler, traced per request.
func (s *Server) PublicHandler() http.Handler {
	return otelhttp.NewHandler(s.publicMux, "quill.public")
}

// APIHandler returns the operator-facing handler.
func (s *Server) APIHandler() http.Handler {
	return otelhttp.NewHandler(s.apiMux, "quill.api")
}

// handleIndex serves the static index page for the root path only.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	config := s.cm.Get()
	http.ServeFile(w, r, filepath.Join(config.Server.StaticPath, "index.html"))
}

// getClientIP returns the client address, honoring X-Real-Ip and
// X-Forwarded-For only when the direct peer is a trusted proxy.
func getClientIP(r *http.Request, cm *ConfigManager) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if cm == nil || !cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	// The first IP in X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}
	return ip
}
