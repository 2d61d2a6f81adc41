package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/gkobilansky/funnel-goat/internal/kpi"
	"github.com/gkobilansky/funnel-goat/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	port      int
	token     string
	tokenFile string
	opts      kpi.Options
	log       zerolog.Logger
	router    *http.ServeMux
	startTime time.Time
}

// New builds a server over s. opts is the base KPI configuration; requests may
// override join mode and ordering per call.
func New(s *store.SQLiteStore, port int, tokenFile string, opts kpi.Options, log zerolog.Logger) *Server {
	srv := &Server{
		store:     s,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		opts:      opts,
		log:       log,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)

	// API endpoints (protected)
	s.router.Handle("GET /api/experiments", s.authMiddleware(http.HandlerFunc(s.handleExperiments)))
	s.router.Handle("GET /api/experiments/{name}", s.authMiddleware(http.HandlerFunc(s.handleExperiment)))
	s.router.Handle("GET /api/experiments/{name}/kpi", s.authMiddleware(http.HandlerFunc(s.handleKPI)))
}

func (s *Server) Start() error {
	// Write token to file for the token command
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn().Err(err).Str("file", s.tokenFile).Msg("failed to write token file")
		}
	}

	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info().Str("addr", addr).Msg("fgoat API listening")

	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a fixed token if crypto/rand fails
		return "a1b2c3d4e5f60718"
	}
	return hex.EncodeToString(bytes)
}
