// Package surface serves the loopback page that hosts the Kite Publisher
// script and the markup order buttons used when the script is unavailable.
package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tradedesk/internal/errors"
	"tradedesk/internal/logging"
	"tradedesk/internal/models"
	"tradedesk/internal/trading"
)

// PublisherScript is the Kite Publisher script loaded by the host page.
const PublisherScript = "https://kite.trade/publisher.js?v=3"

// Config describes the surface host.
type Config struct {
	Addr   string // host:port, port 0 picks a free port
	APIKey string // Kite Connect API key rendered into the page
}

// Anchor is one fallback order button.
type Anchor struct {
	Index int               `json:"index"`
	Attrs map[string]string `json:"attrs"`
}

// Server hosts the order-entry page on loopback.
type Server struct {
	addr   string
	apiKey string
	router chi.Router
	logger zerolog.Logger

	mu   sync.RWMutex
	legs []models.OrderLeg

	srvMu sync.Mutex
	srv   *http.Server
	url   string
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg Config, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8765"
	}
	s := &Server{
		addr:   cfg.Addr,
		apiKey: cfg.APIKey,
		logger: logging.WithComponent(logger, "surface"),
	}

	r := chi.NewRouter()
	r.Use(noStore)
	r.Get("/", s.handlePage)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/legs.json", s.handleLegs)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddLeg appends a fallback leg and returns its anchor index.
func (s *Server) AddLeg(leg models.OrderLeg) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legs = append(s.legs, leg)
	return len(s.legs) - 1
}

// SetLegs replaces the fallback legs.
func (s *Server) SetLegs(legs []models.OrderLeg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legs = append([]models.OrderLeg(nil), legs...)
}

// ClearLegs removes every fallback leg.
func (s *Server) ClearLegs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legs = nil
}

// Anchors returns the current fallback anchors in staging order.
func (s *Server) Anchors() []Anchor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Anchor, len(s.legs))
	for i, leg := range s.legs {
		out[i] = Anchor{Index: i, Attrs: trading.Attributes(leg)}
	}
	return out
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	if s.srv != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "surface listen %s", s.addr)
	}

	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.url = "http://" + ln.Addr().String()

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Surface server stopped")
		}
	}(s.srv)

	s.logger.Info().Str("url", s.url).Msg("Surface listening")
	return nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shCtx)
}

// URL returns the page URL once the server is listening.
func (s *Server) URL() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.url
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	srv := s.srv
	s.srv = nil
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		APIKey:  s.apiKey,
		Script:  PublisherScript,
		Anchors: s.Anchors(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error().Err(err).Msg("Render host page")
	}
}

func (s *Server) handleLegs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Anchors())
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

type pageData struct {
	APIKey  string
	Script  string
	Anchors []Anchor
}

var pageTemplate = template.Must(template.New("page").Parse(pageHTML))
