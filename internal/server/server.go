// Package server exposes a Hub over HTTP: the live websocket endpoint,
// health reporting, server-side publishing and development tokens.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/urfave/negroni"
	"golang.org/x/sync/errgroup"

	"github.com/Miravalier/NonsensePage-sub001/internal/auth"
	"github.com/Miravalier/NonsensePage-sub001/internal/hub"
	"github.com/Miravalier/NonsensePage-sub001/internal/version"
)

const maxBodyBytes = 1 << 20

// Config configures the HTTP front of a hub.
type Config struct {
	Listen          string
	Path            string        // Live websocket endpoint
	AllowedOrigins  []string      // CORS origins (empty allows any)
	DevTokens       bool          // Serve POST /api/token without credentials
	TokenTTL        time.Duration // Lifetime of issued dev tokens
	ShutdownTimeout time.Duration
}

// Server routes HTTP traffic to a Hub.
type Server struct {
	cfg     Config
	hub     *hub.Hub
	issuer  *auth.Issuer
	logger  *slog.Logger
	started time.Time
}

// New creates a Server. issuer both verifies bearer tokens on the publish
// endpoint and signs development tokens.
func New(cfg Config, h *hub.Hub, issuer *auth.Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:     cfg,
		hub:     h,
		issuer:  issuer,
		logger:  logger,
		started: time.Now(),
	}
}

// Handler returns the routed handler wrapped in recovery, access logging
// and CORS middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle(s.cfg.Path, s.hub).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/pools/{pool}", s.publish).Methods(http.MethodPost)
	if s.cfg.DevTokens {
		r.HandleFunc("/api/token", s.issueToken).Methods(http.MethodPost)
	}

	recovery := negroni.NewRecovery()
	recovery.Logger = slog.NewLogLogger(s.logger.Handler(), slog.LevelError)
	recovery.PrintStack = false

	n := negroni.New()
	n.Use(recovery)
	n.Use(negroni.HandlerFunc(s.accessLog))
	n.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	n.UseHandler(r)
	return n
}

// Run serves until ctx is cancelled, then closes the hub and drains
// in-flight HTTP requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Listen, "path", s.cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		// Upgraded sockets are hijacked and invisible to Shutdown.
		s.hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) accessLog(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	nw, ok := w.(negroni.ResponseWriter)
	if !ok {
		nw = negroni.NewResponseWriter(w)
	}
	next(nw, r)
	s.logger.Debug("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", nw.Status(),
		"size", nw.Size(),
		"duration", time.Since(start),
	)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": version.Get(),
		"hub": map[string]any{
			"clients":       st.Clients,
			"authenticated": st.Authenticated,
			"pools":         st.Pools,
			"published":     st.Published,
			"auth_failures": st.AuthFailures,
			"slow_clients":  st.SlowClients,
		},
	})
}

// publish broadcasts the request body into a pool. Requires an admin token.
func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	claims, err := s.bearer(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if !claims.Admin {
		writeError(w, http.StatusForbidden, "admin token required")
		return
	}

	pool := mux.Vars(r)["pool"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	if _, ok := payload["type"]; !ok {
		payload["type"] = json.RawMessage(`"update"`)
	}

	n, err := s.hub.Publish(pool, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("published over http", "pool", pool, "delivered", n, "user", claims.UserID())
	writeJSON(w, http.StatusOK, map[string]any{"pool": pool, "delivered": n})
}

type tokenRequest struct {
	User  string `json:"user"`
	Admin bool   `json:"admin"`
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid token request")
		return
	}
	if strings.TrimSpace(req.User) == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	token, err := s.issuer.Issue(req.User, req.Admin, s.cfg.TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("issued dev token", "user", req.User, "admin", req.Admin)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) bearer(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, auth.ErrNoToken
	}
	return s.issuer.Verify(token)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
