package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"calwatch/internal/config"
	"calwatch/internal/engine"
	"calwatch/internal/flow"
	appLog "calwatch/internal/log"
	"calwatch/internal/model"
	"calwatch/internal/store"
)

// Engine is what the API reads from and drives.
type Engine interface {
	Store() *store.Store
	Configs() ([]model.CalendarConfig, error)
	Refresh(ctx context.Context, reregister bool) (engine.BatchResult, error)
	Refreshing() bool
	Now() time.Time
}

// TokenSource lists the published tokens.
type TokenSource interface {
	Published() []flow.PublishedToken
}

// Server provides the HTTP API over the engine's read model.
type Server struct {
	listen    string
	basicAuth *config.BasicAuthConfig
	engine    Engine
	tokens    TokenSource
	mux       *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, e Engine, tokens TokenSource) *Server {
	s := &Server{
		listen:    cfg.Listen,
		basicAuth: cfg.BasicAuth,
		engine:    e,
		tokens:    tokens,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	return s.basicAuth != nil && s.basicAuth.Username != "" && s.basicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.basicAuth.Username
	password := s.basicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calwatch", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /api/tokens", s.handleTokens)
	s.mux.HandleFunc("GET /api/autocomplete", s.handleAutocomplete)
	s.mux.HandleFunc("POST /api/sync", s.handleSync)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	Calendar    string    `json:"calendar"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type eventsResponse struct {
	Occurrences []occurrenceDTO `json:"occurrences"`
	Refreshing  bool            `json:"refreshing"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// handleEvents returns the active occurrences held by the engine.
//
// GET /api/events?calendar=work
//   - calendar: restrict to one calendar (404 when unknown)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Store()
	name := r.URL.Query().Get("calendar")

	var calendars []model.CalendarEvents
	if name != "" {
		events, ok := st.Events(name)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown calendar")
			return
		}
		calendars = []model.CalendarEvents{{Name: name, Events: events}}
	} else {
		calendars = st.Calendars()
	}

	dtos := make([]occurrenceDTO, 0)
	for _, c := range calendars {
		for _, occ := range c.Events {
			dtos = append(dtos, occurrenceDTO{
				Calendar:    c.Name,
				UID:         occ.UID,
				InstanceKey: occ.InstanceKey,
				Summary:     occ.Summary,
				Description: occ.Description,
				Location:    occ.Location,
				AllDay:      occ.AllDay(),
				Start:       occ.Start,
				End:         occ.End,
			})
		}
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences: dtos,
		Refreshing:  s.engine.Refreshing(),
		GeneratedAt: s.engine.Now(),
	})
}

type calendarDTO struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	Failed string `json:"failed,omitempty"`
	Events int    `json:"events"`
	Loaded bool   `json:"loaded"`
}

// handleCalendars lists the configured calendars with their last error.
// URIs are redacted; they usually carry a secret token.
func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	configs, err := s.engine.Configs()
	if err != nil {
		appLog.Error("api calendars: read settings failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read calendars")
		return
	}

	st := s.engine.Store()
	out := make([]calendarDTO, 0, len(configs))
	for _, c := range configs {
		events, ok := st.Events(c.Name)
		uri := c.URI
		if uri != "" {
			uri = appLog.RedactURL(uri)
		}
		out = append(out, calendarDTO{
			Name:   c.Name,
			URI:    uri,
			Failed: c.LastError,
			Events: len(events),
			Loaded: ok,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tokens.Published())
}

// handleAutocomplete answers calendar-name queries the same way the
// per-calendar trigger card does.
func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	names := s.engine.Store().FilterByName(r.URL.Query().Get("query"))
	out := make([]flow.Option, 0, len(names))
	for _, n := range names {
		out = append(out, flow.Option{ID: n, Name: n})
	}
	writeJSON(w, http.StatusOK, out)
}

type syncResponse struct {
	Status string              `json:"status"`
	Result *engine.BatchResult `json:"result,omitempty"`
}

// handleSync runs a refresh without token re-registration. A refresh that
// is already running is reported, not queued.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.engine.Refreshing() {
		writeJSON(w, http.StatusConflict, syncResponse{Status: "refreshing"})
		return
	}

	res, err := s.engine.Refresh(r.Context(), false)
	if errors.Is(err, engine.ErrRefreshInFlight) {
		writeJSON(w, http.StatusConflict, syncResponse{Status: "refreshing"})
		return
	}
	if err != nil {
		appLog.Error("api sync failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Status: "ok", Result: &res})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
