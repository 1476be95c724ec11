package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"farmcal/internal/calendar"
	"farmcal/internal/config"
	"farmcal/internal/httpcache"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
	"farmcal/internal/planner"
	"farmcal/internal/todo"
)

// Planner is what the API needs from the planner.
type Planner interface {
	Grid(ctx context.Context, fieldID int, ym calendar.YearMonth) (*calendar.Grid, error)
	Events(ctx context.Context, fieldID int, ym calendar.YearMonth) ([]model.Event, error)
	InvalidateRange(fieldID int, start, end time.Time)
	InvalidateField(fieldID int)
	InvalidateAll()
}

// TodoStore reads and writes single todos on the backend.
type TodoStore interface {
	Get(ctx context.Context, taskID int) (todo.Todo, error)
	Create(ctx context.Context, fieldID int, in todo.NewTodo) (todo.Todo, error)
	Update(ctx context.Context, taskID int, in todo.NewTodo) (todo.Todo, error)
	Delete(ctx context.Context, taskID int) error
}

// Server provides the HTTP API over the planner and the todo backend.
type Server struct {
	planner Planner
	todos   TodoStore
	now     func() time.Time

	mu  sync.RWMutex
	cfg *config.Config
	loc *time.Location

	mux *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, p Planner, todos TodoStore) *Server {
	s := &Server{
		planner: p,
		todos:   todos,
		now:     time.Now,
		cfg:     cfg,
		loc:     cfg.Location(),
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// SetConfig swaps in a reloaded config. Credentials and the display
// timezone take effect on the next request.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.loc = cfg.Location()
}

func (s *Server) config() (*config.Config, *time.Location) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.loc
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.basicAuthMiddleware(s.mux))
}

// basicAuthCredentials returns the configured credentials, or ok=false
// when auth is disabled. Empty username or password disables it.
func (s *Server) basicAuthCredentials() (user, pass string, ok bool) {
	cfg, _ := s.config()
	if cfg == nil || cfg.BasicAuth == nil {
		return "", "", false
	}
	if cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
		return "", "", false
	}
	return cfg.BasicAuth.Username, cfg.BasicAuth.Password, true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, enabled := s.basicAuthCredentials()
		if !enabled || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="farmcal", charset="UTF-8"`)
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

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if _, _, ok := s.basicAuthCredentials(); ok {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+addr)
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/grid", s.handleGrid)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("POST /api/fields/{field}/todos", s.handleCreateTodo)
	s.mux.HandleFunc("GET /api/todos/{id}", s.handleGetTodo)
	s.mux.HandleFunc("PUT /api/todos/{id}", s.handleUpdateTodo)
	s.mux.HandleFunc("DELETE /api/todos/{id}", s.handleDeleteTodo)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleGrid returns one laid-out month.
//
// GET /api/grid?month=2025-05&field=22
//   - month: YYYY-MM, default the current month in the configured timezone
//   - field: farmland ID, default 0 (all fields)
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	ym, field, ok := s.monthAndField(w, r)
	if !ok {
		return
	}

	g, err := s.planner.Grid(r.Context(), field, ym)
	if err != nil {
		s.writeLoadError(w, r, err, "grid", ym, field)
		return
	}
	writeJSON(w, http.StatusOK, newGridResponse(g, field))
}

// handleEvents returns the merged, normalized events a month's grid shows.
//
// GET /api/events?month=2025-05&field=22
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ym, field, ok := s.monthAndField(w, r)
	if !ok {
		return
	}

	events, err := s.planner.Events(r.Context(), field, ym)
	if err != nil {
		s.writeLoadError(w, r, err, "events", ym, field)
		return
	}

	_, loc := s.config()
	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, newEventDTO(ev, loc))
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Month:           ym.String(),
		Field:           field,
		Events:          dtos,
		DisplayTimeZone: loc.String(),
	})
}

// handleConfig returns the effective config without secrets.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, _ := s.config()
	out := *cfg
	out.BasicAuth = nil
	out.Backend.Token = ""
	// feed URLs often carry private tokens
	out.ICS = make([]config.ICSConfig, len(cfg.ICS))
	for i, src := range cfg.ICS {
		src.URL = httpcache.RedactURL(src.URL)
		out.ICS[i] = src
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateTodo adds a todo to a field.
//
// POST /api/fields/22/todos
//
//	{"title": "Weeding", "content": "...", "start": "2025-05-05", "period": 3, "kind": "task"}
func (s *Server) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	field, err := strconv.Atoi(r.PathValue("field"))
	if err != nil || field <= 0 {
		writeError(w, http.StatusBadRequest, "invalid field id")
		return
	}

	var req createTodoRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	_, loc := s.config()
	in, start, end, msg := req.validate(loc)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := s.todos.Create(r.Context(), field, in)
	if err != nil {
		appLog.Error("api create todo failed", err, "field", field)
		writeError(w, statusForBackendError(err), "failed to create todo")
		return
	}
	if in.Cycle > 0 {
		// repeats may land in any later month
		s.planner.InvalidateField(field)
	} else {
		s.planner.InvalidateRange(field, start, end)
	}

	writeJSON(w, http.StatusCreated, newTodoResponse(created, loc))
}

// handleGetTodo returns one todo as the backend currently has it.
//
// GET /api/todos/41
func (s *Server) handleGetTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := todoID(w, r)
	if !ok {
		return
	}
	t, err := s.todos.Get(r.Context(), id)
	if err != nil {
		appLog.Error("api get todo failed", err, "task_id", id)
		writeError(w, statusForBackendError(err), "failed to load todo")
		return
	}
	_, loc := s.config()
	writeJSON(w, http.StatusOK, newTodoResponse(t, loc))
}

// handleUpdateTodo replaces a todo's text and schedule. The body has the
// same shape as for create.
//
// PUT /api/todos/41
//
// Months showing the old schedule and months showing the new one are
// both invalidated.
func (s *Server) handleUpdateTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := todoID(w, r)
	if !ok {
		return
	}

	var req createTodoRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	_, loc := s.config()
	in, _, _, msg := req.validate(loc)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	old, err := s.todos.Get(r.Context(), id)
	if err != nil {
		appLog.Error("api update todo: load failed", err, "task_id", id)
		writeError(w, statusForBackendError(err), "failed to load todo")
		return
	}
	updated, err := s.todos.Update(r.Context(), id, in)
	if err != nil {
		appLog.Error("api update todo failed", err, "task_id", id)
		writeError(w, statusForBackendError(err), "failed to update todo")
		return
	}
	if updated.FieldID == 0 {
		updated.FieldID = old.FieldID
	}

	s.invalidateTodo(old, loc)
	s.invalidateTodo(updated, loc)
	writeJSON(w, http.StatusOK, newTodoResponse(updated, loc))
}

// invalidateTodo drops the cached months a todo shows up in.
func (s *Server) invalidateTodo(t todo.Todo, loc *time.Location) {
	switch {
	case t.FieldID == 0:
		s.planner.InvalidateAll()
	case t.Cycle > 0:
		s.planner.InvalidateField(t.FieldID)
	default:
		ev, err := todo.Normalize(t, loc)
		if err != nil {
			s.planner.InvalidateField(t.FieldID)
			return
		}
		s.planner.InvalidateRange(t.FieldID, ev.Start, ev.End)
	}
}

// handleDeleteTodo removes a todo.
//
// DELETE /api/todos/41?field=22
//
// field narrows cache invalidation to one farmland; without it every
// cached month is dropped.
func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	id, ok := todoID(w, r)
	if !ok {
		return
	}
	field, err := parseIntDefault(r.URL.Query().Get("field"), 0)
	if err != nil || field < 0 {
		writeError(w, http.StatusBadRequest, "invalid field id")
		return
	}

	if err := s.todos.Delete(r.Context(), id); err != nil {
		appLog.Error("api delete todo failed", err, "task_id", id)
		writeError(w, statusForBackendError(err), "failed to delete todo")
		return
	}

	if field > 0 {
		s.planner.InvalidateField(field)
	} else {
		s.planner.InvalidateAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh drops every cached month so the next request refetches.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.planner.InvalidateAll()
	appLog.Info("api refresh requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// monthAndField parses the shared month/field query parameters, writing a
// 400 on failure.
func (s *Server) monthAndField(w http.ResponseWriter, r *http.Request) (calendar.YearMonth, int, bool) {
	q := r.URL.Query()
	_, loc := s.config()

	ym := calendar.YearMonthOf(s.now().In(loc))
	if v := q.Get("month"); v != "" {
		parsed, err := calendar.ParseYearMonth(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return calendar.YearMonth{}, 0, false
		}
		ym = parsed
	}

	field, err := parseIntDefault(q.Get("field"), 0)
	if err != nil || field < 0 {
		writeError(w, http.StatusBadRequest, "invalid field id")
		return calendar.YearMonth{}, 0, false
	}
	return ym, field, true
}

func (s *Server) writeLoadError(w http.ResponseWriter, r *http.Request, err error, what string, ym calendar.YearMonth, field int) {
	switch {
	case r.Context().Err() != nil:
		// client went away
		appLog.Debug("api "+what+" abandoned", "month", ym.String(), "field", field, "err", err)
	case errors.Is(err, calendar.ErrInvalidMonth):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, planner.ErrAllSourcesFailed):
		appLog.Error("api "+what+": no source available", err, "month", ym.String(), "field", field)
		writeError(w, http.StatusBadGateway, "event sources unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		appLog.Error("api "+what+" timed out", err, "month", ym.String(), "field", field)
		writeError(w, http.StatusGatewayTimeout, "timed out loading "+what)
	default:
		appLog.Error("api "+what+" failed", err, "month", ym.String(), "field", field)
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

// todoID parses the {id} path value, writing a 400 on failure.
func todoID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid todo id")
		return 0, false
	}
	return id, true
}

func statusForBackendError(err error) int {
	var apiErr *todo.APIError
	switch {
	case errors.Is(err, todo.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, todo.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
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
