// Package api exposes the match-history and database diagnostic endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"macrocoach/internal/db"
	"macrocoach/internal/matches"
	"macrocoach/internal/platform/logging"

	"go.uber.org/zap"
)

type MatchStore interface {
	Insert(ctx context.Context, m matches.NewMatch) (matches.Record, db.RoutingDecision, error)
	Recent(ctx context.Context, limit int) ([]matches.Record, db.RoutingDecision, error)
	Latest(ctx context.Context) (matches.Record, db.RoutingDecision, error)
}

type HealthReporter interface {
	Report(ctx context.Context) map[string]db.EndpointHealth
}

type Handler struct {
	log    *zap.Logger
	store  MatchStore
	health HealthReporter
	now    func() time.Time
}

func New(log *zap.Logger, store MatchStore, health HealthReporter) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{log: log, store: store, health: health, now: time.Now}
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/match", h.createMatch)
	mux.HandleFunc("GET /api/history", h.history)
	mux.HandleFunc("GET /db/status", h.status)
	mux.HandleFunc("POST /db/write-test", h.writeTest)
	mux.HandleFunc("GET /db/read-test", h.readTest)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps routing-layer errors: an unreachable endpoint is 503,
// everything else (including QueryError) is 500.
func statusFor(err error) int {
	if db.IsConnectionError(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	fields := []zap.Field{zap.Int("http.status", status), zap.Error(err)}
	var ce *db.ConnectionError
	var qe *db.QueryError
	switch {
	case errors.As(err, &ce):
		fields = append(fields, zap.String("endpoint", ce.Decision.Endpoint), zap.String("host", ce.Decision.Host))
	case errors.As(err, &qe):
		fields = append(fields, zap.String("endpoint", qe.Decision.Endpoint), zap.String("host", qe.Decision.Host))
	}
	logging.FromTrace(r.Context(), h.log).Error(msg, fields...)
	writeJSON(w, status, errorBody{Error: msg, Details: err.Error()})
}

func (h *Handler) createMatch(w http.ResponseWriter, r *http.Request) {
	var in matches.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "Validation failed",
			Details: []string{fmt.Sprintf("Invalid JSON body: %v", err)},
		})
		return
	}
	m, err := matches.Validate(in)
	if err != nil {
		var ve *matches.ValidationError
		errors.As(err, &ve)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Details: ve.Details})
		return
	}

	rec, _, err := h.store.Insert(r.Context(), m)
	if err != nil {
		h.fail(w, r, "Failed to add match", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type historyResponse struct {
	Source string           `json:"source"`
	Data   []matches.Record `json:"data"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	recs, d, err := h.store.Recent(r.Context(), matches.HistoryLimit)
	if err != nil {
		h.fail(w, r, "Failed to fetch history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Source: d.Host, Data: recs})
}

type statusResponse struct {
	Status      string                       `json:"status"`
	Connections map[string]bool              `json:"connections"`
	Endpoints   map[string]db.EndpointHealth `json:"endpoints"`
	Message     string                       `json:"message"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	rep := h.health.Report(r.Context())

	resp := statusResponse{
		Status:      "success",
		Connections: make(map[string]bool, len(rep)),
		Endpoints:   rep,
	}
	down, replicas := 0, 0
	for name, e := range rep {
		resp.Connections[name] = e.Up
		if !e.Up {
			down++
		}
		if e.Role == db.RoleReplica {
			replicas++
		}
	}

	code := http.StatusOK
	if down > 0 {
		code = http.StatusServiceUnavailable
		resp.Status = "degraded"
		resp.Message = fmt.Sprintf("%d of %d databases unreachable.", down, len(rep))
	} else {
		resp.Message = fmt.Sprintf("API is connected to all %d databases (Primary + %d Replicas).", len(rep), replicas)
	}
	writeJSON(w, code, resp)
}

type writeTestResponse struct {
	HostUsed   string  `json:"host_used"`
	Role       db.Role `json:"role"`
	InsertedID int64   `json:"inserted_id"`
	Timestamp  string  `json:"timestamp"`
}

func (h *Handler) writeTest(w http.ResponseWriter, r *http.Request) {
	rec, d, err := h.store.Insert(r.Context(), matches.NewMatch{
		SummonerName: "Test Summoner",
		Champion:     "Test Champion",
		KDA:          matches.DefaultKDA,
		Win:          matches.DefaultWin,
	})
	if err != nil {
		h.fail(w, r, "Write operation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, writeTestResponse{
		HostUsed:   d.Host,
		Role:       d.Role,
		InsertedID: rec.ID,
		Timestamp:  h.now().UTC().Format(time.RFC3339Nano),
	})
}

type readTestResponse struct {
	HostUsed string         `json:"host_used"`
	Role     db.Role        `json:"role"`
	Data     matches.Record `json:"data"`
}

func (h *Handler) readTest(w http.ResponseWriter, r *http.Request) {
	rec, d, err := h.store.Latest(r.Context())
	if errors.Is(err, matches.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No data found in matches table"})
		return
	}
	if err != nil {
		h.fail(w, r, "Read operation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, readTestResponse{HostUsed: d.Host, Role: d.Role, Data: rec})
}
