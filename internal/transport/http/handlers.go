package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"attempt-ledger/internal/app"
	"attempt-ledger/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"

	maxSubmissionBytes = 1 << 20
)

// NotificationFeed lists a user's recent completion signals.
type NotificationFeed interface {
	Recent(ctx context.Context, userID string, limit int64) ([]domain.CompletionSignal, error)
}

// API serves the ledger over JSON. Callers are authenticated upstream and
// identified by the X-User-ID and X-User-Role headers.
type API struct {
	submissions   *app.SubmissionService
	queries       *app.QueryGateway
	notifications NotificationFeed
}

func NewAPI(submissions *app.SubmissionService, queries *app.QueryGateway) *API {
	return &API{submissions: submissions, queries: queries}
}

// WithNotifications enables GET /me/notifications.
func (a *API) WithNotifications(feed NotificationFeed) *API {
	a.notifications = feed
	return a
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /submissions", a.submit)
	mux.HandleFunc("GET /me/results", a.selfResults)
	mux.HandleFunc("GET /admin/results", a.adminResults)
	mux.HandleFunc("GET /admin/results/{username}", a.adminDetail)
	if a.notifications != nil {
		mux.HandleFunc("GET /me/notifications", a.recentNotifications)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

type submissionRequest struct {
	TestNumber     int       `json:"test_number"`
	RoundNumber    int       `json:"round_number"`
	Score          float64   `json:"score"`
	CorrectWords   []string  `json:"correct_words"`
	IncorrectWords []string  `json:"incorrect_words"`
	SubmissionTime time.Time `json:"submission_time"`
}

type submissionResponse struct {
	AttemptNumber  int  `json:"attempt_number"`
	RoundCompleted bool `json:"round_completed"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (a *API) submit(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + headerUserID})
		return
	}
	var req submissionRequest
	body := http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	receipt, err := a.submissions.Submit(r.Context(), domain.Submission{
		UserID:         userID,
		TestNumber:     req.TestNumber,
		RoundNumber:    req.RoundNumber,
		Score:          req.Score,
		CorrectWords:   req.CorrectWords,
		IncorrectWords: req.IncorrectWords,
		SubmissionTime: req.SubmissionTime,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submissionResponse{
		AttemptNumber:  receipt.AttemptNumber,
		RoundCompleted: receipt.RoundFive,
	})
}

func (a *API) selfResults(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + headerUserID})
		return
	}
	filters, err := domain.ParseFilters(rawFilters(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := a.queries.Query(r.Context(), app.Query{Scope: app.ScopeSelf, UserID: userID, Filters: filters})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) adminResults(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	filters, err := domain.ParseFilters(rawFilters(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := a.queries.Query(r.Context(), app.Query{Scope: app.ScopeAdmin, Filters: filters})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) adminDetail(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	raw := rawFilters(r)
	raw.Username = ""
	raw.Approved = ""
	filters, err := domain.ParseFilters(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views, err := a.queries.Detail(r.Context(), r.PathValue("username"), filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) recentNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + headerUserID})
		return
	}
	signals, err := a.notifications.Recent(r.Context(), userID, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signals)
}

func rawFilters(r *http.Request) domain.RawFilters {
	q := r.URL.Query()
	return domain.RawFilters{
		Username:   q.Get("username"),
		TestNumber: q.Get("test_number"),
		TestTime:   q.Get("test_time"),
		Approved:   q.Get("approved"),
	}
}

func isAdmin(r *http.Request) bool {
	return r.Header.Get(headerUserRole) == roleAdmin
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case domain.IsRetryable(err):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("request failed, retryable")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable, retry"})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
