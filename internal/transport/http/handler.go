package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"ecolearn-gamification/internal/app"
	"ecolearn-gamification/internal/auth"
	"ecolearn-gamification/internal/domain"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler exposes the submission service over JSON/HTTP.
type Handler struct {
	service *app.SubmissionService
	log     *zap.Logger
}

func NewHandler(service *app.SubmissionService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{service: service, log: log}
}

// NewRouter wires every route. Everything but /healthz requires a bearer token.
func NewRouter(service *app.SubmissionService, resolver auth.Resolver, streamSize int, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := NewHandler(service, log)
	ws := NewWSHandler(service, streamSize, log)

	r := mux.NewRouter()
	r.Use(LoggerMiddleware(log))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(AuthMiddleware(resolver))
	api.HandleFunc("/quizzes/{id}/submissions", h.SubmitQuiz).Methods(http.MethodPost)
	api.HandleFunc("/quizzes/{id}/stats", h.Stats(domain.KindQuiz)).Methods(http.MethodGet)
	api.HandleFunc("/challenges/{id}/completions", h.CompleteChallenge).Methods(http.MethodPost)
	api.HandleFunc("/challenges/{id}/stats", h.Stats(domain.KindChallenge)).Methods(http.MethodGet)
	api.HandleFunc("/me/progress", h.Progress).Methods(http.MethodGet)
	api.HandleFunc("/me/badges", h.Badges).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", h.Leaderboard).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard/stats", h.LeaderboardStats).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard/users/{id}", h.RankOf).Methods(http.MethodGet)

	stream := r.PathPrefix("/ws").Subrouter()
	stream.Use(AuthMiddleware(resolver))
	stream.HandleFunc("/leaderboard", ws.ServeWS)
	return r
}

type quizSubmissionRequest struct {
	Answers        [][]string `json:"answers"`
	IdempotencyKey string     `json:"idempotencyKey"`
}

type challengeCompletionRequest struct {
	Proof          string `json:"proof"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.NewValidationError("body", "invalid JSON"))
		return
	}
	h.submit(w, r, domain.Submission{
		Kind:           domain.KindQuiz,
		ActivityID:     mux.Vars(r)["id"],
		Answers:        req.Answers,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
}

func (h *Handler) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeCompletionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.NewValidationError("body", "invalid JSON"))
			return
		}
	}
	h.submit(w, r, domain.Submission{
		Kind:           domain.KindChallenge,
		ActivityID:     mux.Vars(r)["id"],
		Proof:          req.Proof,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, sub domain.Submission) {
	userID, _ := UserID(r.Context())
	sub.UserID = userID

	res, err := h.service.Submit(r.Context(), sub)
	if err != nil {
		h.log.Debug("submission failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("stage", string(res.Stage)),
			zap.Error(err))
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.NoOp {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	view, err := h.service.Progress(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Badges(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	statuses, err := h.service.Badges(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	period := domain.PeriodAll
	if raw := r.URL.Query().Get("period"); raw != "" {
		period = domain.Period(raw)
	}
	board, err := h.service.PeriodLeaderboard(r.Context(), period, offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) LeaderboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.LeaderboardStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) RankOf(w http.ResponseWriter, r *http.Request) {
	entry, err := h.service.RankOf(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) Stats(kind domain.ActivityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.service.Stats(r.Context(), kind, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("Idempotency-Key")
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}
