package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	consensusengine "hangout/contexts/hangout-planning/consensus-engine"
	domainerrors "hangout/contexts/hangout-planning/consensus-engine/domain/errors"
	consensushttp "hangout/contexts/hangout-planning/consensus-engine/transport/http"
	_ "hangout/internal/platform/httpserver/docs"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	Addr          string
	VoteRateLimit float64
	VoteRateBurst int
	EnableSwagger bool
}

type Server struct {
	mux       *http.ServeMux
	http      *http.Server
	logger    *slog.Logger
	addr      string
	consensus consensusengine.Module
	validate  *validator.Validate
	limiter   *userLimiter
}

func New(consensus consensusengine.Module, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}

	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		addr:      opts.Addr,
		consensus: consensus,
		validate:  validator.New(),
		limiter:   newUserLimiter(opts.VoteRateLimit, opts.VoteRateBurst),
	}
	s.registerRoutes(opts.EnableSwagger)
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes(enableSwagger bool) {
	if enableSwagger {
		s.mux.Handle("/swagger/", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /v1/polls", s.handleCreatePoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/state", s.handlePollState)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/options", s.handleAddOption)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/actions/{action}", s.handleTransition)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/votes", s.limited(s.handleCastVote))
	s.mux.HandleFunc("DELETE /v1/polls/{poll_id}/votes/{option_id}", s.limited(s.handleWithdrawVote))
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/votes/{option_id}/preferred", s.limited(s.handleMarkPreferred))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req consensushttp.CreatePollRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.consensus.Handler.CreatePollHandler(r.Context(), userID, req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	resp, err := s.consensus.Handler.GetPollHandler(r.Context(), r.PathValue("poll_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePollState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.consensus.Handler.PollStateHandler(
		r.Context(),
		r.PathValue("poll_id"),
		strings.TrimSpace(r.Header.Get("X-User-Id")),
	)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddOption(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req consensushttp.OptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.consensus.Handler.AddOptionHandler(r.Context(), r.PathValue("poll_id"), userID, req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.consensus.Handler.TransitionHandler(
		r.Context(),
		r.PathValue("poll_id"),
		userID,
		r.PathValue("action"),
	)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req consensushttp.CastVoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.consensus.Handler.CastVoteHandler(
		r.Context(),
		r.PathValue("poll_id"),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWithdrawVote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.consensus.Handler.WithdrawVoteHandler(
		r.Context(),
		r.PathValue("poll_id"),
		userID,
		r.PathValue("option_id"),
		r.Header.Get("Idempotency-Key"),
	)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarkPreferred(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	resp, err := s.consensus.Handler.MarkPreferredHandler(
		r.Context(),
		r.PathValue("poll_id"),
		userID,
		r.PathValue("option_id"),
		r.Header.Get("Idempotency-Key"),
	)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// limited rejects callers that exceed their per-user vote rate.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID != "" && !s.limiter.allow(userID) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many vote requests")
			return
		}
		next(w, r)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrPollNotFound):
		writeError(w, http.StatusNotFound, "poll_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrOptionNotFound):
		writeError(w, http.StatusNotFound, "option_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrPollNotActive):
		writeError(w, http.StatusConflict, "poll_not_active", err.Error())
	case errors.Is(err, domainerrors.ErrMultipleVotesDisallowed):
		writeError(w, http.StatusConflict, "multiple_votes_disallowed", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domainerrors.ErrOptionsLocked):
		writeError(w, http.StatusConflict, "options_locked", err.Error())
	case errors.Is(err, domainerrors.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, domainerrors.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domainerrors.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, domainerrors.ErrAbstentionDisallowed):
		writeError(w, http.StatusBadRequest, "abstention_disallowed", err.Error())
	case errors.Is(err, domainerrors.ErrNotEnoughOptions):
		writeError(w, http.StatusBadRequest, "not_enough_options", err.Error())
	case errors.Is(err, domainerrors.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domainerrors.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable")
	default:
		s.logger.Error("unhandled request error",
			"event", "http_unhandled_error",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return userID, true
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, consensushttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
