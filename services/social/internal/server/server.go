package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anaparv/anaparv-pep-project/internal/metrics"
	"github.com/anaparv/anaparv-pep-project/internal/ratelimit"
	"github.com/anaparv/anaparv-pep-project/internal/util"
	"github.com/anaparv/anaparv-pep-project/pkg/domain"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/app"
	"github.com/anaparv/anaparv-pep-project/services/social/internal/security"
)

const maxBodyBytes = 1 << 20

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

// Alerter counts suspicious account activity per client IP.
type Alerter interface {
	Observe(ctx context.Context, event, outcome, ip string) (security.AlertResult, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	Metrics            *metrics.Metrics
	RegisterLimiter    Limiter
	LoginLimiter       Limiter
	Alerter            Alerter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
}

// Server exposes the account and message endpoints.
type Server struct {
	app             *app.App
	metrics         *metrics.Metrics
	registerLimiter Limiter
	loginLimiter    Limiter
	alerter         Alerter
	router          chi.Router
}

// New constructs the server with routes configured.
// A nil cfg.Metrics falls back to the app's registry.
func New(cfg Config) *Server {
	if cfg.Metrics == nil && cfg.App != nil {
		cfg.Metrics = cfg.App.Metrics()
	}
	if cfg.App != nil && cfg.App.Metrics() != nil && cfg.Metrics != cfg.App.Metrics() {
		slog.Warn("server metrics registry differs from the app registry; domain counters will not be exposed")
	}
	s := &Server{
		app:             cfg.App,
		metrics:         cfg.Metrics,
		registerLimiter: cfg.RegisterLimiter,
		loginLimiter:    cfg.LoginLimiter,
		alerter:         cfg.Alerter,
		router:          chi.NewRouter(),
	}
	s.routes(cfg)
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Routes exposes the route tree for inspection.
func (s *Server) Routes() chi.Routes {
	return s.router
}

func (s *Server) routes(cfg Config) {
	r := s.router
	r.Use(
		util.WithRequestID,
		util.WithClientIP(cfg.TrustedProxies),
		util.WithRequestLog,
		middleware.Recoverer,
		util.WithSecurityHeaders,
		util.WithCORS(cfg.CORSAllowedOrigins),
	)
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/healthz", s.handleHealth)

	r.With(s.rateLimited(s.registerLimiter, "register")).Post("/register", s.handleRegister)
	r.With(s.rateLimited(s.loginLimiter, "login")).Post("/login", s.handleLogin)

	r.Route("/messages", func(r chi.Router) {
		r.Post("/", s.handleCreateMessage)
		r.Get("/", s.handleListMessages)
		r.Get("/{message_id}", s.handleGetMessage)
		r.Patch("/{message_id}", s.handleUpdateMessage)
		r.Delete("/{message_id}", s.handleDeleteMessage)
	})
	r.Get("/accounts/{account_id}/messages", s.handleListAccountMessages)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		util.LoggerFromContext(ctx).Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// account handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.Account
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := s.app.Accounts.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			s.observe(r, "register", security.OutcomeFail)
		}
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.Account
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := s.app.Accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrAuthentication) {
			s.observe(r, "login", security.OutcomeFail)
		}
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// message handlers
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.Message
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.app.Messages.Create(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.app.Messages.List(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleGetMessage answers 200 with an empty body for unknown ids.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "message_id")
	if !ok {
		return
	}
	msg, found, err := s.app.Messages.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type updateMessageRequest struct {
	MessageText string `json:"message_text"`
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "message_id")
	if !ok {
		return
	}
	var req updateMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := s.app.Messages.Update(r.Context(), domain.Message{ID: id, MessageText: req.MessageText})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleDeleteMessage answers with the removed message, or an empty 200 when nothing was removed.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "message_id")
	if !ok {
		return
	}
	msg, deleted, err := s.app.Messages.Delete(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if !deleted {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListAccountMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "account_id")
	if !ok {
		return
	}
	msgs, err := s.app.Messages.ListByAuthor(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) rateLimited(limiter Limiter, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + "|" + util.ClientIPFromRequest(r)
			decision := limiter.Allow(r.Context(), key)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if s.metrics != nil {
				s.metrics.RateLimited.WithLabelValues(route).Inc()
			}
			util.LoggerFromContext(r.Context()).Warn("rate limited", "route", route)
			s.observe(r, route, security.OutcomeRateLimited)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "too many requests")
		})
	}
}

// observe feeds the alerter and logs once per crossed threshold. Alerter
// failures never change the response.
func (s *Server) observe(r *http.Request, event, outcome string) {
	if s.alerter == nil {
		return
	}
	ctx := r.Context()
	logger := util.LoggerFromContext(ctx)
	ip := util.ClientIPFromRequest(r)
	result, err := s.alerter.Observe(ctx, event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Warn("security_alert",
			"event", event,
			"outcome", outcome,
			"client_ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeFailure maps domain error kinds to status codes. A missing message on
// update is a client error (400), as is any validation failure.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusBadRequest, domain.Reason(err))
	case errors.Is(err, domain.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, domain.Reason(err))
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, domain.Reason(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
