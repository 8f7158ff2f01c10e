package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"concord.chat/internal/access"
	"concord.chat/internal/leaderboard"
	"concord.chat/internal/obs"
	"concord.chat/internal/stream"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks every backing store.
type ReadyProbe struct {
	Stores  []Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for _, s := range rp.Stores {
		if s == nil {
			continue
		}
		if err := s.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the services the API reads from.
type Deps struct {
	Probe       ReadyProbe
	Version     string
	Leaderboard *leaderboard.Service
	Access      *access.Resolver
	Events      *stream.Stream
	Logger      *zap.Logger
}

// API is the ops HTTP surface: health, metrics, read-only bot state.
type API struct {
	mux        *http.ServeMux
	deps       Deps
	log        *zap.Logger
	rateBurst  int
	ratePerSec float64
}

// Option configures an API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.ratePerSec = perSecond
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

func New(deps Deps, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		deps:       deps,
		log:        deps.Logger,
		rateBurst:  40,
		ratePerSec: 20,
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/guilds/{guild}/leaderboard", a.handleLeaderboard)
	a.mux.HandleFunc("DELETE /v1/guilds/{guild}/leaderboard", a.handleLeaderboardInvalidate)
	a.mux.HandleFunc("GET /v1/guilds/{guild}/members/{user}/rank", a.handleRank)
	a.mux.HandleFunc("GET /v1/guilds/{guild}/members/{user}/access", a.handleAccess)
	a.mux.HandleFunc("GET /v1/events/level-ups", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

// Handler wraps the mux with request ids, logging, rate limiting and metrics.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.log, h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "concord",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, r, http.StatusServiceUnavailable, fmt.Sprintf("%s unavailable", what))
}

var errMissingParam = errors.New("missing parameter")
