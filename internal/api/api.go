// Package api is the daemon's HTTP control surface: a chi router that
// exposes the engine to chatctl and other local clients.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/credentials"
	"github.com/matheus3301/chatsync/internal/outbound"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Deps are the handler's collaborators. DB, Credentials and Gatherer may be nil.
type Deps struct {
	Profile     string
	Engine      *intsync.Engine
	DB          *store.DB
	Credentials *credentials.Holder
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// Handler serves the control API.
type Handler struct {
	Deps
	router chi.Router
}

// NewHandler builds the router.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &Handler{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Post("/connect", h.connect)
		r.Post("/disconnect", h.disconnect)
		r.Post("/credentials", h.setCredentials)
		r.Post("/activity", h.reportActivity)
		r.Post("/private", h.openPrivate)
		r.Get("/search", h.search)
		r.Get("/events", h.streamEvents)

		r.Get("/conversations", h.listConversations)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", h.getConversation)
			r.Get("/messages", h.listMessages)
			r.Post("/messages", h.sendMessage)
			r.Post("/typing", h.setTyping)
			r.Post("/read", h.markRead)
			r.Post("/history", h.loadHistory)
		})
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var de *outbound.DeliveryError
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, "auth_failed", err)
	case errors.Is(err, outbound.ErrDeliveryTimeout):
		writeError(w, http.StatusGatewayTimeout, "delivery_timeout", err)
	case errors.As(err, &de):
		writeError(w, http.StatusUnprocessableEntity, "delivery_failed", err)
	case errors.Is(err, outbound.ErrConnectionClosed), errors.Is(err, intsync.ErrDisconnected):
		writeError(w, http.StatusServiceUnavailable, "connection_closed", err)
	case errors.Is(err, intsync.ErrMaxReconnectAttempts):
		writeError(w, http.StatusServiceUnavailable, "reconnect_exhausted", err)
	case errors.Is(err, intsync.ErrNoHistory):
		writeError(w, http.StatusNotImplemented, "no_history", err)
	case errors.Is(err, intsync.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "stopped", err)
	default:
		writeError(w, http.StatusBadGateway, "upstream", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}
