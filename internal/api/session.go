package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/activity"
)

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	Profile      string         `json:"profile"`
	State        string         `json:"state"`
	UserID       string         `json:"user_id,omitempty"`
	PendingSends int            `json:"pending_sends"`
	Activity     ActivityStatus `json:"activity"`
}

// ActivityStatus mirrors the idle monitor's inputs.
type ActivityStatus struct {
	Foreground     bool   `json:"foreground"`
	Screen         string `json:"screen,omitempty"`
	State          string `json:"state"`
	IdleClose      bool   `json:"idle_close"`
	IdleTimeout    string `json:"idle_timeout"`
	LastActivityAt int64  `json:"last_activity_at"`
}

func (h *Handler) status() StatusResponse {
	resp := StatusResponse{
		Profile:      h.Profile,
		State:        string(h.Engine.State()),
		UserID:       h.Engine.LocalUserID(),
	}
	if n, err := h.Engine.PendingSends(); err == nil {
		resp.PendingSends = n
	}
	if s, err := h.Engine.Activity(); err == nil {
		resp.Activity = ActivityStatus{
			Foreground:     s.IsAppForeground,
			Screen:         s.Screen,
			State:          s.State.String(),
			IdleClose:      s.IdleTimeout > 0,
			IdleTimeout:    s.IdleTimeout.String(),
			LastActivityAt: unixMillis(s.LastActivityAt),
		}
	}
	return resp
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Connect(r.Context()); err != nil {
		h.Logger.Warn("connect request failed", zap.Error(err))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Disconnect(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

type credentialsRequest struct {
	Token string `json:"token"`
	// Reload re-reads the configured token source instead of using Token.
	Reload bool `json:"reload,omitempty"`
}

func (h *Handler) setCredentials(w http.ResponseWriter, r *http.Request) {
	if h.Credentials == nil {
		writeError(w, http.StatusNotImplemented, "no_credentials", errors.New("credential holder not configured"))
		return
	}
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	var changed bool
	if req.Reload {
		var err error
		if changed, err = h.Credentials.Reload(); err != nil {
			writeError(w, http.StatusInternalServerError, "reload_failed", err)
			return
		}
	} else {
		if req.Token == "" {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("token is required"))
			return
		}
		changed = h.Credentials.Set(req.Token)
	}
	if changed {
		if err := h.Engine.CredentialsChanged(); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

type activityRequest struct {
	Foreground *bool `json:"foreground,omitempty"`
	// Screen is "list", "conversation", or "" to blur.
	Screen             *string `json:"screen,omitempty"`
	ActiveConversation *string `json:"active_conversation,omitempty"`
	Pulse              bool    `json:"pulse,omitempty"`
}

func (h *Handler) reportActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	var err error
	if req.Foreground != nil {
		err = h.Engine.SetForeground(*req.Foreground)
	}
	if err == nil && req.ActiveConversation != nil {
		err = h.Engine.SetActiveConversation(*req.ActiveConversation)
	} else if err == nil && req.Screen != nil {
		switch *req.Screen {
		case "":
			err = h.Engine.Blur()
		case activity.ScreenList, activity.ScreenConversation:
			err = h.Engine.Focus(*req.Screen)
		default:
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("unknown screen "+*req.Screen))
			return
		}
	}
	if err == nil && req.Pulse {
		err = h.Engine.Pulse()
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

