package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs := h.Engine.Conversations()
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationToJSON(c, h.Engine.Typing(c.ID)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.Engine.Conversation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", errors.New("conversation "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, conversationToJSON(c, h.Engine.Typing(id)))
}

type historyRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (h *Handler) loadHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	hasMore, err := h.Engine.LoadOlderMessages(r.Context(), chi.URLParam(r, "id"), req.Limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"has_more": hasMore})
}

type privateRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) openPrivate(w http.ResponseWriter, r *http.Request) {
	var req privateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("user_id is required"))
		return
	}
	c, err := h.Engine.OpenPrivateConversation(r.Context(), req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationToJSON(c, h.Engine.Typing(c.ID)))
}
