package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs := h.Engine.Messages(chi.URLParam(r, "id"))
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n < len(msgs) {
			msgs = msgs[len(msgs)-n:]
		}
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("text is required"))
		return
	}
	id, err := h.Engine.SendText(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendResponse{MessageID: id})
}

type typingRequest struct {
	Typing bool `json:"typing"`
}

func (h *Handler) setTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.Engine.SendTyping(chi.URLParam(r, "id"), req.Typing); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readRequest struct {
	// MessageID acknowledges one message; empty marks the whole conversation read.
	MessageID string `json:"message_id,omitempty"`
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	if req.MessageID != "" {
		err = h.Engine.SendReadReceipt(id, req.MessageID)
	} else {
		err = h.Engine.MarkConversationRead(id)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		writeError(w, http.StatusNotImplemented, "no_store", errors.New("message store not configured"))
		return
	}
	q := r.URL.Query()
	if q.Get("q") == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("q is required"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	results, err := h.DB.SearchMessages(q.Get("q"), q.Get("conversation"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search_failed", err)
		return
	}
	out := make([]Message, 0, len(results))
	for _, res := range results {
		out = append(out, messageToJSON(res.Message))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}
