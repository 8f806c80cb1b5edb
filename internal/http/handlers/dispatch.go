package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Delinahwakio/fantooo-dispatch/internal/chats"
	"github.com/Delinahwakio/fantooo-dispatch/internal/dispatch"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// DispatchHandler exposes the queue and assignment operations over HTTP.
type DispatchHandler struct {
	engine *dispatch.Engine
	queue  dispatch.Queue
	logger *logging.Logger
}

// NewDispatchHandler creates the dispatch API handler.
func NewDispatchHandler(engine *dispatch.Engine, queue dispatch.Queue, logger *logging.Logger) *DispatchHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DispatchHandler{engine: engine, queue: queue, logger: logger}
}

// QueueRequest is the body for queueing a chat.
type QueueRequest struct {
	PreferredOperatorID string   `json:"preferred_operator_id,omitempty"`
	ExcludeOperatorIDs  []string `json:"exclude_operator_ids,omitempty"`
	ForceHighPriority   bool     `json:"force_high_priority,omitempty"`
}

// QueueResponse reports the queued entry and the immediate assignment
// attempt that follows it.
type QueueResponse struct {
	Entry      dispatch.Entry  `json:"entry"`
	Assignment dispatch.Result `json:"assignment"`
}

// ReassignRequest is the body for reassigning a chat away from its
// current operator.
type ReassignRequest struct {
	Reason string `json:"reason"`
}

// Queue enters a chat into the queue and immediately tries to assign it.
// POST /v1/chats/{chatID}/queue
func (h *DispatchHandler) Queue(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		http.Error(w, "missing chatID", http.StatusBadRequest)
		return
	}

	var req QueueRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	entry, err := h.engine.Enqueue(r.Context(), dispatch.EnqueueRequest{
		ChatID:              chatID,
		PreferredOperatorID: req.PreferredOperatorID,
		ExcludeOperatorIDs:  req.ExcludeOperatorIDs,
		ForceHighPriority:   req.ForceHighPriority,
	})
	if err != nil {
		h.dispatchError(w, chatID, "enqueue", err)
		return
	}

	result, err := h.engine.Assign(r.Context(), chatID)
	if err != nil {
		// The chat is queued; a failed immediate attempt is not an error
		// for the caller unless the chat itself is the problem.
		if errors.Is(err, chats.ErrNotFound) || errors.Is(err, dispatch.ErrInvalidChatState) {
			h.dispatchError(w, chatID, "assign", err)
			return
		}
		h.logger.Error("immediate assignment failed", "chat_id", chatID, "error", err)
		result = dispatch.Result{Success: false, Reason: dispatch.ReasonQueued}
	}

	writeJSON(w, http.StatusOK, QueueResponse{Entry: entry, Assignment: result})
}

// Assign runs one assignment attempt for an already queued chat.
// POST /v1/chats/{chatID}/assign
func (h *DispatchHandler) Assign(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		http.Error(w, "missing chatID", http.StatusBadRequest)
		return
	}

	result, err := h.engine.Assign(r.Context(), chatID)
	if err != nil {
		h.dispatchError(w, chatID, "assign", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Reassign pulls a chat away from its current operator, escalating when
// the chat has been bounced too many times.
// POST /v1/chats/{chatID}/reassign
func (h *DispatchHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if chatID == "" {
		http.Error(w, "missing chatID", http.StatusBadRequest)
		return
	}

	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "missing reason", http.StatusBadRequest)
		return
	}

	result, err := h.engine.Reassign(r.Context(), chatID, req.Reason)
	if err != nil {
		h.dispatchError(w, chatID, "reassign", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// QueueStats returns a live snapshot of the waiting queue.
// GET /v1/queue/stats
func (h *DispatchHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed", "error", err)
		http.Error(w, "failed to read queue stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *DispatchHandler) dispatchError(w http.ResponseWriter, chatID, op string, err error) {
	switch {
	case errors.Is(err, chats.ErrNotFound):
		http.Error(w, "chat not found", http.StatusNotFound)
	case errors.Is(err, dispatch.ErrNotQueued):
		http.Error(w, "chat is not queued", http.StatusConflict)
	case errors.Is(err, dispatch.ErrInvalidChatState):
		http.Error(w, "chat is not assignable", http.StatusConflict)
	default:
		h.logger.Error("dispatch operation failed", "op", op, "chat_id", chatID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
