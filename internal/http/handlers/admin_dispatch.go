package handlers

import (
	"net/http"
	"strconv"

	"github.com/Delinahwakio/fantooo-dispatch/internal/escalations"
	"github.com/Delinahwakio/fantooo-dispatch/internal/operators"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// AdminDispatchHandler serves the admin read surface: escalation history
// and a live operator roster snapshot.
type AdminDispatchHandler struct {
	escalations escalations.Store
	operators   operators.Directory
	logger      *logging.Logger
}

// NewAdminDispatchHandler creates the admin dispatch handler.
func NewAdminDispatchHandler(esc escalations.Store, dir operators.Directory, logger *logging.Logger) *AdminDispatchHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminDispatchHandler{escalations: esc, operators: dir, logger: logger}
}

// EscalationsResponse is a page of escalation records.
type EscalationsResponse struct {
	Escalations []escalations.Record `json:"escalations"`
	Limit       int                  `json:"limit"`
	Offset      int                  `json:"offset"`
}

// OperatorSummary is the roster view of one operator.
type OperatorSummary struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	IsActive           bool     `json:"is_active"`
	IsAvailable        bool     `json:"is_available"`
	IsSuspended        bool     `json:"is_suspended"`
	CurrentChatCount   int      `json:"current_chat_count"`
	MaxConcurrentChats int      `json:"max_concurrent_chats"`
	Specializations    []string `json:"specializations,omitempty"`
	QualityScore       int      `json:"quality_score"`
	ReassignmentCount  int      `json:"reassignment_count"`
}

// ListEscalations returns recent escalations, newest first.
// GET /admin/escalations
func (h *AdminDispatchHandler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	records, err := h.escalations.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list escalations failed", "error", err)
		http.Error(w, "failed to list escalations", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []escalations.Record{}
	}
	writeJSON(w, http.StatusOK, EscalationsResponse{
		Escalations: records,
		Limit:       limit,
		Offset:      offset,
	})
}

// ListOperators returns the current operator roster.
// GET /admin/operators
func (h *AdminDispatchHandler) ListOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := h.operators.ListCandidates(r.Context(), nil)
	if err != nil {
		h.logger.Error("list operators failed", "error", err)
		http.Error(w, "failed to list operators", http.StatusInternalServerError)
		return
	}

	summaries := make([]OperatorSummary, 0, len(ops))
	for _, op := range ops {
		summaries = append(summaries, OperatorSummary{
			ID:                 op.ID,
			Name:               op.Name,
			IsActive:           op.IsActive,
			IsAvailable:        op.IsAvailable,
			IsSuspended:        op.IsSuspended,
			CurrentChatCount:   op.CurrentChatCount,
			MaxConcurrentChats: op.MaxConcurrentChats,
			Specializations:    op.Specializations,
			QualityScore:       op.QualityScore,
			ReassignmentCount:  op.ReassignmentCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"operators": summaries})
}
