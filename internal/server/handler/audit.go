package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
)

// AuditHandler serves the audit-log read endpoint.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler backed by the given store.
func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		store:  store,
		logger: logger,
	}
}

// auditEntryResponse is the JSON view of one audit entry.
type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// List returns audit entries, newest first, with pagination and optional
// since/until time filters.
// GET /api/audit  (admin)
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}
	if err := auth.RequireAdmin(principal); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	entries, err := h.store.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	items := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, auditEntryResponse{
			ID:        e.ID,
			Event:     e.Event,
			Actor:     e.Actor,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": items,
	})
}
