package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jmoretti/tokenvest/internal/auth"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/kyc"
)

// KycService defines the methods the KYC handler requires from the
// aggregator.
type KycService interface {
	Recompute(ctx context.Context, userID string) (domain.KycStatus, error)
	BatchRecompute(ctx context.Context, userIDs []string) []kyc.BatchResult
}

// KycHandler serves KYC aggregation endpoints.
type KycHandler struct {
	service KycService
	users   domain.UserStore
	logger  *slog.Logger
}

// NewKycHandler creates a KycHandler with the given service and logger.
func NewKycHandler(service KycService, users domain.UserStore, logger *slog.Logger) *KycHandler {
	return &KycHandler{
		service: service,
		users:   users,
		logger:  logger,
	}
}

// Recompute re-derives one user's KYC status from their documents.
// POST /api/kyc/recompute/{userID}  (admin)
func (h *KycHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}
	if err := auth.RequireAdmin(principal); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	userID := pathParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	status, err := h.service.Recompute(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"userId":    userID,
		"kycStatus": status,
	})
}

// batchRecomputeRequest is the JSON body for a batch recompute.
type batchRecomputeRequest struct {
	UserIDs []string `json:"userIds"`
}

// batchItemResponse is the per-user outcome in a batch recompute response.
type batchItemResponse struct {
	UserID    string           `json:"userId"`
	KycStatus domain.KycStatus `json:"kycStatus,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// BatchRecompute re-derives KYC status for a list of users sequentially.
// Per-user failures are reported in the response, not as a request failure.
// POST /api/kyc/recompute  (admin)
func (h *KycHandler) BatchRecompute(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}
	if err := auth.RequireAdmin(principal); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var req batchRecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "userIds is required")
		return
	}

	results := h.service.BatchRecompute(r.Context(), req.UserIDs)

	items := make([]batchItemResponse, 0, len(results))
	failed := 0
	for _, res := range results {
		item := batchItemResponse{UserID: res.UserID, KycStatus: res.Status}
		if res.Err != nil {
			item.Error = res.Err.Error()
			item.KycStatus = ""
			failed++
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   len(items),
		"failed":  failed,
		"results": items,
	})
}

// Status returns the caller's own stored KYC status.
// GET /api/kyc/status  (self)
func (h *KycHandler) Status(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeDomainError(w, r, h.logger, domain.ErrUnauthenticated)
		return
	}

	user, err := h.users.GetByID(r.Context(), principal.UserID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"userId":    user.ID,
		"kycStatus": user.KycStatus,
	})
}
