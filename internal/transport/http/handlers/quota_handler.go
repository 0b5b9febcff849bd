package handlers

import (
	"net/http"

	"github.com/lucaszub/background-remover/internal/services/quota"
	"github.com/lucaszub/background-remover/internal/transport/http/dto"
	httperrors "github.com/lucaszub/background-remover/internal/transport/http/errors"
)

type QuotaHandler struct {
	service *quota.Service
}

func NewQuotaHandler(service *quota.Service) *QuotaHandler {
	return &QuotaHandler{service: service}
}

// Handle reports the quota state for the caller without charging it.
func (h *QuotaHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUOTA_SERVICE_UNAVAILABLE", "quota service is unavailable")
		return
	}

	identity := identityFromRequest(r)
	snap, err := h.service.Check(r.Context(), identity)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load quota state")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.QuotaResponse{
		Authenticated: identity.Kind == quota.KindUser,
		Plan:          string(snap.Plan),
		Usage:         snap.Usage,
		Limit:         snap.Limit,
		Remaining:     snap.Remaining,
		CanUse:        snap.CanUse,
		ResetAt:       snap.ResetAt,
		MonthlyUsage:  snap.MonthlyUsage,
		MonthlyLimit:  snap.MonthlyLimit,
		Percentage:    snap.Percentage,
		Status:        string(snap.Status),
		Message:       snap.Message,
	})
}
