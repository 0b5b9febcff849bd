package handlers

import (
	"net/http"
	"strconv"

	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
	"github.com/lucaszub/background-remover/internal/services/quota"
	"github.com/lucaszub/background-remover/internal/transport/http/dto"
	httperrors "github.com/lucaszub/background-remover/internal/transport/http/errors"
)

type StatsHandler struct {
	service *quota.Service
}

func NewStatsHandler(service *quota.Service) *StatsHandler {
	return &StatsHandler{service: service}
}

// Handle aggregates the caller's usage over the trailing period.
func (h *StatsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUOTA_SERVICE_UNAVAILABLE", "quota service is unavailable")
		return
	}

	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > 365 {
		days = 30
	}

	stats, err := h.service.Stats(r.Context(), identity.UserID, days)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load usage stats")
		return
	}

	usageByDay := stats.UsageByDay
	if usageByDay == nil {
		usageByDay = map[string]int{}
	}

	httperrors.Write(w, http.StatusOK, dto.StatsResponse{
		TotalUsage:          stats.TotalUsage,
		AverageFileSize:     stats.AverageFileSize,
		AverageProcessingMS: stats.AverageProcessingMS,
		UsageByDay:          usageByDay,
		PeriodDays:          days,
	})
}
