package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
	"github.com/lucaszub/background-remover/internal/services/quota"
	removalsvc "github.com/lucaszub/background-remover/internal/services/removal"
	httperrors "github.com/lucaszub/background-remover/internal/transport/http/errors"
)

type RemovalHandler struct {
	service *removalsvc.Service
}

func NewRemovalHandler(service *removalsvc.Service) *RemovalHandler {
	return &RemovalHandler{service: service}
}

// Handle accepts one multipart image, proxies it through the processing
// service and streams the resulting PNG back as a download. Quota state
// rides along in the X-Quota-* headers.
func (h *RemovalHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "REMOVAL_SERVICE_UNAVAILABLE", "removal service is unavailable")
		return
	}

	maxBytes := h.service.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+64<<10)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "failed to read uploaded file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	identity := identityFromRequest(r)

	out, err := h.service.Remove(r.Context(), removalsvc.Input{
		Identity:    identity,
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.writeRemovalError(w, identity, out.Quota, err)
		return
	}

	writeQuotaHeaders(w, out.Quota)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="background-removed.png"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Processed)
}

func (h *RemovalHandler) writeRemovalError(w http.ResponseWriter, identity quota.Identity, snap quota.Snapshot, err error) {
	switch {
	case errors.Is(err, removalsvc.ErrQuotaExceeded):
		writeQuotaHeaders(w, snap)
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.QuotaExceededError{
			Code:          "QUOTA_EXCEEDED",
			Message:       snap.Message,
			Usage:         snap.Usage,
			Limit:         snap.Limit,
			Remaining:     snap.Remaining,
			ResetAt:       snap.ResetAt,
			Plan:          string(snap.Plan),
			Authenticated: identity.Kind == quota.KindUser,
		})
	case errors.Is(err, removalsvc.ErrUnsupportedType):
		writeBadRequest(w, "VALIDATION_ERROR", "supported types are JPEG, PNG and WebP")
	case errors.Is(err, removalsvc.ErrFileTooLarge):
		writeBadRequest(w, "VALIDATION_ERROR", fmt.Sprintf("file exceeds the %d MB limit", h.service.MaxBytes()>>20))
	case errors.Is(err, removalsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "an image file is required")
	case errors.Is(err, removalsvc.ErrUpstream):
		httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
			Code:    "UPSTREAM_ERROR",
			Message: "background removal service is unavailable",
		})
	default:
		writeInternal(w, "INTERNAL_ERROR", "internal server error")
	}
}

func writeQuotaHeaders(w http.ResponseWriter, snap quota.Snapshot) {
	w.Header().Set("X-Quota-Usage", strconv.Itoa(snap.Usage))
	w.Header().Set("X-Quota-Limit", strconv.Itoa(snap.Limit))
	w.Header().Set("X-Quota-Remaining", strconv.Itoa(snap.Remaining))
}

// identityFromRequest binds the quota subject: the authenticated user
// when the middleware resolved one, the client IP otherwise.
func identityFromRequest(r *http.Request) quota.Identity {
	if identity, ok := authsvc.IdentityFromContext(r.Context()); ok {
		id := quota.UserIdentity(identity.UserID, identity.Email)
		id.IP = quota.ClientIP(r)
		return id
	}
	return quota.AnonymousIdentity(quota.ClientIP(r))
}
