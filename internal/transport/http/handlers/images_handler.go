package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	authsvc "github.com/lucaszub/background-remover/internal/services/auth"
	gallerysvc "github.com/lucaszub/background-remover/internal/services/gallery"
	"github.com/lucaszub/background-remover/internal/transport/http/dto"
	httperrors "github.com/lucaszub/background-remover/internal/transport/http/errors"
)

type ImagesHandler struct {
	service *gallerysvc.Service
}

func NewImagesHandler(service *gallerysvc.Service) *ImagesHandler {
	return &ImagesHandler{service: service}
}

func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	var tags []string
	if raw := query.Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}

	result, err := h.service.List(r.Context(), identity.UserID, gallerysvc.ListQuery{
		Page:          page,
		Limit:         limit,
		Search:        query.Get("search"),
		Tags:          tags,
		FavoritesOnly: query.Get("favorites") == "true",
	})
	if err != nil {
		h.writeGalleryError(w, err)
		return
	}

	images := make([]dto.ImageResponse, 0, len(result.Images))
	for _, img := range result.Images {
		images = append(images, toImageResponse(img))
	}

	httperrors.Write(w, http.StatusOK, dto.ImageListResponse{
		Images:     images,
		Page:       result.Page,
		Limit:      result.Limit,
		TotalCount: result.TotalCount,
		TotalPages: result.TotalPages,
		HasNext:    result.HasNext,
		HasPrev:    result.HasPrev,
	})
}

func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	img, err := h.service.Get(r.Context(), identity.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeGalleryError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, toImageResponse(img))
}

func (h *ImagesHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req dto.ImageUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "INVALID_REQUEST", "invalid request body")
		return
	}

	img, err := h.service.Update(r.Context(), identity.UserID, chi.URLParam(r, "id"), gallerysvc.UpdateInput{
		Title:      req.Title,
		Tags:       req.Tags,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		h.writeGalleryError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, toImageResponse(img))
}

func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), identity.UserID, chi.URLParam(r, "id")); err != nil {
		h.writeGalleryError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ImageDeleteResponse{OK: true})
}

func (h *ImagesHandler) requireUser(w http.ResponseWriter, r *http.Request) (authsvc.Identity, bool) {
	if h.service == nil {
		writeInternal(w, "GALLERY_SERVICE_UNAVAILABLE", "gallery service is unavailable")
		return authsvc.Identity{}, false
	}
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return authsvc.Identity{}, false
	}
	return identity, true
}

func (h *ImagesHandler) writeGalleryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gallerysvc.ErrNotFound):
		writeNotFound(w, "image not found")
	case errors.Is(err, gallerysvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "request validation failed")
	default:
		writeInternal(w, "INTERNAL_ERROR", "internal server error")
	}
}

func toImageResponse(img gallerysvc.Image) dto.ImageResponse {
	rec := img.Record
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	return dto.ImageResponse{
		ID:           rec.ID,
		Title:        rec.Title,
		Tags:         tags,
		IsFavorite:   rec.IsFavorite,
		ThumbnailURL: img.ThumbnailURL,
		ProcessedURL: img.ProcessedURL,
		OriginalURL:  img.OriginalURL,
		OriginalName: rec.OriginalName,
		FileSize:     rec.FileSize,
		ContentType:  rec.ContentType,
		Width:        rec.Width,
		Height:       rec.Height,
		ProcessingMS: rec.ProcessingMS,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
