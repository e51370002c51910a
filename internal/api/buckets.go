package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dragonden/internal/repository"
)

// unescape turns the '#'-for-'/' path form used in URLs back into a path.
func unescape(p string) string { return strings.ReplaceAll(p, "#", "/") }

// Buckets handles GET /api/buckets.
func (h *Handler) Buckets(w http.ResponseWriter, _ *http.Request) {
	buckets, err := h.repo.Buckets()
	if err != nil {
		writeError(w, "buckets", err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// CreateBucket handles POST /api/buckets.
//
//	@Summary		Create a data bucket
//	@Tags			data
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BucketRequest	true	"Bucket to create"
//	@Success		201		{object}	EntityDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/buckets [post]
func (h *Handler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	var req BucketRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.repo.AddBucket(req.Name, req.User, req.Dir)
	if err != nil {
		writeError(w, "create bucket", err)
		return
	}
	writeJSON(w, http.StatusCreated, entityDetail(b))
}

// SetTargetBucket handles PUT /api/entities/{id}/buckets/{bucketID}.
func (h *Handler) SetTargetBucket(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.SetTargetBucket(chi.URLParam(r, "id"), chi.URLParam(r, "bucketID")); err != nil {
		writeError(w, "set target bucket", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsetTargetBucket handles DELETE /api/entities/{id}/buckets/{bucketID}.
func (h *Handler) UnsetTargetBucket(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.UnsetTargetBucket(chi.URLParam(r, "id"), chi.URLParam(r, "bucketID")); err != nil {
		writeError(w, "unset target bucket", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateInstance handles POST /api/instances.
//
//	@Summary		Register a dataset directory with a bucket
//	@Tags			data
//	@Accept			json
//	@Produce		json
//	@Param			body	body		InstanceRequest	true	"Dataset"
//	@Success		201		{object}	EntityDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/instances [post]
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req InstanceRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := h.repo.AddInstance(repository.InstanceRequest{
		Bucket:  req.Bucket,
		DataDir: unescape(req.DataDir),
		User:    req.User,
		Start:   req.Start,
		End:     req.End,
	})
	if err != nil {
		writeError(w, "create instance", err)
		return
	}
	writeJSON(w, http.StatusCreated, entityDetail(in))
}

// AddAnalysis handles POST /api/instances/analysis.
func (h *Handler) AddAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.repo.AddAnalysisFiles(unescape(req.DataDir), req.Files); err != nil {
		writeError(w, "add analysis", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleStar handles POST /api/instances/star.
func (h *Handler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	var req StarRequest
	if !decode(w, r, &req) {
		return
	}
	starred, err := h.repo.ToggleStar(req.DataDir)
	if err != nil {
		writeError(w, "toggle star", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"starred": starred})
}

// DataSuggestions handles GET /api/entities/{id}/suggestions/data.
func (h *Handler) DataSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.DataSuggestions(chi.URLParam(r, "id"), r.URL.Query().Get("q"), intQuery(r, "n", 10))
	if err != nil {
		writeError(w, "data suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GraphicSuggestions handles GET /api/entities/{id}/suggestions/graphics.
func (h *Handler) GraphicSuggestions(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.GraphicSuggestions(chi.URLParam(r, "id"), r.URL.Query().Get("q"), intQuery(r, "n", 10))
	if err != nil {
		writeError(w, "graphic suggestions", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// StoredParams handles GET /api/entities/{id}/stored-params.
func (h *Handler) StoredParams(w http.ResponseWriter, r *http.Request) {
	out, err := h.repo.StoredParams(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "stored params", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// InstanceOfImage handles GET /api/images/instance?path=.
func (h *Handler) InstanceOfImage(w http.ResponseWriter, r *http.Request) {
	id, err := h.repo.InstanceOfImage(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, "instance of image", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
