package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 50 << 20

var errBadName = errors.New("invalid resource name")

// ResourceHandler stores and serves the image resources referenced by image
// blocks.
type ResourceHandler struct {
	root string
}

// NewResourceHandler creates a handler rooted at the resources directory.
func NewResourceHandler(root string) *ResourceHandler {
	return &ResourceHandler{root: root}
}

// resolve maps a plain file name onto a path under the resources directory.
func (h *ResourceHandler) resolve(name string) (string, error) {
	if name == "" {
		return "", errBadName
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", errBadName
	}
	return filepath.Join(h.root, cleaned), nil
}

// ServeFile handles GET /resources/{filename}.
func (h *ResourceHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, err := h.resolve(chi.URLParam(r, "filename"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(abs); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/resources (multipart/form-data, field "file").
//
//	@Summary		Upload an image resource
//	@Tags			resources
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Resource file"
//	@Success		201		{object}	ResourceUploadResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resources [post]
func (h *ResourceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	abs, err := h.resolve(header.Filename)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := os.MkdirAll(h.root, 0o755); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create resources dir"))
		return
	}
	dst, err := os.Create(abs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to create file"))
		return
	}
	defer dst.Close()

	n, err := io.Copy(dst, file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}
	name := filepath.Base(abs)
	writeJSON(w, http.StatusCreated, ResourceUploadResponse{
		Filename: name,
		Size:     n,
		URL:      "/resources/" + name,
	})
}
