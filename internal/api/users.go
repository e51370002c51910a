package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// Users handles GET /api/users.
func (h *Handler) Users(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.repo.Users())
}

// CreateUser handles POST /api/users.
//
//	@Summary		Register a user
//	@Tags			users
//	@Accept			json
//	@Param			body	body	UserRequest	true	"User"
//	@Success		201		"User created"
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/users [post]
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.repo.AddUser(req.Email, req.Name); err != nil {
		writeError(w, "create user", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// SetUserColor handles PUT /api/users/{email}/color.
func (h *Handler) SetUserColor(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid email"))
		return
	}
	var req ColorRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.repo.SetUserColor(email, req.Color); err != nil {
		writeError(w, "set user color", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
