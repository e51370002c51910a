package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dragonden/internal/models"
	"github.com/starford/dragonden/internal/repository"
)

func blockKind(w http.ResponseWriter, name string) (models.BlockKind, bool) {
	k, ok := models.BlockKindByName[name]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown block kind "+name))
	}
	return k, ok
}

// AddBlock handles POST /api/entities/{id}/blocks.
//
//	@Summary		Attach a content block
//	@Tags			blocks
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Entity ID"
//	@Param			body	body		BlockRequest	true	"Block to add"
//	@Success		201		{object}	BlockDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id}/blocks [post]
func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decode(w, r, &req) {
		return
	}
	kind, ok := blockKind(w, req.Kind)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var (
		b   *models.ContentBlock
		err error
	)
	if kind == models.BlockImageLink {
		b, err = h.repo.AddImageLinkBlock(id, req.Path, req.InstanceID, req.User, req.Under)
	} else {
		b, err = h.repo.AddBlock(repository.BlockRequest{
			Entity:  id,
			Kind:    kind,
			Content: req.content(),
			User:    req.User,
			Under:   req.Under,
		})
	}
	if err != nil {
		writeError(w, "add block", err)
		return
	}
	writeJSON(w, http.StatusCreated, blockDetail(b))
}

// GetBlock handles GET /api/entities/{id}/blocks/{blockID}.
func (h *Handler) GetBlock(w http.ResponseWriter, r *http.Request) {
	kind, v, err := h.repo.ReadBlock(chi.URLParam(r, "id"), chi.URLParam(r, "blockID"))
	if err != nil {
		writeError(w, "get block", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":    kind.String(),
		"current": v,
	})
}

// EditBlock handles PUT /api/entities/{id}/blocks/{blockID}. Repeating the
// current content is a no-op reported as changed=false.
func (h *Handler) EditBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decode(w, r, &req) {
		return
	}
	c := req.content()
	c.Path = unescape(c.Path)
	changed, err := h.repo.EditBlock(chi.URLParam(r, "id"), chi.URLParam(r, "blockID"), c, req.User)
	if err != nil {
		writeError(w, "edit block", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

// DeleteBlock handles DELETE /api/entities/{id}/blocks/{blockID}.
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteBlock(chi.URLParam(r, "id"), chi.URLParam(r, "blockID")); err != nil {
		writeError(w, "delete block", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlockHistory handles GET /api/entities/{id}/blocks/{blockID}/history.
func (h *Handler) BlockHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.repo.BlockHistory(chi.URLParam(r, "id"), chi.URLParam(r, "blockID"))
	if err != nil {
		writeError(w, "block history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": hist})
}

// AddComment handles POST /api/entities/{id}/comments.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.repo.AddComment(chi.URLParam(r, "id"), req.Target, req.Body, req.User)
	if err != nil {
		writeError(w, "add comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ReplyComment handles POST /api/entities/{id}/comments/{commentID}/replies.
func (h *Handler) ReplyComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if !decode(w, r, &req) {
		return
	}
	reply, err := h.repo.ReplyComment(chi.URLParam(r, "id"), chi.URLParam(r, "commentID"), req.Body, req.User)
	if err != nil {
		writeError(w, "reply comment", err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

// ResolveComment handles PUT /api/entities/{id}/comments/{commentID}/resolved.
func (h *Handler) ResolveComment(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.repo.ResolveComment(chi.URLParam(r, "id"), chi.URLParam(r, "commentID"), req.Resolved); err != nil {
		writeError(w, "resolve comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteComment handles DELETE /api/entities/{id}/comments/{commentID}.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteComment(chi.URLParam(r, "id"), chi.URLParam(r, "commentID")); err != nil {
		writeError(w, "delete comment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
