package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dragonden/internal/index"
	"github.com/starford/dragonden/internal/repository"
)

// Handler holds API route handlers.
type Handler struct {
	repo *repository.Repository
	idx  index.EntityIndex
}

// NewHandler creates a new Handler. idx may be nil, in which case search
// and backlinks answer 503.
func NewHandler(repo *repository.Repository, idx index.EntityIndex) *Handler {
	return &Handler{repo: repo, idx: idx}
}

func intQuery(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// Structure handles GET /api/structure.
//
//	@Summary		Nested listing of live records below id, or of every library
//	@Tags			entities
//	@Produce		json
//	@Param			id	query		string	false	"Root entity"
//	@Success		200	{array}		repository.StructureNode
//	@Security		BearerAuth
//	@Router			/structure [get]
func (h *Handler) Structure(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.repo.Structure(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, "structure", err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

// Libraries handles GET /api/libraries.
func (h *Handler) Libraries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.repo.Libraries())
}

// CreateLibrary handles POST /api/libraries.
//
//	@Summary		Create a library
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateLibraryRequest	true	"Library to create"
//	@Success		201		{object}	EntityDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/libraries [post]
func (h *Handler) CreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req CreateLibraryRequest
	if !decode(w, r, &req) {
		return
	}
	lib, err := h.repo.CreateLibrary(req.Name, req.User)
	if err != nil {
		writeError(w, "create library", err)
		return
	}
	writeJSON(w, http.StatusCreated, entityDetail(lib))
}

// Kinds handles GET /api/kinds.
func (h *Handler) Kinds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.repo.Kinds())
}

// PossibleParents handles GET /api/parents.
func (h *Handler) PossibleParents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.repo.PossibleParents())
}

// GetEntity handles GET /api/entities/{id}.
//
//	@Summary		Get a record with rendered text blocks
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity ID"
//	@Success		200	{object}	EntityDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := h.repo.Read(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, entityDetail(e))
}

// CreateEntity handles POST /api/entities.
//
//	@Summary		Create a Notebook, Project, Task or Step
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateEntityRequest	true	"Record to create"
//	@Success		201		{object}	EntityDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities [post]
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	var req CreateEntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.repo.CreateEntity(repository.CreateRequest{
		Name:   req.Name,
		Kind:   req.Kind,
		Parent: req.Parent,
		User:   req.User,
		Under:  req.Under,
	})
	if err != nil {
		writeError(w, "create entity", err)
		return
	}
	writeJSON(w, http.StatusCreated, entityDetail(e))
}

// UpdateEntity handles PATCH /api/entities/{id}.
//
//	@Summary		Rename a record and/or replace its description
//	@Tags			entities
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Entity ID"
//	@Param			body	body		UpdateEntityRequest	true	"Changes"
//	@Success		200		{object}	EntityDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [patch]
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateEntityRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name != nil {
		if err := h.repo.RenameEntity(id, *req.Name, req.User); err != nil {
			writeError(w, "rename entity", err)
			return
		}
	}
	if req.Description != nil {
		if err := h.repo.UpdateDescription(id, *req.Description, req.User); err != nil {
			writeError(w, "update description", err)
			return
		}
	}
	h.GetEntity(w, r)
}

// DeleteEntity handles DELETE /api/entities/{id}.
//
//	@Summary		Tombstone a record
//	@Tags			entities
//	@Param			id	path	string	true	"Entity ID"
//	@Success		204	"Entity deleted"
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [delete]
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteEntity(chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete entity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleBookmark handles POST /api/entities/{id}/bookmark.
func (h *Handler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.ToggleBookmark(chi.URLParam(r, "id")); err != nil {
		writeError(w, "toggle bookmark", err)
		return
	}
	h.GetEntity(w, r)
}

// SetParam handles PUT /api/entities/{id}/params.
func (h *Handler) SetParam(w http.ResponseWriter, r *http.Request) {
	var req ParamRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.repo.SetParam(chi.URLParam(r, "id"), req.Key, req.Value); err != nil {
		writeError(w, "set param", err)
		return
	}
	h.GetEntity(w, r)
}

// Tree handles GET /api/entities/{id}/tree.
//
//	@Summary		Ascii tree below a record
//	@Tags			entities
//	@Produce		plain
//	@Param			id		path	string	true	"Entity ID"
//	@Param			depth	query	int		false	"Levels and children per level"
//	@Success		200		{string}	string
//	@Security		BearerAuth
//	@Router			/entities/{id}/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.repo.Tree(chi.URLParam(r, "id"), intQuery(r, "depth", 5))
	if err != nil {
		writeError(w, "tree", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(tree))
}

// Info handles GET /api/entities/{id}/info.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.repo.Info(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Notebook handles GET /api/entities/{id}/notebook.
func (h *Handler) Notebook(w http.ResponseWriter, r *http.Request) {
	id, err := h.repo.NotebookOf(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "notebook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across records
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	map[string][]index.SearchResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.idx == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("search index disabled"))
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	results, err := h.idx.Search(q, intQuery(r, "limit", 20))
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
	})
}

// Backlinks handles GET /api/entities/{id}/backlinks: the records that link
// to id from their text or show images of instance id.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	if h.idx == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("search index disabled"))
		return
	}
	ids, err := h.idx.Backlinks(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}
