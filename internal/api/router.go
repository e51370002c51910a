package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// resources is the handler for image resource uploads.
func NewRouter(h *Handler, resources *ResourceHandler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/structure", h.Structure)
	r.Get("/kinds", h.Kinds)
	r.Get("/parents", h.PossibleParents)
	r.Get("/libraries", h.Libraries)
	r.Post("/libraries", h.CreateLibrary)

	r.Post("/entities", h.CreateEntity)
	r.Route("/entities/{id}", func(r chi.Router) {
		r.Get("/", h.GetEntity)
		r.Patch("/", h.UpdateEntity)
		r.Delete("/", h.DeleteEntity)
		r.Post("/bookmark", h.ToggleBookmark)
		r.Put("/params", h.SetParam)
		r.Get("/tree", h.Tree)
		r.Get("/info", h.Info)
		r.Get("/notebook", h.Notebook)
		r.Get("/backlinks", h.Backlinks)
		r.Get("/stored-params", h.StoredParams)
		r.Get("/suggestions/data", h.DataSuggestions)
		r.Get("/suggestions/graphics", h.GraphicSuggestions)
		r.Put("/buckets/{bucketID}", h.SetTargetBucket)
		r.Delete("/buckets/{bucketID}", h.UnsetTargetBucket)

		r.Post("/blocks", h.AddBlock)
		r.Get("/blocks/{blockID}", h.GetBlock)
		r.Put("/blocks/{blockID}", h.EditBlock)
		r.Delete("/blocks/{blockID}", h.DeleteBlock)
		r.Get("/blocks/{blockID}/history", h.BlockHistory)

		r.Post("/comments", h.AddComment)
		r.Post("/comments/{commentID}/replies", h.ReplyComment)
		r.Put("/comments/{commentID}/resolved", h.ResolveComment)
		r.Delete("/comments/{commentID}", h.DeleteComment)
	})

	r.Get("/buckets", h.Buckets)
	r.Post("/buckets", h.CreateBucket)
	r.Post("/instances", h.CreateInstance)
	r.Post("/instances/analysis", h.AddAnalysis)
	r.Post("/instances/star", h.ToggleStar)
	r.Get("/images/instance", h.InstanceOfImage)

	r.Get("/users", h.Users)
	r.Post("/users", h.CreateUser)
	r.Put("/users/{email}/color", h.SetUserColor)

	r.Get("/search", h.Search)

	if resources != nil {
		r.Post("/resources", resources.Upload)
	}

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
