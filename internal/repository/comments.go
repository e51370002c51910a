package repository

import (
	"strings"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

// AddComment opens a thread on id or on one of its blocks. An empty target
// means the record itself.
func (r *Repository) AddComment(id, target, body, user string) (*models.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperr.Invalid("comment body is required")
	}
	if target == "" {
		target = id
	}
	var out *models.Comment
	err := r.update(id, func(_ *tx, e *models.Entity) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		c, err := e.AddComment(target, body, user)
		if err != nil {
			return err
		}
		out = c.Clone()
		return nil
	})
	return out, err
}

// ReplyComment appends a reply to a comment thread of id.
func (r *Repository) ReplyComment(id, commentID, body, user string) (models.Reply, error) {
	if strings.TrimSpace(body) == "" {
		return models.Reply{}, apperr.Invalid("reply body is required")
	}
	var out models.Reply
	err := r.update(id, func(_ *tx, e *models.Entity) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		c, err := e.Comment(commentID)
		if err != nil {
			return err
		}
		if c.Deleted {
			return apperr.Invalid("comment %s is deleted", commentID)
		}
		out = c.AddReply(body, user)
		return nil
	})
	return out, err
}

// ResolveComment marks a thread resolved, or open again when resolved is false.
func (r *Repository) ResolveComment(id, commentID string, resolved bool) error {
	return r.update(id, func(_ *tx, e *models.Entity) error {
		c, err := e.Comment(commentID)
		if err != nil {
			return err
		}
		c.Resolved = resolved
		return nil
	})
}

// DeleteComment tombstones a comment thread.
func (r *Repository) DeleteComment(id, commentID string) error {
	return r.update(id, func(_ *tx, e *models.Entity) error {
		c, err := e.Comment(commentID)
		if err != nil {
			return err
		}
		c.Deleted = true
		return nil
	})
}
