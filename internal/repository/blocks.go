package repository

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/markdown"
	"github.com/starford/dragonden/internal/models"
)

// LinkRenderer rewrites markdown link targets that name a record location
// into the record's identifier. Other links are left alone.
type LinkRenderer struct {
	Resolve func(loc string) (string, bool)
}

// Render implements Renderer.
func (l LinkRenderer) Render(text string) string {
	return markdown.RewriteLinks(text, l.Resolve)
}

// BlockRequest adds a block of any kind to an entity.
type BlockRequest struct {
	Entity  string
	Kind    models.BlockKind
	Content models.Content
	User    string
	Under   string
}

// Validate checks the request shape for its block kind.
func (q BlockRequest) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Entity, validation.Required),
		validation.Field(&q.User, validation.Required),
		validation.Field(&q.Kind, validation.Required, validation.By(func(any) error {
			_, err := models.ParseBlockKind(int(q.Kind))
			return err
		})),
		validation.Field(&q.Content, validation.By(func(any) error {
			return validateContent(q.Kind, q.Content)
		})),
	)
}

func validateContent(kind models.BlockKind, c models.Content) error {
	switch kind {
	case models.BlockImage:
		return validation.ValidateStruct(&c, validation.Field(&c.Path, validation.Required))
	case models.BlockImageLink:
		return validation.ValidateStruct(&c,
			validation.Field(&c.Path, validation.Required),
			validation.Field(&c.InstanceID, validation.Required),
		)
	}
	return nil
}

// AddBlock attaches a new content block and returns a copy of it.
func (r *Repository) AddBlock(q BlockRequest) (*models.ContentBlock, error) {
	if err := q.Validate(); err != nil {
		return nil, apperr.Invalid("repository: add block: %v", err)
	}
	if q.Under == q.Entity {
		q.Under = ""
	}
	if err := r.lookup(q.Entity); err != nil {
		return nil, err
	}
	if q.Kind == models.BlockImageLink {
		if err := r.lookup(q.Content.InstanceID); err != nil {
			return nil, err
		}
	}
	var out *models.ContentBlock
	err := r.mutate(func(t *tx) error {
		if err := r.checkUser(q.User); err != nil {
			return err
		}
		e, err := r.entity(q.Entity)
		if err != nil {
			return err
		}
		if q.Kind == models.BlockImageLink {
			in, err := r.entity(q.Content.InstanceID)
			if err != nil {
				return err
			}
			if in.Kind != models.KindInstance {
				return apperr.Invalid("%s is a %s, not an Instance", in.ID, in.Kind)
			}
		}
		t.touch(e)
		b, err := e.AddBlock(q.Kind, q.Content, q.User, q.Under)
		if err != nil {
			return err
		}
		t.emit(EventUpdated, e)
		out = b.Clone()
		return nil
	})
	return out, err
}

// AddTextBlock attaches a text block.
func (r *Repository) AddTextBlock(id, text, user, under string) (*models.ContentBlock, error) {
	return r.AddBlock(BlockRequest{Entity: id, Kind: models.BlockText, Content: models.Content{Text: text}, User: user, Under: under})
}

// AddImageBlock attaches an image block for a stored resource.
func (r *Repository) AddImageBlock(id, imagePath, title, user, under string) (*models.ContentBlock, error) {
	return r.AddBlock(BlockRequest{
		Entity:  id,
		Kind:    models.BlockImage,
		Content: models.Content{Path: imagePath, Title: title},
		User:    user,
		Under:   under,
	})
}

// AddImageLinkBlock attaches a block showing an image owned by an instance.
// Links may use '#' in place of '/'.
func (r *Repository) AddImageLinkBlock(id, imagePath, instanceID, user, under string) (*models.ContentBlock, error) {
	return r.AddBlock(BlockRequest{
		Entity:  id,
		Kind:    models.BlockImageLink,
		Content: models.Content{Path: unescapePath(imagePath), InstanceID: instanceID},
		User:    user,
		Under:   under,
	})
}

// EditBlock amends a block. It reports whether a new version was recorded;
// an edit repeating the head content and author is a no-op.
func (r *Repository) EditBlock(id, blockID string, c models.Content, user string) (bool, error) {
	if err := r.lookup(id); err != nil {
		return false, err
	}
	var changed bool
	err := r.mutate(func(t *tx) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		e, err := r.entity(id)
		if err != nil {
			return err
		}
		b, err := e.Block(blockID)
		if err != nil {
			return err
		}
		if b.Deleted {
			return apperr.Invalid("content block %s is deleted", blockID)
		}
		if err := validateContent(b.Kind, c); err != nil {
			return apperr.Invalid("content block %s: %v", blockID, err)
		}
		if !b.Differs(c, user) {
			return nil
		}
		t.touch(e)
		changed = b.Amend(c, user)
		t.emit(EventUpdated, e)
		return nil
	})
	return changed, err
}

// DeleteBlock tombstones a block and hides it in the order.
func (r *Repository) DeleteBlock(id, blockID string) error {
	return r.update(id, func(_ *tx, e *models.Entity) error {
		return e.DeleteBlock(blockID)
	})
}

// ReadBlock returns the head version of a block, text rendered for display.
func (r *Repository) ReadBlock(id, blockID string) (models.BlockKind, models.Version, error) {
	if err := r.lookup(id); err != nil {
		return 0, models.Version{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entity(id)
	if err != nil {
		return 0, models.Version{}, err
	}
	b, err := e.Block(blockID)
	if err != nil {
		return 0, models.Version{}, err
	}
	v := b.Current()
	if b.Kind == models.BlockText {
		v.Content.Text = r.renderer.Render(v.Content.Text)
	}
	return b.Kind, v, nil
}

// BlockHistory returns every version of a block, oldest first.
func (r *Repository) BlockHistory(id, blockID string) ([]models.Version, error) {
	if err := r.lookup(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entity(id)
	if err != nil {
		return nil, err
	}
	b, err := e.Block(blockID)
	if err != nil {
		return nil, err
	}
	return append([]models.Version(nil), b.History...), nil
}
