package repository

import (
	"cmp"
	"maps"
	"path"
	"regexp"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

var nameRules = []validation.Rule{
	validation.Required,
	validation.Length(1, 200),
	validation.Match(regexp.MustCompile(`^[^/\\\x00]+$`)).Error("must not contain path separators"),
	validation.NotIn(".", ".."),
}

// FileName derives the file name of a record from its identifier and name.
func FileName(id, name string) string {
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "_" + name + ".toml"
}

// CreateRequest describes a new tree record below an existing parent.
type CreateRequest struct {
	Name   string
	Kind   models.Kind
	Parent string
	User   string
	// Under places the new record directly after this order entry.
	Under string
}

// Validate checks the request fields that need no repository state.
func (q CreateRequest) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Name, nameRules...),
		validation.Field(&q.Kind, validation.Required,
			validation.In(models.KindNotebook, models.KindProject, models.KindTask, models.KindStep)),
		validation.Field(&q.Parent, validation.Required),
		validation.Field(&q.User, validation.Required),
	)
}

// CreateLibrary adds a new top-level library.
func (r *Repository) CreateLibrary(name, user string) (*models.Entity, error) {
	if err := validation.Validate(name, nameRules...); err != nil {
		return nil, apperr.Invalid("repository: library name: %v", err)
	}
	var out *models.Entity
	err := r.mutate(func(t *tx) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		lib := models.NewEntity(models.KindLibrary, name, user, "")
		loc := FileName(lib.ID, lib.Name)
		if err := t.create(lib, loc); err != nil {
			return err
		}
		m := t.editManifest()
		m.Libraries = append(m.Libraries, loc)
		t.emit(EventCreated, lib)
		out = lib.Clone()
		return nil
	})
	return out, err
}

// CreateEntity adds a record below q.Parent. Every check runs before the
// first change, so a rejected request leaves no trace.
func (r *Repository) CreateEntity(q CreateRequest) (*models.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, apperr.Invalid("repository: create: %v", err)
	}
	var out *models.Entity
	err := r.mutate(func(t *tx) error {
		if err := r.checkUser(q.User); err != nil {
			return err
		}
		parent, err := r.entity(q.Parent)
		if err != nil {
			return err
		}
		if parent.Deleted {
			return apperr.Invalid("parent %s is deleted", parent.ID)
		}
		if !parent.Kind.CanParent(q.Kind) {
			return apperr.Invalid("a %s cannot hold a %s", parent.Kind, q.Kind)
		}
		if q.Under != "" && parent.Order.IndexOf(q.Under) < 0 {
			return apperr.NotFound("order anchor %s in %s", q.Under, parent.ID)
		}
		parentLoc, err := r.idx.ResolveLocation(parent.ID)
		if err != nil {
			return err
		}

		e := models.NewEntity(q.Kind, q.Name, q.User, parent.ID)
		t.touch(parent)
		if err := parent.AddChild(e.ID, q.Under); err != nil {
			return err
		}
		if err := t.create(e, path.Join(path.Dir(parentLoc), FileName(e.ID, e.Name))); err != nil {
			return err
		}
		t.emit(EventCreated, e)
		t.emit(EventUpdated, parent)
		out = e.Clone()
		return nil
	})
	return out, err
}

// RenameEntity gives id a new name and moves its file. Every record that
// refers to it is written again so no file keeps the old location.
func (r *Repository) RenameEntity(id, name, user string) error {
	if err := validation.Validate(name, nameRules...); err != nil {
		return apperr.Invalid("repository: rename: %v", err)
	}
	if err := r.lookup(id); err != nil {
		return err
	}
	return r.mutate(func(t *tx) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		e, err := r.entity(id)
		if err != nil {
			return err
		}
		if e.Name == name {
			return nil
		}
		oldLoc, err := r.idx.ResolveLocation(id)
		if err != nil {
			return err
		}
		newLoc := path.Join(path.Dir(oldLoc), FileName(id, name))
		if e.Kind == models.KindBucket {
			if loc, ok := r.manifest.Buckets[name]; ok && loc != oldLoc {
				return apperr.Conflict("bucket %q already exists", name)
			}
		}

		if err := t.move(id, oldLoc, newLoc); err != nil {
			return err
		}
		t.touch(e)
		e.Rename(name)

		for _, ref := range r.referrers(id) {
			t.touch(ref)
			if ref.Kind == models.KindBucket {
				delete(ref.Bucket.Instances, oldLoc)
				ref.Bucket.Instances[newLoc] = id
			}
		}
		switch e.Kind {
		case models.KindLibrary:
			m := t.editManifest()
			if i := slices.Index(m.Libraries, oldLoc); i >= 0 {
				m.Libraries[i] = newLoc
			}
		case models.KindBucket:
			m := t.editManifest()
			for bname, loc := range m.Buckets {
				if loc == oldLoc {
					delete(m.Buckets, bname)
					m.Buckets[name] = newLoc
				}
			}
		}
		t.emit(EventRenamed, e)
		return nil
	})
}

// referrers returns every record whose on-disk form mentions id.
func (r *Repository) referrers(id string) []*models.Entity {
	var out []*models.Entity
	for _, e := range r.forest.Entities {
		if e.ID == id {
			continue
		}
		switch {
		case e.Parent == id,
			slices.Contains(e.Children, id),
			slices.Contains(e.Buckets, id),
			e.Order.IndexOf(id) >= 0 && e.Order[e.Order.IndexOf(id)].Kind == models.TargetEntity,
			e.Bucket != nil && slices.Contains(slices.Collect(maps.Values(e.Bucket.Instances)), id):
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *models.Entity) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// DeleteEntity tombstones id and hides it in its parent. The record stays on
// disk and is still reached on reload. Deleting twice is a no-op.
func (r *Repository) DeleteEntity(id string) error {
	if err := r.lookup(id); err != nil {
		return err
	}
	return r.mutate(func(t *tx) error {
		e, err := r.entity(id)
		if err != nil {
			return err
		}
		if e.Kind == models.KindLibrary {
			return apperr.Invalid("libraries cannot be deleted")
		}
		if e.Deleted {
			return nil
		}
		if e.Parent != "" {
			parent, err := r.entity(e.Parent)
			if err != nil {
				return err
			}
			if e.Kind.IsTree() {
				t.touch(parent)
				if err := parent.DeleteChild(id); err != nil {
					return err
				}
				t.emit(EventUpdated, parent)
			}
		}
		t.touch(e)
		e.Deleted = true
		t.emit(EventDeleted, e)
		return nil
	})
}

// update applies fn to the live record id inside a transaction.
func (r *Repository) update(id string, fn func(t *tx, e *models.Entity) error) error {
	if err := r.lookup(id); err != nil {
		return err
	}
	return r.mutate(func(t *tx) error {
		e, err := r.entity(id)
		if err != nil {
			return err
		}
		t.touch(e)
		if err := fn(t, e); err != nil {
			return err
		}
		t.emit(EventUpdated, e)
		return nil
	})
}

// ToggleBookmark flips the bookmark flag of id.
func (r *Repository) ToggleBookmark(id string) error {
	return r.update(id, func(_ *tx, e *models.Entity) error {
		e.ToggleBookmark()
		return nil
	})
}

// UpdateDescription replaces the free-form description.
func (r *Repository) UpdateDescription(id, text, user string) error {
	return r.update(id, func(_ *tx, e *models.Entity) error {
		if err := r.checkUser(user); err != nil {
			return err
		}
		e.Description = text
		return nil
	})
}

// SetParam sets one free-form parameter.
func (r *Repository) SetParam(id, key, value string) error {
	if err := validation.Validate(key, validation.Required); err != nil {
		return apperr.Invalid("repository: param key: %v", err)
	}
	return r.update(id, func(_ *tx, e *models.Entity) error {
		e.SetParam(key, value)
		return nil
	})
}
