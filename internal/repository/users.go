package repository

import (
	"cmp"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/codec"
)

// User is one entry of the lair's user directory.
type User struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
	Color string `json:"color" yaml:"color"`
}

// Validate checks the user entry.
func (u User) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Email, validation.Required, is.EmailFormat),
		validation.Field(&u.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&u.Color, is.HexColor),
	)
}

// Known reports whether email belongs to a registered user.
func (r *Repository) Known(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.manifest.Users[email]
	return ok
}

// checkUser validates a caller-supplied user. Callers hold the lock.
func (r *Repository) checkUser(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Invalid("user is required")
	}
	if _, ok := r.manifest.Users[email]; !ok {
		return apperr.Invalid("unknown user %q", email)
	}
	return nil
}

// AddUser registers a new user.
func (r *Repository) AddUser(email, name string) error {
	u := User{Email: strings.TrimSpace(email), Name: name}
	if err := u.Validate(); err != nil {
		return apperr.Invalid("repository: add user: %v", err)
	}
	return r.mutate(func(t *tx) error {
		if _, ok := r.manifest.Users[u.Email]; ok {
			return apperr.Conflict("user %s already exists", u.Email)
		}
		t.editManifest().Users[u.Email] = codec.UserEntry{Name: u.Name}
		return nil
	})
}

// Users lists the user directory ordered by email.
func (r *Repository) Users() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.manifest.Users))
	for email, u := range r.manifest.Users {
		out = append(out, User{Email: email, Name: u.Name, Color: u.Color})
	}
	slices.SortFunc(out, func(a, b User) int { return cmp.Compare(a.Email, b.Email) })
	return out
}

// SetUserColor changes the display colour of a known user.
func (r *Repository) SetUserColor(email, color string) error {
	if err := validation.Validate(color, validation.Required, is.HexColor); err != nil {
		return apperr.Invalid("repository: color: %v", err)
	}
	return r.mutate(func(t *tx) error {
		u, ok := r.manifest.Users[email]
		if !ok {
			return apperr.NotFound("user %s", email)
		}
		u.Color = color
		t.editManifest().Users[email] = u
		return nil
	})
}
