// Package idindex keeps the bidirectional mapping between record identifiers
// and their current file locations.
package idindex

import (
	"path"
	"strings"

	"github.com/starford/dragonden/internal/apperr"
)

// Index is two synchronized maps. It is not safe for concurrent use; the
// repository serializes access.
type Index struct {
	byLoc map[string]string
	byID  map[string]string
}

// New returns an empty index.
func New() *Index {
	return &Index{byLoc: map[string]string{}, byID: map[string]string{}}
}

// Normalize brings a location into canonical slash form.
func Normalize(loc string) string {
	if loc == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(loc, "\\", "/")), "./")
}

// Register adds both directions. Registering an existing pair again is a
// no-op; pairing either side with a different partner is a conflict.
func (x *Index) Register(id, loc string) error {
	loc = Normalize(loc)
	if id == "" || loc == "" {
		return apperr.Invalid("idindex: register: empty id or location")
	}
	curLoc, idKnown := x.byID[id]
	curID, locKnown := x.byLoc[loc]
	switch {
	case idKnown && curLoc == loc:
		return nil
	case idKnown:
		return apperr.Conflict("idindex: register: %s already at %s", id, curLoc)
	case locKnown:
		return apperr.Conflict("idindex: register: %s already owned by %s", loc, curID)
	}
	x.byID[id] = loc
	x.byLoc[loc] = id
	return nil
}

// ResolveID returns the identifier registered at loc.
func (x *Index) ResolveID(loc string) (string, error) {
	id, ok := x.byLoc[Normalize(loc)]
	if !ok {
		return "", apperr.NotFound("location %s", loc)
	}
	return id, nil
}

// ResolveLocation returns the current location of id.
func (x *Index) ResolveLocation(id string) (string, error) {
	loc, ok := x.byID[id]
	if !ok {
		return "", apperr.NotFound("identifier %s", id)
	}
	return loc, nil
}

// Has reports whether id is registered.
func (x *Index) Has(id string) bool {
	_, ok := x.byID[id]
	return ok
}

// Rebind moves id from oldLoc to newLoc. Nothing changes when it fails.
func (x *Index) Rebind(id, oldLoc, newLoc string) error {
	oldLoc, newLoc = Normalize(oldLoc), Normalize(newLoc)
	cur, ok := x.byID[id]
	if !ok {
		return apperr.NotFound("identifier %s", id)
	}
	if cur != oldLoc {
		return apperr.Conflict("idindex: rebind: %s is at %s, not %s", id, cur, oldLoc)
	}
	if owner, taken := x.byLoc[newLoc]; taken && owner != id {
		return apperr.Conflict("idindex: rebind: %s already owned by %s", newLoc, owner)
	}
	delete(x.byLoc, oldLoc)
	x.byLoc[newLoc] = id
	x.byID[id] = newLoc
	return nil
}

// Unregister drops id and its location. Unknown ids are ignored.
func (x *Index) Unregister(id string) {
	if loc, ok := x.byID[id]; ok {
		delete(x.byLoc, loc)
		delete(x.byID, id)
	}
}

// Reset discards every entry.
func (x *Index) Reset() {
	x.byLoc = map[string]string{}
	x.byID = map[string]string{}
}

// Len returns the number of registered records.
func (x *Index) Len() int { return len(x.byID) }

// Each calls fn for every pair until fn returns false. Order is unspecified.
func (x *Index) Each(fn func(id, loc string) bool) {
	for id, loc := range x.byID {
		if !fn(id, loc) {
			return
		}
	}
}
