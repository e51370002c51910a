package repository

import (
	"log/slog"
	"slices"

	"github.com/starford/dragonden/internal/codec"
	"github.com/starford/dragonden/internal/models"
)

type rebind struct {
	id, from, to string
}

// tx collects the records touched by one mutation. On commit it persists
// each of them through a location-keyed projection; on failure it puts the
// in-memory graph, the index and the manifest back the way they were.
type tx struct {
	r *Repository

	snaps    map[string]*models.Entity // nil value: created by this tx
	dirty    []string
	rebinds  []rebind
	obsolete []string // locations removed once every write succeeded

	manifest      *codec.Manifest
	manifestDirty bool
	images        map[string]string

	written []written // for best-effort restore
	events  []Event
}

type written struct {
	loc string
	id  string // empty for the manifest
}

func (r *Repository) begin() *tx {
	return &tx{r: r, snaps: map[string]*models.Entity{}}
}

// mutate runs fn as one transaction under the write lock and emits the
// resulting events after the lock is released.
func (r *Repository) mutate(fn func(t *tx) error) error {
	r.mu.Lock()
	t := r.begin()
	err := fn(t)
	if err == nil {
		err = t.commit()
	}
	if err != nil {
		t.rollback()
	}
	events := t.events
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.emit(events)
	return nil
}

// touch snapshots e before its first change and schedules it for writing.
func (t *tx) touch(e *models.Entity) {
	if _, seen := t.snaps[e.ID]; !seen {
		t.snaps[e.ID] = e.Clone()
	}
	if !slices.Contains(t.dirty, e.ID) {
		t.dirty = append(t.dirty, e.ID)
	}
}

// create registers a brand-new record at loc.
func (t *tx) create(e *models.Entity, loc string) error {
	if err := t.r.idx.Register(e.ID, loc); err != nil {
		return err
	}
	t.r.forest.Entities[e.ID] = e
	t.snaps[e.ID] = nil
	t.dirty = append(t.dirty, e.ID)
	return nil
}

// move rebinds id to a new location. The old file is deleted at commit.
func (t *tx) move(id, from, to string) error {
	if err := t.r.idx.Rebind(id, from, to); err != nil {
		return err
	}
	t.rebinds = append(t.rebinds, rebind{id: id, from: from, to: to})
	t.obsolete = append(t.obsolete, from)
	return nil
}

// editManifest returns the manifest for modification.
func (t *tx) editManifest() *codec.Manifest {
	if t.manifest == nil {
		m := t.r.manifest.Clone()
		t.manifest = &m
	}
	t.manifestDirty = true
	return &t.r.manifest
}

// indexImages records image ownership, remembering the previous owners.
func (t *tx) indexImage(path, instanceID string) {
	if t.images == nil {
		t.images = map[string]string{}
	}
	if _, seen := t.images[path]; !seen {
		t.images[path] = t.r.forest.Images[path]
	}
	t.r.forest.Images[path] = instanceID
}

func (t *tx) emit(typ string, e *models.Entity) {
	t.events = append(t.events, Event{Type: typ, ID: e.ID, Kind: e.Kind})
}

func (t *tx) commit() error {
	r := t.r
	for _, id := range t.dirty {
		e := r.forest.Entities[id]
		loc, err := r.idx.ResolveLocation(id)
		if err != nil {
			return err
		}
		doc, err := codec.FromEntity(e, r.idx.ResolveLocation)
		if err != nil {
			return err
		}
		sum, err := r.store.Write(doc, loc)
		if err != nil {
			return err
		}
		r.written[loc] = sum
		t.written = append(t.written, written{loc: loc, id: id})
	}
	if t.manifestDirty {
		sum, err := r.store.WriteManifest(r.manifest)
		if err != nil {
			return err
		}
		r.written[codec.ManifestLocation] = sum
		t.written = append(t.written, written{loc: codec.ManifestLocation})
	}
	for _, loc := range t.obsolete {
		if err := r.store.Remove(loc); err != nil {
			r.logger.Warn("repository: remove old record file",
				slog.String("location", loc),
				slog.String("error", err.Error()),
			)
		}
		delete(r.written, loc)
	}
	return nil
}

func (t *tx) rollback() {
	r := t.r
	for i := len(t.rebinds) - 1; i >= 0; i-- {
		rb := t.rebinds[i]
		if err := r.idx.Rebind(rb.id, rb.to, rb.from); err != nil {
			r.logger.Error("repository: rollback rebind", slog.String("id", rb.id), slog.String("error", err.Error()))
		}
	}
	for id, snap := range t.snaps {
		if snap == nil {
			delete(r.forest.Entities, id)
			r.idx.Unregister(id)
			continue
		}
		r.forest.Entities[id] = snap
	}
	if t.manifest != nil {
		r.manifest = *t.manifest
	}
	for path, prev := range t.images {
		if prev == "" {
			delete(r.forest.Images, path)
		} else {
			r.forest.Images[path] = prev
		}
	}
	t.restoreFiles()
	t.events = nil
}

// restoreFiles rewrites the files this tx already replaced so disk matches
// the restored in-memory state. Best effort: failures are logged.
func (t *tx) restoreFiles() {
	r := t.r
	for _, w := range t.written {
		var err error
		switch snap, tracked := t.snaps[w.id]; {
		case w.id == "":
			_, err = r.store.WriteManifest(r.manifest)
		case tracked && snap == nil:
			err = r.store.Remove(w.loc)
		default:
			loc, lerr := r.idx.ResolveLocation(w.id)
			if lerr != nil {
				err = lerr
				break
			}
			if loc != w.loc {
				err = r.store.Remove(w.loc)
			}
			if err == nil {
				var doc codec.Document
				if doc, err = codec.FromEntity(r.forest.Entities[w.id], r.idx.ResolveLocation); err == nil {
					_, err = r.store.Write(doc, loc)
				}
			}
		}
		if err != nil {
			r.logger.Error("repository: restore after failed write",
				slog.String("location", w.loc),
				slog.String("error", err.Error()),
			)
		}
		delete(r.written, w.loc)
	}
}
