// Package repository is the façade over a lair: it owns the identifier
// index and the in-memory forest, and every mutation goes through it so the
// three representations (file location, identifier, object graph) stay in
// step.
package repository

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/codec"
	"github.com/starford/dragonden/internal/idindex"
	"github.com/starford/dragonden/internal/loader"
	"github.com/starford/dragonden/internal/models"
	"github.com/starford/dragonden/internal/storage"
)

// Event types emitted to listeners.
const (
	EventCreated = "entity.created"
	EventUpdated = "entity.updated"
	EventDeleted = "entity.deleted"
	EventRenamed = "entity.renamed"
	EventReset   = "lair.reset"
)

// Event describes one committed change.
type Event struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Kind models.Kind `json:"kind,omitempty"`
}

// Renderer turns stored text into its displayable form.
type Renderer interface {
	Render(text string) string
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithListener registers fn to be called after every committed change.
// Listeners run outside the repository lock.
func WithListener(fn func(Event)) Option {
	return func(r *Repository) { r.listeners = append(r.listeners, fn) }
}

// WithRenderer replaces the default link renderer.
func WithRenderer(rd Renderer) Option {
	return func(r *Repository) { r.renderer = rd }
}

// WithUsers seeds the user directory. Users already known keep their entry.
func WithUsers(users ...User) Option {
	return func(r *Repository) { r.seed = append(r.seed, users...) }
}

// Repository is safe for concurrent use: queries share a read lock and
// mutations are serialized.
type Repository struct {
	mu       sync.RWMutex
	store    *codec.Store
	files    storage.Provider
	idx      *idindex.Index
	loader   *loader.Loader
	forest   *loader.Forest
	manifest codec.Manifest

	bucketsReady atomic.Bool

	// written holds the checksum of the last write per location.
	written map[string]string

	logger    *slog.Logger
	renderer  Renderer
	listeners []func(Event)
	seed      []User
}

// New opens the lair served by files and loads it.
func New(files storage.Provider, opts ...Option) (*Repository, error) {
	r := &Repository{
		store:   codec.NewStore(files),
		files:   files,
		written: map[string]string{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.renderer == nil {
		r.renderer = LinkRenderer{Resolve: r.resolveLocked}
	}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset discards the index and the in-memory graph and rebuilds both from
// disk. On failure the previous state is kept.
func (r *Repository) Reset() error {
	r.mu.Lock()
	err := r.resetLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.emit([]Event{{Type: EventReset}})
	return nil
}

func (r *Repository) resetLocked() error {
	m, ok, err := r.store.ReadManifest()
	if err != nil {
		return err
	}
	dirty := !ok
	if !ok {
		m = codec.NewManifest(models.NewID(), "lair")
	}
	for _, u := range r.seed {
		if _, known := m.Users[u.Email]; !known {
			m.Users[u.Email] = codec.UserEntry{Name: u.Name, Color: u.Color}
			dirty = true
		}
	}

	idx := idindex.New()
	ld := loader.New(r.store, idx, r.logger)
	forest, err := ld.Load(m.Libraries)
	if err != nil {
		return err
	}
	if dirty {
		sum, err := r.store.WriteManifest(m)
		if err != nil {
			return err
		}
		r.written[codec.ManifestLocation] = sum
	}

	r.idx, r.loader, r.forest, r.manifest = idx, ld, forest, m
	r.bucketsReady.Store(false)
	return nil
}

// loadBuckets initialises every bucket listed in the manifest on first use.
func (r *Repository) loadBuckets() error {
	if r.bucketsReady.Load() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadBucketsLocked()
}

func (r *Repository) loadBucketsLocked() error {
	if r.bucketsReady.Load() {
		return nil
	}
	for name, loc := range r.manifest.Buckets {
		if _, err := r.loader.InitBucket(r.forest, loc); err != nil {
			return fmt.Errorf("repository: init bucket %s: %w", name, err)
		}
	}
	r.bucketsReady.Store(true)
	return nil
}

func (r *Repository) emit(events []Event) {
	for _, ev := range events {
		for _, fn := range r.listeners {
			fn(ev)
		}
	}
}

// entity returns the live record. Callers hold the lock.
func (r *Repository) entity(id string) (*models.Entity, error) {
	e, ok := r.forest.Entities[id]
	if !ok {
		return nil, apperr.NotFound("entity %s", id)
	}
	return e, nil
}

// lookup finds id, initialising buckets when it is not yet known.
func (r *Repository) lookup(id string) error {
	r.mu.RLock()
	_, ok := r.forest.Entities[id]
	r.mu.RUnlock()
	if ok {
		return nil
	}
	return r.loadBuckets()
}

// Get returns a copy of the record with identifier id.
func (r *Repository) Get(id string) (*models.Entity, error) {
	if err := r.lookup(id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entity(id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// Read returns a copy of the record with the head of every text block
// passed through the renderer.
func (r *Repository) Read(id string) (*models.Entity, error) {
	e, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range e.Blocks {
		if b.Kind == models.BlockText {
			head := &b.History[len(b.History)-1]
			head.Content.Text = r.renderer.Render(head.Content.Text)
		}
	}
	return e, nil
}

// Location returns the current file location of id.
func (r *Repository) Location(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.ResolveLocation(id)
}

// ResolveLocation returns the identifier stored at loc.
func (r *Repository) ResolveLocation(loc string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.ResolveID(loc)
}

func (r *Repository) resolveLocked(loc string) (string, bool) {
	id, err := r.idx.ResolveID(loc)
	return id, err == nil
}

// Len returns the number of loaded records.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.Len()
}

// Entities returns a copy of every loaded record with its location, sorted
// by location.
func (r *Repository) Entities() []Located {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Located, 0, len(r.forest.Entities))
	for id, e := range r.forest.Entities {
		loc, _ := r.idx.ResolveLocation(id)
		out = append(out, Located{Entity: e.Clone(), Location: loc})
	}
	slices.SortFunc(out, func(a, b Located) int { return cmp.Compare(a.Location, b.Location) })
	return out
}

// Located pairs a record with its file location.
type Located struct {
	Entity   *models.Entity
	Location string
}

// Owns reports whether the file state described by sum at loc was produced
// by the repository itself. An empty sum describes a removed file, which is
// owned when no loaded record lives at loc any more.
func (r *Repository) Owns(loc, sum string) bool {
	loc = idindex.Normalize(loc)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sum == "" {
		if loc == codec.ManifestLocation {
			return false
		}
		_, err := r.idx.ResolveID(loc)
		return err != nil
	}
	return r.written[loc] == sum
}
