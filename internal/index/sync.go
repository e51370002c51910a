package index

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/markdown"
	"github.com/starford/dragonden/internal/models"
	"github.com/starford/dragonden/internal/repository"
)

// Source is the read side of the repository the mirror copies from.
type Source interface {
	Entities() []repository.Located
	Get(id string) (*models.Entity, error)
	Location(id string) (string, error)
	ResolveLocation(loc string) (string, error)
}

// Row flattens a record into its mirrored row, its searchable body (name,
// description and the current version of every live block) and its outgoing
// links. resolve maps a markdown link target onto a record ID; targets it
// does not know are not recorded.
func Row(e *models.Entity, loc string, resolve func(loc string) (string, bool)) (EntityRow, string, []Link) {
	row := EntityRow{
		ID:        e.ID,
		Kind:      e.Kind,
		Name:      e.Name,
		Location:  loc,
		Parent:    e.Parent,
		Deleted:   e.Deleted,
		UpdatedAt: e.EndTime,
	}
	parts := []string{e.Name}
	var links []Link
	addText := func(text string) {
		parts = append(parts, text)
		for _, target := range markdown.Links(text) {
			if id, ok := resolve(target); ok && id != e.ID {
				links = append(links, Link{Target: id, Type: LinkText})
			}
		}
	}
	if e.Description != "" {
		addText(e.Description)
	}
	for _, b := range e.Blocks {
		if b.Deleted {
			continue
		}
		c := b.Current().Content
		switch b.Kind {
		case models.BlockImage:
			if c.Title != "" {
				parts = append(parts, c.Title)
			}
		case models.BlockImageLink:
			links = append(links, Link{Target: c.InstanceID, Type: LinkImage})
		case models.BlockText:
			addText(c.Text)
		default:
			parts = append(parts, c.Text)
		}
		if v := b.Current().Time; v.After(row.UpdatedAt) {
			row.UpdatedAt = v
		}
	}
	return row, strings.Join(parts, "\n"), links
}

// resolver adapts src to the lookup Row needs.
func resolver(src Source) func(string) (string, bool) {
	return func(loc string) (string, bool) {
		id, err := src.ResolveLocation(loc)
		return id, err == nil
	}
}

// Sync brings the mirror in line with src:
//   - every loaded record is upserted
//   - rows whose record is gone are deleted
func Sync(db *DB, src Source, logger *slog.Logger) error {
	ids, err := db.AllIDs()
	if err != nil {
		return err
	}

	live := src.Entities()
	resolve := resolver(src)
	seen := make(map[string]struct{}, len(live))
	for _, l := range live {
		seen[l.Entity.ID] = struct{}{}
		row, body, links := Row(l.Entity, l.Location, resolve)
		if err := db.UpsertEntity(row, body, links); err != nil {
			logger.Warn("sync: index failed", slog.String("id", row.ID), slog.String("error", err.Error()))
		}
	}

	for id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := db.DeleteEntity(id); err != nil {
			logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("id", id))
		}
	}
	logger.Info("sync: done", slog.Int("entities", len(live)))
	return nil
}

// Mirror keeps a DB in step with repository events. Register Handle as a
// repository listener, then Bind the repository.
type Mirror struct {
	db     *DB
	logger *slog.Logger

	mu  sync.Mutex
	src Source
}

// NewMirror creates a Mirror writing to db.
func NewMirror(db *DB, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{db: db, logger: logger}
}

// Bind sets the repository to read from and runs a full sync.
func (m *Mirror) Bind(src Source) error {
	m.mu.Lock()
	m.src = src
	m.mu.Unlock()
	return Sync(m.db, src, m.logger)
}

// Handle applies one repository event. Events arriving before Bind are
// dropped; Bind syncs everything anyway.
func (m *Mirror) Handle(ev repository.Event) {
	m.mu.Lock()
	src := m.src
	m.mu.Unlock()
	if src == nil {
		return
	}
	start := time.Now()
	if ev.Type == repository.EventReset {
		if err := Sync(m.db, src, m.logger); err != nil {
			m.logger.Error("mirror: resync failed", slog.String("error", err.Error()))
		}
		return
	}

	e, err := src.Get(ev.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		if err := m.db.DeleteEntity(ev.ID); err != nil {
			m.logger.Warn("mirror: delete failed", slog.String("id", ev.ID), slog.String("error", err.Error()))
		}
		return
	}
	if err != nil {
		m.logger.Warn("mirror: get failed", slog.String("id", ev.ID), slog.String("error", err.Error()))
		return
	}
	loc, err := src.Location(ev.ID)
	if err != nil {
		m.logger.Warn("mirror: locate failed", slog.String("id", ev.ID), slog.String("error", err.Error()))
		return
	}
	row, body, links := Row(e, loc, resolver(src))
	if err := m.db.UpsertEntity(row, body, links); err != nil {
		m.logger.Warn("mirror: upsert failed", slog.String("id", ev.ID), slog.String("error", err.Error()))
		return
	}
	m.logger.Debug("mirror: indexed",
		slog.String("id", ev.ID),
		slog.String("event", ev.Type),
		slog.Duration("took", time.Since(start)),
	)
}
