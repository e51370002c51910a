package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
)

// EntityRow represents a row in the entities table.
type EntityRow struct {
	ID        string
	Kind      models.Kind
	Name      string
	Location  string
	Parent    string
	Deleted   bool
	UpdatedAt time.Time
}

// Link types.
const (
	LinkImage = "image_link"
	LinkText  = "text_link"
)

// Link is one outgoing reference of an entity: an image-link block pointing
// at an instance, or a markdown link to another record.
type Link struct {
	Target string
	Type   string
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string      `json:"id"`
	Kind    models.Kind `json:"kind"`
	Name    string      `json:"name"`
	Snippet string      `json:"snippet"`
}

// UpsertEntity inserts or replaces an entity, its FTS entry and its outgoing
// links within a transaction.
func (db *DB) UpsertEntity(e EntityRow, body string, links []Link) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO entities (id, kind, name, location, parent, deleted, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind       = excluded.kind,
			name       = excluded.name,
			location   = excluded.location,
			parent     = excluded.parent,
			deleted    = excluded.deleted,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, e.ID, string(e.Kind), e.Name, e.Location, e.Parent, e.Deleted, body, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entity: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, e.ID, e.Name, body); err != nil {
		return err
	}

	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, e.ID)
	if len(links) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, type) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			if _, err := stmt.Exec(e.ID, l.Target, l.Type); err != nil {
				return fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteEntity removes an entity, its FTS entry and outgoing links.
func (db *DB) DeleteEntity(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	_, _ = tx.Exec(`DELETE FROM links WHERE source = ?`, id)
	_, _ = tx.Exec(`DELETE FROM entities WHERE id = ?`, id)

	return tx.Commit()
}

// GetEntity returns the mirrored row for id.
func (db *DB) GetEntity(id string) (*EntityRow, error) {
	var (
		row  EntityRow
		kind string
	)
	err := db.conn.QueryRow(`
		SELECT id, kind, name, location, parent, deleted, updated_at
		FROM entities WHERE id = ?
	`, id).Scan(&row.ID, &kind, &row.Name, &row.Location, &row.Parent, &row.Deleted, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("indexed entity %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get entity: %w", err)
	}
	row.Kind = models.Kind(kind)
	return &row, nil
}

// AllIDs returns every mirrored entity identifier.
func (db *DB) AllIDs() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT id FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("index: all ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// Backlinks returns the live entities that link to target, either through an
// image-link block or a markdown link in their text.
func (db *DB) Backlinks(target string) ([]string, error) {
	rows, err := db.conn.Query(`
		SELECT l.source FROM links l
		JOIN entities e ON e.id = l.source
		WHERE l.target = ? AND e.deleted = 0
		ORDER BY l.source
	`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var (
			r    SearchResult
			kind string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Name, &r.Snippet); err != nil {
			return nil, err
		}
		r.Kind = models.Kind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}
