//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
			id UNINDEXED,
			name,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id, name, body string) error {
	_, _ = tx.Exec(`DELETE FROM entities_fts WHERE id = ?`, id)
	_, err := tx.Exec(`INSERT INTO entities_fts (id, name, body) VALUES (?, ?, ?)`, id, name, body)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id string) {
	_, _ = tx.Exec(`DELETE FROM entities_fts WHERE id = ?`, id)
}

// Search performs an FTS5 full-text search and returns live matches with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT f.id,
		       e.kind,
		       f.name,
		       snippet(entities_fts, 2, '<b>', '</b>', '...', 64)
		FROM entities_fts f
		JOIN entities e ON e.id = f.id
		WHERE entities_fts MATCH ? AND e.deleted = 0
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
