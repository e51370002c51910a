package index

// EntityIndex defines the search mirror operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type EntityIndex interface {
	UpsertEntity(row EntityRow, body string, links []Link) error
	DeleteEntity(id string) error
	GetEntity(id string) (*EntityRow, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target string) ([]string, error)
	AllIDs() (map[string]struct{}, error)
	Close() error
}

// Verify *DB satisfies EntityIndex at compile time.
var _ EntityIndex = (*DB)(nil)
