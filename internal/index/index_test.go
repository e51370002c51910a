package index

import (
	"errors"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/starford/dragonden/internal/apperr"
	"github.com/starford/dragonden/internal/models"
	"github.com/starford/dragonden/internal/repository"
	"github.com/starford/dragonden/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "dragonden-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func imageLinks(targets ...string) []Link {
	out := make([]Link, 0, len(targets))
	for _, t := range targets {
		out = append(out, Link{Target: t, Type: LinkImage})
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entities`).Scan(&count); err != nil {
		t.Fatalf("entities table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM links`).Scan(&count); err != nil {
		t.Fatalf("links table missing: %v", err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := testDB(t)
	row := EntityRow{
		ID:        "p1",
		Kind:      models.KindProject,
		Name:      "Resonator",
		Location:  "p1_Resonator.toml",
		Parent:    "n1",
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := db.UpsertEntity(row, "Resonator\nfit the ringdown", imageLinks("i1")); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	got, err := db.GetEntity("p1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Name != "Resonator" || got.Kind != models.KindProject || got.Parent != "n1" || got.Deleted {
		t.Errorf("row = %+v", got)
	}
	if _, err := db.GetEntity("nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing row: err = %v", err)
	}
}

func TestBacklinks(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntity(EntityRow{ID: "a", Kind: models.KindTask, UpdatedAt: time.Now()}, "body", imageLinks("inst"))
	_ = db.UpsertEntity(EntityRow{ID: "c", Kind: models.KindTask, UpdatedAt: time.Now()}, "body", imageLinks("inst"))
	_ = db.UpsertEntity(EntityRow{ID: "d", Kind: models.KindTask, Deleted: true, UpdatedAt: time.Now()}, "body", imageLinks("inst"))

	bl, err := db.Backlinks("inst")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 2 || bl[0] != "a" || bl[1] != "c" {
		t.Fatalf("backlinks = %v, want [a c]", bl)
	}
}

func TestDeleteEntity(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntity(EntityRow{ID: "del", Kind: models.KindStep, UpdatedAt: time.Now()}, "body", imageLinks("target"))

	if err := db.DeleteEntity("del"); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if _, err := db.GetEntity("del"); err == nil {
		t.Error("deleted row still present")
	}
	bl, _ := db.Backlinks("target")
	if len(bl) != 0 {
		t.Errorf("expected 0 backlinks after delete, got %d", len(bl))
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_ = db.UpsertEntity(EntityRow{ID: "up", Kind: models.KindTask, Name: "Old", UpdatedAt: now}, "old body", imageLinks("x"))
	_ = db.UpsertEntity(EntityRow{ID: "up", Kind: models.KindTask, Name: "New", UpdatedAt: now}, "new body", imageLinks("y"))

	got, _ := db.GetEntity("up")
	if got == nil || got.Name != "New" {
		t.Errorf("row = %+v", got)
	}
	if bl, _ := db.Backlinks("x"); len(bl) != 0 {
		t.Error("old link should be removed on upsert")
	}
	if bl, _ := db.Backlinks("y"); len(bl) != 1 {
		t.Error("new link should exist")
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntity(EntityRow{ID: "s", Kind: models.KindTask, Name: "Search Me", UpdatedAt: time.Now()}, "uniqueword appears here", nil)
	_ = db.UpsertEntity(EntityRow{ID: "gone", Kind: models.KindTask, Name: "Gone", Deleted: true, UpdatedAt: time.Now()}, "uniqueword again", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "s" || results[0].Kind != models.KindTask {
		t.Errorf("search results = %+v, want 1 hit for s", results)
	}
}

func TestRow(t *testing.T) {
	e := models.NewEntity(models.KindTask, "T", "alice", "p")
	e.Description = "about [sibling](s_S.toml)"
	if _, err := e.AddTextBlock("first draft, see [plan](p_P.toml) and [nowhere](n_N.toml)", "alice", ""); err != nil {
		t.Fatal(err)
	}
	gone, _ := e.AddTextBlock("hidden words", "alice", "")
	_ = e.DeleteBlock(gone.ID)
	if _, err := e.AddImageLinkBlock("runs/r1/plot.png", "inst", "alice", ""); err != nil {
		t.Fatal(err)
	}
	known := map[string]string{"s_S.toml": "s", "p_P.toml": "p"}
	resolve := func(loc string) (string, bool) {
		id, ok := known[loc]
		return id, ok
	}

	row, body, links := Row(e, "x_T.toml", resolve)
	if row.Location != "x_T.toml" || row.Parent != "p" {
		t.Errorf("row = %+v", row)
	}
	want := "T\nabout [sibling](s_S.toml)\nfirst draft, see [plan](p_P.toml) and [nowhere](n_N.toml)"
	if body != want {
		t.Errorf("body = %q", body)
	}
	wantLinks := []Link{
		{Target: "s", Type: LinkText},
		{Target: "p", Type: LinkText},
		{Target: "inst", Type: LinkImage},
	}
	if !slices.Equal(links, wantLinks) {
		t.Errorf("links = %v, want %v", links, wantLinks)
	}
}

func TestTextBacklinks(t *testing.T) {
	db := testDB(t)
	m := NewMirror(db, quietLogger())
	r := testRepo(t, repository.WithListener(m.Handle))
	if err := m.Bind(r); err != nil {
		t.Fatal(err)
	}
	lib, _ := r.CreateLibrary("L", alice)
	nb, err := r.CreateEntity(repository.CreateRequest{Name: "N", Kind: models.KindNotebook, Parent: lib.ID, User: alice})
	if err != nil {
		t.Fatal(err)
	}
	libLoc, _ := r.Location(lib.ID)
	if _, err := r.AddTextBlock(nb.ID, "belongs to [the library]("+libLoc+")", alice, ""); err != nil {
		t.Fatal(err)
	}
	bl, err := db.Backlinks(lib.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(bl, []string{nb.ID}) {
		t.Errorf("backlinks = %v, want [%s]", bl, nb.ID)
	}
}

const alice = "alice@example.com"

func testRepo(t *testing.T, opts ...repository.Option) *repository.Repository {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts = append(opts, repository.WithUsers(repository.User{Email: alice, Name: "Alice"}), repository.WithLogger(quietLogger()))
	r, err := repository.New(fs, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSyncRemovesStale(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntity(EntityRow{ID: "stale", Kind: models.KindTask, UpdatedAt: time.Now()}, "", nil)

	r := testRepo(t)
	lib, err := r.CreateLibrary("Physics", alice)
	if err != nil {
		t.Fatal(err)
	}
	if err := Sync(db, r, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	ids, _ := db.AllIDs()
	if _, ok := ids["stale"]; ok {
		t.Error("stale row survived sync")
	}
	if _, ok := ids[lib.ID]; !ok {
		t.Error("library not mirrored")
	}
}

func TestMirrorFollowsEvents(t *testing.T) {
	db := testDB(t)
	m := NewMirror(db, quietLogger())
	r := testRepo(t, repository.WithListener(m.Handle))
	if err := m.Bind(r); err != nil {
		t.Fatal(err)
	}

	lib, _ := r.CreateLibrary("L", alice)
	nb, err := r.CreateEntity(repository.CreateRequest{Name: "N", Kind: models.KindNotebook, Parent: lib.ID, User: alice})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddTextBlock(nb.ID, "cryostat cooldown log", alice, ""); err != nil {
		t.Fatal(err)
	}
	results, _ := db.Search("cooldown", 10)
	if len(results) != 1 || results[0].ID != nb.ID {
		t.Fatalf("search after add = %+v", results)
	}

	if err := r.RenameEntity(nb.ID, "N2", alice); err != nil {
		t.Fatal(err)
	}
	row, _ := db.GetEntity(nb.ID)
	if row == nil || row.Name != "N2" || row.Location != repository.FileName(nb.ID, "N2") {
		t.Errorf("row after rename = %+v", row)
	}

	if err := r.DeleteEntity(nb.ID); err != nil {
		t.Fatal(err)
	}
	if results, _ := db.Search("cooldown", 10); len(results) != 0 {
		t.Errorf("deleted entity still searchable: %+v", results)
	}
}
