package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dragonden/internal/index"
	"github.com/starford/dragonden/internal/repository"
	"github.com/starford/dragonden/internal/storage"
	"github.com/starford/dragonden/internal/testutil"
)

const alice = testutil.User

type testEnv struct {
	repo   *repository.Repository
	files  *storage.FS
	root   string
	router http.Handler
}

// newEnv sets up a temp lair, search mirror, repository and router.
// An empty token means auth is disabled.
func newEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	return newEnvWithSSE(t, token, nil)
}

func newEnvWithSSE(t *testing.T, token string, sseHandler http.Handler) *testEnv {
	t.Helper()
	root, files := testutil.TestLair(t)
	db := testutil.TestDB(t)
	mirror := index.NewMirror(db, nil)
	repo := testutil.TestRepository(t, files, repository.WithListener(mirror.Handle))
	if err := mirror.Bind(repo); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	resources := NewResourceHandler(filepath.Join(root, "resources"))
	router := NewRouter(NewHandler(repo, db), resources, token != "", token, sseHandler)
	return &testEnv{repo: repo, files: files, root: root, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

// notebook creates library L and notebook N, returning both.
func (e *testEnv) notebook(t *testing.T) (lib, nb EntityDetail) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/libraries", CreateLibraryRequest{Name: "L", User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("create library = %d, body = %s", w.Code, w.Body.String())
	}
	lib = decodeBody[EntityDetail](t, w)
	w = e.do(t, http.MethodPost, "/entities", CreateEntityRequest{Name: "N", Kind: "Notebook", Parent: lib.ID, User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("create notebook = %d, body = %s", w.Code, w.Body.String())
	}
	return lib, decodeBody[EntityDetail](t, w)
}

func TestCreateAndGetEntity(t *testing.T) {
	env := newEnv(t, "")
	lib, nb := env.notebook(t)

	w := env.do(t, http.MethodGet, "/entities/"+nb.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	got := decodeBody[EntityDetail](t, w)
	if got.Name != "N" || got.Kind != "Notebook" || got.Parent != lib.ID {
		t.Errorf("entity = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/libraries", nil)
	if libs := decodeBody[map[string]string](t, w); libs["L"] != lib.ID {
		t.Errorf("libraries = %v", libs)
	}
}

func TestCreateEntity_Rejected(t *testing.T) {
	env := newEnv(t, "")
	lib, _ := env.notebook(t)

	cases := []struct {
		name string
		req  CreateEntityRequest
		want int
	}{
		{"project under library", CreateEntityRequest{Name: "P", Kind: "Project", Parent: lib.ID, User: alice}, http.StatusBadRequest},
		{"unknown user", CreateEntityRequest{Name: "N2", Kind: "Notebook", Parent: lib.ID, User: "eve@example.com"}, http.StatusBadRequest},
		{"missing parent", CreateEntityRequest{Name: "N3", Kind: "Notebook", Parent: "ghost", User: alice}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/entities", tc.req); w.Code != tc.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	env := newEnv(t, "")
	if w := env.do(t, http.MethodGet, "/entities/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing entity = %d, want 404", w.Code)
	}
}

func TestUpdateAndDeleteEntity(t *testing.T) {
	env := newEnv(t, "")
	_, nb := env.notebook(t)

	name, desc := "Renamed", "cooldown log"
	w := env.do(t, http.MethodPatch, "/entities/"+nb.ID, UpdateEntityRequest{Name: &name, Description: &desc, User: alice})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body = %s", w.Code, w.Body.String())
	}
	got := decodeBody[EntityDetail](t, w)
	if got.Name != name || got.Description != desc || len(got.PreviousNames) != 1 {
		t.Errorf("updated = %+v", got)
	}

	w = env.do(t, http.MethodPost, "/entities/"+nb.ID+"/bookmark", nil)
	if got := decodeBody[EntityDetail](t, w); !got.Bookmarked {
		t.Error("bookmark not toggled")
	}
	w = env.do(t, http.MethodPut, "/entities/"+nb.ID+"/params", ParamRequest{Key: "fridge", Value: "BF4"})
	if got := decodeBody[EntityDetail](t, w); got.Params["fridge"] != "BF4" {
		t.Errorf("params = %v", got.Params)
	}

	if w := env.do(t, http.MethodDelete, "/entities/"+nb.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/entities/"+nb.ID, nil)
	if got := decodeBody[EntityDetail](t, w); !got.Deleted {
		t.Error("entity not tombstoned")
	}
}

func TestBlockLifecycle(t *testing.T) {
	env := newEnv(t, "")
	_, nb := env.notebook(t)
	base := "/entities/" + nb.ID + "/blocks"

	w := env.do(t, http.MethodPost, base, BlockRequest{Kind: "text", Text: "first draft", User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("add block = %d, body = %s", w.Code, w.Body.String())
	}
	blk := decodeBody[BlockDetail](t, w)
	if blk.Kind != "text" || blk.Current.Content.Text != "first draft" || blk.Versions != 1 {
		t.Errorf("block = %+v", blk)
	}

	edit := BlockRequest{Kind: "text", Text: "second draft", User: alice}
	w = env.do(t, http.MethodPut, base+"/"+blk.ID, edit)
	if got := decodeBody[map[string]bool](t, w); !got["changed"] {
		t.Errorf("first edit = %s", w.Body.String())
	}
	w = env.do(t, http.MethodPut, base+"/"+blk.ID, edit)
	if got := decodeBody[map[string]bool](t, w); got["changed"] {
		t.Error("repeated edit recorded a version")
	}

	w = env.do(t, http.MethodGet, base+"/"+blk.ID+"/history", nil)
	hist := decodeBody[struct {
		Versions []json.RawMessage `json:"versions"`
	}](t, w)
	if len(hist.Versions) != 2 {
		t.Errorf("history = %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, base+"/"+blk.ID, nil)
	if !strings.Contains(w.Body.String(), "second draft") {
		t.Errorf("read block = %s", w.Body.String())
	}

	if w := env.do(t, http.MethodPost, base, BlockRequest{Kind: "sketch", User: alice}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPost, base, BlockRequest{Kind: "image", User: alice}); w.Code != http.StatusBadRequest {
		t.Errorf("image without path = %d, want 400", w.Code)
	}

	if w := env.do(t, http.MethodDelete, base+"/"+blk.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete block = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, base+"/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing block = %d, want 404", w.Code)
	}
	w = env.do(t, http.MethodGet, "/entities/"+nb.ID, nil)
	if got := decodeBody[EntityDetail](t, w); len(got.Order) != 0 {
		t.Errorf("deleted block still ordered: %+v", got.Order)
	}
}

func TestTreeAndInfo(t *testing.T) {
	env := newEnv(t, "")
	lib, _ := env.notebook(t)

	w := env.do(t, http.MethodGet, "/entities/"+lib.ID+"/tree?depth=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tree = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if got, want := w.Body.String(), "L\n└── N\n"; got != want {
		t.Errorf("tree = %q, want %q", got, want)
	}

	w = env.do(t, http.MethodGet, "/entities/"+lib.ID+"/info", nil)
	if got := decodeBody[repository.Info](t, w); got.NumChildren != 1 {
		t.Errorf("info = %+v", got)
	}

	w = env.do(t, http.MethodGet, "/entities/"+lib.ID+"/notebook", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("notebook of library = %d, want 400", w.Code)
	}
}

func TestComments(t *testing.T) {
	env := newEnv(t, "")
	_, nb := env.notebook(t)
	base := "/entities/" + nb.ID + "/comments"

	w := env.do(t, http.MethodPost, base, CommentRequest{Body: "check the fridge log", User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("add comment = %d, body = %s", w.Code, w.Body.String())
	}
	c := decodeBody[struct {
		ID     string `json:"ID"`
		Target string `json:"target"`
	}](t, w)
	if c.Target != nb.ID {
		t.Errorf("target = %q", c.Target)
	}
	if w := env.do(t, http.MethodPost, base+"/"+c.ID+"/replies", CommentRequest{Body: "done", User: alice}); w.Code != http.StatusCreated {
		t.Errorf("reply = %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, base+"/"+c.ID+"/resolved", ResolveRequest{Resolved: true}); w.Code != http.StatusNoContent {
		t.Errorf("resolve = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/entities/"+nb.ID, nil)
	got := decodeBody[EntityDetail](t, w)
	if len(got.Comments) != 1 || !got.Comments[0].Resolved || len(got.Comments[0].Replies) != 1 {
		t.Errorf("comments = %+v", got.Comments)
	}
	if w := env.do(t, http.MethodPost, base, CommentRequest{Body: "", User: alice}); w.Code != http.StatusBadRequest {
		t.Errorf("empty comment = %d, want 400", w.Code)
	}
}

func TestUsers(t *testing.T) {
	env := newEnv(t, "")

	if w := env.do(t, http.MethodPost, "/users", UserRequest{Email: "bob@example.com", Name: "Bob"}); w.Code != http.StatusCreated {
		t.Fatalf("add user = %d, body = %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPost, "/users", UserRequest{Email: "bob@example.com", Name: "Bob"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate user = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/users/bob@example.com/color", ColorRequest{Color: "#ff8800"}); w.Code != http.StatusNoContent {
		t.Errorf("set color = %d, body = %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPut, "/users/eve@example.com/color", ColorRequest{Color: "#000000"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown user color = %d, want 404", w.Code)
	}

	w := env.do(t, http.MethodGet, "/users", nil)
	if !strings.Contains(w.Body.String(), "#ff8800") {
		t.Errorf("users = %s", w.Body.String())
	}
}

func TestBucketsAndInstances(t *testing.T) {
	env := newEnv(t, "")
	_, nb := env.notebook(t)
	for p, body := range map[string]string{
		"runs/r1/data.ddh5": "hdf5",
		"runs/r1/plot.png":  "png",
	} {
		if err := env.files.Write(p, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodPost, "/buckets", BucketRequest{Name: "B", User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("create bucket = %d, body = %s", w.Code, w.Body.String())
	}
	bucket := decodeBody[EntityDetail](t, w)
	if w := env.do(t, http.MethodPost, "/buckets", BucketRequest{Name: "B", User: alice}); w.Code != http.StatusConflict {
		t.Errorf("duplicate bucket = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/instances", InstanceRequest{Bucket: bucket.ID, DataDir: "runs#r1", User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("create instance = %d, body = %s", w.Code, w.Body.String())
	}
	inst := decodeBody[EntityDetail](t, w)

	w = env.do(t, http.MethodPost, "/instances/analysis", AnalysisRequest{DataDir: "runs/r1", Files: []string{"runs/r1/plot.png"}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("analysis = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/instances/star", StarRequest{DataDir: "runs/r1"})
	if got := decodeBody[map[string]bool](t, w); !got["starred"] {
		t.Errorf("star = %s", w.Body.String())
	}

	if w := env.do(t, http.MethodPut, "/entities/"+nb.ID+"/buckets/"+bucket.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("target bucket = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/entities/"+nb.ID+"/suggestions/data?q=r", nil)
	if got := decodeBody[map[string]string](t, w); got["r1"] != inst.ID {
		t.Errorf("data suggestions = %v", got)
	}
	w = env.do(t, http.MethodGet, "/images/instance?path=runs/r1/plot.png", nil)
	if got := decodeBody[map[string]string](t, w); got["id"] != inst.ID {
		t.Errorf("instance of image = %v", got)
	}
	if w := env.do(t, http.MethodGet, "/entities/"+nb.ID+"/stored-params", nil); w.Code != http.StatusBadRequest {
		t.Errorf("stored params of notebook = %d, want 400", w.Code)
	}
}

func TestSearchAndBacklinks(t *testing.T) {
	env := newEnv(t, "")
	_, nb := env.notebook(t)
	w := env.do(t, http.MethodPost, "/entities/"+nb.ID+"/blocks", BlockRequest{Kind: "text", Text: "resonator linewidth", User: alice})
	if w.Code != http.StatusCreated {
		t.Fatalf("add block = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/search?q=resonator", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search = %d, body = %s", w.Code, w.Body.String())
	}
	res := decodeBody[map[string][]index.SearchResult](t, w)
	if len(res["results"]) != 1 || res["results"][0].ID != nb.ID {
		t.Errorf("results = %+v", res)
	}

	w = env.do(t, http.MethodGet, "/entities/"+nb.ID+"/backlinks", nil)
	if got := decodeBody[map[string][]string](t, w); len(got["ids"]) != 0 {
		t.Errorf("backlinks = %v", got)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	env := newEnv(t, "")
	if w := env.do(t, http.MethodGet, "/search", nil); w.Code != http.StatusBadRequest {
		t.Errorf("search no query = %d, want 400", w.Code)
	}
}

func TestSearchWithoutIndex(t *testing.T) {
	_, files := testutil.TestLair(t)
	router := NewRouter(NewHandler(testutil.TestRepository(t, files), nil), nil, false, "", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search?q=x", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("search without index = %d, want 503", w.Code)
	}
}

// Auth middleware tests.

func TestAuthMiddleware_Token(t *testing.T) {
	env := newEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/structure", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/structure", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/structure", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	env := newEnv(t, "")
	if w := env.do(t, http.MethodGet, "/structure", nil); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func blockingSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := newEnvWithSSE(t, "secret", blockingSSE())
	if w := env.do(t, http.MethodGet, "/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := newEnvWithSSE(t, "tok", blockingSSE())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

// Resource tests.

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/resources", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadAndServeResource(t *testing.T) {
	env := newEnv(t, "")

	w := uploadFile(t, env.router, "fridge.png", []byte("fake-png-data"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ResourceUploadResponse](t, w)
	if resp.Filename != "fridge.png" || resp.URL != "/resources/fridge.png" {
		t.Errorf("response = %+v", resp)
	}
	data, err := os.ReadFile(filepath.Join(env.root, "resources", "fridge.png"))
	if err != nil {
		t.Fatalf("file not on disk: %v", err)
	}
	if string(data) != "fake-png-data" {
		t.Errorf("content mismatch")
	}

	rh := NewResourceHandler(filepath.Join(env.root, "resources"))
	r := chi.NewRouter()
	r.Get("/resources/{filename}", rh.ServeFile)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resources/fridge.png", nil))
	if w.Code != http.StatusOK || w.Body.String() != "fake-png-data" {
		t.Errorf("serve = %d %q", w.Code, w.Body.String())
	}
}

func TestServeResource_NotFoundAndTraversal(t *testing.T) {
	rh := NewResourceHandler(t.TempDir())
	r := chi.NewRouter()
	r.Get("/resources/{filename}", rh.ServeFile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resources/nope.png", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing resource = %d, want 404", w.Code)
	}
	for _, name := range []string{"../secret.toml", "../../etc/passwd"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resources/"+name, nil))
		if w.Code == http.StatusOK {
			t.Errorf("traversal %q should not return 200", name)
		}
	}
}

func TestUploadResource_MissingFileField(t *testing.T) {
	env := newEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/resources", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}
