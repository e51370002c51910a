package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/dragonden/internal/index"
	"github.com/starford/dragonden/internal/models"
	"github.com/starford/dragonden/internal/repository"
	"github.com/starford/dragonden/internal/storage"
	"github.com/starford/dragonden/internal/testutil"
)

type fixture struct {
	srv       *Server
	repo      *repository.Repository
	resources *storage.FS
	notebook  string
}

func testServer(t *testing.T) *fixture {
	t.Helper()
	_, files := testutil.TestLair(t)
	db := testutil.TestDB(t)
	mirror := index.NewMirror(db, nil)
	repo := testutil.TestRepository(t, files, repository.WithListener(mirror.Handle))
	if err := mirror.Bind(repo); err != nil {
		t.Fatal(err)
	}
	resources, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	lib, err := repo.CreateLibrary("Lab", testutil.User)
	if err != nil {
		t.Fatal(err)
	}
	nb, err := repo.CreateEntity(repository.CreateRequest{Name: "Cooldowns", Kind: models.KindNotebook, Parent: lib.ID, User: testutil.User})
	if err != nil {
		t.Fatal(err)
	}

	srv := New(repo, WithIndex(db), WithResources(resources), WithDefaultUser(testutil.User))
	return &fixture{srv: srv, repo: repo, resources: resources, notebook: nb.ID}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"get_structure":       srv.getStructure,
		"read_entity":         srv.readEntity,
		"create_entity":       srv.createEntity,
		"add_text_block":      srv.addTextBlock,
		"edit_text_block":     srv.editTextBlock,
		"get_record_contract": srv.getRecordContract,
		"search":              srv.search,
		"get_backlinks":       srv.getBacklinks,
		"add_image":           srv.addImage,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// createdID extracts the ID from "created <kind> <name>: <id>".
func createdID(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	text := resultText(r)
	i := strings.LastIndex(text, ": ")
	if r.IsError || i < 0 {
		t.Fatalf("create result = %q", text)
	}
	return text[i+2:]
}

func TestCreateAndReadEntity(t *testing.T) {
	f := testServer(t)

	id := createdID(t, callTool(t, f.srv, "create_entity", map[string]any{
		"name":   "Run 12",
		"kind":   "Project",
		"parent": f.notebook,
	}))
	r := callTool(t, f.srv, "add_text_block", map[string]any{"id": id, "text": "base temperature 9 mK"})
	if r.IsError {
		t.Fatalf("add block: %s", resultText(r))
	}

	r = callTool(t, f.srv, "read_entity", map[string]any{"id": id})
	var got entityView
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
	if got.Name != "Run 12" || got.Kind != models.KindProject || got.Parent != f.notebook {
		t.Errorf("entity = %+v", got)
	}
	if len(got.Blocks) != 1 || got.Blocks[0].Kind != "text" || got.Blocks[0].Content.Text != "base temperature 9 mK" {
		t.Errorf("blocks = %+v", got.Blocks)
	}
}

func TestCreateEntityRejected(t *testing.T) {
	f := testServer(t)

	for _, args := range []map[string]any{
		{"name": "X", "kind": "Dragon", "parent": f.notebook},
		{"name": "X", "kind": "Step", "parent": f.notebook},
		{"name": "X", "kind": "Project", "parent": f.notebook, "user": "eve@example.com"},
		{"kind": "Project", "parent": f.notebook},
	} {
		if r := callTool(t, f.srv, "create_entity", args); !r.IsError {
			t.Errorf("create %v succeeded: %s", args, resultText(r))
		}
	}
}

func TestEditTextBlock(t *testing.T) {
	f := testServer(t)
	b, err := f.repo.AddTextBlock(f.notebook, "v1", testutil.User, "")
	if err != nil {
		t.Fatal(err)
	}
	args := map[string]any{"id": f.notebook, "block": b.ID, "text": "v2"}

	if got := resultText(callTool(t, f.srv, "edit_text_block", args)); got != "updated block: "+b.ID {
		t.Errorf("first edit = %q", got)
	}
	if got := resultText(callTool(t, f.srv, "edit_text_block", args)); got != "unchanged" {
		t.Errorf("second edit = %q", got)
	}
	hist, err := f.repo.BlockHistory(f.notebook, b.ID)
	if err != nil || len(hist) != 2 {
		t.Errorf("history = %+v, %v", hist, err)
	}
}

func TestGetStructure(t *testing.T) {
	f := testServer(t)

	r := callTool(t, f.srv, "get_structure", map[string]any{})
	if !strings.Contains(resultText(r), `"Lab"`) {
		t.Errorf("libraries = %q", resultText(r))
	}

	r = callTool(t, f.srv, "get_structure", map[string]any{"id": f.notebook, "depth": 2})
	if got := resultText(r); got != "Cooldowns\n" {
		t.Errorf("tree = %q", got)
	}

	r = callTool(t, f.srv, "get_structure", map[string]any{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown id")
	}
}

func TestReadEntityMissing(t *testing.T) {
	f := testServer(t)
	if r := callTool(t, f.srv, "read_entity", map[string]any{"id": "nope"}); !r.IsError {
		t.Error("expected error for missing entity")
	}
}

func TestSearch(t *testing.T) {
	f := testServer(t)
	if _, err := f.repo.AddTextBlock(f.notebook, "dilution refrigerator warmup", testutil.User, ""); err != nil {
		t.Fatal(err)
	}
	r := callTool(t, f.srv, "search", map[string]any{"query": "refrigerator"})
	if !strings.Contains(resultText(r), f.notebook) {
		t.Errorf("search = %q", resultText(r))
	}
	r = callTool(t, f.srv, "get_backlinks", map[string]any{"id": "nope"})
	if got := resultText(r); got != "no backlinks found" {
		t.Errorf("backlinks = %q", got)
	}
}

func TestAddImage(t *testing.T) {
	f := testServer(t)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	r := callTool(t, f.srv, "add_image", map[string]any{
		"id":       f.notebook,
		"url":      uri,
		"title":    "Fridge plot",
		"filename": "fridge plot.png",
	})
	if r.IsError {
		t.Fatalf("add image: %s", resultText(r))
	}
	if ok, _ := f.resources.Exists("fridge_plot.png"); !ok {
		t.Error("resource not stored")
	}
	e, err := f.repo.Get(f.notebook)
	if err != nil {
		t.Fatal(err)
	}
	if len(e.Blocks) != 1 {
		t.Fatalf("blocks = %+v", e.Blocks)
	}
	c := e.Blocks[0].Current().Content
	if e.Blocks[0].Kind != models.BlockImage || c.Path != "/resources/fridge_plot.png" || c.Title != "Fridge plot" {
		t.Errorf("image block = %+v", c)
	}

	r = callTool(t, f.srv, "add_image", map[string]any{"id": f.notebook, "url": uri, "filename": "fridge plot.png"})
	if !r.IsError {
		t.Error("duplicate resource accepted")
	}
}

func TestCheckImage(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	cases := []struct {
		name string
		data []byte
		ext  string
		ok   bool
	}{
		{"png", png, ".png", true},
		{"png named jpg", png, ".jpg", false},
		{"svg", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"/>`), ".svg", true},
		{"fake svg", []byte("hello"), ".svg", false},
		{"pdf", []byte("%PDF-1.4"), ".pdf", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := checkImage(tc.data, tc.ext); (err == nil) != tc.ok {
				t.Errorf("checkImage = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestDecodeDataURI(t *testing.T) {
	if _, _, err := decodeDataURI("data:image/png,raw"); err == nil {
		t.Error("non-base64 URI accepted")
	}
	if _, _, err := decodeDataURI("data:text/plain;base64,aGk="); err == nil {
		t.Error("text URI accepted")
	}
	data, ext, err := decodeDataURI("data:image/gif;base64,R0lGODlh")
	if err != nil || ext != ".gif" || string(data[:3]) != "GIF" {
		t.Errorf("gif = %q %q %v", data, ext, err)
	}
}

func TestContractResource(t *testing.T) {
	f := testServer(t)
	contents, err := f.srv.readContractResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("contents = %v, %v", contents, err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != contractURI || !strings.Contains(tc.Text, "Notebook") {
		t.Errorf("resource = %+v", contents[0])
	}
}
