// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes dragonden tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dragonden/internal/index"
	"github.com/starford/dragonden/internal/models"
	"github.com/starford/dragonden/internal/repository"
	"github.com/starford/dragonden/internal/storage"
)

const contractURI = "dragonden://record-format"

// Server wraps the MCP server with dragonden tools.
type Server struct {
	mcp       *server.MCPServer
	repo      *repository.Repository
	idx       index.EntityIndex
	resources storage.Provider
	user      string
}

// Option configures a Server.
type Option func(*Server)

// WithIndex enables the search and backlink tools.
func WithIndex(idx index.EntityIndex) Option {
	return func(s *Server) { s.idx = idx }
}

// WithResources enables the add_image tool, storing images in p.
func WithResources(p storage.Provider) Option {
	return func(s *Server) { s.resources = p }
}

// WithDefaultUser sets the author used when a tool call names none.
func WithDefaultUser(email string) Option {
	return func(s *Server) { s.user = email }
}

// New creates a new MCP server with all dragonden tools registered.
func New(repo *repository.Repository, opts ...Option) *Server {
	s := &Server{repo: repo}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"Dragonden",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_structure",
		mcp.WithDescription("Ascii tree of the records below an entity, or the list of libraries when no id is given."),
		mcp.WithString("id", mcp.Description("Root entity ID (empty for all libraries)")),
		mcp.WithNumber("depth", mcp.Description("Levels and children per level to show (default 5)")),
	), s.getStructure)

	s.mcp.AddTool(mcp.NewTool("read_entity",
		mcp.WithDescription("Read a record with the current version of each of its content blocks."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID")),
	), s.readEntity)

	s.mcp.AddTool(mcp.NewTool("create_entity",
		mcp.WithDescription("Create a Notebook, Project, Task or Step under an existing record. "+
			"Read the contract first via get_record_contract or the "+contractURI+" resource."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Record name")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Notebook, Project, Task or Step")),
		mcp.WithString("parent", mcp.Required(), mcp.Description("Parent entity ID")),
		mcp.WithString("user", mcp.Description("Author email")),
		mcp.WithString("under", mcp.Description("Place the record after this sibling block or record ID")),
	), s.createEntity)

	s.mcp.AddTool(mcp.NewTool("add_text_block",
		mcp.WithDescription("Append a markdown text block to a record."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Markdown text")),
		mcp.WithString("user", mcp.Description("Author email")),
		mcp.WithString("under", mcp.Description("Place the block after this sibling ID")),
	), s.addTextBlock)

	s.mcp.AddTool(mcp.NewTool("edit_text_block",
		mcp.WithDescription("Record a new version of a text block. Earlier versions are kept."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID")),
		mcp.WithString("block", mcp.Required(), mcp.Description("Block ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("New markdown text")),
		mcp.WithString("user", mcp.Description("Author email")),
	), s.editTextBlock)

	s.mcp.AddTool(mcp.NewTool("get_record_contract",
		mcp.WithDescription("Returns the dragonden record model contract. "+
			"Call this before creating records or blocks."),
	), s.getRecordContract)

	if s.idx != nil {
		s.mcp.AddTool(mcp.NewTool("search",
			mcp.WithDescription("Full-text search through record names, descriptions and text blocks."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		), s.search)

		s.mcp.AddTool(mcp.NewTool("get_backlinks",
			mcp.WithDescription("Find the records whose image-link blocks show images of a data instance."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Instance ID")),
		), s.getBacklinks)
	}

	if s.resources != nil {
		s.mcp.AddTool(mcp.NewTool("add_image",
			mcp.WithDescription("Download an image (http/https URL or base64 data URI), store it as a resource "+
				"and attach it to a record as an image block."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Entity ID")),
			mcp.WithString("url", mcp.Required(), mcp.Description("Image URL or data URI")),
			mcp.WithString("title", mcp.Description("Image title")),
			mcp.WithString("filename", mcp.Description("Resource file name (derived from the URL if empty)")),
			mcp.WithString("user", mcp.Description("Author email")),
		), s.addImage)
	}

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Record Format Contract",
			mcp.WithResourceDescription("How dragonden records, kinds and content blocks fit together."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func optional(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func (s *Server) author(req mcp.CallToolRequest) string {
	if u := optional(req, "user"); u != "" {
		return u
	}
	return s.user
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) getStructure(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := optional(req, "id")
	if id == "" {
		libs := s.repo.Libraries()
		if len(libs) == 0 {
			return mcp.NewToolResultText("no libraries"), nil
		}
		return jsonResult(libs), nil
	}
	tree, err := s.repo.Tree(id, req.GetInt("depth", 5))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(tree), nil
}

type blockView struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Content models.Content `json:"content"`
}

type entityView struct {
	ID          string      `json:"id"`
	Kind        models.Kind `json:"kind"`
	Name        string      `json:"name"`
	Parent      string      `json:"parent,omitempty"`
	Description string      `json:"description,omitempty"`
	Children    []string    `json:"children"`
	Blocks      []blockView `json:"blocks"`
}

func (s *Server) readEntity(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err), nil
	}
	e, err := s.repo.Read(id)
	if err != nil {
		return toolError(err), nil
	}
	v := entityView{
		ID:          e.ID,
		Kind:        e.Kind,
		Name:        e.Name,
		Parent:      e.Parent,
		Description: e.Description,
		Children:    e.ActiveChildren(),
		Blocks:      []blockView{},
	}
	for _, o := range e.Order.Active() {
		if o.Kind != models.TargetBlock {
			continue
		}
		b, err := e.Block(o.Target)
		if err != nil {
			continue
		}
		v.Blocks = append(v.Blocks, blockView{ID: b.ID, Kind: b.Kind.String(), Content: b.Current().Content})
	}
	return jsonResult(v), nil
}

func (s *Server) createEntity(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return toolError(err), nil
	}
	kindName, err := req.RequireString("kind")
	if err != nil {
		return toolError(err), nil
	}
	kind, err := models.ParseKind(kindName)
	if err != nil {
		return toolError(err), nil
	}
	parent, err := req.RequireString("parent")
	if err != nil {
		return toolError(err), nil
	}
	e, err := s.repo.CreateEntity(repository.CreateRequest{
		Name:   name,
		Kind:   kind,
		Parent: parent,
		User:   s.author(req),
		Under:  optional(req, "under"),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created %s %s: %s", e.Kind, e.Name, e.ID)), nil
}

func (s *Server) addTextBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return toolError(err), nil
	}
	b, err := s.repo.AddTextBlock(id, text, s.author(req), optional(req, "under"))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("added block: " + b.ID), nil
}

func (s *Server) editTextBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err), nil
	}
	blockID, err := req.RequireString("block")
	if err != nil {
		return toolError(err), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return toolError(err), nil
	}
	changed, err := s.repo.EditBlock(id, blockID, models.Content{Text: text}, s.author(req))
	if err != nil {
		return toolError(err), nil
	}
	if !changed {
		return mcp.NewToolResultText("unchanged"), nil
	}
	return mcp.NewToolResultText("updated block: " + blockID), nil
}

func (s *Server) search(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return toolError(err), nil
	}
	results, err := s.idx.Search(query, 20)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getBacklinks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return toolError(err), nil
	}
	ids, err := s.idx.Backlinks(id)
	if err != nil {
		return toolError(err), nil
	}
	if len(ids) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(ids, "\n")), nil
}

func (s *Server) getRecordContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
