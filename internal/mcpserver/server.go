// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note service as tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/noteservice"
)

const noteFormatURI = "ansuz://note-format"

// Server wraps the MCP server with note tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through note titles and bodies. Every term must match."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("search_suggestions",
		mcp.WithDescription("Ordered suggestions for a partial query: the query itself, "+
			"matching past searches, matching notes and a note that could be created."),
		mcp.WithString("query", mcp.Description("Partial query; empty returns history and recent notes")),
	), s.searchSuggestions)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its title, headers, body and fingerprint."),
		mcp.WithString("identity", mcp.Required(), mcp.Description("Note identity, the vault path without extension (e.g. projects/alpha)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("write_note",
		mcp.WithDescription("Create or replace a note. Created time and custom headers of an "+
			"existing note are kept. Read the format via get_note_contract or the "+
			noteFormatURI+" resource."),
		mcp.WithString("identity", mcp.Required(), mcp.Description("Note identity (e.g. projects/alpha)")),
		mcp.WithString("title", mcp.Description("Optional title; derived from the body when empty")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Plain-text body without headers")),
	), s.writeNote)

	s.mcp.AddTool(mcp.NewTool("recent_notes",
		mcp.WithDescription("List the most recently modified notes."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of notes (default 20)")),
	), s.recentNotes)

	s.mcp.AddTool(mcp.NewTool("sync_index",
		mcp.WithDescription("Reconcile the search index with the vault and report what changed."),
	), s.syncIndex)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the on-disk note format contract."),
	), s.getNoteContract)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(noteFormatURI, "Note Format Contract",
			mcp.WithResourceDescription("On-disk note format: optional headers, blank line, body."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.Is(err, apperr.ErrUpgrading):
		return mcp.NewToolResultError("index is upgrading, retry shortly")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(results), nil
}

func (s *Server) searchSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.SearchSuggestions(ctx, req.GetString("query", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("identity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.Read(ctx, models.Identity(id))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(note), nil
}

func (s *Server) writeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("identity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id := models.Identity(raw)
	if !id.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid identity: %q", raw)), nil
	}
	note, err := s.svc.Write(ctx, id, req.GetString("title", ""), body)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("written: %s", note.Identity)), nil
}

func (s *Server) recentNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.svc.Recent(ctx, req.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(notes), nil
}

type syncReport struct {
	Generation uint64         `json:"generation"`
	Counts     map[string]int `json:"counts"`
	Changed    []string       `json:"changed"`
}

func (s *Server) syncIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cs, err := s.svc.Sync(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	rep := syncReport{Generation: cs.Generation, Counts: map[string]int{}, Changed: []string{}}
	for st, n := range cs.Counts() {
		rep.Counts[st.String()] = n
	}
	for _, c := range cs.Pending() {
		rep.Changed = append(rep.Changed, c.Status.String()+" "+c.Identity.String())
	}
	return jsonResult(rep), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      noteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
