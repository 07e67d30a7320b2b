// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the library for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/scriptorium/internal/library"
	"github.com/starford/scriptorium/internal/project"
	"github.com/starford/scriptorium/internal/sorting"
)

const projectsURI = "scriptorium://projects"

// Library is the part of the library the tools use.
type Library interface {
	Projects() []*project.Project
	Tree(m sorting.Method) []library.Entry
	Children(path string, m sorting.Method) ([]library.Entry, error)
	ReadDocument(path string) ([]byte, string, error)
	SaveDocument(path string, content []byte, ifMatch string) (string, error)
	CreateDocument(parent, name string) (string, error)
	CreateFolder(parent, name string) (string, error)
	Rename(path, newPath string) error
	Trash(path string) error
}

// Server wraps the MCP server with library tools.
type Server struct {
	mcp *server.MCPServer
	lib Library
}

// New creates a new MCP server with all library tools registered.
func New(lib Library, version string) *Server {
	s := &Server{lib: lib}

	s.mcp = server.NewMCPServer(
		"Scriptorium",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List the open projects with their root folders and item counts."),
	), s.listProjects)

	s.mcp.AddTool(mcp.NewTool("list_tree",
		mcp.WithDescription("List folders and Markdown documents. Without a folder the whole "+
			"library is listed, otherwise only the direct children of that folder."),
		mcp.WithString("folder", mcp.Description("Optional absolute folder path")),
		mcp.WithString("sort", mcp.Description("Sort method: "+strings.Join(sorting.MethodNames(), ", "))),
	), s.listTree)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the full content of a Markdown document. The checksum on the "+
			"first line can be passed to save_document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the document")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("save_document",
		mcp.WithDescription("Replace the content of an existing Markdown document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the document")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New Markdown content")),
		mcp.WithString("checksum", mcp.Description("Checksum from read_document; the save fails if the file changed since")),
	), s.saveDocument)

	s.mcp.AddTool(mcp.NewTool("create_document",
		mcp.WithDescription("Create a new Markdown document in a folder. The .md extension is added "+
			"and the name is numbered if it is taken."),
		mcp.WithString("folder", mcp.Required(), mcp.Description("Absolute path of the parent folder")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Document name without extension")),
	), s.createDocument)

	s.mcp.AddTool(mcp.NewTool("create_folder",
		mcp.WithDescription("Create a subfolder."),
		mcp.WithString("folder", mcp.Required(), mcp.Description("Absolute path of the parent folder")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Folder name")),
	), s.createFolder)

	s.mcp.AddTool(mcp.NewTool("rename_item",
		mcp.WithDescription("Rename or move a document or folder. Project roots cannot be renamed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the item")),
		mcp.WithString("new_path", mcp.Required(), mcp.Description("Absolute destination path")),
	), s.renameItem)

	s.mcp.AddTool(mcp.NewTool("trash_item",
		mcp.WithDescription("Move a document or folder to the trash."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the item")),
	), s.trashItem)

	s.mcp.AddResource(
		mcp.NewResource(projectsURI, "Open Projects",
			mcp.WithResourceDescription("Root folders of the open projects, drafts first."),
			mcp.WithMIMEType("application/json"),
		),
		s.readProjectsResource,
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

type projectInfo struct {
	Root      string `json:"root"`
	Kind      string `json:"kind"`
	Valid     bool   `json:"valid"`
	Folders   int    `json:"folders"`
	Documents int    `json:"documents"`
}

func (s *Server) projects() []projectInfo {
	var out []projectInfo
	for _, p := range s.lib.Projects() {
		folders, docs := p.Counts()
		out = append(out, projectInfo{
			Root:      p.Root(),
			Kind:      p.Kind().String(),
			Valid:     p.Valid(),
			Folders:   folders,
			Documents: docs,
		})
	}
	return out
}

func (s *Server) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.projects(), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := sorting.ParseMethod(optionalString(req, "sort"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var entries []library.Entry
	if folder := optionalString(req, "folder"); folder != "" {
		if entries, err = s.lib.Children(folder, m); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	} else {
		entries = s.lib.Tree(m)
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		suffix := ""
		if e.IsDir {
			suffix = "/"
		}
		lines[i] = e.Path + suffix
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, sum, err := s.lib.ReadDocument(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText("checksum: " + sum + "\n\n" + string(data)), nil
}

func (s *Server) saveDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.lib.SaveDocument(path, []byte(content), optionalString(req, "checksum"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("saved: %s (checksum %s)", path, sum)), nil
}

func (s *Server) createDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.create(req, s.lib.CreateDocument)
}

func (s *Server) createFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.create(req, s.lib.CreateFolder)
}

func (s *Server) create(req mcp.CallToolRequest, fn func(parent, name string) (string, error)) (*mcp.CallToolResult, error) {
	folder, err := req.RequireString("folder")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := fn(folder, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) renameItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newPath, err := req.RequireString("new_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.lib.Rename(path, newPath); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("rename requested: %s -> %s", path, newPath)), nil
}

func (s *Server) trashItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.lib.Trash(path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("trash requested: %s", path)), nil
}

func (s *Server) readProjectsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.Marshal(s.projects())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      projectsURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

// optionalString returns the string argument key, or "" when it is absent.
func optionalString(req mcp.CallToolRequest, key string) string {
	v, err := req.RequireString(key)
	if err != nil {
		return ""
	}
	return v
}
