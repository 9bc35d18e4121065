// Package mcp provides the MCP (Model Context Protocol) server for chainlab.
//
// It exposes an editing session as tools so an agent can build, inspect,
// plan and commit analysis chains over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/chainlab/internal/session"
)

// Server exposes a session through the protocol server of the MCP SDK.
type Server struct {
	session *session.Session
	impl    *mcp.Implementation
	sdk     *mcp.Server
	logger  *zap.Logger
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.impl.Version = v }
}

// WithLogger sets the server logger. Logs must never go to stdout.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP server over sess.
func NewServer(sess *session.Session, opts ...Option) *Server {
	s := &Server{
		session: sess,
		impl: &mcp.Implementation{
			Name:    "chainlab",
			Version: "0.1.0",
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sdk = mcp.NewServer(s.impl, nil)
	s.register()
	return s
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

var (
	chainProp = &jsonschema.Schema{Type: "string", Description: "Chain id (UUID)"}
	nodeProp  = &jsonschema.Schema{Type: "integer", Description: "Node id within the chain"}
	paramProp = &jsonschema.Schema{Type: "string", Description: "Parameter name"}
)

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	return []Tool{
		{
			Name:        "catalog_modules",
			Description: "List the modules of the active catalog with their typed inputs and outputs.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Only list modules with this name"},
			}),
		},
		{
			Name:        "chain_create",
			Description: "Create a new, empty, unlocked chain owned by the session owner.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Chain name"},
			}),
		},
		{
			Name:        "chain_show",
			Description: "Show a chain: its nodes with parameter state, links and free inputs. Opens committed chains.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
			}, "chain"),
		},
		{
			Name:        "chain_add_node",
			Description: "Place a catalog module in a chain. Give module_id, or module to use the first module with that name.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain":     chainProp,
				"module_id": {Type: "integer", Description: "Catalog module id"},
				"module":    {Type: "string", Description: "Catalog module name"},
			}, "chain"),
		},
		{
			Name:        "chain_remove_node",
			Description: "Remove a node and every link touching it.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
				"node":  nodeProp,
			}, "chain", "node"),
		},
		{
			Name:        "chain_add_link",
			Description: "Link an output parameter to an input parameter with the same semantic type.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain":      chainProp,
				"from_node":  nodeProp,
				"from_param": paramProp,
				"to_node":    nodeProp,
				"to_param":   paramProp,
			}, "chain", "from_node", "from_param", "to_node", "to_param"),
		},
		{
			Name:        "chain_remove_link",
			Description: "Remove a link, freeing its input.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
				"link":  {Type: "integer", Description: "Link id"},
			}, "chain", "link"),
		},
		{
			Name:        "chain_candidates",
			Description: "List the endpoints a parameter could be linked to right now.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain":    chainProp,
				"node":     nodeProp,
				"param":    paramProp,
				"polarity": {Type: "string", Enum: []any{"input", "output"}, Description: "Side of the parameter"},
			}, "chain", "node", "param", "polarity"),
		},
		{
			Name:        "chain_free_inputs",
			Description: "List the inputs that have no inbound link and must be supplied before running.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
			}, "chain"),
		},
		{
			Name:        "chain_plan",
			Description: "Derive the execution plan: stages in dependency order and the free inputs.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
			}, "chain"),
		},
		{
			Name:        "chain_clone",
			Description: "Copy a chain. The copy is unlocked; owner defaults to the session owner.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
				"owner": {Type: "string", Description: "Owner of the copy"},
			}, "chain"),
		},
		{
			Name:        "chain_lock",
			Description: "Lock or unlock a chain. A locked chain refuses edits.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain":  chainProp,
				"locked": {Type: "boolean", Description: "true to lock, false to unlock"},
			}, "chain", "locked"),
		},
		{
			Name:        "chain_commit",
			Description: "Verify a chain and save it to the store.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"chain": chainProp,
			}, "chain"),
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "chainlab://catalog",
			Name:        "Module Catalog",
			Description: "Semantic types and modules of the active catalog",
			MimeType:    "text/markdown",
		},
		{
			URI:         "chainlab://chains",
			Name:        "Chains",
			Description: "Chains open in the session and chains committed to the store",
			MimeType:    "text/markdown",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	var (
		out string
		err error
	)
	switch name {
	case "catalog_modules":
		out, err = s.handleCatalogModules(args)
	case "chain_create":
		out, err = s.handleCreate(args)
	case "chain_show":
		out, err = s.handleShow(ctx, args)
	case "chain_add_node":
		out, err = s.handleAddNode(ctx, args)
	case "chain_remove_node":
		out, err = s.handleRemoveNode(ctx, args)
	case "chain_add_link":
		out, err = s.handleAddLink(ctx, args)
	case "chain_remove_link":
		out, err = s.handleRemoveLink(ctx, args)
	case "chain_candidates":
		out, err = s.handleCandidates(ctx, args)
	case "chain_free_inputs":
		out, err = s.handleFreeInputs(ctx, args)
	case "chain_plan":
		out, err = s.handlePlan(ctx, args)
	case "chain_clone":
		out, err = s.handleClone(ctx, args)
	case "chain_lock":
		out, err = s.handleLock(ctx, args)
	case "chain_commit":
		out, err = s.handleCommit(ctx, args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if err != nil {
		s.logger.Debug("tool rejected", zap.String("tool", name), zap.Error(err))
		return "", toolError(err)
	}
	return out, nil
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "chainlab://catalog":
		return formatCatalog(s.session.Catalog()), nil
	case "chainlab://chains":
		stored, err := s.session.Stored(ctx)
		if err != nil {
			return "", err
		}
		return formatChains(s.session.Chains(), stored), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Run serves the protocol over stdin and stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	if stdin == nil || stdout == nil {
		return fmt.Errorf("stdin and stdout must not be nil")
	}

	t := &mcp.IOTransport{
		Reader: io.NopCloser(stdin),
		Writer: nopWriteCloser{stdout},
	}
	err := s.sdk.Run(ctx, t)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// register publishes every tool and resource on the protocol server.
func (s *Server) register() {
	for _, tool := range s.ListTools() {
		s.sdk.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, s.toolHandler(tool.Name))
	}
	for _, res := range s.ListResources() {
		s.sdk.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, s.resourceHandler(res.MimeType))
	}
}

// toolHandler adapts CallTool to the protocol. Rejections are reported in
// the result with IsError set so the agent can react to them.
func (s *Server) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult(toolError(fmt.Errorf("%w: arguments must be an object", errInvalidArgument))), nil
			}
		}

		text, err := s.CallTool(ctx, name, args)
		if err != nil {
			return errorResult(err), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}
}

func (s *Server) resourceHandler(mimeType string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		text, err := s.ReadResource(ctx, uri)
		if err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mimeType, Text: text}},
		}, nil
	}
}
