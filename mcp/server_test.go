package mcp

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/session"
)

const catalogYAML = `
types:
  - name: PixelsType
    id: 1
  - name: MaskType
    id: 2
  - name: IntType
    id: 3
modules:
  - name: Threshold
    id: 10
    description: Binarize an image
    inputs:
      - name: Image
        type: PixelsType
    outputs:
      - name: Mask
        type: MaskType
  - name: Count
    id: 11
    inputs:
      - name: Mask
        type: MaskType
    outputs:
      - name: N
        type: IntType
`

func setupTestServer(t *testing.T) (*Server, *session.Session) {
	t.Helper()

	cat, err := catalog.LoadYAML(strings.NewReader(catalogYAML), "catalog.yaml")
	require.NoError(t, err)

	sess := session.New("alice", cat)
	return NewServer(sess), sess
}

// thresholdCount builds an unlinked Threshold and Count pair in a new chain.
func thresholdCount(t *testing.T, sess *session.Session) (*chain.Chain, chain.NodeID, chain.NodeID) {
	t.Helper()

	thrDef, _ := sess.Catalog().ModuleByID(10)
	cntDef, _ := sess.Catalog().ModuleByID(11)

	c := sess.NewChain("segmentation")
	thr, err := c.AddNode(thrDef)
	require.NoError(t, err)
	cnt, err := c.AddNode(cntDef)
	require.NoError(t, err)
	return c, thr, cnt
}

func TestNewServer(t *testing.T) {
	t.Parallel()

	t.Run("CreatesServer", func(t *testing.T) {
		server, _ := setupTestServer(t)

		assert.NotNil(t, server)
		assert.NotNil(t, server.session)
		assert.Equal(t, "chainlab", server.impl.Name)
	})

	t.Run("WithVersion", func(t *testing.T) {
		server := NewServer(session.New("alice", nil), WithVersion("1.2.3"))
		assert.Equal(t, "1.2.3", server.impl.Version)
	})
}

func TestServer_Tools(t *testing.T) {
	t.Parallel()

	server, _ := setupTestServer(t)

	t.Run("ListTools", func(t *testing.T) {
		toolNames := make(map[string]bool)
		for _, tool := range server.ListTools() {
			toolNames[tool.Name] = true
		}

		expectedTools := []string{
			"catalog_modules",
			"chain_create",
			"chain_show",
			"chain_add_node",
			"chain_remove_node",
			"chain_add_link",
			"chain_remove_link",
			"chain_candidates",
			"chain_free_inputs",
			"chain_plan",
			"chain_clone",
			"chain_commit",
		}
		for _, expected := range expectedTools {
			assert.True(t, toolNames[expected], "Should have tool: %s", expected)
		}
	})

	t.Run("ToolDescriptions", func(t *testing.T) {
		for _, tool := range server.ListTools() {
			assert.NotEmpty(t, tool.Description)
			require.NotNil(t, tool.InputSchema)
			assert.Equal(t, "object", tool.InputSchema.Type)
		}
	})
}

func TestServer_ThresholdCount(t *testing.T) {
	t.Parallel()

	server, sess := setupTestServer(t)
	ctx := context.Background()
	c, thr, cnt := thresholdCount(t, sess)
	id := c.ID().String()

	out, err := server.CallTool(ctx, "chain_candidates", map[string]any{
		"chain": id, "node": float64(cnt), "param": "Mask", "polarity": "input",
	})
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("`%d.output:Mask` on Threshold", thr))

	out, err = server.CallTool(ctx, "chain_add_link", map[string]any{
		"chain":      id,
		"from_node":  float64(thr),
		"from_param": "Mask",
		"to_node":    float64(cnt),
		"to_param":   "Mask",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Added link")
	assert.Equal(t, 1, c.LinkCount())

	out, err = server.CallTool(ctx, "chain_free_inputs", map[string]any{"chain": id})
	require.NoError(t, err)
	assert.Contains(t, out, "## Free inputs (1)")
	assert.Contains(t, out, fmt.Sprintf("`%d.input:Image` on Threshold", thr))

	out, err = server.CallTool(ctx, "chain_plan", map[string]any{"chain": id})
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("1. `%d` Threshold", thr))
	assert.Contains(t, out, fmt.Sprintf("2. `%d` Count", cnt))

	out, err = server.CallTool(ctx, "chain_show", map[string]any{"chain": id})
	require.NoError(t, err)
	assert.Contains(t, out, "### Nodes (2)")
	assert.Contains(t, out, "### Links (1)")

	out, err = server.CallTool(ctx, "chain_commit", map[string]any{"chain": id})
	require.NoError(t, err)
	assert.Contains(t, out, "Committed chain")
	assert.Equal(t, 1, sess.Store().Count())
}

func TestServer_EditTools(t *testing.T) {
	t.Parallel()

	server, sess := setupTestServer(t)
	ctx := context.Background()

	out, err := server.CallTool(ctx, "chain_create", map[string]any{"name": "draft"})
	require.NoError(t, err)
	assert.Contains(t, out, "## Chain draft")
	require.Len(t, sess.Chains(), 1)
	c := sess.Chains()[0]
	id := c.ID().String()

	out, err = server.CallTool(ctx, "chain_add_node", map[string]any{"chain": id, "module": "Threshold"})
	require.NoError(t, err)
	assert.Contains(t, out, "(Threshold)")
	assert.Contains(t, out, "input:Image` PixelsType")

	_, err = server.CallTool(ctx, "chain_add_node", map[string]any{"chain": id, "module_id": float64(11)})
	require.NoError(t, err)
	require.Equal(t, 2, c.NodeCount())

	nodes := c.Nodes()
	_, err = server.CallTool(ctx, "chain_add_link", map[string]any{
		"chain": id, "from_node": float64(nodes[0].ID), "from_param": "Mask",
		"to_node": float64(nodes[1].ID), "to_param": "Mask",
	})
	require.NoError(t, err)
	link := c.Links()[0]

	_, err = server.CallTool(ctx, "chain_remove_link", map[string]any{"chain": id, "link": float64(link.ID)})
	require.NoError(t, err)
	assert.Equal(t, 0, c.LinkCount())

	out, err = server.CallTool(ctx, "chain_remove_node", map[string]any{"chain": id, "node": float64(nodes[1].ID)})
	require.NoError(t, err)
	assert.Contains(t, out, "1 nodes and 0 links")

	out, err = server.CallTool(ctx, "chain_lock", map[string]any{"chain": id, "locked": true})
	require.NoError(t, err)
	assert.Contains(t, out, "is locked")

	out, err = server.CallTool(ctx, "chain_clone", map[string]any{"chain": id})
	require.NoError(t, err)
	assert.Contains(t, out, "owned by alice")
	assert.Contains(t, out, "**Locked:** false")
	assert.Len(t, sess.Chains(), 2)

	_, err = server.CallTool(ctx, "chain_lock", map[string]any{"chain": id, "locked": false})
	require.NoError(t, err)
	assert.False(t, c.Locked())
}

func TestServer_ToolErrors(t *testing.T) {
	t.Parallel()

	server, sess := setupTestServer(t)
	ctx := context.Background()
	c, thr, cnt := thresholdCount(t, sess)
	id := c.ID().String()

	tests := []struct {
		name   string
		tool   string
		args   map[string]any
		reason string
	}{
		{
			name:   "TypeMismatch",
			tool:   "chain_add_link",
			args:   map[string]any{"chain": id, "from_node": float64(thr), "from_param": "Mask", "to_node": float64(thr), "to_param": "Image"},
			reason: "type_mismatch",
		},
		{
			name:   "UnknownParameter",
			tool:   "chain_add_link",
			args:   map[string]any{"chain": id, "from_node": float64(thr), "from_param": "Nope", "to_node": float64(cnt), "to_param": "Mask"},
			reason: "unknown_parameter",
		},
		{
			name:   "UnknownLink",
			tool:   "chain_remove_link",
			args:   map[string]any{"chain": id, "link": float64(987654)},
			reason: "unknown_link",
		},
		{
			name:   "UnknownModule",
			tool:   "chain_add_node",
			args:   map[string]any{"chain": id, "module": "Blur"},
			reason: "unknown_module",
		},
		{
			name:   "UnknownChain",
			tool:   "chain_show",
			args:   map[string]any{"chain": "7b0e3a8e-58a4-4f6e-9a55-3f6f4f0e1a11"},
			reason: "unknown_chain",
		},
		{
			name:   "MissingChain",
			tool:   "chain_plan",
			args:   map[string]any{},
			reason: "invalid_argument",
		},
		{
			name:   "MissingNode",
			tool:   "chain_remove_node",
			args:   map[string]any{"chain": id},
			reason: "invalid_argument",
		},
		{
			name:   "BadPolarity",
			tool:   "chain_candidates",
			args:   map[string]any{"chain": id, "node": float64(thr), "param": "Mask", "polarity": "up"},
			reason: "invalid_argument",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := server.CallTool(ctx, tt.tool, tt.args)
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), tt.reason+": "), err.Error())
			assert.Empty(t, result)
		})
	}

	t.Run("UnknownTool", func(t *testing.T) {
		result, err := server.CallTool(ctx, "unknown_tool", map[string]any{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown tool")
		assert.Empty(t, result)
	})
}

func TestServer_Resources(t *testing.T) {
	t.Parallel()

	server, sess := setupTestServer(t)
	ctx := context.Background()

	t.Run("ResourceMetadata", func(t *testing.T) {
		resources := server.ListResources()
		require.Len(t, resources, 2)
		for _, res := range resources {
			assert.NotEmpty(t, res.Name)
			assert.NotEmpty(t, res.Description)
			assert.Equal(t, "text/markdown", res.MimeType)
		}
	})

	t.Run("ReadCatalog", func(t *testing.T) {
		content, err := server.ReadResource(ctx, "chainlab://catalog")
		require.NoError(t, err)
		assert.Contains(t, content, "| 2 | MaskType |")
		assert.Contains(t, content, "### Threshold (id 10)")
		assert.Contains(t, content, "Binarize an image")
	})

	t.Run("ReadChains", func(t *testing.T) {
		c, _, _ := thresholdCount(t, sess)
		require.NoError(t, sess.Commit(ctx, c.ID()))

		content, err := server.ReadResource(ctx, "chainlab://chains")
		require.NoError(t, err)
		assert.Contains(t, content, "## Committed (1)")
		assert.Contains(t, content, c.ID().String())
	})

	t.Run("UnknownResource", func(t *testing.T) {
		_, err := server.ReadResource(ctx, "chainlab://nothing")
		assert.Error(t, err)
	})
}

// connect opens a client session against server over in-memory transports.
func connect(t *testing.T, server *Server) *mcp.ClientSession {
	t.Helper()

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	ss, err := server.sdk.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()

	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestServer_Protocol(t *testing.T) {
	t.Parallel()

	server, sess := setupTestServer(t)
	cs := connect(t, server)
	ctx := context.Background()

	t.Run("ListTools", func(t *testing.T) {
		res, err := cs.ListTools(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, res.Tools, len(server.ListTools()))
	})

	t.Run("CallTool", func(t *testing.T) {
		res, err := cs.CallTool(ctx, &mcp.CallToolParams{
			Name:      "chain_create",
			Arguments: map[string]any{"name": "draft"},
		})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Contains(t, textOf(t, res), "## Chain draft")
		assert.Len(t, sess.Chains(), 1)
	})

	t.Run("ToolRejection", func(t *testing.T) {
		res, err := cs.CallTool(ctx, &mcp.CallToolParams{
			Name:      "chain_show",
			Arguments: map[string]any{},
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.True(t, strings.HasPrefix(textOf(t, res), "invalid_argument: "))
	})

	t.Run("UnknownTool", func(t *testing.T) {
		_, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "bogus", Arguments: map[string]any{}})
		assert.Error(t, err)
	})

	t.Run("ListResources", func(t *testing.T) {
		res, err := cs.ListResources(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, res.Resources, len(server.ListResources()))
	})

	t.Run("ReadResource", func(t *testing.T) {
		res, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "chainlab://catalog"})
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Equal(t, "text/markdown", res.Contents[0].MIMEType)
		assert.Contains(t, res.Contents[0].Text, "### Threshold (id 10)")
	})
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	server, _ := setupTestServer(t)

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx, serverIn, serverOut) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, &mcp.IOTransport{Reader: clientIn, Writer: clientOut}, nil)
	require.NoError(t, err)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "catalog_modules",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, textOf(t, res), "Threshold (id 10)")

	_ = cs.Close()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_Run_NilStreams(t *testing.T) {
	t.Parallel()

	server, _ := setupTestServer(t)
	assert.Error(t, server.Run(context.Background(), nil, nil))
}
