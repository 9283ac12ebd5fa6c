package mcp_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memento-graph/internal/api/mcp"
	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/storage/sqlite"
	"github.com/scrypster/memento-graph/internal/workspace"
)

const disputeNote = "민수씨(이웃, 40대)가 잔디밭 분쟁 때문에 앞마당에서 화가 나서 찾아왔다."

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

// recordingObserver captures tool calls.
type recordingObserver struct {
	mu    sync.Mutex
	calls []string
	fails []string
}

func (o *recordingObserver) ObserveToolCall(tool string, _ time.Duration, failed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, tool)
	if failed {
		o.fails = append(o.fails, tool)
	}
}

// newTestServer builds a server over one in-memory workspace named
// "default" whose engine clock is fixed at testNow.
func newTestServer(t *testing.T, opts ...mcp.ServerOption) *mcp.Server {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	eng, err := engine.New(store, engine.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return mcp.NewServer(workspace.NewRegistryWithEngine("default", eng), opts...)
}

// newMultiWorkspaceServer serves two in-memory workspaces from a
// workspaces file.
func newMultiWorkspaceServer(t *testing.T) *mcp.Server {
	t.Helper()
	fs := afero.NewMemMapFs()
	data, err := json.Marshal(workspace.File{
		DefaultWorkspace: "home",
		Workspaces: []workspace.Workspace{
			{Name: "home", Enabled: true, Path: ":memory:"},
			{Name: "office", Enabled: true, Path: ":memory:"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/workspaces.json", data, 0o644))

	reg, err := workspace.NewRegistry(workspace.Config{File: "/workspaces.json"}, workspace.WithFs(fs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return mcp.NewServer(reg)
}

// call sends one JSON-RPC request and decodes the envelope.
func call(t *testing.T, srv *mcp.Server, method string, params interface{}) map[string]interface{} {
	t.Helper()
	req, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "method": method, "params": params, "id": 1})
	require.NoError(t, err)

	resp, err := srv.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(resp, &out))
	return out
}

// callTool runs tools/call and returns the result text and error flag.
func callTool(t *testing.T, srv *mcp.Server, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	out := call(t, srv, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	require.Nil(t, out["error"], "tools/call must not return a JSON-RPC error")

	result := out["result"].(map[string]interface{})
	content := result["content"].([]interface{})
	require.Len(t, content, 1)
	isError, _ := result["isError"].(bool)
	return content[0].(map[string]interface{})["text"].(string), isError
}

func TestInitialize(t *testing.T) {
	srv := newTestServer(t, mcp.WithVersion("1.2.3"))
	out := call(t, srv, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]interface{}{"name": "test-client", "version": "0.1"},
	})

	result := out["result"].(map[string]interface{})
	assert.Equal(t, mcp.ProtocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "memento-graph", info["name"])
	assert.Equal(t, "1.2.3", info["version"])
	assert.Contains(t, result["capabilities"], "tools")
}

func TestInitializedNotification_NoResponse(t *testing.T) {
	srv := newTestServer(t)
	for _, method := range []string{"initialized", "notifications/initialized"} {
		resp, err := srv.HandleRequest(context.Background(), []byte(`{"jsonrpc":"2.0","method":"`+method+`"}`))
		require.NoError(t, err)
		assert.Nil(t, resp, method)
	}
}

func TestPing(t *testing.T) {
	out := call(t, newTestServer(t), "ping", nil)
	assert.Equal(t, map[string]interface{}{}, out["result"])
}

func TestToolsList(t *testing.T) {
	out := call(t, newTestServer(t), "tools/list", nil)
	tools := out["result"].(map[string]interface{})["tools"].([]interface{})

	names := make([]string, 0, len(tools))
	for _, raw := range tools {
		tool := raw.(map[string]interface{})
		names = append(names, tool["name"].(string))
		schema := tool["inputSchema"].(map[string]interface{})
		props := schema["properties"].(map[string]interface{})
		assert.Contains(t, props, "workspace", tool["name"])
	}
	assert.Equal(t, []string{mcp.ToolStoreAdvanced, mcp.ToolSearchAdvanced, mcp.ToolExplore, mcp.ToolStats}, names)
}

func TestHandleRequest_Errors(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  string
		code float64
	}{
		{"parse error", `{not json`, mcp.ErrCodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"ping","id":1}`, mcp.ErrCodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"store_memory","id":1}`, mcp.ErrCodeMethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","method":"memory_explore","params":"not_an_object","id":1}`, mcp.ErrCodeInvalidParams},
		{"invalid input", `{"jsonrpc":"2.0","method":"memory_store_advanced","params":{"content":"   "},"id":1}`, mcp.ErrCodeInvalidParams},
		{"unknown workspace", `{"jsonrpc":"2.0","method":"memory_stats","params":{"workspace":"nope"},"id":1}`, mcp.ErrCodeServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := srv.HandleRequest(ctx, []byte(tt.req))
			require.NoError(t, err)

			var out map[string]interface{}
			require.NoError(t, json.Unmarshal(resp, &out))
			require.NotNil(t, out["error"])
			assert.Equal(t, tt.code, out["error"].(map[string]interface{})["code"])
		})
	}
}

func TestToolsCall_StoreAdvanced(t *testing.T) {
	srv := newTestServer(t)
	text, isError := callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{
		"content": disputeNote,
		"tags":    "[\"neighbors\"]",
	})
	require.False(t, isError, text)

	var res engine.StoreResult
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, "memory/2026-03-14.md", res.Path)
	assert.Equal(t, 1, res.StartLine)
	assert.Equal(t, "잔디밭 분쟁", res.Case)
	assert.Contains(t, res.Tags, "neighbors")
	assert.Len(t, res.NodeIDs, 3)
	assert.ElementsMatch(t, []string{"민수씨", "잔디밭 분쟁", "앞마당"}, res.NewEntities)
}

func TestToolsCall_SearchAdvanced(t *testing.T) {
	srv := newTestServer(t)
	_, isError := callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": disputeNote})
	require.False(t, isError)
	_, isError = callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": "Bought milk and eggs at the grocery store."})
	require.False(t, isError)

	text, isError := callTool(t, srv, mcp.ToolSearchAdvanced, map[string]interface{}{
		"query":       "잔디밭 분쟁",
		"expandGraph": false,
		"filters":     map[string]interface{}{"people": "민수씨"},
	})
	require.False(t, isError, text)

	var resp engine.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "entity_query", string(resp.QueryType))
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "memory/2026-03-14.md", resp.Results[0].Path)
	assert.Equal(t, 1, resp.Results[0].StartLine)
	require.NotNil(t, resp.Results[0].GraphScore)
	assert.InDelta(t, 1.0, *resp.Results[0].GraphScore, 1e-9)
}

func TestToolsCall_SearchFailureIsReportedInResponse(t *testing.T) {
	obs := &recordingObserver{}
	srv := newTestServer(t, mcp.WithToolObserver(obs))

	text, isError := callTool(t, srv, mcp.ToolSearchAdvanced, map[string]interface{}{
		"query":   "anything",
		"filters": map[string]interface{}{"type": "bogus"},
	})
	assert.False(t, isError)

	var resp engine.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.NotEmpty(t, resp.Error)
	assert.Empty(t, resp.Results)
	assert.Equal(t, []string{mcp.ToolSearchAdvanced}, obs.fails)
}

func TestToolsCall_Explore(t *testing.T) {
	srv := newTestServer(t)
	_, isError := callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": disputeNote})
	require.False(t, isError)

	text, isError := callTool(t, srv, mcp.ToolExplore, map[string]interface{}{"entity": "민수씨", "depth": 1})
	require.False(t, isError, text)

	var resp engine.ExploreResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.True(t, resp.Found)
	require.NotNil(t, resp.CenterNode)
	assert.Equal(t, "민수씨", resp.CenterNode.Name)
	assert.NotEmpty(t, resp.ConnectedNodes)
	require.Len(t, resp.RelatedDocuments, 1)
	assert.Equal(t, "memory/2026-03-14.md", resp.RelatedDocuments[0].Path)

	var raw struct {
		RelatedDocuments []map[string]interface{} `json:"relatedDocuments"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &raw))
	require.Len(t, raw.RelatedDocuments, 1)
	assert.Equal(t, resp.RelatedDocuments[0].ChunkID, raw.RelatedDocuments[0]["chunkId"])
	assert.Contains(t, raw.RelatedDocuments[0], "startLine")

	text, isError = callTool(t, srv, mcp.ToolExplore, map[string]interface{}{"entity": "nobody"})
	require.False(t, isError, text)
	assert.JSONEq(t, `{"found":false}`, text)
}

func TestToolsCall_Stats(t *testing.T) {
	srv := newTestServer(t)
	_, isError := callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": disputeNote})
	require.False(t, isError)

	text, isError := callTool(t, srv, mcp.ToolStats, map[string]interface{}{})
	require.False(t, isError, text)

	var st map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &st))
	assert.Equal(t, "default", st["workspace"])
	assert.EqualValues(t, 3, st["nodes"])
	assert.EqualValues(t, 3, st["edges"])
	assert.EqualValues(t, 1, st["chunks"])
	assert.EqualValues(t, 1, st["files"])
}

func TestToolsCall_ErrorsAreToolResults(t *testing.T) {
	obs := &recordingObserver{}
	srv := newTestServer(t, mcp.WithToolObserver(obs))

	text, isError := callTool(t, srv, "memory_forget", map[string]interface{}{})
	assert.True(t, isError)
	assert.Contains(t, text, "unknown tool")

	text, isError = callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": ""})
	assert.True(t, isError)
	assert.Contains(t, text, "invalid")

	text, isError = callTool(t, srv, mcp.ToolExplore, map[string]interface{}{"entity": "x", "depth": 9})
	assert.True(t, isError, text)

	text, isError = callTool(t, srv, mcp.ToolStats, map[string]interface{}{"workspace": "elsewhere"})
	assert.True(t, isError)
	assert.Contains(t, text, "workspace not found")

	assert.Equal(t, []string{"memory_forget", mcp.ToolStoreAdvanced, mcp.ToolExplore, mcp.ToolStats}, obs.fails)
}

func TestToolsCall_WorkspacesAreSeparate(t *testing.T) {
	srv := newMultiWorkspaceServer(t)

	_, isError := callTool(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": disputeNote, "workspace": "office"})
	require.False(t, isError)

	text, isError := callTool(t, srv, mcp.ToolStats, map[string]interface{}{"workspace": "office"})
	require.False(t, isError)
	var office map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &office))
	assert.EqualValues(t, 1, office["chunks"])

	text, isError = callTool(t, srv, mcp.ToolStats, map[string]interface{}{})
	require.False(t, isError)
	var home map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &home))
	assert.Equal(t, "home", home["workspace"])
	assert.EqualValues(t, 0, home["chunks"])
}

func TestDirectMethod_StoreAdvanced(t *testing.T) {
	srv := newTestServer(t)
	out := call(t, srv, mcp.ToolStoreAdvanced, map[string]interface{}{"content": disputeNote, "file": "notes/neighbors.md"})
	require.Nil(t, out["error"])

	result := out["result"].(map[string]interface{})
	assert.Equal(t, "notes/neighbors.md", result["path"])
	assert.EqualValues(t, 1, result["startLine"])
}

func TestStoreArgs_FlexibleTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"array", `{"content":"x","tags":["a","b"]}`, []string{"a", "b"}},
		{"json string", `{"content":"x","tags":"[\"a\",\"b\"]"}`, []string{"a", "b"}},
		{"comma list", `{"content":"x","tags":"a, b,"}`, []string{"a", "b"}},
		{"absent", `{"content":"x"}`, nil},
		{"unrecognised", `{"content":"x","tags":42}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args mcp.StoreArgs
			require.NoError(t, json.Unmarshal([]byte(tt.in), &args))
			assert.Equal(t, "x", args.Content)
			assert.Equal(t, tt.want, args.Tags)
		})
	}
}

func TestSearchArgs_Decode(t *testing.T) {
	var args mcp.SearchArgs
	require.NoError(t, json.Unmarshal([]byte(`{
		"query": "tulips",
		"maxResults": 3,
		"expandGraph": false,
		"trackAccess": true,
		"workspace": "home",
		"weights": {"vector": 0.7},
		"filters": {"type": "event", "minImportance": 5, "case": "c", "people": "민수씨,지영", "tags": ["garden"]}
	}`), &args))

	assert.Equal(t, "tulips", args.Query)
	assert.Equal(t, 3, args.MaxResults)
	require.NotNil(t, args.ExpandGraph)
	assert.False(t, *args.ExpandGraph)
	assert.True(t, args.TrackAccess)
	assert.Equal(t, "home", args.Workspace)
	require.NotNil(t, args.Weights)
	require.NotNil(t, args.Weights.Vector)
	assert.InDelta(t, 0.7, *args.Weights.Vector, 1e-9)
	assert.Equal(t, "event", args.Filters.Type)
	assert.Equal(t, 5, args.Filters.MinImportance)
	assert.Equal(t, "c", args.Filters.Case)
	assert.Equal(t, []string{"민수씨", "지영"}, args.Filters.People)
	assert.Equal(t, []string{"garden"}, args.Filters.Tags)
}
