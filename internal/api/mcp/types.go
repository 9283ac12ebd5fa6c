// Package mcp implements the Model Context Protocol (MCP) server for Memento.
// It provides JSON-RPC 2.0 based tools for storing, searching and exploring
// memories in a workspace.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/search"
	"github.com/scrypster/memento-graph/internal/storage"
)

// Tool names.
const (
	ToolStoreAdvanced  = "memory_store_advanced"
	ToolSearchAdvanced = "memory_search_advanced"
	ToolExplore        = "memory_explore"
	ToolStats          = "memory_stats"
)

// StoreArgs contains arguments for the memory_store_advanced tool.
type StoreArgs struct {
	engine.StoreRequest

	// Workspace selects the target workspace; empty means the default.
	Workspace string `json:"workspace,omitempty"`
}

// UnmarshalJSON handles MCP clients that send array fields like "tags" as a
// JSON-encoded string ("[\"a\",\"b\"]") or a comma-separated list rather than
// a JSON array. All three forms are accepted.
func (a *StoreArgs) UnmarshalJSON(data []byte) error {
	type Alias StoreArgs
	aux := &struct {
		Tags json.RawMessage `json:"tags,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	a.Tags = flexibleStrings(aux.Tags)
	return nil
}

// SearchArgs contains arguments for the memory_search_advanced tool.
type SearchArgs struct {
	engine.SearchRequest
	Workspace string `json:"workspace,omitempty"`
}

// UnmarshalJSON accepts stringified filter arrays like StoreArgs does.
func (a *SearchArgs) UnmarshalJSON(data []byte) error {
	type Alias SearchArgs
	aux := &struct {
		Filters json.RawMessage `json:"filters,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Filters) == 0 {
		return nil
	}

	var f struct {
		Type          string          `json:"type"`
		MinImportance int             `json:"minImportance"`
		Case          string          `json:"case"`
		People        json.RawMessage `json:"people"`
		Tags          json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal(aux.Filters, &f); err != nil {
		return err
	}
	a.Filters = search.Filters{
		Type:          f.Type,
		MinImportance: f.MinImportance,
		Case:          f.Case,
		People:        flexibleStrings(f.People),
		Tags:          flexibleStrings(f.Tags),
	}
	return nil
}

// ExploreArgs contains arguments for the memory_explore tool.
type ExploreArgs struct {
	engine.ExploreRequest
	Workspace string `json:"workspace,omitempty"`
}

// StatsArgs contains arguments for the memory_stats tool.
type StatsArgs struct {
	Workspace string `json:"workspace,omitempty"`
}

// StatsResult is a workspace summary.
type StatsResult struct {
	Workspace string `json:"workspace"`
	storage.Stats
}

// flexibleStrings decodes a JSON array of strings, a string holding such an
// array, or a comma-separated string. Unrecognised input yields nil.
func flexibleStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &out)
		return out
	}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
