package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/memento-graph/internal/engine"
	"github.com/scrypster/memento-graph/internal/storage"
	"github.com/scrypster/memento-graph/internal/workspace"
	"github.com/scrypster/memento-graph/pkg/types"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ToolObserver records tool calls, typically for metrics.
type ToolObserver interface {
	ObserveToolCall(tool string, elapsed time.Duration, failed bool)
}

type nopToolObserver struct{}

func (nopToolObserver) ObserveToolCall(string, time.Duration, bool) {}

// Server implements the Model Context Protocol (MCP) for Memento.
// It provides JSON-RPC 2.0 based tools for AI assistants to interact
// with the memory system.
type Server struct {
	registry  *workspace.Registry
	logger    *zap.Logger
	observer  ToolObserver
	version   string
	sessionID string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithToolObserver reports every tools/call to o.
func WithToolObserver(o ToolObserver) ServerOption {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithVersion sets the version announced during initialize.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		if v != "" {
			s.version = v
		}
	}
}

// NewServer creates a new MCP server serving the workspaces of registry.
func NewServer(registry *workspace.Registry, opts ...ServerOption) *Server {
	s := &Server{
		registry:  registry,
		logger:    zap.NewNop(),
		observer:  nopToolObserver{},
		version:   "dev",
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.sessionID))
	s.logger.Info("mcp server created", zap.String("default_workspace", registry.Default()))
	return s
}

// SessionID returns the ID generated for this server instance.
func (s *Server) SessionID() string {
	return s.sessionID
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// Notifications produce no response: both return values are nil.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized", "notifications/cancelled":
		if req.ID == nil {
			return nil, nil
		}
		result = map[string]interface{}{}
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Direct JSON-RPC methods
	case ToolStoreAdvanced, ToolSearchAdvanced, ToolExplore, ToolStats:
		result, err = s.dispatch(ctx, req.Method, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		code := ErrCodeServerError
		if errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, errInvalidParams) {
			code = ErrCodeInvalidParams
		}
		return s.errorResponse(req.ID, code, err.Error(), nil)
	}

	return s.successResponse(req.ID, result)
}

var errInvalidParams = errors.New("invalid params")

// dispatch decodes params for tool and runs it.
func (s *Server) dispatch(ctx context.Context, tool string, params interface{}) (interface{}, error) {
	switch tool {
	case ToolStoreAdvanced:
		var args StoreArgs
		if err := s.unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return s.StoreAdvanced(ctx, args)
	case ToolSearchAdvanced:
		var args SearchArgs
		if err := s.unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return s.SearchAdvanced(ctx, args)
	case ToolExplore:
		var args ExploreArgs
		if err := s.unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return s.Explore(ctx, args)
	case ToolStats:
		var args StatsArgs
		if err := s.unmarshalParams(params, &args); err != nil {
			return nil, err
		}
		return s.Stats(ctx, args)
	}
	return nil, fmt.Errorf("unknown tool: %s", tool)
}

// StoreAdvanced classifies and stores a note in the requested workspace.
func (s *Server) StoreAdvanced(ctx context.Context, args StoreArgs) (*engine.StoreResult, error) {
	eng, err := s.registry.Engine(ctx, args.Workspace)
	if err != nil {
		return nil, err
	}
	if args.Source == "" {
		args.Source = "mcp"
	}
	return eng.StoreAdvanced(ctx, args.StoreRequest)
}

// SearchAdvanced runs a fused search. Search failures are reported in the
// response's Error field; only an unusable workspace returns an error.
func (s *Server) SearchAdvanced(ctx context.Context, args SearchArgs) (*engine.SearchResponse, error) {
	eng, err := s.registry.Engine(ctx, args.Workspace)
	if err != nil {
		return nil, err
	}
	return eng.SearchAdvanced(ctx, args.SearchRequest), nil
}

// Explore walks the graph around an entity.
func (s *Server) Explore(ctx context.Context, args ExploreArgs) (*engine.ExploreResponse, error) {
	eng, err := s.registry.Engine(ctx, args.Workspace)
	if err != nil {
		return nil, err
	}
	return eng.Explore(ctx, args.ExploreRequest)
}

// Stats summarises a workspace.
func (s *Server) Stats(ctx context.Context, args StatsArgs) (*StatsResult, error) {
	name := args.Workspace
	if name == "" {
		name = s.registry.Default()
	}
	eng, err := s.registry.Engine(ctx, name)
	if err != nil {
		return nil, err
	}
	st, err := eng.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsResult{Workspace: name, Stats: *st}, nil
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPInitializeParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	s.logger.Info("mcp client connected",
		zap.String("client", p.ClientInfo.Name),
		zap.String("client_version", p.ClientInfo.Version),
		zap.String("protocol", p.ProtocolVersion))

	return MCPInitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "memento-graph",
			Version: s.version,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope. Tool failures are
// reported as isError content rather than JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	switch p.Name {
	case ToolStoreAdvanced, ToolSearchAdvanced, ToolExplore, ToolStats:
	default:
		s.observer.ObserveToolCall(p.Name, 0, true)
		return toolError(fmt.Sprintf("unknown tool: %s", p.Name)), nil
	}

	started := time.Now()
	result, handlerErr := s.dispatch(ctx, p.Name, p.Arguments)
	elapsed := time.Since(started)

	failed := handlerErr != nil
	if sr, ok := result.(*engine.SearchResponse); ok && !failed && sr.Error != "" {
		failed = true
	}
	s.observer.ObserveToolCall(p.Name, elapsed, failed)

	if handlerErr != nil {
		s.logger.Warn("tool call failed",
			zap.String("tool", p.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(handlerErr))
		return toolError(handlerErr.Error()), nil
	}
	s.logger.Debug("tool call", zap.String("tool", p.Name), zap.Duration("elapsed", elapsed))

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func toolError(msg string) *MCPToolCallResult {
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

var workspaceProperty = map[string]interface{}{"type": "string", "description": "Workspace to use. Omit for the default workspace."}

func stringArray(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": desc}
}

func entryTypeNames() []string {
	out := make([]string, 0, len(types.ValidEntryTypes))
	for _, t := range types.ValidEntryTypes {
		out = append(out, string(t))
	}
	return out
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	weight := map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1}

	return []MCPTool{
		{
			Name: ToolStoreAdvanced,
			Description: "Store a note. The text is classified (people, case, place, type, importance, emotion, status), " +
				"its entities and relationships are linked into the knowledge graph, and it is indexed as a chunk of a memory file.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content"},
				"properties": map[string]interface{}{
					"content":      map[string]interface{}{"type": "string", "description": "The note to store (required)"},
					"type":         map[string]interface{}{"type": "string", "enum": entryTypeNames(), "description": "Override the classified entry type"},
					"tags":         stringArray("Tags added to the classified tags"),
					"autoClassify": map[string]interface{}{"type": "boolean", "description": "Run the classifier (default: true)"},
					"file":         map[string]interface{}{"type": "string", "description": "Memory file to append to (default: memory/<date>.md)"},
					"source":       map[string]interface{}{"type": "string", "description": "Where this note came from"},
					"workspace":    workspaceProperty,
				},
			},
		},
		{
			Name: ToolSearchAdvanced,
			Description: "Search memories. The query is classified (entity, semantic, temporal, exact, knowledge) to weight vector, " +
				"keyword and graph signals; results are decayed by age and can be filtered and expanded with related context.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Natural-language query (required)"},
					"filters": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"type":          map[string]interface{}{"type": "string", "enum": entryTypeNames()},
							"minImportance": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 10},
							"people":        stringArray("Match results mentioning any of these people"),
							"case":          map[string]interface{}{"type": "string"},
							"tags":          stringArray("Match results carrying any of these tags"),
						},
					},
					"expandGraph": map[string]interface{}{"type": "boolean", "description": "Append related context (default: true)"},
					"maxResults":  map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100, "description": "Primary results to return (default: 10)"},
					"weights": map[string]interface{}{
						"type":        "object",
						"description": "Override signal weights; they are renormalised to sum to 1",
						"properties":  map[string]interface{}{"vector": weight, "bm25": weight, "graph": weight},
					},
					"trackAccess": map[string]interface{}{"type": "boolean", "description": "Record an access on each result (slows future decay)"},
					"workspace":   workspaceProperty,
				},
			},
		},
		{
			Name:        ToolExplore,
			Description: "Explore the knowledge graph around an entity: connected nodes up to depth hops and the documents that mention them.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"entity"},
				"properties": map[string]interface{}{
					"entity":            map[string]interface{}{"type": "string", "description": "Entity name (required)"},
					"depth":             map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 3, "description": "Hops to traverse (default: 1)"},
					"relationshipTypes": stringArray("Follow only these relationship types"),
					"workspace":         workspaceProperty,
				},
			},
		},
		{
			Name:        ToolStats,
			Description: "Summarise a workspace: node, edge, chunk and file counts, breakdowns by type and domain, top-connected entities and popular tags.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"workspace": workspaceProperty,
				},
			},
		},
	}
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
