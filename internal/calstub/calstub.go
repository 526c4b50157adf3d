// Package calstub is a stand-in calendar automation server speaking
// newline-delimited JSON-RPC on stdio, so the harness can be exercised
// end-to-end without the real server. Tools are registered with the
// official MCP SDK types; only the stdio framing is local.
package calstub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/probelabs/stdiorpc/internal/jsonrpc"
)

// Standard JSON-RPC error codes the stub emits.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
)

const (
	serverName    = "calstub"
	serverVersion = "0.1.0"
	protocolTag   = "2024-11-05"
)

// registeredTool holds tool metadata and handler for the registry.
type registeredTool struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

// Server is the stub calendar server.
type Server struct {
	log   *slog.Logger
	store *eventStore

	mu    sync.RWMutex
	tools map[string]*registeredTool
	order []string
}

// NewServer creates a stub server with the calendar tools registered.
func NewServer(log *slog.Logger) *Server {
	s := &Server{
		log:   log.With("component", "calstub"),
		store: newEventStore(),
		tools: make(map[string]*registeredTool, 4),
	}
	s.registerTools()

	return s
}

// addTool registers a tool with the server.
func (s *Server) addTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.order = append(s.order, tool.Name)
	}

	s.tools[tool.Name] = &registeredTool{tool: tool, handler: handler}
}

// ListTools returns metadata for all registered tools in registration order.
func (s *Server) ListTools() []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0, len(s.order))

	for _, name := range s.order {
		t := s.tools[name]
		entry := map[string]any{
			"name":        t.tool.Name,
			"description": t.tool.Description,
		}

		if t.tool.InputSchema != nil {
			if data, err := json.Marshal(t.tool.InputSchema); err == nil {
				var schema map[string]any
				if json.Unmarshal(data, &schema) == nil {
					entry["inputSchema"] = schema
				}
			}
		}

		out = append(out, entry)
	}

	return out
}

// CallTool executes a registered tool by name.
func (s *Server) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
	s.mu.RLock()
	t, exists := s.tools[name]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      name,
			Arguments: arguments,
		},
	}

	return t.handler(ctx, req)
}

// incoming is the loosely parsed shape of one request line.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsonrpc.ID      `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// callParams is the tools/call params shape.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Serve reads one JSON object per line from r and writes one response per
// request to w until end-of-stream. Notifications (no id) are ignored.
// Unparseable lines get a parse-error response so a driving client can
// observe the rejection.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req incoming
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Debug("Rejecting unparseable request line", "error", err)
			s.reply(out, errorResponse(jsonrpc.ID{}, codeParseError, "parse error"))

			continue
		}

		if req.ID.IsZero() {
			s.log.Debug("Ignoring notification", "method", req.Method)

			continue
		}

		s.reply(out, s.dispatch(ctx, &req))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}

	return nil
}

// dispatch routes one request to its method handler.
func (s *Server) dispatch(ctx context.Context, req *incoming) *jsonrpc.Response {
	s.log.Debug("Handling request", "id", req.ID, "method", req.Method)

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": protocolTag,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		})

	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": s.ListTools()})

	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return errorResponse(req.ID, codeInvalidParams, "invalid tools/call params")
		}

		result, err := s.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, codeToolFailed, err.Error())
		}

		return resultResponse(req.ID, toolResultPayload(result))

	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// reply writes one response line and flushes so the client observes it
// without buffering delay.
func (s *Server) reply(out *bufio.Writer, resp *jsonrpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("Failed to marshal response", "error", err)

		return
	}

	if _, err := out.Write(append(data, '\n')); err != nil {
		s.log.Error("Failed to write response", "error", err)

		return
	}

	if err := out.Flush(); err != nil {
		s.log.Error("Failed to flush response", "error", err)
	}
}

func resultResponse(id jsonrpc.ID, payload map[string]any) *jsonrpc.Response {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(id, codeToolFailed, "marshal result: "+err.Error())
	}

	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Result: data}
}

func errorResponse(id jsonrpc.ID, code int, message string) *jsonrpc.Response {
	return &jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      id,
		Error:   &jsonrpc.Error{Code: code, Message: message},
	}
}

// toolResultPayload converts a CallToolResult into the wire content
// envelope.
func toolResultPayload(result *mcp.CallToolResult) map[string]any {
	if result == nil {
		return map[string]any{"content": []map[string]any{}}
	}

	content := make([]map[string]any, 0, len(result.Content))

	for _, c := range result.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			content = append(content, map[string]any{
				"type": "text",
				"text": text.Text,
			})
		}
	}

	payload := map[string]any{"content": content}
	if result.IsError {
		payload["isError"] = true
	}

	return payload
}
