package calstub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerTools wires the calendar tools into the server registry.
func (s *Server) registerTools() {
	s.addTool(&mcp.Tool{
		Name:        "create_event",
		Description: "Create a calendar event",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"title":          {Type: "string"},
			"start_datetime": {Type: "string"},
			"end_datetime":   {Type: "string"},
			"location":       {Type: "string"},
			"notes":          {Type: "string"},
		}, []string{"title", "start_datetime", "end_datetime"}),
	}, s.handleCreateEvent)

	s.addTool(&mcp.Tool{
		Name:        "list_events",
		Description: "List all calendar events",
		InputSchema: objectSchema(nil, nil),
	}, s.handleListEvents)

	s.addTool(&mcp.Tool{
		Name:        "delete_event",
		Description: "Delete a calendar event by id",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"event_id": {Type: "string"},
		}, []string{"event_id"}),
	}, s.handleDeleteEvent)
}

// objectSchema builds an object input schema from property schemas.
func objectSchema(props map[string]*jsonschema.Schema, required []string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func (s *Server) handleCreateEvent(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArguments(req)
	if err != nil {
		return nil, err
	}

	title, _ := args["title"].(string)
	start, _ := args["start_datetime"].(string)
	end, _ := args["end_datetime"].(string)

	if title == "" || start == "" || end == "" {
		return nil, fmt.Errorf("title, start_datetime and end_datetime are required")
	}

	location, _ := args["location"].(string)
	notes, _ := args["notes"].(string)

	ev := s.store.create(Event{
		Title:    title,
		Start:    start,
		End:      end,
		Location: location,
		Notes:    notes,
	})

	return textResult(map[string]any{
		"success": true,
		"message": "event created",
		"event":   ev,
	})
}

func (s *Server) handleListEvents(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(map[string]any{
		"success": true,
		"events":  s.store.list(),
	})
}

func (s *Server) handleDeleteEvent(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArguments(req)
	if err != nil {
		return nil, err
	}

	id, _ := args["event_id"].(string)
	if id == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	if err := s.store.delete(id); err != nil {
		return nil, err
	}

	return textResult(map[string]any{
		"success": true,
		"message": "event deleted",
	})
}

// textResult wraps a payload in the tool-result content envelope: the
// payload travels as nested serialized JSON inside a text item.
func textResult(payload map[string]any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool payload: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// parseArguments unmarshals CallToolRequest arguments into a map.
func parseArguments(req *mcp.CallToolRequest) (map[string]any, error) {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return make(map[string]any), nil
	}

	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("unmarshal arguments: %w", err)
	}

	return args, nil
}
