package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/sekia-ai/primbus/pkg/primitive"
)

const defaultHistoryLimit = 20

func (s *MCPServer) handleGetStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status, err := s.api.GetStatus(ctx)
	if err != nil {
		return textError("failed to get status: " + err.Error()), nil
	}
	return textJSON(status)
}

func (s *MCPServer) handleListRobots(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	robots, err := s.api.GetRobots(ctx)
	if err != nil {
		return textError("failed to list robots: " + err.Error()), nil
	}
	return textJSON(robots.Robots)
}

func (s *MCPServer) handleListTypes(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	types, err := s.api.GetTypes(ctx)
	if err != nil {
		return textError("failed to list primitive types: " + err.Error()), nil
	}
	return textJSON(types.Types)
}

func (s *MCPServer) handleHistory(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := int(req.GetFloat("limit", defaultHistoryLimit))
	if limit <= 0 {
		return textError("limit must be positive"), nil
	}
	history, err := s.api.GetHistory(ctx, limit)
	if err != nil {
		return textError("failed to read history: " + err.Error()), nil
	}
	return textJSON(history.Entries)
}

func (s *MCPServer) handleSendPrimitive(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return textError("missing required parameter: name"), nil
	}
	robotID, err := robotIDArg(req)
	if err != nil {
		return textError(err.Error()), nil
	}

	args := req.GetArguments()
	params, err := floatsArg(args, "parameters")
	if err != nil {
		return textError(err.Error()), nil
	}
	flags, err := boolsArg(args, "flags")
	if err != nil {
		return textError(err.Error()), nil
	}

	msg := primitive.Message{Name: name, RobotID: robotID, Parameters: params, Flags: flags}
	return s.dispatch(ctx, msg)
}

func (s *MCPServer) handleMove(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	robotID, err := robotIDArg(req)
	if err != nil {
		return textError(err.Error()), nil
	}
	x, err := req.RequireFloat("x")
	if err != nil {
		return textError("missing required parameter: x"), nil
	}
	y, err := req.RequireFloat("y")
	if err != nil {
		return textError("missing required parameter: y"), nil
	}

	mv := primitive.NewMove(robotID, primitive.MoveParams{
		Destination:      primitive.Point{X: x, Y: y},
		FinalOrientation: req.GetFloat("orientation", 0),
		Dribbler:         req.GetBool("dribbler", false),
		Autokick:         req.GetBool("autokick", false),
	})
	return s.dispatch(ctx, primitive.Encode(mv))
}

// dispatch decodes msg locally so malformed records get a precise error
// before anything is sent, then hands it to primd.
func (s *MCPServer) dispatch(ctx context.Context, msg primitive.Message) (*mcplib.CallToolResult, error) {
	if _, err := primitive.Decode(msg); err != nil {
		return textError("invalid primitive: " + err.Error()), nil
	}
	resp, err := s.api.Dispatch(ctx, msg)
	if err != nil {
		return textError("failed to dispatch primitive: " + err.Error()), nil
	}
	return textJSON(resp)
}

func (s *MCPServer) handleListBehaviors(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	behaviors, err := s.api.GetBehaviors(ctx)
	if err != nil {
		return textError("failed to list behaviors: " + err.Error()), nil
	}
	return textJSON(behaviors.Behaviors)
}

func (s *MCPServer) handleReloadBehaviors(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.api.ReloadBehaviors(ctx); err != nil {
		return textError("failed to reload behaviors: " + err.Error()), nil
	}
	return textResult(`{"status":"reloaded"}`), nil
}

func (s *MCPServer) handleReloadConfig(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.api.ReloadConfig(ctx); err != nil {
		return textError("failed to reload config: " + err.Error()), nil
	}
	return textResult(`{"status":"reloaded"}`), nil
}

func robotIDArg(req mcplib.CallToolRequest) (uint32, error) {
	v, err := req.RequireFloat("robot_id")
	if err != nil {
		return 0, fmt.Errorf("missing required parameter: robot_id")
	}
	if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
		return 0, fmt.Errorf("robot_id must be a non-negative integer, got %v", v)
	}
	return uint32(v), nil
}

func floatsArg(args map[string]any, key string) ([]float64, error) {
	raw, ok := args[key].([]any)
	if !ok {
		if _, present := args[key]; !present {
			return nil, fmt.Errorf("missing required parameter: %s", key)
		}
		return nil, fmt.Errorf("%s must be an array of numbers", key)
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a number", key, i)
		}
		out[i] = f
	}
	return out, nil
}

func boolsArg(args map[string]any, key string) ([]bool, error) {
	raw, ok := args[key].([]any)
	if !ok {
		if _, present := args[key]; !present {
			return nil, fmt.Errorf("missing required parameter: %s", key)
		}
		return nil, fmt.Errorf("%s must be an array of booleans", key)
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a boolean", key, i)
		}
		out[i] = b
	}
	return out, nil
}

// textResult returns a successful text result.
func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// textError returns an error text result.
func textError(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// textJSON marshals v to indented JSON and returns it as a text result.
func textJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}
	return textResult(string(data)), nil
}
