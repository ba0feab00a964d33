package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/dustinblack/rtlacollect/internal/collector"
	"github.com/dustinblack/rtlacollect/internal/request"
	"github.com/dustinblack/rtlacollect/internal/tracefs"
)

type handlers struct {
	timerlat *collector.Timerlat
	log      zerolog.Logger
}

// handleRunTimerlat runs one collection. The tool call's context doubles as
// the host's cancellation channel: cancelling the call interrupts rtla the
// same way duration expiry does.
func (h *handlers) handleRunTimerlat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(req)

	colReq, err := buildRequest(args)
	if err != nil {
		return errResult(err.Error()), nil
	}

	outcome := h.timerlat.Collect(ctx, colReq, nil)
	jsonData, err := json.Marshal(outcome)
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	if outcome.Error != nil {
		return errResult(string(jsonData)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// handleCapabilities reports the host's tracing support.
func (h *handlers) handleCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := tracefs.Detect()
	jsonData, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// buildRequest converts tool-call arguments into a CollectionRequest.
func buildRequest(args map[string]interface{}) (*request.CollectionRequest, error) {
	req := &request.CollectionRequest{
		Period:           intArg(args, "period"),
		Nano:             boolArg(args, "nano"),
		BucketSize:       intArg(args, "bucket_size"),
		Entries:          intArg(args, "entries"),
		UserThreads:      boolArg(args, "user_threads"),
		EnableTimeseries: boolArg(args, "timeseries"),
	}

	if d := intArg(args, "duration"); d > 0 {
		req.Duration = time.Duration(d) * time.Second
	}
	if ms := intArg(args, "timeseries_interval_ms"); ms > 0 {
		req.TimeseriesInterval = time.Duration(ms) * time.Millisecond
	}

	cpus, err := request.ParseCPUList(stringArg(args, "cpus", ""))
	if err != nil {
		return nil, err
	}
	req.CPUs = cpus

	hk, err := request.ParseCPUList(stringArg(args, "house_keeping", ""))
	if err != nil {
		return nil, err
	}
	req.HouseKeeping = hk

	return req, nil
}

// getArgs safely extracts the arguments map from a CallToolRequest.
func getArgs(req mcp.CallToolRequest) map[string]interface{} {
	if req.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// intArg reads a numeric argument; JSON numbers arrive as float64.
func intArg(args map[string]interface{}, key string) int {
	val, ok := args[key]
	if !ok || val == nil {
		return 0
	}
	f, ok := val.(float64)
	if !ok {
		return 0
	}
	return int(f)
}

func boolArg(args map[string]interface{}, key string) bool {
	val, ok := args[key]
	if !ok || val == nil {
		return false
	}
	b, ok := val.(bool)
	if !ok {
		return false
	}
	return b
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates a tool-level error result, not a transport-level
// JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
