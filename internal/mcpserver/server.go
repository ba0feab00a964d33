// Package mcpserver exposes timerlat collection over the Model Context
// Protocol. This is the host-facing surface: the host invokes run_timerlat
// and delivers early cancellation by cancelling the tool call's context.
package mcpserver

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dustinblack/rtlacollect/internal/collector"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server with the timerlat tools registered.
func NewServer(version string, log zerolog.Logger) *Server {
	s := server.NewMCPServer("rtlacollect", version, server.WithLogging())

	h := &handlers{
		timerlat: collector.New(log),
		log:      log,
	}
	registerTools(s, h)

	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools adds the supported tools to the server.
func registerTools(s *server.MCPServer, h *handlers) {
	runTool := mcp.NewTool("run_timerlat",
		mcp.WithDescription("Run the RTLA timerlat data collection and process the results into a machine-readable format. Requires root and the rtla tool. Cancel the call to stop collection early; the partial report is still returned."),
		mcp.WithNumber("period",
			mcp.Description("Timerlat period in microseconds"),
		),
		mcp.WithString("cpus",
			mcp.Description("Run the tracer only on the given CPUs, comma-separated (e.g. '1,2')"),
		),
		mcp.WithString("house_keeping",
			mcp.Description("Run rtla control threads only on the given CPUs, comma-separated"),
		),
		mcp.WithNumber("duration",
			mcp.Description("Duration of the session in seconds"),
		),
		mcp.WithBoolean("nano",
			mcp.Description("Display data in nanoseconds"),
		),
		mcp.WithNumber("bucket_size",
			mcp.Description("Histogram bucket size (default 1)"),
		),
		mcp.WithNumber("entries",
			mcp.Description("Number of histogram entries (default 256)"),
		),
		mcp.WithBoolean("user_threads",
			mcp.Description("Use rtla user-space threads instead of kernel-space timerlat threads"),
		),
		mcp.WithBoolean("timeseries",
			mcp.Description("Mirror the kernel trace pipe and attach per-CPU latency time series"),
		),
		mcp.WithNumber("timeseries_interval_ms",
			mcp.Description("Minimum gap between retained time-series samples, in milliseconds"),
		),
	)
	s.AddTool(runTool, h.handleRunTimerlat)

	capsTool := mcp.NewTool("trace_capabilities",
		mcp.WithDescription("Report the host's tracing support: tracefs mount, timerlat tracer, trace pipe, and BPF sample mode."),
	)
	s.AddTool(capsTool, h.handleCapabilities)
}
