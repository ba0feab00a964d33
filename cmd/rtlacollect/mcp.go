package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dustinblack/rtlacollect/internal/mcpserver"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Model Context Protocol (MCP) server",
	Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents to run timerlat collections interactively and
inspect tracer capabilities.

Communication happens over standard input/output (stdio).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		srv := mcpserver.NewServer(version, log)
		return srv.Start(ctx)
	},
}
