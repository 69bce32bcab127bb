package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driving/mcp"
)

var mcpListen string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can search
and reindex the knowledge store.

By default, the server communicates over stdio using JSON-RPC.
Use --listen to serve streamable HTTP instead.

Examples:
  # Stdio mode (default)
  sercha-kb mcp serve

  # HTTP mode
  sercha-kb mcp serve --listen 127.0.0.1:8080

Desktop assistant configuration:
  {
    "mcpServers": {
      "sercha-kb": {
        "command": "/path/to/sercha-kb",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().StringVar(&mcpListen, "listen", "", "HTTP address to listen on (empty = use stdio)")
	mcpServeCmd.Flags().Duration("rescan", 0, "rescan every root at this interval")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	if err := requireServices(); err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Search:  searchService,
		Reindex: reindexer,
		Watch:   watchTracker,
	})
	if err != nil {
		return err
	}

	if runScheduler != nil {
		runScheduler(cmd.Context())
	}

	if mcpListen != "" {
		// Stdout stays free of chatter in stdio mode; it carries the protocol.
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://%s\n", mcpListen)
		return server.RunHTTP(cmd.Context(), mcpListen)
	}
	return server.Run(cmd.Context())
}
