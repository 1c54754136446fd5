package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	recmcp "github.com/valter-silva-au/flight-recorder/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the rec MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rec MCP server on stdio",
	Long: `Start the rec MCP server on stdio transport.

The server exposes the recorder as MCP tools that AI coding assistants
can call: list_dumps, read_dump, run_finalizer_check, get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if DumpStore == nil {
			return fmt.Errorf("dump store not initialized")
		}

		srv := recmcp.NewServer(DumpStore, FinalizerCheck, MetricsCalc, AlertEngine, appVersion)

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
