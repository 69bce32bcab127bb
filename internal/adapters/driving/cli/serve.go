package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driving/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves search, reindex, stats and watch sessions over HTTP under
/api/v1, with a health check at /check/healthy. Scheduled rescans run
while the server is up when schedule.rescan_interval is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "address to bind (default from config)")
	serveCmd.Flags().Int("port", 0, "port to bind (default from config)")
	serveCmd.Flags().Duration("rescan", 0, "rescan every root at this interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := requireServices(); err != nil {
		return err
	}
	if settings == nil {
		return fmt.Errorf("settings not loaded")
	}

	addr := net.JoinHostPort(settings.Server.Host, strconv.Itoa(settings.Server.Port))
	srv, err := api.NewServer(addr, api.Ports{
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
	fmt.Fprintf(cmd.OutOrStdout(), "HTTP API listening on http://%s\n", addr)
	return srv.Run(cmd.Context())
}
