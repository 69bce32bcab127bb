// Package cli provides the sercha-kb command-line interface.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/app"
	"github.com/custodia-labs/sercha-kb/internal/config"
	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// skipSetup marks commands that run without opening the store.
const skipSetup = "skip-setup"

var version = "dev"

var (
	cfgFile string
	verbose bool
)

// Services used by the commands. PersistentPreRunE fills them from the
// opened store; tests inject mocks instead.
var (
	settings      *config.Settings
	searchService driving.SearchService
	reindexer     driving.Reindexer
	watchTracker  driving.WatchTracker
	rebuilder     interface {
		Rebuild(ctx context.Context) (*domain.ReindexSummary, error)
	}
	runScheduler func(ctx context.Context)
	closeStore   func() error

	// servicesInjected skips opening the store.
	servicesInjected bool
)

// openStore is replaced in tests.
var openStore = app.Open

var rootCmd = &cobra.Command{
	Use:   "sercha-kb",
	Short: "Local hybrid-search knowledge store",
	Long: `sercha-kb indexes local documents (Markdown, text, HTML, PDF, DOCX, CSV,
JSON) into a vector index and a keyword index, and answers natural-language
queries with ranked, cited passages.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default <data-dir>/config.toml)")
	pf.String("data-dir", "", "directory holding the indexes (default ~/.sercha-kb)")
	pf.String("storage", "", "storage backend: sqlite or memory")
	pf.String("provider", "", "embedding provider: local, openai or ollama")
	pf.String("model", "", "embedding model name")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

// Execute runs the root command with args. Cancelling ctx stops
// long-running commands such as serve and watch.
func Execute(ctx context.Context, v string, args []string) error {
	version = v
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if servicesInjected || cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	s, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	var opts app.Options
	if f := cmd.Flags().Lookup("rebuild"); f != nil && f.Value.String() == "true" {
		opts.Rebuild = true
	}

	a, err := openStore(s, opts)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	settings = s
	searchService = a.Search
	reindexer = a.Reindex
	watchTracker = a.Watch
	rebuilder = a.Reindex
	runScheduler = a.RunScheduler
	closeStore = a.Close
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if closeStore == nil {
		return nil
	}
	err := closeStore()
	closeStore = nil
	return err
}

// requireServices fails commands that need the store when setup was skipped.
func requireServices() error {
	if searchService == nil || reindexer == nil {
		return fmt.Errorf("store not opened")
	}
	return nil
}
