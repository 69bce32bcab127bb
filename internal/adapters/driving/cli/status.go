package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus statistics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output statistics as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if err := requireServices(); err != nil {
		return err
	}

	stats, err := reindexer.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	if statusJSON {
		return writeJSON(cmd.OutOrStdout(), stats)
	}

	w := cmd.OutOrStdout()
	if settings != nil {
		fmt.Fprintf(w, "Data dir:          %s\n", settings.DataDir)
		fmt.Fprintf(w, "Embedding:         %s %s\n", settings.Embedding.Provider, settings.Embedding.Model)
	}
	fmt.Fprintf(w, "Files:             %d\n", stats.Files)
	fmt.Fprintf(w, "Chunks:            %d\n", stats.Chunks)
	fmt.Fprintf(w, "Avg chunk length:  %.0f chars\n", stats.AvgChunkLen)
	fmt.Fprintf(w, "Embeddings cached: %d\n", stats.EmbeddingsCached)
	fmt.Fprintf(w, "Partial files:     %d\n", stats.PartialFiles)
	fmt.Fprintf(w, "Duplicates:        %d\n", stats.Duplicates)
	if stats.LastIndexedAt != nil {
		fmt.Fprintf(w, "Last indexed:      %s\n", stats.LastIndexedAt.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last indexed:      never")
	}

	if len(stats.ByType) > 0 {
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprintln(w, "By type:")
		for _, t := range types {
			fmt.Fprintf(w, "  %-16s %d\n", t, stats.ByType[t])
		}
	}
	return nil
}
