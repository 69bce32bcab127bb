package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var (
	indexForce   bool
	indexRebuild bool
	indexJSON    bool
	indexDetails bool
)

var indexCmd = &cobra.Command{
	Use:   "index [paths...]",
	Short: "Index files and directories",
	Long: `Brings the indexes in line with the filesystem. Directories are walked;
unchanged files are skipped and removed files are purged. With no paths,
every configured root is rescanned.

--force re-imports files even when unchanged. --force --rebuild discards
both indexes first, which is required after switching to an embedding
model with a different vector size.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "re-import unchanged files")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "discard and rebuild both indexes (requires --force)")
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "output the summary as JSON")
	indexCmd.Flags().BoolVar(&indexDetails, "details", false, "list the outcome of every path")
	indexCmd.Flags().StringSlice("root", nil, "roots to scan when no paths are given")
	indexCmd.Flags().Int("workers", 0, "files processed in parallel")
	indexCmd.Flags().Int("max-size-mb", 0, "skip files larger than this")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if indexRebuild && !indexForce {
		return errors.New("--rebuild requires --force")
	}
	if err := requireServices(); err != nil {
		return err
	}

	var (
		summary *domain.ReindexSummary
		err     error
	)
	if indexRebuild {
		if len(args) > 0 {
			return errors.New("--rebuild reindexes every root and takes no paths")
		}
		if rebuilder == nil {
			return errors.New("rebuild not supported")
		}
		summary, err = rebuilder.Rebuild(cmd.Context())
	} else {
		summary, err = reindexer.Reindex(cmd.Context(), args, domain.ReindexOptions{Force: indexForce})
	}

	// A provider failure still returns the work committed so far.
	if summary != nil {
		if indexJSON {
			if encErr := writeJSON(cmd.OutOrStdout(), summary); encErr != nil {
				return encErr
			}
		} else {
			printSummary(cmd.OutOrStdout(), summary, indexDetails)
		}
	}
	if err != nil {
		return fmt.Errorf("index failed: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, s *domain.ReindexSummary, details bool) {
	fmt.Fprintf(w, "Indexed %d, updated %d, skipped %d, deleted %d, errors %d",
		s.Indexed, s.Updated, s.Skipped, s.Deleted, s.Errors)
	if s.Partial > 0 {
		fmt.Fprintf(w, ", partial %d", s.Partial)
	}
	fmt.Fprintf(w, " (%s)\n", s.Duration.Round(time.Millisecond))

	for _, r := range s.Results {
		if !details && r.Outcome != domain.OutcomeFailed {
			continue
		}
		line := fmt.Sprintf("  %-15s %s", r.Outcome, r.Path)
		if r.Chunks > 0 {
			line += fmt.Sprintf(" (%d chunks)", r.Chunks)
		}
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
