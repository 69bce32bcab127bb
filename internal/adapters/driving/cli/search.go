package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var (
	searchK       int
	searchAlpha   float64
	searchJSON    bool
	searchFilters domain.FilterInput
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Performs hybrid search across all indexed documents.
Blends semantic (vector) similarity with keyword (BM25) relevance;
--alpha 1 ranks by meaning only, --alpha 0 by keywords only.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntVarP(&searchK, "k", "k", 0, "number of results (default from config)")
	f.Float64Var(&searchAlpha, "alpha", 0, "vector weight between 0 and 1 (default from config)")
	f.BoolVar(&searchJSON, "json", false, "output results as JSON")
	f.StringSliceVar(&searchFilters.ContentTypes, "type", nil, "only these content types")
	f.StringVar(&searchFilters.Author, "author", "", "only documents by this author")
	f.StringVar(&searchFilters.Slug, "slug", "", "only the document with this slug")
	f.StringSliceVar(&searchFilters.Tags, "tag", nil, "only documents carrying every tag")
	f.StringVar(&searchFilters.UpdatedAfter, "after", "", "only documents updated after (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&searchFilters.UpdatedBefore, "before", "", "only documents updated before (YYYY-MM-DD or RFC 3339)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := requireServices(); err != nil {
		return err
	}

	filters, err := searchFilters.Filters()
	if err != nil {
		return err
	}
	req := domain.SearchRequest{Query: args[0], K: searchK, Filters: filters}
	if cmd.Flags().Changed("alpha") {
		alpha := searchAlpha
		req.Alpha = &alpha
	}

	resp, err := searchService.Search(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	outputSearchTable(cmd.OutOrStdout(), resp)
	return nil
}

func outputSearchTable(w io.Writer, resp *domain.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintln(w, "Results:")
	fmt.Fprintln(w)
	for i := range resp.Results {
		r := &resp.Results[i]
		title := r.Title
		if title == "" {
			title = r.SourcePath
		}
		fmt.Fprintf(w, "[%d] %s (%.3f)\n", i+1, title, r.Score)

		where := r.SourcePath + " " + r.PageOrOffset
		if r.ContentType != "" {
			where += " · " + r.ContentType
		}
		if r.Partial {
			where += " · partial"
		}
		fmt.Fprintf(w, "    %s\n", where)
		if len(r.Tags) > 0 {
			fmt.Fprintf(w, "    tags: %s\n", strings.Join(r.Tags, ", "))
		}
		if r.Snippet != "" {
			fmt.Fprintf(w, "    %s\n", r.Snippet)
		}
		fmt.Fprintln(w)
	}
}
