package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/logger"
)

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Reindex files as they change",
	Long: `Watches files and directories and reindexes each changed file once it
has been quiet for the debounce period. With no paths, the configured
roots are watched. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "quiet period before a changed file is reindexed")
	watchCmd.Flags().Duration("rescan", 0, "also rescan every root at this interval")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchTracker == nil {
		return errors.New("watch service not configured")
	}

	paths := args
	if len(paths) == 0 && settings != nil {
		paths = settings.Roots
	}
	if len(paths) == 0 {
		return errors.New("no paths given and no roots configured")
	}

	ctx := cmd.Context()
	activity, err := watchTracker.Start(ctx, paths)
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	defer func() {
		_ = watchTracker.Stop(activity.SessionID)
	}()

	if runScheduler != nil {
		runScheduler(ctx)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %d path(s), session %s. Press Ctrl+C to stop.\n", len(activity.Paths), activity.SessionID)
	for _, p := range activity.Paths {
		fmt.Fprintf(out, "  %s\n", p)
	}
	logger.L().Info("Watch session started", "session", activity.SessionID, "paths", activity.Paths)

	<-ctx.Done()

	for _, a := range watchTracker.List() {
		if a.SessionID != activity.SessionID {
			continue
		}
		fmt.Fprintf(out, "Stopped after %d event(s) and %d reindex(es).\n", a.EventCount, a.ReindexCount)
		if a.LastError != "" {
			fmt.Fprintf(out, "Last error: %s\n", a.LastError)
		}
	}
	logger.L().Info("Watch session stopped", "session", activity.SessionID)
	return nil
}
