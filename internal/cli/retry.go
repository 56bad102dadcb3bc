package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/history"
)

func newRetryCmd(a *app) *cobra.Command {
	var indices []int

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Convert the failed files of the last batch again",
		Long: `Re-runs the files that failed in the most recent recorded batch, or the
files at the given --index positions. Each file is validated again before
it is decoded; outputs of the other files are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runRetry(cmd, indices)
		},
	}

	cmd.Flags().IntSliceVarP(&indices, "index", "i", nil, "file positions to retry (default: every failed file)")
	return cmd
}

func (a *app) runRetry(cmd *cobra.Command, indices []int) error {
	store, err := a.openHistory()
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("retry needs the conversion history; enable history in the config")
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	prev, err := store.LatestReport(ctx)
	if errors.Is(err, history.ErrNoHistory) {
		cmd.Println("Nothing to retry: no batch has been recorded yet")
		return nil
	}
	if err != nil {
		return err
	}

	if len(indices) == 0 {
		indices = prev.FailedIndices()
		if len(indices) == 0 {
			cmd.Printf("Nothing to retry: every file of batch %s succeeded\n", prev.ID)
			return nil
		}
	}

	runner := batch.NewRunner(a.converter(), a.cfg.Workers, store)
	req, err := batch.RetryRequest(prev, indices)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	cmd.Printf("Retrying %d of %d files from %s\n", len(req.Selected()), len(req.Files), prev.InputDir)
	rep := runner.Collect(ctx, req, &prev, runner.Stream(ctx, req), func(p batch.Progress) {
		cmd.Println(progressLine(len(req.Files), p))
	})
	writeSummary(cmd.OutOrStdout(), rep)

	return finish(ctx, rep)
}
