package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		outputDir string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "convert <input-dir> [files...]",
		Short: "Convert FIT files to GPX",
		Long: `Converts every .fit file of input-dir, or only the named files, into
<name>.gpx files in the output directory. Files are converted in parallel;
a failing file is reported and the rest of the batch continues.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				a.cfg.Workers = workers
			}
			if outputDir == "" {
				outputDir = args[0]
			}
			return a.runConvert(cmd, args[0], outputDir, args[1:])
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: the input directory)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel conversions (default from config)")
	return cmd
}

func (a *app) runConvert(cmd *cobra.Command, inputDir, outputDir string, files []string) error {
	if len(files) == 0 {
		found, err := batch.Discover(inputDir)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			cmd.Printf("No .fit files in %s\n", inputDir)
			return nil
		}
		files = found
	}

	store, err := a.openHistory()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	conv := a.converter()
	runner := batch.NewRunner(conv, a.cfg.Workers, outcomeLog(store))
	req := batch.NewRequest(inputDir, outputDir, files)

	cmd.Printf("Converting %d files from %s to %s\n", len(files), inputDir, outputDir)
	rep := runner.Collect(ctx, req, nil, runner.Stream(ctx, req), func(p batch.Progress) {
		cmd.Println(progressLine(len(files), p))
	})
	writeSummary(cmd.OutOrStdout(), rep)
	logger.Debug("%s", conv.Timings().String())

	return finish(ctx, rep)
}

// finish maps a finished report to the command result
func finish(ctx context.Context, rep batch.Report) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if rep.Summary().Failed > 0 {
		return ErrFilesFailed
	}
	return nil
}
