package cli

import (
	"github.com/spf13/cobra"

	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "watch <input-dir>",
		Short: "Convert FIT files as they arrive",
		Long: `Watches input-dir and converts each .fit file once it has stopped changing
for the configured debounce period. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir == "" {
				outputDir = args[0]
			}

			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			opts := a.cfg.WatchOptions(args[0], outputDir)
			opts.Log = outcomeLog(store)
			opts.OnOutcome = func(o convert.Outcome) {
				cmd.Println(outcomeLine(o))
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cmd.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
			return watch.New(a.converter(), opts).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: the input directory)")
	return cmd
}
