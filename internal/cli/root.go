// Package cli implements the fit2gpx command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/config"
	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/history"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

// ErrFilesFailed is returned when at least one file of a run failed
var ErrFilesFailed = errors.New("some files failed to convert")

type app struct {
	configPath string
	verbose    bool
	cfg        config.Config
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "fit2gpx",
		Short: "Convert FIT activity files to GPX tracks",
		Long: `fit2gpx decodes FIT activity files and writes one GPX 1.1 track per file.
Corrupt or partial files are reported per file and never stop a batch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger.SetVerbose(a.verbose)
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $FIT2GPX_CONFIG or ~/.fit2gpx/config.toml)")

	root.AddCommand(
		newConvertCmd(a),
		newRetryCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and reports errors on stderr
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, ErrFilesFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return err
	}
	return nil
}

// signalContext is cancelled on interrupt or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) converter() *convert.Converter {
	return convert.NewConverter(a.cfg.Convert(), nil)
}

// openHistory opens the outcome store, or returns nil when history is off
func (a *app) openHistory() (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.NewStore(a.cfg.History.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return store, nil
}

// outcomeLog adapts a possibly nil store to batch.OutcomeLog
func outcomeLog(store *history.Store) batch.OutcomeLog {
	if store == nil {
		return nil
	}
	return store
}
