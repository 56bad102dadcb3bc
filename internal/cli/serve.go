package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/httpapi"
	"github.com/ryabkov82/fit2gpx/internal/job"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port, baseDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP conversion service",
		Long: `Serves the job API: POST /jobs queues a batch, GET /jobs/{id} reports its
outcomes, POST /jobs/{id}/cancel stops it and POST /jobs/{id}/retry queues
the failed files again. Paths are confined to the allowed base directory.
Set FIT2GPX_API_KEY to require an X-API-Key header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// a service always logs its job lines
			logger.SetVerbose(true)
			logger.SetTimestamps(true)

			if port != "" {
				a.cfg.Server.Port = port
			}
			if baseDir != "" {
				a.cfg.Server.AllowedBaseDir = baseDir
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			ln, err := net.Listen("tcp", ":"+a.cfg.Server.Port)
			if err != nil {
				return err
			}
			return a.serve(ctx, ln)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default from config)")
	cmd.Flags().StringVar(&baseDir, "allowed-base-dir", "", "directory all job paths must stay within")
	return cmd
}

// serve runs the job worker and the API on ln until ctx is cancelled
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	store, err := a.openHistory()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	jobs := job.NewStoreWithQueue(a.cfg.Server.QueueSize)
	runner := batch.NewRunner(a.converter(), a.cfg.Workers, outcomeLog(store))

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		job.NewWorker(jobs, runner).Run(workerCtx)
	}()

	handler, err := httpapi.NewHandler(jobs, a.cfg.Server.AllowedBaseDir)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           httpapi.SetupRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s, allowed base dir %s", ln.Addr(), a.cfg.Server.AllowedBaseDir)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	cancelWorker()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error: %v", err)
	}
	<-workerDone

	logger.Info("Server stopped")
	return nil
}
