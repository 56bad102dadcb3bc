// Package watch converts FIT files as they appear in a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ryabkov82/fit2gpx/internal/batch"
	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

const (
	// DefaultDebounce is how long a file must stay quiet before it is converted
	DefaultDebounce = 2 * time.Second
	// DefaultRate is the default number of conversions started per second
	DefaultRate = 2.0
)

// Options configures a Watcher
type Options struct {
	InputDir  string
	OutputDir string
	// Debounce is the quiet period after the last create/write event
	Debounce time.Duration
	// Rate limits conversions per second; <= 0 means unlimited
	Rate float64
	// Burst is the token bucket size; < 1 means 1
	Burst int
	// Log receives every outcome; may be nil
	Log batch.OutcomeLog
	// OnOutcome is called after every conversion; may be nil
	OnOutcome func(convert.Outcome)
}

// Watcher converts every .fit file that settles in its input directory.
// All outcomes of one Watcher share a batch ID in the outcome log.
type Watcher struct {
	conv    batch.Converter
	opts    Options
	limiter *rate.Limiter
	batchID string

	mu      sync.Mutex
	pending map[string]*pendingFile
	files   []string
	index   map[string]int

	settled chan string
	done    chan struct{}
}

// New creates a watcher
func New(conv batch.Converter, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Watcher{
		conv:    conv,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		batchID: "watch-" + uuid.New().String(),
		pending: make(map[string]*pendingFile),
		index:   make(map[string]int),
		settled: make(chan string, 64),
		done:    make(chan struct{}),
	}
}

// BatchID returns the batch ID used in the outcome log
func (w *Watcher) BatchID() string {
	return w.batchID
}

// Run watches until ctx is cancelled. Files already present are not
// converted; only create and write events trigger work. A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.opts.InputDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.opts.InputDir, err)
	}
	logger.Info("watching %s -> %s", w.opts.InputDir, w.opts.OutputDir)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.dispatch(ctx)
	}()
	defer func() {
		w.stopTimers()
		close(w.done)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error: %v", err)
		}
	}
}

// handle resets the debounce timer of a created or written FIT file
func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !isFIT(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := ev.Name
	p, ok := w.pending[path]
	if ok {
		p.timer.Stop()
	} else {
		p = &pendingFile{}
		w.pending[path] = p
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(w.opts.Debounce, func() {
		w.settle(path, gen)
	})
}

// pendingFile is the debounce state of one path. gen grows with every
// event so a timer that fired before a later event cannot settle the file.
type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

// settle queues path for conversion if gen is still its latest event
func (w *Watcher) settle(path string, gen uint64) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	select {
	case w.settled <- path:
	case <-w.done:
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.settled:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.convert(ctx, path)
		}
	}
}

func (w *Watcher) convert(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		logger.Debug("skipping %s: no longer a regular file", path)
		return
	}

	outcome := w.conv.Convert(ctx, path, batch.OutputPath(w.opts.OutputDir, path))
	if outcome.Success {
		logger.Info("%s: %d points -> %s", outcome.FileName, outcome.PointsWritten, outcome.OutputPath)
	} else {
		logger.Warn("%s: %v", outcome.FileName, outcome.Err)
	}

	if w.opts.Log != nil {
		files, i := w.record(path)
		e := batch.Entry{
			BatchID:   w.batchID,
			InputDir:  w.opts.InputDir,
			OutputDir: w.opts.OutputDir,
			Files:     files,
			Index:     i,
			Outcome:   outcome,
			At:        time.Now().UTC(),
		}
		if err := w.opts.Log.Append(context.WithoutCancel(ctx), e); err != nil {
			logger.Error("append outcome of %s: %v", outcome.FileName, err)
		}
	}
	if w.opts.OnOutcome != nil {
		w.opts.OnOutcome(outcome)
	}
}

// record assigns path a stable index within the watch batch
func (w *Watcher) record(path string) ([]string, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := filepath.Base(path)
	i, ok := w.index[name]
	if !ok {
		i = len(w.files)
		w.index[name] = i
		w.files = append(w.files, name)
	}
	files := make([]string, len(w.files))
	copy(files, w.files)
	return files, i
}

func isFIT(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".fit")
}
