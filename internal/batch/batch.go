// Package batch converts sets of FIT files in parallel and keeps the
// per-file outcomes in input order for reporting and selective retry.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/logger"
)

// ErrNotSelected marks files a partial run was not asked to convert
var ErrNotSelected = errors.New("not selected for this run")

// Converter converts a single file
type Converter interface {
	Convert(ctx context.Context, inputPath, outputPath string) convert.Outcome
}

// Request describes one batch
type Request struct {
	ID        string
	InputDir  string
	OutputDir string
	// Files are names relative to InputDir, or absolute paths
	Files []string
	// Indices selects a subset of Files; nil converts every file
	Indices []int
}

// NewRequest creates a request with a fresh batch ID
func NewRequest(inputDir, outputDir string, files []string) Request {
	return Request{
		ID:        uuid.New().String(),
		InputDir:  inputDir,
		OutputDir: outputDir,
		Files:     files,
	}
}

// Selected returns the indices to convert: every file when Indices is nil,
// otherwise the entries of Indices that name a file, first occurrence only.
func (r Request) Selected() []int {
	if r.Indices == nil {
		all := make([]int, len(r.Files))
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make(map[int]bool, len(r.Indices))
	out := make([]int, 0, len(r.Indices))
	for _, i := range r.Indices {
		if i < 0 || i >= len(r.Files) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

// InputPath returns the input path of file i
func (r Request) InputPath(i int) string {
	f := r.Files[i]
	if filepath.IsAbs(f) {
		return f
	}
	return filepath.Join(r.InputDir, f)
}

// Progress is delivered once per converted file
type Progress struct {
	BatchID string
	Index   int
	Outcome convert.Outcome
}

// Entry is one record of the outcome log. Files is the file list of the
// whole batch so a later process can rebuild it.
type Entry struct {
	BatchID   string
	InputDir  string
	OutputDir string
	Files     []string
	Index     int
	Outcome   convert.Outcome
	At        time.Time
}

// OutcomeLog receives every outcome as it is produced. Implementations
// must accept concurrent appends.
type OutcomeLog interface {
	Append(ctx context.Context, e Entry) error
}

// MemoryLog is an in-process OutcomeLog
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// Append stores e
func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// Entries returns a copy of the stored entries in append order
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Runner converts the files of a request with a bounded number of workers
type Runner struct {
	conv    Converter
	workers int
	log     OutcomeLog
}

// NewRunner creates a runner. workers < 1 means one worker; log may be nil.
func NewRunner(conv Converter, workers int, log OutcomeLog) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{conv: conv, workers: workers, log: log}
}

// Stream starts converting the selected files of req and returns a channel
// carrying one Progress per finished file, in completion order. The
// channel is closed once every started conversion has finished; after ctx
// is cancelled no new file is started. The channel is buffered for the
// whole batch, so a caller that stops reading does not block the workers.
func (r *Runner) Stream(ctx context.Context, req Request) <-chan Progress {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	indices := req.Selected()
	if len(indices) < len(req.Indices) {
		logger.Warn("batch %s: ignoring %d out-of-range or repeated indices", req.ID, len(req.Indices)-len(indices))
	}
	out := make(chan Progress, len(indices))
	work := make(chan int)

	workers := r.workers
	if workers > len(indices) {
		workers = len(indices)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				out <- Progress{BatchID: req.ID, Index: i, Outcome: r.convertOne(ctx, req, i)}
			}
		}()
	}

	go func() {
		defer close(out)
	feed:
		for _, i := range indices {
			select {
			case work <- i:
			case <-ctx.Done():
				break feed
			}
		}
		close(work)
		wg.Wait()
	}()

	return out
}

func (r *Runner) convertOne(ctx context.Context, req Request, i int) convert.Outcome {
	in := req.InputPath(i)
	outcome := r.conv.Convert(ctx, in, OutputPath(req.OutputDir, in))

	if outcome.Success {
		logger.Info("%s: %d points -> %s", outcome.FileName, outcome.PointsWritten, outcome.OutputPath)
	} else {
		logger.Warn("%s: %v", outcome.FileName, outcome.Err)
	}

	if r.log != nil {
		e := Entry{
			BatchID:   req.ID,
			InputDir:  req.InputDir,
			OutputDir: req.OutputDir,
			Files:     req.Files,
			Index:     i,
			Outcome:   outcome,
			At:        time.Now().UTC(),
		}
		// the log records what happened even when the batch was cancelled
		if err := r.log.Append(context.WithoutCancel(ctx), e); err != nil {
			logger.Error("append outcome of %s: %v", outcome.FileName, err)
		}
	}
	return outcome
}

// Collect drains ch into a report ordered like req.Files and calls
// onProgress (which may be nil) for every delivered outcome. Outcomes of
// files outside req.Indices are carried over from prev when it is
// non-nil. Selected files that never ran because ctx was cancelled get
// the context error.
func (r *Runner) Collect(ctx context.Context, req Request, prev *Report, ch <-chan Progress, onProgress func(Progress)) Report {
	rep := Report{
		ID:        req.ID,
		InputDir:  req.InputDir,
		OutputDir: req.OutputDir,
		Files:     req.Files,
		Outcomes:  make([]convert.Outcome, len(req.Files)),
		StartedAt: time.Now().UTC(),
	}
	if prev != nil {
		copy(rep.Outcomes, prev.Outcomes)
	} else {
		for i := range rep.Outcomes {
			rep.Outcomes[i] = notRun(req, i, ErrNotSelected)
		}
	}

	done := make([]bool, len(req.Files))
	for p := range ch {
		if p.Index < 0 || p.Index >= len(done) {
			logger.Warn("batch %s: dropping outcome for unknown index %d", req.ID, p.Index)
			continue
		}
		if rep.ID == "" {
			rep.ID = p.BatchID
		}
		rep.Outcomes[p.Index] = p.Outcome
		done[p.Index] = true
		if onProgress != nil {
			onProgress(p)
		}
	}

	for _, i := range req.Selected() {
		if done[i] {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		rep.Outcomes[i] = notRun(req, i, err)
	}

	rep.FinishedAt = time.Now().UTC()
	return rep
}

func notRun(req Request, i int, err error) convert.Outcome {
	in := req.InputPath(i)
	return convert.Outcome{FileName: filepath.Base(in), InputPath: in, Err: err}
}

// Run converts every selected file of req and returns the ordered report
func (r *Runner) Run(ctx context.Context, req Request) Report {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	logger.Info("batch %s: %d files from %s", req.ID, len(req.Selected()), req.InputDir)
	rep := r.Collect(ctx, req, nil, r.Stream(ctx, req), nil)
	s := rep.Summary()
	logger.Info("batch %s: %d succeeded, %d failed", rep.ID, s.Succeeded, s.Failed)
	return rep
}

// RetryRequest builds the request that re-runs indices of prev under a new
// batch ID.
func RetryRequest(prev Report, indices []int) (Request, error) {
	if len(indices) == 0 {
		return Request{}, errors.New("no files selected for retry")
	}
	seen := make(map[int]bool, len(indices))
	sorted := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(prev.Files) {
			return Request{}, fmt.Errorf("index %d out of range [0, %d)", i, len(prev.Files))
		}
		if !seen[i] {
			seen[i] = true
			sorted = append(sorted, i)
		}
	}
	sort.Ints(sorted)

	req := NewRequest(prev.InputDir, prev.OutputDir, prev.Files)
	req.Indices = sorted
	return req, nil
}

// Retry re-runs the chosen indices of prev. Every file is validated again
// before it is decoded. Outcomes of the other files are carried over
// unchanged and their outputs are not touched.
func (r *Runner) Retry(ctx context.Context, prev Report, indices []int) (Report, error) {
	req, err := RetryRequest(prev, indices)
	if err != nil {
		return Report{}, err
	}
	logger.Info("batch %s: retrying %d files of %s", req.ID, len(req.Indices), prev.ID)
	return r.Collect(ctx, req, &prev, r.Stream(ctx, req), nil), nil
}

// Discover lists the FIT files of dir, sorted by name
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".fit") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// OutputPath maps an input file to its GPX path in outputDir, keeping the
// NFC-normalized stem.
func OutputPath(outputDir, input string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, norm.NFC.String(stem)+".gpx")
}
