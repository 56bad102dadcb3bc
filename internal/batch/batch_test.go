package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/fit2gpx/internal/convert"
	"github.com/ryabkov82/fit2gpx/internal/fit/fittest"
)

var start = time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)

// countingConverter records which inputs were converted
type countingConverter struct {
	inner Converter
	mu    sync.Mutex
	calls map[string]int
}

func newCounting(inner Converter) *countingConverter {
	return &countingConverter{inner: inner, calls: make(map[string]int)}
}

func (c *countingConverter) Convert(ctx context.Context, in, out string) convert.Outcome {
	c.mu.Lock()
	c.calls[filepath.Base(in)]++
	c.mu.Unlock()
	return c.inner.Convert(ctx, in, out)
}

func (c *countingConverter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// fiveFiles writes five inputs where the second and fourth are too small
func fiveFiles(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var files []string
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("ride%d.fit", i)
		f := fittest.File{Records: fittest.Track(20, 45, -122, start), MinSize: 2048}
		if i == 2 || i == 4 {
			f.MinSize = 0
		}
		fittest.Write(t, dir, name, f)
		files = append(files, name)
	}
	return dir, files
}

func converter() *convert.Converter {
	return convert.NewConverter(convert.DefaultConfig(), nil)
}

func TestRunKeepsInputOrder(t *testing.T) {
	in, files := fiveFiles(t)
	out := t.TempDir()
	log := &MemoryLog{}

	rep := NewRunner(converter(), 3, log).Run(context.Background(), NewRequest(in, out, files))

	require.Len(t, rep.Outcomes, 5)
	for i, o := range rep.Outcomes {
		assert.Equal(t, files[i], o.FileName)
		failed := i == 1 || i == 3
		assert.Equal(t, !failed, o.Success, "outcome %d: %v", i, o.Err)
		if failed {
			assert.Equal(t, convert.KindValidation, o.ErrorKind())
		}
	}
	assert.Equal(t, []int{1, 3}, rep.FailedIndices())
	assert.Equal(t, Summary{Total: 5, Succeeded: 3, Failed: 2, Points: 60}, rep.Summary())
	assert.NotEmpty(t, rep.ID)

	assert.FileExists(t, filepath.Join(out, "ride1.gpx"))
	assert.NoFileExists(t, filepath.Join(out, "ride2.gpx"))

	entries := log.Entries()
	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, rep.ID, e.BatchID)
		assert.Equal(t, in, e.InputDir)
		assert.Equal(t, files[e.Index], e.Outcome.FileName)
	}
}

func TestRetryOnlyTouchesSelectedIndices(t *testing.T) {
	in, files := fiveFiles(t)
	out := t.TempDir()
	conv := newCounting(converter())
	runner := NewRunner(conv, 2, nil)

	first := runner.Run(context.Background(), NewRequest(in, out, files))
	require.Equal(t, []int{1, 3}, first.FailedIndices())

	stat := func(name string) time.Time {
		info, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err)
		return info.ModTime()
	}
	before := map[string]time.Time{}
	for _, name := range []string{"ride1.gpx", "ride3.gpx", "ride5.gpx"} {
		before[name] = stat(name)
	}

	// fix one of the failed files before retrying
	fittest.Write(t, in, "ride2.fit", fittest.File{Records: fittest.Track(7, 45, -122, start), MinSize: 2048})

	second, err := runner.Retry(context.Background(), first, first.FailedIndices())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, second.Outcomes, 5)
	assert.True(t, second.Outcomes[1].Success)
	assert.Equal(t, 7, second.Outcomes[1].PointsWritten)
	assert.False(t, second.Outcomes[3].Success, "still too small, fails validation again")
	assert.Equal(t, convert.KindValidation, second.Outcomes[3].ErrorKind())

	for _, i := range []int{0, 2, 4} {
		assert.Equal(t, first.Outcomes[i], second.Outcomes[i])
	}
	for name, mod := range before {
		assert.Equal(t, mod, stat(name), "%s rewritten", name)
	}

	assert.Equal(t, 1, conv.count("ride1.fit"))
	assert.Equal(t, 2, conv.count("ride2.fit"))
	assert.Equal(t, 1, conv.count("ride3.fit"))
	assert.Equal(t, 2, conv.count("ride4.fit"))
	assert.Equal(t, 1, conv.count("ride5.fit"))
}

func TestRetryRequest(t *testing.T) {
	prev := Report{ID: "a", InputDir: "/in", OutputDir: "/out", Files: []string{"a.fit", "b.fit", "c.fit"}}

	req, err := RetryRequest(prev, []int{2, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, req.Indices)
	assert.NotEqual(t, "a", req.ID)
	assert.Equal(t, prev.Files, req.Files)

	_, err = RetryRequest(prev, []int{3})
	assert.ErrorContains(t, err, "out of range")

	_, err = RetryRequest(prev, nil)
	assert.Error(t, err)
}

// blockingConverter blocks until released or cancelled
type blockingConverter struct {
	started chan string
}

func (b *blockingConverter) Convert(ctx context.Context, in, out string) convert.Outcome {
	b.started <- filepath.Base(in)
	<-ctx.Done()
	return convert.Outcome{FileName: filepath.Base(in), InputPath: in, Err: ctx.Err()}
}

func TestStreamStopsOnCancel(t *testing.T) {
	conv := &blockingConverter{started: make(chan string, 10)}
	files := []string{"a.fit", "b.fit", "c.fit", "d.fit"}
	req := NewRequest("/in", "/out", files)
	runner := NewRunner(conv, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := runner.Stream(ctx, req)

	<-conv.started
	<-conv.started
	cancel()

	rep := runner.Collect(ctx, req, nil, ch, nil)

	require.Len(t, rep.Outcomes, 4)
	for _, o := range rep.Outcomes {
		assert.False(t, o.Success)
		assert.Equal(t, convert.KindCanceled, o.ErrorKind())
	}
	assert.Equal(t, "c.fit", rep.Outcomes[2].FileName)
}

func TestStreamReportsEveryFile(t *testing.T) {
	in, files := fiveFiles(t)
	runner := NewRunner(converter(), 4, nil)
	req := NewRequest(in, t.TempDir(), files)

	var got []int
	rep := runner.Collect(context.Background(), req, nil, runner.Stream(context.Background(), req), func(p Progress) {
		assert.Equal(t, req.ID, p.BatchID)
		got = append(got, p.Index)
	})

	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, req.ID, rep.ID)
}

func TestPartialRequestMarksUnselected(t *testing.T) {
	in, files := fiveFiles(t)
	req := NewRequest(in, t.TempDir(), files)
	req.Indices = []int{0}

	rep := NewRunner(converter(), 1, nil).Run(context.Background(), req)

	assert.True(t, rep.Outcomes[0].Success)
	for _, o := range rep.Outcomes[1:] {
		assert.ErrorIs(t, o.Err, ErrNotSelected)
	}
}

func TestStreamSkipsOutOfRangeIndices(t *testing.T) {
	in, files := fiveFiles(t)
	conv := newCounting(converter())
	req := NewRequest(in, t.TempDir(), files)
	req.Indices = []int{-1, 2, 7, 2}

	assert.Equal(t, []int{2}, req.Selected())

	rep := NewRunner(conv, 2, nil).Run(context.Background(), req)

	assert.Equal(t, 1, conv.count("ride3.fit"), "a repeated index converts once")
	assert.True(t, rep.Outcomes[2].Success)
	for _, i := range []int{0, 1, 3, 4} {
		assert.ErrorIs(t, rep.Outcomes[i].Err, ErrNotSelected, "index %d", i)
	}
}

func TestCollectDropsUnknownIndices(t *testing.T) {
	req := NewRequest("/in", "/out", []string{"a.fit", "b.fit"})
	ch := make(chan Progress, 3)
	ch <- Progress{BatchID: req.ID, Index: 5, Outcome: convert.Outcome{Success: true}}
	ch <- Progress{BatchID: req.ID, Index: -1, Outcome: convert.Outcome{Success: true}}
	ch <- Progress{BatchID: req.ID, Index: 1, Outcome: convert.Outcome{FileName: "b.fit", Success: true}}
	close(ch)

	var delivered []int
	rep := NewRunner(converter(), 1, nil).Collect(context.Background(), req, nil, ch, func(p Progress) {
		delivered = append(delivered, p.Index)
	})

	assert.Equal(t, []int{1}, delivered)
	require.Len(t, rep.Outcomes, 2)
	assert.True(t, rep.Outcomes[1].Success)
	assert.ErrorIs(t, rep.Outcomes[0].Err, context.Canceled, "a selected file that never reported")
}

func TestFailures(t *testing.T) {
	in, files := fiveFiles(t)
	rep := NewRunner(converter(), 2, nil).Run(context.Background(), NewRequest(in, t.TempDir(), files))

	failures := rep.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, 1, failures[0].Index)
	assert.Equal(t, "ride2.fit", failures[0].FileName)
	assert.Equal(t, convert.KindValidation, failures[0].Kind)
	assert.Contains(t, failures[0].Reason, convert.ReasonTooSmall)
	assert.GreaterOrEqual(t, rep.Duration(), time.Duration(0))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.FIT", "a.fit", "notes.txt", "c.fit.gpx"} {
		fittest.WriteBytes(t, dir, name, []byte("x"))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.fit"), 0o755))

	files, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.fit", "b.FIT"}, files)

	_, err = Discover(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "ride.gpx"), OutputPath("out", "/in/ride.fit"))
	assert.Equal(t, filepath.Join("out", "ride.v2.gpx"), OutputPath("out", "ride.v2.FIT"))
	assert.Equal(t, filepath.Join("out", "caf\u00e9.gpx"), OutputPath("out", "cafe\u0301.fit"), "stem is NFC normalized")
}

func TestMemoryLogConcurrentAppend(t *testing.T) {
	log := &MemoryLog{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = log.Append(context.Background(), Entry{Index: i})
		}(i)
	}
	wg.Wait()
	assert.Len(t, log.Entries(), 50)
}
