package convert

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ryabkov82/fit2gpx/internal/fit"
	"github.com/ryabkov82/fit2gpx/internal/logger"
	"github.com/ryabkov82/fit2gpx/internal/retry"
)

// Config holds conversion tuning
type Config struct {
	// MinFileSize is the validator's size floor
	MinFileSize int64
	// YieldEvery is the number of records between cooperative yields;
	// 0 disables yielding.
	YieldEvery int
	// YieldPause is slept at every yield point
	YieldPause time.Duration
	// Creator is written to the GPX creator attribute
	Creator string
	// OpenPolicy drives the CRC-less open retry
	OpenPolicy retry.Policy
	// RecordPolicy drives the retry of a truncated record stream
	RecordPolicy retry.Policy
}

// DefaultConfig returns the default conversion settings
func DefaultConfig() Config {
	return Config{
		MinFileSize: DefaultMinFileSize,
		YieldEvery:  100,
		Creator:     DefaultCreator,
		OpenPolicy:  fit.DefaultOpenPolicy,
		RecordPolicy: retry.Policy{
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		},
	}
}

// Converter drives one file at a time through validation, decoding,
// extraction, track assembly and output. A Converter holds no per-file
// state and may be used by several goroutines at once.
type Converter struct {
	cfg       Config
	validator *Validator
	timings   *Timings
}

// NewConverter creates a converter. timings may be nil.
func NewConverter(cfg Config, timings *Timings) *Converter {
	if timings == nil {
		timings = NewTimings()
	}
	return &Converter{
		cfg:       cfg,
		validator: NewValidator(cfg.MinFileSize),
		timings:   timings,
	}
}

// Timings returns the converter's stage timings
func (c *Converter) Timings() *Timings {
	return c.timings
}

// Validate runs the converter's validator on path
func (c *Converter) Validate(path string) ValidationResult {
	return c.validator.Validate(path)
}

// Convert converts inputPath into a GPX document at outputPath. Failures are
// reported on the returned Outcome; the output file is only created when
// the conversion succeeds.
func (c *Converter) Convert(ctx context.Context, inputPath, outputPath string) Outcome {
	start := time.Now()
	outcome := Outcome{
		FileName:  filepath.Base(inputPath),
		InputPath: inputPath,
	}

	points, err := c.convert(ctx, inputPath, outputPath)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Err = err
		logger.Debug("%s: %v", outcome.FileName, err)
		return outcome
	}

	outcome.Success = true
	outcome.OutputPath = outputPath
	outcome.PointsWritten = points
	logger.Debug("%s: %d points in %v", outcome.FileName, points, outcome.Duration)
	return outcome
}

func (c *Converter) convert(ctx context.Context, inputPath, outputPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t0 := time.Now()
	result := c.validator.Validate(inputPath)
	c.timings.ObserveValidate(time.Since(t0))
	if !result.Valid {
		return 0, &ValidationError{Reason: result.Reason}
	}

	t0 = time.Now()
	dec, err := fit.OpenTolerant(ctx, inputPath, c.cfg.OpenPolicy)
	c.timings.ObserveOpen(time.Since(t0))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, &DecodeOpenError{Cause: err}
	}
	if !dec.CRCChecked() {
		logger.Debug("%s: opened without CRC verification", filepath.Base(inputPath))
	}

	builder := NewTrackBuilder(c.cfg.Creator, stem(inputPath))
	if err := c.decode(ctx, inputPath, dec, builder); err != nil {
		return 0, err
	}

	t0 = time.Now()
	data, err := builder.Serialize()
	c.timings.ObserveSerialize(time.Since(t0))
	if err != nil {
		return 0, err
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t0 = time.Now()
	err = writeAtomic(outputPath, data)
	c.timings.ObserveWrite(time.Since(t0))
	if err != nil {
		return 0, err
	}
	return builder.Len(), nil
}

// decode iterates the record messages of an open decoder into b. A
// truncated read closes the decoder, reopens the file and resumes after the
// records already consumed, so salvaged points are never duplicated.
func (c *Converter) decode(ctx context.Context, path string, dec *fit.Decoder, b *TrackBuilder) error {
	defer func() {
		if dec != nil {
			dec.Close()
		}
	}()

	consumed := 0
	err := c.cfg.RecordPolicy.Do(ctx, func(attempt int) error {
		if dec == nil {
			d, err := c.reopen(ctx, path, consumed)
			if err != nil {
				return err
			}
			dec = d
		}

		err := c.iterate(ctx, dec, b, &consumed)
		if err != nil && fit.IsTruncated(err) {
			logger.Warn("%s: truncated after %d records (attempt %d/%d): %v",
				filepath.Base(path), consumed, attempt, c.cfg.RecordPolicy.Attempts(), err)
			dec.Close()
			dec = nil
		}
		return err
	}, fit.IsTruncated)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var openErr *DecodeOpenError
	switch {
	case errors.As(err, &openErr):
		return openErr
	case fit.IsTruncated(err):
		return &TruncatedStreamError{Cause: err, PointsSalvaged: b.Len()}
	default:
		return &RecordDecodeError{Cause: err}
	}
}

// iterate consumes record messages until the end of the data region
func (c *Converter) iterate(ctx context.Context, dec *fit.Decoder, b *TrackBuilder, consumed *int) error {
	start := time.Now()
	records, accepted := 0, 0
	defer func() {
		c.timings.ObserveDecode(time.Since(start), records, accepted)
	}()

	for {
		msg, err := dec.NextOf(ctx, fit.MesgRecord)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		*consumed++
		records++
		if b.Accept(Extract(msg)) {
			accepted++
		}

		if c.cfg.YieldEvery > 0 && *consumed%c.cfg.YieldEvery == 0 {
			if err := c.yield(ctx); err != nil {
				return err
			}
		}
	}
}

// yield gives other conversions a chance to run. It never changes output.
func (c *Converter) yield(ctx context.Context) error {
	runtime.Gosched()
	if c.cfg.YieldPause <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.cfg.YieldPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reopen opens path again and skips the n records already consumed. When
// the skip fails the decoder is closed, so the next attempt reopens.
func (c *Converter) reopen(ctx context.Context, path string, n int) (*fit.Decoder, error) {
	dec, err := fit.OpenTolerant(ctx, path, c.cfg.OpenPolicy)
	if err != nil {
		return nil, &DecodeOpenError{Cause: err}
	}
	if err := skipRecords(ctx, dec, n); err != nil {
		dec.Close()
		return nil, err
	}
	return dec, nil
}

// skipRecords discards the first n record messages of a reopened file
func skipRecords(ctx context.Context, dec *fit.Decoder, n int) error {
	for i := 0; i < n; i++ {
		if _, err := dec.NextOf(ctx, fit.MesgRecord); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place, so path either holds the complete document or is untouched.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "create directory", Path: dir, Err: err}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
