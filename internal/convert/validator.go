package convert

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/ryabkov82/fit2gpx/internal/fit"
)

const (
	// DefaultMinFileSize is the smallest plausible activity file
	DefaultMinFileSize = 1024

	headerReadSize = 12
	bodyReadLimit  = 100 * 1024
)

// Validation reasons
const (
	ReasonMissing         = "missing"
	ReasonEmpty           = "empty"
	ReasonTooSmall        = "too small"
	ReasonTruncatedHeader = "truncated header"
	ReasonTruncatedBody   = "truncated body"
	ReasonFormatPrefix    = "format validation failed: "
)

// Validator checks that a file is plausibly a complete FIT file before a
// full conversion is attempted. It only reads.
type Validator struct {
	minSize int64
}

// NewValidator creates a validator with the given size floor; values <= 0
// select DefaultMinFileSize.
func NewValidator(minSize int64) *Validator {
	if minSize <= 0 {
		minSize = DefaultMinFileSize
	}
	return &Validator{minSize: minSize}
}

// Validate runs the checks in order and stops at the first failure
func (v *Validator) Validate(path string) ValidationResult {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return invalid(ReasonMissing)
	}

	size := info.Size()
	if size == 0 {
		return invalid(ReasonEmpty)
	}
	if size < v.minSize {
		return invalid(ReasonTooSmall)
	}

	if reason := inspect(path, size); reason != "" {
		return invalid(reason)
	}

	if err := checkFormat(path); err != nil {
		return invalid(ReasonFormatPrefix + err.Error())
	}

	return ValidationResult{Valid: true}
}

// inspect reads the header and the leading part of the body
func inspect(path string, size int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ReasonMissing
	}
	defer f.Close()

	header := make([]byte, headerReadSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return ReasonTruncatedHeader
	}

	want := size / 10
	if want > bodyReadLimit {
		want = bodyReadLimit
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return ReasonTruncatedBody
	}
	body := make([]byte, want)
	if _, err := io.ReadFull(f, body); err != nil {
		return ReasonTruncatedBody
	}
	return ""
}

// checkFormat requires the decoder to yield a file_id message. CRC is not
// verified here: a file still being written should reach the converter,
// which decides how to recover.
func checkFormat(path string) error {
	d, err := fit.Open(path, fit.WithoutCRC())
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := d.NextOf(context.Background(), fit.MesgFileID); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("no file_id message")
		}
		return err
	}
	return nil
}

func invalid(reason string) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}
