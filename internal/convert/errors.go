package convert

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyTrack is returned when no record carried a usable position
var ErrEmptyTrack = errors.New("no valid track points found")

// ValidationError is a structural problem found before decoding
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// DecodeOpenError means the container could not be opened, including after
// the CRC-less retry.
type DecodeOpenError struct {
	Cause error
}

func (e *DecodeOpenError) Error() string {
	return fmt.Sprintf("cannot open FIT file: %v", e.Cause)
}

func (e *DecodeOpenError) Unwrap() error {
	return e.Cause
}

// RecordDecodeError is a non-recoverable fault while iterating records
type RecordDecodeError struct {
	Cause error
}

func (e *RecordDecodeError) Error() string {
	return fmt.Sprintf("error decoding FIT records: %v", e.Cause)
}

func (e *RecordDecodeError) Unwrap() error {
	return e.Cause
}

// TruncatedStreamError is a short read that persisted through every retry
type TruncatedStreamError struct {
	Cause          error
	PointsSalvaged int
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("FIT file is truncated or incomplete (%d points decoded before the fault): %v", e.PointsSalvaged, e.Cause)
}

func (e *TruncatedStreamError) Unwrap() error {
	return e.Cause
}

// IOError is a failure writing the output document
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Error kinds reported in outcomes and persisted by the history store
const (
	KindValidation      = "validation"
	KindDecodeOpen      = "decode_open"
	KindRecordDecode    = "record_decode"
	KindTruncatedStream = "truncated_stream"
	KindEmptyTrack      = "empty_track"
	KindIO              = "io"
	KindCanceled        = "canceled"
	KindUnknown         = "unknown"
)

// ErrorKind classifies a conversion error
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var kinded interface{ ErrorKind() string }
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}

	var (
		validationErr *ValidationError
		openErr       *DecodeOpenError
		recordErr     *RecordDecodeError
		truncatedErr  *TruncatedStreamError
		ioErr         *IOError
	)
	switch {
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &openErr):
		return KindDecodeOpen
	case errors.As(err, &truncatedErr):
		return KindTruncatedStream
	case errors.As(err, &recordErr):
		return KindRecordDecode
	case errors.Is(err, ErrEmptyTrack):
		return KindEmptyTrack
	case errors.As(err, &ioErr):
		return KindIO
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindUnknown
}
