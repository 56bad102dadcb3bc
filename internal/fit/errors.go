package fit

import (
	"errors"
	"fmt"
	"io"
)

// Kind classifies decoder failures so callers can tell retryable faults
// from permanent ones without inspecting error text.
type Kind string

const (
	KindBadHeader Kind = "bad_header"
	KindBadMagic  Kind = "bad_magic"
	KindIntegrity Kind = "integrity" // CRC mismatch or CRC region shorter than declared
	KindTruncated Kind = "truncated" // stream ended inside the declared data region
	KindMalformed Kind = "malformed"
	KindIO        Kind = "io"
	KindUnknown   Kind = "unknown"
)

// Error is returned by Open and Next for every decode failure. Err is the
// underlying decoder error, which carries the byte position where known.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fit %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Structured *Error values win; a bare
// io.ErrUnexpectedEOF (from a wrapped reader) counts as truncation.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTruncated
	}
	return KindUnknown
}

// IsTruncated reports whether err is a short read inside the data region
func IsTruncated(err error) bool {
	return KindOf(err) == KindTruncated
}

// IsIntegrity reports whether err is a CRC-level failure that may be
// bypassed by reopening with WithoutCRC.
func IsIntegrity(err error) bool {
	return KindOf(err) == KindIntegrity
}
