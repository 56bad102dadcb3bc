package convert

import (
	"time"
)

// PartialPoint holds whatever the extractor could read from one record
type PartialPoint struct {
	Lat       *float64
	Lon       *float64
	Time      *time.Time
	Elevation *float64
}

// TrackPoint is an accepted point with a usable position fix
type TrackPoint struct {
	Latitude  float64
	Longitude float64
	Time      *time.Time
	Elevation *float64
}

// ValidationResult is the outcome of Validator.Validate
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Outcome reports the result of converting one file
type Outcome struct {
	FileName      string        `json:"fileName"`
	InputPath     string        `json:"inputPath"`
	OutputPath    string        `json:"outputPath,omitempty"`
	Success       bool          `json:"success"`
	PointsWritten int           `json:"pointsWritten"`
	Err           error         `json:"-"`
	Duration      time.Duration `json:"-"`
}

// ErrorMessage returns the error text, or "" on success
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ErrorKind returns the failure class of the outcome, or "" on success
func (o Outcome) ErrorKind() string {
	return ErrorKind(o.Err)
}
