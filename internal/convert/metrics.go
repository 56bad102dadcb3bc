package convert

import (
	"fmt"
	"sync"
	"time"
)

// Timings tracks timing metrics for the stages of a conversion. One value
// may be shared by every conversion of a batch.
type Timings struct {
	mu sync.Mutex

	ValidateTotal time.Duration
	ValidateCount int64

	// Open, including the CRC-less retry
	OpenTotal time.Duration
	OpenCount int64

	// Record iteration, extraction and accumulation
	DecodeTotal time.Duration
	DecodeCount int64

	SerializeTotal time.Duration
	SerializeCount int64

	WriteTotal time.Duration
	WriteCount int64

	// Records seen and points accepted across all conversions
	Records int64
	Points  int64
}

// NewTimings creates a new Timings instance
func NewTimings() *Timings {
	return &Timings{}
}

// ObserveValidate records a validation duration
func (t *Timings) ObserveValidate(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ValidateTotal += d
	t.ValidateCount++
}

// ObserveOpen records a decoder open duration
func (t *Timings) ObserveOpen(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OpenTotal += d
	t.OpenCount++
}

// ObserveDecode records the duration of one record iteration pass together
// with the records it consumed and the points it accepted.
func (t *Timings) ObserveDecode(d time.Duration, records, points int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DecodeTotal += d
	t.DecodeCount++
	t.Records += int64(records)
	t.Points += int64(points)
}

// ObserveSerialize records a GPX rendering duration
func (t *Timings) ObserveSerialize(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SerializeTotal += d
	t.SerializeCount++
}

// ObserveWrite records an output write duration
func (t *Timings) ObserveWrite(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteTotal += d
	t.WriteCount++
}

// String returns a formatted summary of all timings
func (t *Timings) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result string
	stage := func(name string, total time.Duration, count int64) {
		if count == 0 {
			return
		}
		avg := total / time.Duration(count)
		result += fmt.Sprintf("%s: total=%v count=%d avg=%v; ", name, total, count, avg)
	}

	stage("Validate", t.ValidateTotal, t.ValidateCount)
	stage("Open", t.OpenTotal, t.OpenCount)
	stage("Decode", t.DecodeTotal, t.DecodeCount)
	stage("Serialize", t.SerializeTotal, t.SerializeCount)
	stage("Write", t.WriteTotal, t.WriteCount)

	if result == "" {
		return "No timings recorded"
	}
	result += fmt.Sprintf("records=%d points=%d", t.Records, t.Points)
	return result
}
