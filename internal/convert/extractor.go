package convert

import (
	"math"
	"time"

	"github.com/ryabkov82/fit2gpx/internal/fit"
)

const semicirclesPerDegree = (1 << 32) / 360.0

// FITEpoch is the reference time FIT timestamps count from
var FITEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

// Field names read from record messages
const (
	fieldLat              = "position_lat"
	fieldLon              = "position_long"
	fieldTimestamp        = "timestamp"
	fieldAltitude         = "altitude"
	fieldEnhancedAltitude = "enhanced_altitude"
)

// SemicirclesToDegrees converts a FIT semicircle value to degrees
func SemicirclesToDegrees(raw float64) float64 {
	return raw / semicirclesPerDegree
}

// FITTime converts seconds since the FIT epoch to UTC
func FITTime(seconds int64) time.Time {
	return time.Unix(FITEpoch.Unix()+seconds, 0).UTC()
}

// Extract reads the track point fields of one record message. Each field is
// converted independently; a missing or unusable field leaves the matching
// PartialPoint member nil without affecting the others.
func Extract(msg *fit.Message) PartialPoint {
	var p PartialPoint

	if v, ok := msg.Value(fieldLat); ok {
		p.Lat = degrees(v, 90)
	}
	if v, ok := msg.Value(fieldLon); ok {
		p.Lon = degrees(v, 180)
	}
	if v, ok := msg.Value(fieldTimestamp); ok {
		p.Time = timestamp(v)
	}

	if v, ok := msg.Value(fieldAltitude); ok {
		p.Elevation = finite(v)
	}
	if p.Elevation == nil {
		if v, ok := msg.Value(fieldEnhancedAltitude); ok {
			p.Elevation = finite(v)
		}
	}

	return p
}

// degrees converts a semicircle value, rejecting results outside +-limit
func degrees(v any, limit float64) *float64 {
	raw, ok := toFloat(v)
	if !ok {
		return nil
	}
	d := SemicirclesToDegrees(raw)
	if math.IsNaN(d) || math.Abs(d) > limit {
		return nil
	}
	return &d
}

func timestamp(v any) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x.UTC()
	case int64:
		t = FITTime(x)
	case uint64:
		if x > math.MaxUint32 {
			return nil
		}
		t = FITTime(int64(x))
	default:
		return nil
	}
	return &t
}

func finite(v any) *float64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
