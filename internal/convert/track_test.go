package convert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkrajina/gpxgo/gpx"
)

func partial(lat, lon float64) PartialPoint {
	return PartialPoint{Lat: &lat, Lon: &lon}
}

func TestAcceptRequiresNonZeroPosition(t *testing.T) {
	b := NewTrackBuilder("", "ride")

	zero := 0.0
	tests := []struct {
		name string
		p    PartialPoint
		want bool
	}{
		{"empty", PartialPoint{}, false},
		{"lat only", PartialPoint{Lat: ptr(45.0)}, false},
		{"lon only", PartialPoint{Lon: ptr(-122.0)}, false},
		{"zero lat", PartialPoint{Lat: &zero, Lon: ptr(-122.0)}, false},
		{"zero lon", PartialPoint{Lat: ptr(45.0), Lon: &zero}, false},
		{"valid", partial(45, -122), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.Accept(tt.p))
		})
	}
	assert.Equal(t, 1, b.Len())
}

func TestPointsKeepInsertionOrder(t *testing.T) {
	b := NewTrackBuilder("", "")
	for i := 1; i <= 5; i++ {
		b.Accept(partial(float64(i), float64(-i)))
	}

	points := b.Points()
	require.Len(t, points, 5)
	for i, p := range points {
		assert.Equal(t, float64(i+1), p.Latitude)
		assert.Equal(t, float64(-(i + 1)), p.Longitude)
	}

	points[0].Latitude = 99
	assert.Equal(t, 1.0, b.Points()[0].Latitude, "Points returns a copy")
}

func TestFinalizeEmptyTrack(t *testing.T) {
	b := NewTrackBuilder("", "")
	b.Accept(PartialPoint{})

	_, err := b.Finalize()
	assert.True(t, errors.Is(err, ErrEmptyTrack))

	data, err := b.Serialize()
	assert.ErrorIs(t, err, ErrEmptyTrack)
	assert.Nil(t, data)
}

func TestSerializeSingleTrackSegment(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)
	b := NewTrackBuilder("fit2gpx-test", "Morning Ride")

	p1 := partial(45.0, -122.0)
	p1.Time = &t0
	p1.Elevation = ptr(120.5)
	b.Accept(p1)
	b.Accept(partial(45.001, -122.001))

	data, err := b.Serialize()
	require.NoError(t, err)

	text := string(data)
	assert.Equal(t, 1, strings.Count(text, "<trk>"))
	assert.Equal(t, 1, strings.Count(text, "<trkseg>"))
	assert.Equal(t, 2, strings.Count(text, "<trkpt"))
	assert.Contains(t, text, `creator="fit2gpx-test"`)

	doc, err := gpx.ParseBytes(data)
	require.NoError(t, err)
	require.Len(t, doc.Tracks, 1)
	assert.Equal(t, "Morning Ride", doc.Tracks[0].Name)
	require.Len(t, doc.Tracks[0].Segments, 1)

	points := doc.Tracks[0].Segments[0].Points
	require.Len(t, points, 2)

	assert.InDelta(t, 45.0, points[0].Latitude, 1e-9)
	assert.InDelta(t, -122.0, points[0].Longitude, 1e-9)
	assert.True(t, points[0].Timestamp.Equal(t0))
	require.True(t, points[0].Elevation.NotNull())
	assert.InDelta(t, 120.5, points[0].Elevation.Value(), 1e-9)

	assert.InDelta(t, 45.001, points[1].Latitude, 1e-9)
	assert.True(t, points[1].Timestamp.IsZero(), "unknown time is omitted")
	assert.True(t, points[1].Elevation.Null(), "unknown elevation is omitted")
}

func TestSerializeIsDeterministic(t *testing.T) {
	build := func() []byte {
		b := NewTrackBuilder("", "ride")
		t0 := time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)
		for i := 0; i < 20; i++ {
			p := partial(45+float64(i)*0.001, -122)
			ts := t0.Add(time.Duration(i) * time.Second)
			p.Time = &ts
			b.Accept(p)
		}
		data, err := b.Serialize()
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, build(), build())
}
