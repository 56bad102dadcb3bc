package convert

import (
	"fmt"

	"github.com/tkrajina/gpxgo/gpx"
)

// DefaultCreator is written to the creator attribute of every document
const DefaultCreator = "fit2gpx"

// TrackBuilder accumulates accepted points for a single conversion attempt.
// It is not safe for concurrent use.
type TrackBuilder struct {
	creator string
	name    string
	points  []TrackPoint
}

// NewTrackBuilder creates an empty builder. The name becomes the track name
// and may be empty.
func NewTrackBuilder(creator, name string) *TrackBuilder {
	if creator == "" {
		creator = DefaultCreator
	}
	return &TrackBuilder{creator: creator, name: name}
}

// Accept appends p when it carries a non-zero latitude and longitude.
// A zero coordinate is the FIT devices' "no fix" value.
func (b *TrackBuilder) Accept(p PartialPoint) bool {
	if p.Lat == nil || p.Lon == nil || *p.Lat == 0 || *p.Lon == 0 {
		return false
	}
	b.points = append(b.points, TrackPoint{
		Latitude:  *p.Lat,
		Longitude: *p.Lon,
		Time:      p.Time,
		Elevation: p.Elevation,
	})
	return true
}

// Len returns the number of accepted points
func (b *TrackBuilder) Len() int {
	return len(b.points)
}

// Points returns the accepted points in insertion order
func (b *TrackBuilder) Points() []TrackPoint {
	out := make([]TrackPoint, len(b.points))
	copy(out, b.points)
	return out
}

// Finalize builds the GPX document: one track with one segment holding every
// accepted point. It fails with ErrEmptyTrack when nothing was accepted.
func (b *TrackBuilder) Finalize() (*gpx.GPX, error) {
	if len(b.points) == 0 {
		return nil, ErrEmptyTrack
	}

	seg := gpx.GPXTrackSegment{Points: make([]gpx.GPXPoint, 0, len(b.points))}
	for _, p := range b.points {
		pt := gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  p.Latitude,
				Longitude: p.Longitude,
			},
		}
		if p.Elevation != nil {
			pt.Elevation = *gpx.NewNullableFloat64(*p.Elevation)
		}
		if p.Time != nil {
			pt.Timestamp = p.Time.UTC()
		}
		seg.Points = append(seg.Points, pt)
	}

	return &gpx.GPX{
		Version: "1.1",
		Creator: b.creator,
		Tracks: []gpx.GPXTrack{{
			Name:     b.name,
			Segments: []gpx.GPXTrackSegment{seg},
		}},
	}, nil
}

// Serialize finalizes and renders the document as indented GPX 1.1 XML.
// The output depends only on the accepted points, so the same input always
// serializes to the same bytes.
func (b *TrackBuilder) Serialize() ([]byte, error) {
	doc, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	data, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("render gpx: %w", err)
	}
	return data, nil
}
