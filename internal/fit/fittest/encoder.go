// Package fittest builds small FIT files for tests.
package fittest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/muktihari/fit/kit/hash/crc16"
)

// Epoch is the FIT reference time (1989-12-31T00:00:00Z)
var Epoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

// Record describes one record message. A zero Time omits the timestamp,
// NoPosition writes invalid coordinates and a nil Altitude writes an
// invalid altitude.
type Record struct {
	Time       time.Time
	Lat, Lon   float64
	NoPosition bool
	Altitude   *float64
}

// File describes a FIT activity file
type File struct {
	Records []Record
	// MinSize pads the file with manufacturer-specific messages (placed
	// before the records) until the encoded file is at least this long.
	MinSize int
	// LegacyHeader writes the 12-byte header without a header CRC
	LegacyHeader bool
	// SkipFileID omits the file_id message
	SkipFileID bool
	// BigEndian writes the record definition in big-endian architecture
	BigEndian bool
}

const (
	recordDataSize = 1 + 4 + 4 + 4 + 2
	padPayload     = 16
	padGlobal      = 0xFF00
)

// Semicircles converts degrees to the FIT semicircle encoding
func Semicircles(deg float64) int32 {
	return int32(math.Round(deg * (math.Pow(2, 32) / 360.0)))
}

// Alt returns a pointer to an altitude in metres
func Alt(m float64) *float64 {
	return &m
}

// Encode returns the encoded FIT file
func Encode(f File) []byte {
	var data []byte

	if !f.SkipFileID {
		// definition: local 0, file_id, fields type/manufacturer/time_created
		data = append(data, 0x40, 0, 0)
		data = binary.LittleEndian.AppendUint16(data, 0)
		data = append(data, 3, 0, 1, 0x00, 1, 2, 0x84, 4, 4, 0x86)
		data = append(data, 0x00, 4)
		data = binary.LittleEndian.AppendUint16(data, 1)
		data = binary.LittleEndian.AppendUint32(data, 1_000_000_000)
	}

	headerSize := 14
	if f.LegacyHeader {
		headerSize = 12
	}

	recordsSize := 1 + 5 + 4*3 + len(f.Records)*recordDataSize
	if size := headerSize + len(data) + recordsSize + 2; size < f.MinSize {
		// definition: local 2, manufacturer-specific message with one byte array
		data = append(data, 0x42, 0, 0)
		data = binary.LittleEndian.AppendUint16(data, padGlobal)
		data = append(data, 1, 0, padPayload, 0x0D)
		size += 3 + 2 + 1 + 3
		for size < f.MinSize {
			data = append(data, 0x02)
			for i := 0; i < padPayload; i++ {
				data = append(data, byte(i+1))
			}
			size += 1 + padPayload
		}
	}

	data = append(data, encodeRecords(f.Records, f.BigEndian)...)

	out := make([]byte, 0, headerSize+len(data)+2)
	out = append(out, byte(headerSize), 0x20)
	out = binary.LittleEndian.AppendUint16(out, 2132)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	out = append(out, '.', 'F', 'I', 'T')
	if !f.LegacyHeader {
		out = binary.LittleEndian.AppendUint16(out, crc(out[:12]))
	}
	out = append(out, data...)
	out = binary.LittleEndian.AppendUint16(out, crc(out))
	return out
}

func encodeRecords(records []Record, bigEndian bool) []byte {
	var order binary.AppendByteOrder = binary.LittleEndian
	arch := byte(0)
	if bigEndian {
		order = binary.BigEndian
		arch = 1
	}

	// definition: local 1, record, fields timestamp/lat/long/altitude
	data := []byte{0x41, 0, arch}
	data = order.AppendUint16(data, 20)
	data = append(data, 4, 253, 4, 0x86, 0, 4, 0x85, 1, 4, 0x85, 2, 2, 0x84)

	for _, r := range records {
		data = append(data, 0x01)

		ts := uint32(math.MaxUint32)
		if !r.Time.IsZero() {
			ts = uint32(r.Time.Sub(Epoch) / time.Second)
		}
		data = order.AppendUint32(data, ts)

		lat, lon := uint32(math.MaxInt32), uint32(math.MaxInt32)
		if !r.NoPosition {
			lat, lon = uint32(Semicircles(r.Lat)), uint32(Semicircles(r.Lon))
		}
		data = order.AppendUint32(data, lat)
		data = order.AppendUint32(data, lon)

		alt := uint16(math.MaxUint16)
		if r.Altitude != nil {
			alt = uint16(math.Round((*r.Altitude + 500) * 5))
		}
		data = order.AppendUint16(data, alt)
	}
	return data
}

// RecordsOffset returns the offset of the first record data message in an
// encoded file, i.e. the byte after the record definition.
func RecordsOffset(encoded []byte, records int) int {
	return len(encoded) - 2 - records*recordDataSize
}

// RecordSize is the encoded size of one record data message
const RecordSize = recordDataSize

// Write encodes f into dir/name and returns the path
func Write(t testing.TB, dir, name string, f File) string {
	t.Helper()
	return WriteBytes(t, dir, name, Encode(f))
}

// WriteBytes writes raw bytes into dir/name and returns the path
func WriteBytes(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Track returns n records moving north-east from (lat, lon) one second
// and roughly a metre apart.
func Track(n int, lat, lon float64, start time.Time) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Time:     start.Add(time.Duration(i) * time.Second),
			Lat:      lat + float64(i)*0.00001,
			Lon:      lon + float64(i)*0.00001,
			Altitude: Alt(100 + float64(i)*0.2),
		}
	}
	return records
}

func crc(data []byte) uint16 {
	h := crc16.New()
	_, _ = h.Write(data)
	return h.Sum16()
}
