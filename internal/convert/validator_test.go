package convert

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/fit2gpx/internal/fit/fittest"
)

func TestValidateMissing(t *testing.T) {
	v := NewValidator(0)
	dir := t.TempDir()

	assert.Equal(t, ValidationResult{Reason: ReasonMissing}, v.Validate(filepath.Join(dir, "nope.fit")))
	assert.Equal(t, ValidationResult{Reason: ReasonMissing}, v.Validate(dir), "a directory is not a file")
}

func TestValidateEmpty(t *testing.T) {
	path := fittest.WriteBytes(t, t.TempDir(), "empty.fit", nil)
	assert.Equal(t, ValidationResult{Reason: ReasonEmpty}, NewValidator(0).Validate(path))
}

func TestValidateRejectsEverySmallFile(t *testing.T) {
	v := NewValidator(0)
	dir := t.TempDir()

	// a well-formed file is still rejected below the floor
	small := fittest.Encode(fittest.File{Records: fittest.Track(3, 45, -122, start)})
	require.Less(t, len(small), DefaultMinFileSize)

	for _, size := range []int{1, 11, 12, 100, len(small), 1023} {
		data := make([]byte, size)
		copy(data, small)
		path := fittest.WriteBytes(t, dir, "small.fit", data)
		assert.Equal(t, ReasonTooSmall, v.Validate(path).Reason, "size %d", size)
	}
}

func TestValidateTruncatedHeader(t *testing.T) {
	path := fittest.WriteBytes(t, t.TempDir(), "tiny.fit", []byte{14, 0x20, 0, 0, 0})
	assert.Equal(t, ReasonTruncatedHeader, NewValidator(4).Validate(path).Reason)
}

func TestValidateAcceptsWellFormedFile(t *testing.T) {
	path := fittest.Write(t, t.TempDir(), "ride.fit", fittest.File{
		Records: fittest.Track(5, 45, -122, start),
		MinSize: 2048,
	})

	res := NewValidator(0).Validate(path)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Reason)
}

func TestValidateBadMagic(t *testing.T) {
	data := fittest.Encode(fittest.File{Records: fittest.Track(5, 45, -122, start), MinSize: 2048})
	copy(data[8:12], "GPX!")
	path := fittest.WriteBytes(t, t.TempDir(), "bad.fit", data)

	res := NewValidator(0).Validate(path)
	assert.False(t, res.Valid)
	assert.True(t, strings.HasPrefix(res.Reason, ReasonFormatPrefix), res.Reason)
}

func TestValidateRequiresFileID(t *testing.T) {
	path := fittest.Write(t, t.TempDir(), "noid.fit", fittest.File{
		Records:    fittest.Track(5, 45, -122, start),
		MinSize:    2048,
		SkipFileID: true,
	})

	res := NewValidator(0).Validate(path)
	assert.Equal(t, ReasonFormatPrefix+"no file_id message", res.Reason)
}

func TestValidatePassesTruncatedTail(t *testing.T) {
	records := fittest.Track(50, 45, -122, start)
	data := fittest.Encode(fittest.File{Records: records, MinSize: 2048})
	cut := fittest.RecordsOffset(data, len(records)) + 20*fittest.RecordSize + 3
	path := fittest.WriteBytes(t, t.TempDir(), "partial.fit", data[:cut])

	assert.True(t, NewValidator(0).Validate(path).Valid, "recovery is left to the converter")
}

func TestValidateLeavesFileUntouched(t *testing.T) {
	path := fittest.Write(t, t.TempDir(), "ride.fit", fittest.File{
		Records: fittest.Track(5, 45, -122, start),
		MinSize: 2048,
	})
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	NewValidator(0).Validate(path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
