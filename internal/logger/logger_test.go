package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, verboseMode bool) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	SetOutput(buf)
	SetVerbose(verboseMode)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
		SetTimestamps(false)
	})
	return buf
}

func TestQuietModeSuppressesDebugAndInfo(t *testing.T) {
	buf := capture(t, false)

	Debug("debug %d", 1)
	Info("info %d", 2)
	Section("Decode")

	assert.Empty(t, buf.String())
	assert.False(t, IsVerbose())
}

func TestWarnAndErrorAlwaysPrint(t *testing.T) {
	buf := capture(t, false)

	Warn("slow file %s", "a.fit")
	Error("failed: %v", "boom")

	assert.Equal(t, "[WARN] slow file a.fit\n[ERROR] failed: boom\n", buf.String())
}

func TestVerboseMode(t *testing.T) {
	buf := capture(t, true)

	Debug("points=%d", 10)
	Info("converted %s", "ride.fit")
	Section("Batch")

	assert.Contains(t, buf.String(), "[DEBUG] points=10\n")
	assert.Contains(t, buf.String(), "[INFO] converted ride.fit\n")
	assert.Contains(t, buf.String(), "=== Batch ===")
	assert.True(t, IsVerbose())
}

func TestTimestamps(t *testing.T) {
	buf := capture(t, false)
	SetTimestamps(true)

	Warn("x")

	assert.Regexp(t, `^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} \[WARN\] x\n$`, buf.String())
}
