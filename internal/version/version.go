package version

import (
	"fmt"
	"runtime"

	"github.com/muktihari/fit/profile"
)

var (
	// Version is the semantic version of the application
	Version = "dev"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// FITProfile returns the FIT profile version the decoder was generated
// from, e.g. "21.214".
func FITProfile() string {
	return fmt.Sprintf("%d.%03d", profile.Version/1000, profile.Version%1000)
}

// Info returns version information as a map
func Info() map[string]string {
	return map[string]string{
		"name":       "fit2gpx",
		"version":    Version,
		"gitCommit":  GitCommit,
		"buildTime":  BuildTime,
		"goVersion":  runtime.Version(),
		"fitProfile": FITProfile(),
	}
}

// String returns a formatted version string
func String() string {
	return fmt.Sprintf("fit2gpx %s (commit %s, built %s, FIT profile %s)", Version, GitCommit, BuildTime, FITProfile())
}
