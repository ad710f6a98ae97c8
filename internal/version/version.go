// Package version holds build information injected with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/laps.report/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the release version of the station.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String describes the running build.
func String() string {
	return fmt.Sprintf("laptimer %s (%s) built %s", Version, GitSHA, BuildTime)
}
