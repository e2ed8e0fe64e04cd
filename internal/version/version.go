// Package version carries build metadata set with -ldflags.
package version

var (
	// Version is the release tag of the stopline binary.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)
