package buildinfo

// These variables are intended to be set via -ldflags at build time:
//
//	-X 'github.com/m3rciful/botmaker/core/buildinfo.Version=v0.3.0'
//	-X 'github.com/m3rciful/botmaker/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/botmaker/core/buildinfo.Date=2026-10-01T12:00:00Z'
var (
	// Version reports the release tag of the build.
	Version = "dev"
	// Commit reports the commit the binary was built from.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

// String renders a short human readable build tag for startup logs and /stats.
func String() string {
	if Date == "" {
		return Version + " (" + Commit + ")"
	}
	return Version + " (" + Commit + ", " + Date + ")"
}
