package version

import "runtime"

// Set at build time with -ldflags "-X github.com/rbright/murmur/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return "murmur " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies murmur to the processing API.
func UserAgent() string {
	return "murmur/" + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
