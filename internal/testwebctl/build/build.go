package build

// Populated at link time via -ldflags "-X github.com/testweb/testweb/internal/testwebctl/build.ReleaseVersion=...".
var (
	ReleaseVersion = "UNKNOWN_VERSION"
	GitCommit      = "UNKNOWN_GITCOMMIT"
	GoVersion      = "UNKNOWN_GOVERSION"
	BuildTime      = "UNKNOWN_BUILDTIME"
)
