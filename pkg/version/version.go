package version

// Set by -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)
