package version

var (
	// Version is the full version string.
	Version = "0.1.0"

	// GitCommit is set with --ldflags "-X main.gitCommit=$(git rev-parse HEAD)"
	GitCommit string

	// ProtocolVersion is the gossip protocol version announced to peers.
	ProtocolVersion = "1"
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit[:8]
	}
}
