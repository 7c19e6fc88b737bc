// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".corostack"

	// EnvConfig overrides the configuration file location.
	EnvConfig = "COROSTACK_CONFIG"

	// DefaultMaxChainDepth bounds continuation chain walks.
	DefaultMaxChainDepth = 1024

	// DefaultCommandQueue is the number of debugger commands a pause session
	// buffers before Submit blocks.
	DefaultCommandQueue = 64

	// MaxSnapshotSize bounds the heap snapshots the CLI reads.
	MaxSnapshotSize int64 = 256 << 20
)
