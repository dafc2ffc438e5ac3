// Package version holds the node version reported in handshakes, RPC and
// telemetry. Override at link time with
// -ldflags "-X github.com/moolen/lattice/internal/version.Version=1.2.3".
package version

// Version is the node software version.
var Version = "0.1.0"

// Name is the node implementation name.
const Name = "lattice"
