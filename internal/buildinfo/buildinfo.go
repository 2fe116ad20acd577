// Package buildinfo carries version metadata stamped at link time.
package buildinfo

// Version is overridden via
// -ldflags "-X uplink/internal/buildinfo.Version=<tag>".
var Version = "dev"
