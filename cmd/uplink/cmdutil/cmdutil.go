// Package cmdutil holds shared helpers for uplink subcommands.
package cmdutil

import (
	"os"

	"uplink/pkg/client"
)

// DefaultHost is where the daemon listens when the gateway is serving
// its own access point.
const DefaultHost = "http://192.168.4.1:9090"

// NewClient builds an API client from the --host/--token flags, falling
// back to UPLINK_HOST and UPLINK_TOKEN.
func NewClient(host, token string) (*client.Client, error) {
	if host == "" {
		host = os.Getenv("UPLINK_HOST")
	}
	if host == "" {
		host = DefaultHost
	}
	if token == "" {
		token = os.Getenv("UPLINK_TOKEN")
	}

	var opts []client.Option
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(host, opts...)
}
