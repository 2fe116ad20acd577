// Package dhcpc obtains a DHCP lease on the station interface after
// association. Association alone leaves the interface unaddressed; the
// verifier requires an IP before a transition counts as succeeded.
package dhcpc

import (
	"context"
	"fmt"
	"path/filepath"

	"uplink/infra/netdev"
)

// Config holds the static configuration for the DHCP client wrapper.
type Config struct {
	// Binary is the client executable; udhcpc when empty. The base name
	// selects the invocation style (udhcpc, dhclient, dhcpcd).
	Binary string
	// Runner overrides command execution, for tests.
	Runner netdev.Runner
}

// Client runs the one-shot DHCP client.
type Client struct {
	binary string
	run    netdev.Runner
}

func New(cfg Config) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "udhcpc"
	}
	if cfg.Runner == nil {
		cfg.Runner = netdev.ExecRunner()
	}
	return &Client{binary: cfg.Binary, run: cfg.Runner}
}

// Acquire blocks until the client obtains a lease for iface or gives up.
// The context bounds the whole exchange.
func (c *Client) Acquire(ctx context.Context, iface string) error {
	if _, err := c.run.Output(ctx, c.binary, argsFor(c.binary, iface)...); err != nil {
		return fmt.Errorf("acquire dhcp lease on %s: %w", iface, err)
	}
	return nil
}

// argsFor picks the one-shot invocation for the configured client. udhcpc
// is the busybox default on the target images; dhclient and dhcpcd cover
// debian-flavored ones.
func argsFor(binary, iface string) []string {
	switch filepath.Base(binary) {
	case "dhclient":
		return []string{"-1", iface}
	case "dhcpcd":
		return []string{"-4", "-1", iface}
	default:
		return []string{"-i", iface, "-q", "-n"}
	}
}
