// Package wifiinfo reads link-layer association state over nl80211.
//
// It answers one question for the verifier: is this interface associated,
// and to which SSID. Command success alone does not prove association;
// this is the kernel's own view.
package wifiinfo

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mdlayher/wifi"

	"uplink"
)

// Association is the link-layer view of one interface.
type Association struct {
	Associated bool
	SSID       string
	Signal     int // percent, 0..100
}

// Client answers association queries for named interfaces. Each query
// opens a short-lived nl80211 socket, so a Client is safe to share.
type Client struct{}

func New() *Client { return &Client{} }

// Association reports whether iface is associated and to which SSID.
// Not being associated is a state, not an error.
func (c *Client) Association(_ context.Context, iface string) (Association, error) {
	client, err := wifi.New()
	if err != nil {
		return Association{}, fmt.Errorf("open nl80211: %w", err)
	}
	defer client.Close()

	ifis, err := client.Interfaces()
	if err != nil {
		return Association{}, fmt.Errorf("list wireless interfaces: %w", err)
	}
	var target *wifi.Interface
	for _, ifi := range ifis {
		if ifi.Name == iface {
			target = ifi
			break
		}
	}
	if target == nil {
		return Association{}, fmt.Errorf("wireless interface %q: %w", iface, uplink.ErrRadioUnavailable)
	}

	bss, err := client.BSS(target)
	if err != nil {
		// The kernel returns no BSS entry at all for an unassociated
		// interface.
		if errors.Is(err, os.ErrNotExist) {
			return Association{}, nil
		}
		return Association{}, fmt.Errorf("query bss on %s: %w", iface, err)
	}
	if bss.Status != wifi.BSSStatusAssociated {
		return Association{}, nil
	}

	assoc := Association{Associated: true, SSID: bss.SSID}
	if stations, err := client.StationInfo(target); err == nil && len(stations) > 0 {
		assoc.Signal = uplink.SignalPercent(float64(stations[0].Signal))
	}
	return assoc, nil
}
