// Package verify confirms that a transition actually worked. Commands
// returning success proves nothing about the radio; the verifier reads the
// kernel's association state and the interface address and reports what is
// really there.
package verify

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v4"

	"uplink"
	"uplink/infra/wifiinfo"
)

// Link reads kernel association state; satisfied by wifiinfo.Client.
type Link interface {
	Association(ctx context.Context, iface string) (wifiinfo.Association, error)
}

// AddressReader reports the first IPv4 address on an interface.
type AddressReader interface {
	InterfaceAddress(ctx context.Context, iface string) (netip.Addr, error)
}

// Policy bounds the verification poll.
type Policy struct {
	Interval time.Duration
	Attempts int
}

// DefaultPolicy matches observed radio association latency: a 15s ceiling
// in 1s steps.
var DefaultPolicy = Policy{Interval: time.Second, Attempts: 15}

// Verifier performs connectivity checks against one or more interfaces.
type Verifier struct {
	link  Link
	addrs AddressReader
}

func New(link Link, addrs AddressReader) *Verifier {
	return &Verifier{link: link, addrs: addrs}
}

// Verify performs one combined check of iface: link-layer association plus
// IP presence.
func (v *Verifier) Verify(ctx context.Context, iface string) (uplink.ConnectivityReport, error) {
	report := uplink.ConnectivityReport{CheckedAt: time.Now()}

	assoc, err := v.link.Association(ctx, iface)
	if err != nil {
		return report, fmt.Errorf("check association on %s: %w", iface, err)
	}
	report.Associated = assoc.Associated
	report.SSID = assoc.SSID

	addr, err := v.addrs.InterfaceAddress(ctx, iface)
	if err != nil {
		return report, fmt.Errorf("check address on %s: %w", iface, err)
	}
	report.IP = addr
	return report, nil
}

// WaitVerified polls Verify until iface is associated to ssid and holds an
// address, bounded by policy. The report of the last completed check is
// returned either way, so the caller can see how far the interface got.
func (v *Verifier) WaitVerified(ctx context.Context, iface, ssid string, policy Policy) (uplink.ConnectivityReport, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	var last uplink.ConnectivityReport
	check := func() error {
		report, err := v.Verify(ctx, iface)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = report
		if !report.Connected() || report.SSID != ssid {
			return fmt.Errorf("%s not verified on %q yet", iface, ssid)
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Interval), uint64(policy.Attempts-1))
	if err := backoff.Retry(check, backoff.WithContext(b, ctx)); err != nil {
		return last, fmt.Errorf("connectivity on %s: %w", iface, err)
	}
	return last, nil
}
